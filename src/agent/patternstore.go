package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"remedy-agent/src/contracts"
)

// PatternStore holds every job's learned patterns. Records are owned by the
// store; callers only ever see clones.
//
// Within one job at most one failure record and one success record share a
// pattern key. Correlation records are appended without deduplication.
type PatternStore struct {
	mu   sync.RWMutex
	jobs map[string][]*contracts.PatternRecord

	// onChange, when set, receives a clone of every inserted or updated record.
	onChange func(job string, rec *contracts.PatternRecord)
	// notifyMu orders onChange deliveries so the last one carries the
	// record's latest state.
	notifyMu sync.Mutex
}

func NewPatternStore() *PatternStore {
	return &PatternStore{jobs: make(map[string][]*contracts.PatternRecord)}
}

// OnChange registers fn to observe record mutations. It must be called
// before the store is shared.
func (s *PatternStore) OnChange(fn func(job string, rec *contracts.PatternRecord)) {
	s.onChange = fn
}

// Load replaces the store contents, typically with records read from the
// durable store at startup.
func (s *PatternStore) Load(records map[string][]contracts.PatternRecord) {
	jobs := make(map[string][]*contracts.PatternRecord, len(records))
	for job, recs := range records {
		for i := range recs {
			rec := recs[i].Clone()
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
			jobs[job] = append(jobs[job], rec)
		}
	}

	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()
}

// Match returns the job's failure and correlation records whose pattern key
// equals one of the analysis' error pattern keys.
func (s *PatternStore) Match(job string, result *contracts.AnalysisResult) []*contracts.PatternRecord {
	keys := make(map[string]bool, len(result.ErrorPatterns))
	for _, ep := range result.ErrorPatterns {
		keys[ep.Pattern] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*contracts.PatternRecord
	for _, rec := range s.jobs[job] {
		if rec.Kind == contracts.KindSuccess {
			continue
		}
		if keys[rec.Pattern] {
			matches = append(matches, rec.Clone())
		}
	}
	return matches
}

// Upsert finds the job's record of kind with the given pattern key and
// applies update to it, or inserts the record returned by create when none
// exists. Both callbacks run under the store lock. The resulting record is
// returned as a clone, together with whether it was created.
func (s *PatternStore) Upsert(job string, kind contracts.PatternKind, pattern string,
	create func() *contracts.PatternRecord, update func(*contracts.PatternRecord)) (*contracts.PatternRecord, bool) {

	s.mu.Lock()
	var (
		out     *contracts.PatternRecord
		created bool
	)
	if rec := s.find(job, kind, pattern); rec != nil {
		update(rec)
		out = rec.Clone()
	} else {
		rec = create()
		rec.Kind = kind
		rec.Pattern = pattern
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		s.jobs[job] = append(s.jobs[job], rec)
		out, created = rec.Clone(), true
	}
	s.mu.Unlock()

	s.notify(job, out)
	return out, created
}

// Append inserts rec without looking for duplicates.
func (s *PatternStore) Append(job string, rec *contracts.PatternRecord) *contracts.PatternRecord {
	rec = rec.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	s.mu.Lock()
	s.jobs[job] = append(s.jobs[job], rec)
	out := rec.Clone()
	s.mu.Unlock()

	s.notify(job, out)
	return out
}

// Prune removes every record last seen more than ttl before now. A record
// exactly ttl old is kept. Jobs left without records are dropped.
func (s *PatternStore) Prune(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for job, recs := range s.jobs {
		kept := recs[:0]
		for _, rec := range recs {
			if now.Sub(rec.LastSeen) > ttl {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		for i := len(kept); i < len(recs); i++ {
			recs[i] = nil
		}
		if len(kept) == 0 {
			delete(s.jobs, job)
		} else {
			s.jobs[job] = kept
		}
	}
	return removed
}

// Snapshot returns clones of the job's records in insertion order.
func (s *PatternStore) Snapshot(job string) []*contracts.PatternRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.jobs[job]
	out := make([]*contracts.PatternRecord, len(recs))
	for i, rec := range recs {
		out[i] = rec.Clone()
	}
	return out
}

// Jobs lists the jobs that have patterns.
func (s *PatternStore) Jobs() []string {
	s.mu.RLock()
	jobs := make([]string, 0, len(s.jobs))
	for job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.RUnlock()

	sort.Strings(jobs)
	return jobs
}

// Counts returns the number of records per kind across all jobs.
func (s *PatternStore) Counts() map[contracts.PatternKind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[contracts.PatternKind]int)
	for _, recs := range s.jobs {
		for _, rec := range recs {
			counts[rec.Kind]++
		}
	}
	return counts
}

func (s *PatternStore) find(job string, kind contracts.PatternKind, pattern string) *contracts.PatternRecord {
	for _, rec := range s.jobs[job] {
		if rec.Kind == kind && rec.Pattern == pattern {
			return rec
		}
	}
	return nil
}

// notify delivers the current state of rec, which may be newer than rec
// itself when writes to the same record race. Records pruned in the meantime
// are not delivered.
func (s *PatternStore) notify(job string, rec *contracts.PatternRecord) {
	if s.onChange == nil {
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.RLock()
	latest := s.findID(job, rec.ID)
	if latest != nil {
		latest = latest.Clone()
	}
	s.mu.RUnlock()

	if latest != nil {
		s.onChange(job, latest)
	}
}

func (s *PatternStore) findID(job, id string) *contracts.PatternRecord {
	for _, rec := range s.jobs[job] {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}
