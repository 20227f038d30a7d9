package store

import (
	"context"
	"sync"
	"time"

	"remedy-agent/src/contracts"
)

// MemoryStore is an in-memory implementation of Store.
// Useful for testing and for running without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	patterns map[string]*storedPattern // pattern ID -> row
	order    []string
	actions  map[contracts.BuildKey][]contracts.ActionRecord
	analyses map[contracts.BuildKey]*contracts.AnalysisResult
}

type storedPattern struct {
	job    string
	rec    *contracts.PatternRecord
	active bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		patterns: make(map[string]*storedPattern),
		actions:  make(map[contracts.BuildKey][]contracts.ActionRecord),
		analyses: make(map[contracts.BuildKey]*contracts.AnalysisResult),
	}
}

// LoadPatterns returns active patterns grouped by job, in insertion order.
func (s *MemoryStore) LoadPatterns(ctx context.Context) (map[string][]contracts.PatternRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]contracts.PatternRecord)
	for _, id := range s.order {
		row := s.patterns[id]
		if !row.active {
			continue
		}
		out[row.job] = append(out[row.job], *row.rec.Clone())
	}
	return out, nil
}

// SavePattern inserts or replaces the pattern with rec.ID and reactivates it.
func (s *MemoryStore) SavePattern(ctx context.Context, job string, rec *contracts.PatternRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patterns[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.patterns[rec.ID] = &storedPattern{job: job, rec: rec.Clone(), active: true}
	return nil
}

// SaveAction appends an action for the build.
func (s *MemoryStore) SaveAction(ctx context.Context, key contracts.BuildKey, rec contracts.ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actions[key] = append(s.actions[key], rec)
	return nil
}

// SaveAnalysis replaces the stored analysis of the build.
func (s *MemoryStore) SaveAnalysis(ctx context.Context, result *contracts.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *result
	s.analyses[result.Key()] = &r
	return nil
}

// CleanupOlderThan deactivates patterns last seen more than patternTTL ago
// and deletes analyses produced more than analysisTTL ago.
func (s *MemoryStore) CleanupOlderThan(ctx context.Context, patternTTL, analysisTTL time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, row := range s.patterns {
		if now.Sub(row.rec.LastSeen) > patternTTL {
			row.active = false
		}
	}
	for key, a := range s.analyses {
		if now.Sub(a.Timestamp) > analysisTTL {
			delete(s.analyses, key)
		}
	}
	return nil
}

// Actions returns the actions stored for a build.
func (s *MemoryStore) Actions(key contracts.BuildKey) []contracts.ActionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]contracts.ActionRecord(nil), s.actions[key]...)
}

// Analysis returns the stored analysis of a build.
func (s *MemoryStore) Analysis(key contracts.BuildKey) (*contracts.AnalysisResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyses[key]
	return a, ok
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
