package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"remedy-agent/src/contracts"
)

// ActionLedger is the append-only per-build history of remediation actions.
type ActionLedger struct {
	mu      sync.RWMutex
	actions map[contracts.BuildKey][]contracts.ActionRecord
	now     func() time.Time

	onAppend func(key contracts.BuildKey, rec contracts.ActionRecord)
}

func NewActionLedger() *ActionLedger {
	return &ActionLedger{
		actions: make(map[contracts.BuildKey][]contracts.ActionRecord),
		now:     time.Now,
	}
}

// OnAppend registers fn to observe appended records. It must be called
// before the ledger is shared.
func (l *ActionLedger) OnAppend(fn func(key contracts.BuildKey, rec contracts.ActionRecord)) {
	l.onAppend = fn
}

// Append stamps rec with the insertion time, assigns an ID when missing and
// stores it under key. The stored record is returned.
func (l *ActionLedger) Append(key contracts.BuildKey, rec contracts.ActionRecord) contracts.ActionRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	l.mu.Lock()
	rec.Timestamp = l.now()
	l.actions[key] = append(l.actions[key], rec)
	l.mu.Unlock()

	if l.onAppend != nil {
		l.onAppend(key, rec)
	}
	return rec
}

// Get returns a copy of the actions recorded for key, oldest first.
func (l *ActionLedger) Get(key contracts.BuildKey) []contracts.ActionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	recs := l.actions[key]
	out := make([]contracts.ActionRecord, len(recs))
	copy(out, recs)
	return out
}

// Len returns the total number of recorded actions.
func (l *ActionLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, recs := range l.actions {
		n += len(recs)
	}
	return n
}
