package pickup

import (
	"context"
	"sync"
	"time"
)

// ReplayStore remembers consumed token ids until the token would have expired.
type ReplayStore interface {
	// Consume marks tokenID as used until the given time. It returns true
	// only for the first call per tokenID.
	Consume(ctx context.Context, tokenID string, until time.Time) (bool, error)
}

// replaySweepInterval bounds how often expired ids are dropped.
const replaySweepInterval = time.Minute

// MemoryReplayStore is a process-local ReplayStore for single-instance
// deployments and tests.
type MemoryReplayStore struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryReplayStore() *MemoryReplayStore {
	return &MemoryReplayStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// SetClock overrides the time source used for expiry.
func (m *MemoryReplayStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryReplayStore) Consume(ctx context.Context, tokenID string, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= replaySweepInterval {
		for id, exp := range m.seen {
			if !now.Before(exp) {
				delete(m.seen, id)
			}
		}
		m.lastSweep = now
	}

	if exp, ok := m.seen[tokenID]; ok && now.Before(exp) {
		return false, nil
	}
	m.seen[tokenID] = until
	return true, nil
}
