package payments

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory payment record store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[r.IntentID]; exists {
		return ErrDuplicate
	}
	cp := *r
	m.records[r.IntentID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, intentID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Complete(_ context.Context, intentID, accessToken string, at time.Time) (*Record, error) {
	return m.transition(intentID, func(r *Record) {
		r.Status = StatusCompleted
		r.AccessToken = accessToken
		r.CompletedAt = &at
	})
}

func (m *MemoryStore) Fail(_ context.Context, intentID string, at time.Time) (*Record, error) {
	return m.transition(intentID, func(r *Record) {
		r.Status = StatusFailed
		r.FailedAt = &at
	})
}

func (m *MemoryStore) ListPending(_ context.Context, q PendingQuery) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, r := range m.records {
		if r.Status == StatusPending && r.CreatedAt.Before(q.CreatedBefore) && q.After.After(r.CreatedAt, r.IntentID) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].IntentID < out[j].IntentID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) transition(intentID string, apply func(*Record)) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != StatusPending {
		return nil, ErrAlreadyTerminal
	}
	apply(r)
	cp := *r
	return &cp, nil
}
