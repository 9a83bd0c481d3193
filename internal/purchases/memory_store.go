package purchases

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory purchase store.
type MemoryStore struct {
	mu       sync.RWMutex
	byIntent map[string]*Purchase
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory purchase store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byIntent: make(map[string]*Purchase)}
}

func (m *MemoryStore) Insert(_ context.Context, p *Purchase) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byIntent[p.IntentID]; exists {
		return false, nil
	}
	cp := *p
	m.byIntent[p.IntentID] = &cp
	return true, nil
}

func (m *MemoryStore) GetByIntent(_ context.Context, intentID string) (*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.byIntent[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, q Query) ([]*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Purchase
	for _, p := range m.byIntent {
		if q.BlueprintID != "" && p.BlueprintID != q.BlueprintID {
			continue
		}
		if !q.After.Before(p.CreatedAt, p.ID) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Len returns the number of stored purchases.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byIntent)
}
