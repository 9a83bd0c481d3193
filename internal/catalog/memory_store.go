package catalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory blueprint store for development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	blueprints map[string]*Blueprint
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory blueprint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blueprints: make(map[string]*Blueprint)}
}

func clone(b *Blueprint) *Blueprint {
	cp := *b
	cp.Features = append([]string(nil), b.Features...)
	return &cp
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Blueprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blueprints[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(b), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Blueprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Blueprint, 0, len(m.blueprints))
	for _, b := range m.blueprints {
		out = append(out, clone(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) Create(_ context.Context, b *Blueprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.blueprints[b.ID]; exists {
		return ErrExists
	}
	m.blueprints[b.ID] = clone(b)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, b *Blueprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.blueprints[b.ID]
	if !ok {
		return ErrNotFound
	}
	cp := clone(b)
	cp.CreatedAt = existing.CreatedAt
	cp.ArtifactKey = existing.ArtifactKey
	m.blueprints[b.ID] = cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blueprints[id]; !ok {
		return ErrNotFound
	}
	delete(m.blueprints, id)
	return nil
}

func (m *MemoryStore) SetArtifact(_ context.Context, id, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blueprints[id]
	if !ok {
		return ErrNotFound
	}
	b.ArtifactKey = key
	b.UpdatedAt = time.Now()
	return nil
}
