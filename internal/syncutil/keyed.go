// Package syncutil provides per-key locking for payment state transitions.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// KeyedMutex serializes work per key (e.g. a payment intent id) using a fixed
// pool of channel-based locks. Keys that hash to the same shard share a lock.
// Use NewKeyedMutex; the zero value is not usable.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex creates a keyed mutex with every shard unlocked.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// Lock blocks until the lock for key is held and returns the unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	ch := m.shard(key)
	<-ch
	return func() { ch <- struct{}{} }
}

// LockContext acquires the lock for key unless ctx is done first. The caller
// must call the returned unlock function when err is nil.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	ch := m.shard(key)
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) shard(key string) chan struct{} {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}
