package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("pi_123")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestKeyedMutex_LockContextCancelled(t *testing.T) {
	m := NewKeyedMutex()
	unlock := m.Lock("pi_1")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release, err := m.LockContext(ctx, "pi_1")
	assert.Nil(t, release)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedMutex_LockContextAcquires(t *testing.T) {
	m := NewKeyedMutex()
	release, err := m.LockContext(context.Background(), "pi_2")
	require.NoError(t, err)
	release()

	// Re-acquire proves the lock was returned.
	release, err = m.LockContext(context.Background(), "pi_2")
	require.NoError(t, err)
	release()
}
