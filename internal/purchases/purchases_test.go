package purchases

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbd888/blueprintstore/internal/circuitbreaker"
	"github.com/mbd888/blueprintstore/internal/pagination"
	"github.com/mbd888/blueprintstore/internal/payments"
	"github.com/mbd888/blueprintstore/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedRecord(intentID string) *payments.Record {
	return &payments.Record{
		IntentID:    intentID,
		BlueprintID: "lead-generation-system",
		Amount:      9700,
		Currency:    "eur",
		Status:      payments.StatusCompleted,
	}
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestMemoryStore_InsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := &Purchase{ID: "pur_1", IntentID: "pi_1", BlueprintID: "bp", Amount: 100, Currency: "eur", Status: StatusCompleted, CreatedAt: time.Now()}
	inserted, err := s.Insert(ctx, p)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *p
	dup.ID = "pur_2"
	inserted, err = s.Insert(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetByIntent(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "pur_1", got.ID)

	_, err = s.GetByIntent(ctx, "pi_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"pi_a", "pi_b", "pi_c"} {
		_, err := s.Insert(ctx, &Purchase{ID: "pur_" + id, IntentID: id, BlueprintID: "bp", CreatedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, &Purchase{ID: "pur_x", IntentID: "pi_x", BlueprintID: "other"})
	require.NoError(t, err)

	list, err := s.List(ctx, Query{BlueprintID: "bp", Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "pi_c", list[0].IntentID)
	assert.Equal(t, "pi_b", list[1].IntentID)

	after := &pagination.Cursor{CreatedAt: list[1].CreatedAt, ID: list[1].ID}
	list, err = s.List(ctx, Query{BlueprintID: "bp", Limit: 2, After: after})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "pi_a", list[0].IntentID)

	all, err := s.List(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestRecorder_RecordsOncePerIntent(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, nil).WithPolicy(fastPolicy())

	r.PaymentCompleted(context.Background(), completedRecord("pi_1"))
	r.PaymentCompleted(context.Background(), completedRecord("pi_1"))

	assert.Equal(t, 1, store.Len())
	got, err := store.GetByIntent(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, int64(9700), got.Amount)
}

type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyStore) Insert(ctx context.Context, p *Purchase) (bool, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return false, errors.New("connection reset")
	}
	return f.MemoryStore.Insert(ctx, p)
}

func TestRecorder_RetriesTransientFailures(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.failures.Store(2)
	r := NewRecorder(store, circuitbreaker.New(10, time.Minute)).WithPolicy(fastPolicy())

	r.PaymentCompleted(context.Background(), completedRecord("pi_retry"))

	assert.Equal(t, int32(3), store.calls.Load())
	assert.Equal(t, 1, store.Len())
}

func TestRecorder_GivesUpWithoutPanicking(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.failures.Store(100)
	breaker := circuitbreaker.New(2, time.Minute)
	r := NewRecorder(store, breaker).WithPolicy(fastPolicy())

	r.PaymentCompleted(context.Background(), completedRecord("pi_down"))

	assert.Equal(t, 0, store.Len())
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State(breakerKey))
	assert.Equal(t, int32(2), store.calls.Load(), "open circuit stops further attempts")
}
