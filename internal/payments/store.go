package payments

import (
	"context"
	"time"

	"github.com/mbd888/blueprintstore/internal/pagination"
)

// PendingQuery selects stale pending records in oldest-first keyset order.
type PendingQuery struct {
	CreatedBefore time.Time
	After         *pagination.Cursor // exclusive; nil starts at the oldest
	Limit         int
}

// Store persists payment records. Complete and Fail are atomic
// check-and-set operations: they only move a record out of pending and
// return ErrAlreadyTerminal when another caller got there first.
type Store interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, intentID string) (*Record, error)
	Complete(ctx context.Context, intentID, accessToken string, at time.Time) (*Record, error)
	Fail(ctx context.Context, intentID string, at time.Time) (*Record, error)
	// ListPending returns up to q.Limit pending records created before the
	// cutoff and after the cursor, ordered by (created_at, intent_id).
	ListPending(ctx context.Context, q PendingQuery) ([]*Record, error)
}
