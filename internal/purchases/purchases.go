// Package purchases keeps the durable purchase history written after a
// payment completes. Access tokens are never stored here.
package purchases

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/blueprintstore/internal/pagination"
)

var ErrNotFound = errors.New("purchases: purchase not found")

// StatusCompleted is the only status written today.
const StatusCompleted = "completed"

// Purchase is one completed blueprint sale.
type Purchase struct {
	ID          string    `json:"id"`
	IntentID    string    `json:"intentId"`
	BlueprintID string    `json:"blueprintId"`
	Amount      int64     `json:"amount"` // minor units
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists purchases. Insert is idempotent on IntentID: a second
// insert for the same intent is a no-op and reports inserted == false.
type Store interface {
	Insert(ctx context.Context, p *Purchase) (inserted bool, err error)
	GetByIntent(ctx context.Context, intentID string) (*Purchase, error)
	// List returns purchases newest first.
	List(ctx context.Context, q Query) ([]*Purchase, error)
}

// Query filters a purchase listing. An empty BlueprintID matches all.
type Query struct {
	BlueprintID string
	Limit       int
	After       *pagination.Cursor
}
