package purchases

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore persists purchases in the blueprint_purchases table.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed purchase store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, pur *Purchase) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO blueprint_purchases (id, intent_id, blueprint_id, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (intent_id) DO NOTHING`,
		pur.ID, pur.IntentID, pur.BlueprintID, pur.Amount, pur.Currency, pur.Status, pur.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) GetByIntent(ctx context.Context, intentID string) (*Purchase, error) {
	pur := &Purchase{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, intent_id, blueprint_id, amount, currency, status, created_at
		FROM blueprint_purchases WHERE intent_id = $1`, intentID,
	).Scan(&pur.ID, &pur.IntentID, &pur.BlueprintID, &pur.Amount, &pur.Currency, &pur.Status, &pur.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return pur, nil
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*Purchase, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	// Keyset pagination on (created_at, id); empty filters match everything.
	var afterAt *time.Time
	var afterID string
	if q.After != nil {
		afterAt, afterID = &q.After.CreatedAt, q.After.ID
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, intent_id, blueprint_id, amount, currency, status, created_at
		FROM blueprint_purchases
		WHERE ($1 = '' OR blueprint_id = $1)
		  AND ($2::timestamptz IS NULL OR (created_at, id) < ($2, $3))
		ORDER BY created_at DESC, id DESC
		LIMIT $4`, q.BlueprintID, afterAt, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Purchase
	for rows.Next() {
		pur := &Purchase{}
		if err := rows.Scan(&pur.ID, &pur.IntentID, &pur.BlueprintID, &pur.Amount, &pur.Currency, &pur.Status, &pur.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, pur)
	}
	return out, rows.Err()
}
