package payments

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists payment records in PostgreSQL. Transitions are
// conditional UPDATEs on status = 'pending', so concurrent confirmations
// across processes still complete a record at most once.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `intent_id, blueprint_id, amount, currency, status, access_token,
	created_at, completed_at, failed_at`

func (p *PostgresStore) Create(ctx context.Context, r *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_records (intent_id, blueprint_id, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.IntentID, r.BlueprintID, r.Amount, r.Currency, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, intentID string) (*Record, error) {
	return scanRecord(p.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM payment_records WHERE intent_id = $1`, intentID))
}

func (p *PostgresStore) Complete(ctx context.Context, intentID, accessToken string, at time.Time) (*Record, error) {
	return p.transition(ctx, intentID, p.db.QueryRowContext(ctx, `
		UPDATE payment_records SET status = 'completed', access_token = $1, completed_at = $2
		WHERE intent_id = $3 AND status = 'pending'
		RETURNING `+recordColumns, accessToken, at, intentID))
}

func (p *PostgresStore) Fail(ctx context.Context, intentID string, at time.Time) (*Record, error) {
	return p.transition(ctx, intentID, p.db.QueryRowContext(ctx, `
		UPDATE payment_records SET status = 'failed', failed_at = $1
		WHERE intent_id = $2 AND status = 'pending'
		RETURNING `+recordColumns, at, intentID))
}

func (p *PostgresStore) ListPending(ctx context.Context, q PendingQuery) ([]*Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	var afterAt *time.Time
	var afterID string
	if q.After != nil {
		afterAt, afterID = &q.After.CreatedAt, q.After.ID
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM payment_records
		WHERE status = 'pending' AND created_at < $1
		  AND ($2::timestamptz IS NULL OR (created_at, intent_id) > ($2, $3))
		ORDER BY created_at, intent_id LIMIT $4`, q.CreatedBefore, afterAt, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// transition tells "no such record" apart from "lost the race" when the
// conditional update matched no row.
func (p *PostgresStore) transition(ctx context.Context, intentID string, row rowScanner) (*Record, error) {
	r, err := scanRecord(row)
	if !errors.Is(err, ErrNotFound) {
		return r, err
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment_records WHERE intent_id = $1)`, intentID,
	).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyTerminal
	}
	return nil, ErrNotFound
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	r := &Record{}
	var (
		status      string
		token       sql.NullString
		completedAt sql.NullTime
		failedAt    sql.NullTime
	)
	err := row.Scan(&r.IntentID, &r.BlueprintID, &r.Amount, &r.Currency, &status, &token,
		&r.CreatedAt, &completedAt, &failedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.AccessToken = token.String
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if failedAt.Valid {
		t := failedAt.Time
		r.FailedAt = &t
	}
	return r, nil
}
