package webhooks

import (
	"context"
	"database/sql"
)

// PostgresLedger records processed events in processed_webhook_events.
type PostgresLedger struct {
	db *sql.DB
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger creates a PostgreSQL-backed ledger.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (p *PostgresLedger) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO processed_webhook_events (event_id, event_type, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (event_id) DO NOTHING`, eventID, eventType)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresLedger) Release(ctx context.Context, eventID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM processed_webhook_events WHERE event_id = $1`, eventID)
	return err
}

// Prune deletes ledger rows older than the retention window.
func (p *PostgresLedger) Prune(ctx context.Context) (int64, error) {
	result, err := p.db.ExecContext(ctx,
		`DELETE FROM processed_webhook_events WHERE processed_at < NOW() - $1::interval`,
		"7 days")
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
