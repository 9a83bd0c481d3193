package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists blueprints in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed blueprint store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const blueprintColumns = `id, title, description, long_description, category, price, currency,
	features, artifact_key, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Blueprint, error) {
	return scanBlueprint(p.db.QueryRowContext(ctx,
		`SELECT `+blueprintColumns+` FROM blueprints WHERE id = $1`, id))
}

func (p *PostgresStore) List(ctx context.Context) ([]*Blueprint, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+blueprintColumns+` FROM blueprints ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Blueprint
	for rows.Next() {
		b, err := scanBlueprint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Create(ctx context.Context, b *Blueprint) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO blueprints (`+blueprintColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.Title, b.Description, b.LongDescription, b.Category, b.Price, b.Currency,
		pq.Array(b.Features), nullString(b.ArtifactKey), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, b *Blueprint) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE blueprints SET title = $1, description = $2, long_description = $3,
			category = $4, price = $5, currency = $6, features = $7, updated_at = $8
		WHERE id = $9`,
		b.Title, b.Description, b.LongDescription, b.Category, b.Price, b.Currency,
		pq.Array(b.Features), b.UpdatedAt, b.ID,
	)
	return expectOneRow(result, err)
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM blueprints WHERE id = $1`, id)
	return expectOneRow(result, err)
}

func (p *PostgresStore) SetArtifact(ctx context.Context, id, key string) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE blueprints SET artifact_key = $1, updated_at = $2 WHERE id = $3`,
		key, time.Now(), id)
	return expectOneRow(result, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlueprint(row rowScanner) (*Blueprint, error) {
	b := &Blueprint{}
	var artifact sql.NullString
	err := row.Scan(&b.ID, &b.Title, &b.Description, &b.LongDescription, &b.Category,
		&b.Price, &b.Currency, pq.Array(&b.Features), &artifact, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.ArtifactKey = artifact.String
	return b, nil
}

func expectOneRow(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
