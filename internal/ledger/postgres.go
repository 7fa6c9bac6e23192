package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS processed_keys (
    key TEXT PRIMARY KEY,
    processed_at TIMESTAMPTZ DEFAULT NOW()
);
`

// PostgresStore persists processed keys, keeping repeat runs across
// restarts idempotent.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(uri string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if _, err = db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Seen(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_keys WHERE key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check processed key: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Mark(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_keys (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, key,
	)
	if err != nil {
		return fmt.Errorf("mark processed key: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
