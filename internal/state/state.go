// Package state persists the last successfully synced timestamp between
// runs. It is an optimization only: it narrows the remote query window, and
// a missing or corrupt store falls back to the configured lookback.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_synced TIMESTAMP NOT NULL
);`

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing state schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LastSynced returns the watermark, or nil when no run has completed yet.
func (s *Store) LastSynced(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `SELECT last_synced FROM sync_state WHERE id = 1`).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sync state: %w", err)
	}
	return &t, nil
}

func (s *Store) SetLastSynced(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (id, last_synced) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET last_synced = excluded.last_synced`,
		t.UTC())
	if err != nil {
		return fmt.Errorf("writing sync state: %w", err)
	}
	return nil
}
