// Package sqlite provides the SQLite-backed durable store. It mirrors the
// in-memory semantics and journals every write as a row before applying it.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"aquawatch/internal/infra/persistence/memory"
	"aquawatch/internal/infra/persistence/sqlstore"
	"aquawatch/pkg/domain"
)

var _ domain.DurableStore = (*Store)(nil)

// Store wraps the memory store with a SQLite journal.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database at path and hydrates the
// store from it. A positive timeout bounds each write.
func NewStore(ctx context.Context, path string, timeout time.Duration, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = "aquawatch.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection serialises writers and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	mem, err := sqlstore.Open(ctx, db, sqlstore.SQLite, timeout, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: mem, db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
