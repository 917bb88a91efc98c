// Package sqlite implements storage.Store on an embedded SQLite database
// (pure-Go driver). The store runs in WAL mode so readers proceed while a
// writer is in flight, and with incremental auto-vacuum to bound file growth.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mistakeknot/tessellate/internal/storage"
)

//go:embed schema.sql
var schema string

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Store owns the database handle. It keeps a single open connection: SQLite
// is single-writer, and one connection serializes in-process transactions so
// test-then-act operations (lock acquire, exclusive reserve) stay atomic.
// Cross-process writers are serialized by SQLite's file locking plus the
// busy timeout and the retry wrapper.
type Store struct {
	db  dbHandle
	now func() time.Time
}

// New opens (creating if needed) the database at path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(path)
}

// NewInMemory returns a store backed by a throwaway in-memory database.
func NewInMemory() (*Store, error) {
	return open(":memory:")
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: see the Store doc comment. Also makes every PRAGMA
	// below apply to the connection that actually runs queries.
	db.SetMaxOpenConns(1)

	// auto_vacuum must be set before the first table is created to take
	// effect without a full VACUUM.
	pragmas := []string{
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: &queryLogger{inner: db}, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// inTx runs fn inside a transaction, committing on nil error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// msec converts a time to milliseconds since epoch for storage.
func msec(t time.Time) int64 { return t.UnixMilli() }

// fromMsec converts a stored millisecond timestamp back to UTC time.
func fromMsec(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMsec(t *time.Time) any {
	if t == nil {
		return nil
	}
	return msec(*t)
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMsec(v.Int64)
	return &t
}
