// Package store provides AgentForge's embedded transactional persistence
// (§4.A): opening and migrating the SQLite file, and a thin Store type
// that every other component goes through for reads and writes. Store is
// the only component permitted to hold a persistent database handle.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store wraps the database handle and exposes the transactional
// primitives described in §4.A: begin/commit/rollback (via WithTx),
// leaving single-row upserts, conditional updates, and ordered scans to
// each component's own SQL (the component owns its schema's queries;
// Store owns the handle and the transaction boundary).
type Store struct {
	DB *sql.DB
}

// New wraps an already-open, already-migrated database handle.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Load opens the SQLite file at path, runs every pending migration, and
// returns a ready-to-use Store. It is the one-call path production
// wiring should use; Open and Migrate stay exported separately for
// tests that need to inspect the raw handle between the two steps.
func Load(path string) (*Store, error) {
	sqlDB, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return New(sqlDB), nil
}

// Open opens a SQLite database at the given path and configures it for
// concurrent use (WAL mode, foreign keys enabled).
// Use ":memory:" for an in-memory database (useful for testing).
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite only supports a single writer at a time.
	sqlDB.SetMaxOpenConns(1)

	return sqlDB, nil
}

// Migrate runs all pending database migrations.
func Migrate(sqlDB *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. All multi-statement operations that touch the
// same row (claim-and-mark, complete-and-fire) must use this so the
// store serializes them atomically, per §4.A and §5.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}

// timeLayout is RFC3339 with a fixed nine-digit fraction. Unlike
// time.RFC3339Nano it never trims trailing zeros, so every stored value
// has the same width and lexical order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Now returns the current UTC instant formatted the way every timestamp
// column in the schema is stored (timeLayout), so string comparisons
// ("expires_at <= now", "next_run_at <= now") sort correctly.
func Now() string {
	return time.Now().UTC().Format(timeLayout)
}

// FormatTime renders t the same way Now() does, for callers that already
// hold a time.Time (e.g. a computed next_run_at).
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a timestamp column value back into a time.Time.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
