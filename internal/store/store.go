// Package store is the embedded relational Store (spec.md §3): a thin
// *sql.DB wrapper with one file per table family, plain ExecContext/QueryContext
// queries, and transaction helpers, grounded on the pragma/transaction idiom in the
// teacher's internal/mbtiles/writer.go. Store exclusively owns the database
// handle; service packages hold a shared reference and interpret its plain
// errors (sql.ErrNoRows, constraint violations) into the apierr taxonomy.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go driver, cgo-free like the teacher's mbtiles reader/writer
)

// Store wraps the single embedded database file described in spec.md §6.3.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path with the pragmas
// spec.md §6.3 calls for: incremental auto-vacuum and WAL journalling.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA auto_vacuum = incremental",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	// Cap the pool at 8 open connections; concurrent writers among them are
	// serialised by SQLite's own file locking.
	db.SetMaxOpenConns(8)

	return &Store{db: db}, nil
}

// DB returns the underlying handle for callers (migrate.Migrator, tests)
// that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back (best-effort) on any error, mirroring the
// begin/defer-rollback/commit shape in internal/mbtiles/writer.go.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}
