// Package migrate applies an ordered, forward-only sequence of embedded SQL
// migrations, recording each attempt's checksum and outcome in a bookkeeping
// table (spec.md §4.1). Grounded on
// other_examples/355fe713_untoldecay-BeadsLog__internal-storage-sqlite-migrations.go.go's
// "ordered list, run once, record outcome" shape.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

//go:embed migrations/*/up.sql
var embedded embed.FS

// step is one migration folder resolved from the embedded filesystem.
type step struct {
	name     string
	script   string
	checksum string
}

// Migrator applies pending migrations against a Store connection.
type Migrator struct {
	db  *sql.DB
	log *slog.Logger
}

// New constructs a Migrator. A nil logger falls back to slog.Default(),
// matching the teacher's log() idiom in internal/server.
func New(db *sql.DB, logger *slog.Logger) *Migrator {
	return &Migrator{db: db, log: logger}
}

func (m *Migrator) logger() *slog.Logger {
	if m.log != nil {
		return m.log
	}
	return slog.Default()
}

// Apply creates the migrations bookkeeping table if absent, then applies
// every migration folder under migrations/ that has not yet been recorded as
// successfully finished, in lexicographic folder-name order.
func (m *Migrator) Apply(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return fmt.Errorf("migrate: create migrations table: %w", err)
	}

	steps, err := loadSteps()
	if err != nil {
		return fmt.Errorf("migrate: load embedded migrations: %w", err)
	}

	applied, err := m.appliedNames(ctx)
	if err != nil {
		return fmt.Errorf("migrate: read applied migrations: %w", err)
	}

	for _, s := range steps {
		if applied[s.name] {
			continue
		}
		if err := m.applyStep(ctx, s); err != nil {
			return err
		}
		m.logger().Info("migration applied", "name", s.name, "checksum", s.checksum)
	}
	return nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS migrations (
    id                   TEXT PRIMARY KEY,
    checksum             TEXT NOT NULL,
    finished_at          INTEGER,
    migration_name       TEXT NOT NULL,
    logs                 TEXT,
    rolled_back_at       INTEGER,
    started_at           INTEGER NOT NULL,
    applied_steps_count  INTEGER NOT NULL DEFAULT 0
)`
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

func (m *Migrator) appliedNames(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `
SELECT migration_name FROM migrations
WHERE finished_at IS NOT NULL AND rolled_back_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) applyStep(ctx context.Context, s step) error {
	id := uuid.New().String()
	startedAt := nowMillis()

	_, err := m.db.ExecContext(ctx, `
INSERT INTO migrations (id, checksum, migration_name, started_at, applied_steps_count)
VALUES (?, ?, ?, ?, 0)`, id, s.checksum, s.name, startedAt)
	if err != nil {
		return fmt.Errorf("migrate: record pending migration %s: %w", s.name, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin tx for %s: %w", s.name, err)
	}

	if _, execErr := tx.ExecContext(ctx, s.script); execErr != nil {
		_ = tx.Rollback()
		if _, recErr := m.db.ExecContext(ctx, `
UPDATE migrations SET logs = ?, rolled_back_at = ? WHERE id = ?`,
			execErr.Error(), nowMillis(), id); recErr != nil {
			return fmt.Errorf("migrate: %s failed (%v) and failed to record rollback: %w", s.name, execErr, recErr)
		}
		return fmt.Errorf("migrate: apply %s: %w", s.name, execErr)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit %s: %w", s.name, err)
	}

	_, err = m.db.ExecContext(ctx, `
UPDATE migrations SET finished_at = ?, applied_steps_count = 1 WHERE id = ?`,
		nowMillis(), id)
	if err != nil {
		return fmt.Errorf("migrate: record completion of %s: %w", s.name, err)
	}
	return nil
}

func loadSteps() ([]step, error) {
	entries, err := fs.ReadDir(embedded, "migrations")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	steps := make([]step, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(embedded, "migrations/"+name+"/up.sql")
		if err != nil {
			return nil, fmt.Errorf("read %s/up.sql: %w", name, err)
		}
		sum := sha256.Sum256(data)
		steps = append(steps, step{
			name:     name,
			script:   string(data),
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	return steps, nil
}

// nowMillis returns the current time as Unix milliseconds, the timestamp
// resolution spec.md §4.1 calls for.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
