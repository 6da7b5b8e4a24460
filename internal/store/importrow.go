package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Import states, the vocabulary of the state machine in spec.md §4.11.
const (
	ImportStateActive   = "active"
	ImportStateComplete = "complete"
	ImportStateError    = "error"
)

// ImportErrorUnknown is recorded by the startup sweep for imports whose
// worker never reached a terminal state before the process died.
const ImportErrorUnknown = "UNKNOWN"

// Import is the row shape of the imports table (spec.md §3).
type Import struct {
	ID                string
	State             string
	Error             sql.NullString
	Started           int64
	LastUpdated       sql.NullInt64
	Finished          sql.NullInt64
	ImportedResources int64
	TotalResources    int64
	ImportedBytes     sql.NullInt64
	TotalBytes        sql.NullInt64
	AreaID            string
	TilesetID         sql.NullString
	ImportType        string
}

// CreateImport inserts a new row in the active state (spec.md §4.11 step 4).
func (s *Store) CreateImport(ctx context.Context, imp Import) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO imports (id, state, started, imported_resources, total_resources,
    imported_bytes, total_bytes, area_id, tileset_id, import_type)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		imp.ID, imp.State, imp.Started, imp.ImportedResources, imp.TotalResources,
		imp.ImportedBytes, imp.TotalBytes, imp.AreaID, imp.TilesetID, imp.ImportType)
	if err != nil {
		return fmt.Errorf("store: create import %s: %w", imp.ID, err)
	}
	return nil
}

// GetImport loads a row by id. Returns sql.ErrNoRows on miss.
func (s *Store) GetImport(ctx context.Context, id string) (Import, error) {
	var imp Import
	err := s.db.QueryRowContext(ctx, `
SELECT id, state, error, started, last_updated, finished, imported_resources,
       total_resources, imported_bytes, total_bytes, area_id, tileset_id, import_type
FROM imports WHERE id = ?`, id).Scan(
		&imp.ID, &imp.State, &imp.Error, &imp.Started, &imp.LastUpdated, &imp.Finished,
		&imp.ImportedResources, &imp.TotalResources, &imp.ImportedBytes, &imp.TotalBytes,
		&imp.AreaID, &imp.TilesetID, &imp.ImportType)
	if err != nil {
		return Import{}, err
	}
	return imp, nil
}

// UpdateImportProgress advances the counters and last_updated timestamp, and
// promotes state to complete when imported_resources reaches total_resources
// (imported_bytes is not compared) (spec.md §4.11 step 6).
func (s *Store) UpdateImportProgress(ctx context.Context, id string, importedResources, importedBytes int64) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
UPDATE imports SET imported_resources = ?, imported_bytes = ?, last_updated = ?,
    state = CASE WHEN ? >= total_resources THEN ? ELSE state END,
    finished = CASE WHEN ? >= total_resources THEN ? ELSE finished END
WHERE id = ?`,
		importedResources, importedBytes, now, importedResources, ImportStateComplete, importedResources, now, id)
	if err != nil {
		return fmt.Errorf("store: update import progress %s: %w", id, err)
	}
	return nil
}

// FailImport transitions an import to the error state with reason.
func (s *Store) FailImport(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE imports SET state = ?, error = ?, finished = ? WHERE id = ?`,
		ImportStateError, reason, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("store: fail import %s: %w", id, err)
	}
	return nil
}

// SweepStaleActiveImports transitions every still-active import to
// error(UNKNOWN) at startup, since no worker can have survived a process
// restart (spec.md §3 global invariant, §4.11 state machine). Returns the
// ids transitioned, for logging.
func (s *Store) SweepStaleActiveImports(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM imports WHERE state = ?", ImportStateActive)
	if err != nil {
		return nil, fmt.Errorf("store: query active imports: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan active import: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, id := range ids {
		if err := s.FailImport(ctx, id, ImportErrorUnknown); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
