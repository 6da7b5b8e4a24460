package store

import (
	"context"
	"fmt"
)

// OfflineArea is the row shape of the offline_areas table (spec.md §3).
type OfflineArea struct {
	ID          string
	ZoomLevel   int
	BoundingBox string // JSON [minX,minY,maxX,maxY]
	Name        string
	StyleID     string
}

// UpsertOfflineArea inserts or replaces the area row keyed by id, as the
// ImportWorker does on every import run against the same tileset (spec.md
// §4.11 step 3).
func (s *Store) UpsertOfflineArea(ctx context.Context, a OfflineArea) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO offline_areas (id, zoom_level, bounding_box, name, style_id)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    zoom_level = excluded.zoom_level,
    bounding_box = excluded.bounding_box,
    name = excluded.name,
    style_id = excluded.style_id`,
		a.ID, a.ZoomLevel, a.BoundingBox, a.Name, a.StyleID)
	if err != nil {
		return fmt.Errorf("store: upsert offline area %s: %w", a.ID, err)
	}
	return nil
}

// GetOfflineArea loads a row by id. Returns sql.ErrNoRows on miss.
func (s *Store) GetOfflineArea(ctx context.Context, id string) (OfflineArea, error) {
	var a OfflineArea
	err := s.db.QueryRowContext(ctx, `
SELECT id, zoom_level, bounding_box, name, style_id FROM offline_areas WHERE id = ?`, id).
		Scan(&a.ID, &a.ZoomLevel, &a.BoundingBox, &a.Name, &a.StyleID)
	if err != nil {
		return OfflineArea{}, err
	}
	return a, nil
}
