package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Style is the row shape of the styles table (spec.md §3).
type Style struct {
	ID                  string
	StyleJSON           string
	SourceIDToTilesetID string // JSON object {sourceId: tilesetId}
	SpriteID            sql.NullString
	ETag                sql.NullString
	UpstreamURL         sql.NullString
}

func (s *Store) CreateStyle(ctx context.Context, st Style) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO styles (id, stylejson, source_id_to_tileset_id, sprite_id, etag, upstream_url)
VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.StyleJSON, st.SourceIDToTilesetID, st.SpriteID, st.ETag, st.UpstreamURL)
	if err != nil {
		return fmt.Errorf("store: create style %s: %w", st.ID, err)
	}
	return nil
}

func (s *Store) GetStyle(ctx context.Context, id string) (Style, error) {
	var st Style
	err := s.db.QueryRowContext(ctx, `
SELECT id, stylejson, source_id_to_tileset_id, sprite_id, etag, upstream_url
FROM styles WHERE id = ?`, id).
		Scan(&st.ID, &st.StyleJSON, &st.SourceIDToTilesetID, &st.SpriteID, &st.ETag, &st.UpstreamURL)
	if err != nil {
		return Style{}, err
	}
	return st, nil
}

func (s *Store) StyleExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM styles WHERE id = ?)", id).Scan(&exists)
	return exists, err
}

// UpdateStyle overwrites a style row wholesale (spec.md §4.7 update: "row is
// overwritten").
func (s *Store) UpdateStyle(ctx context.Context, st Style) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE styles SET stylejson = ?, source_id_to_tileset_id = ?, sprite_id = ?, etag = ?, upstream_url = ?
WHERE id = ?`, st.StyleJSON, st.SourceIDToTilesetID, st.SpriteID, st.ETag, st.UpstreamURL, st.ID)
	if err != nil {
		return fmt.Errorf("store: update style %s: %w", st.ID, err)
	}
	return nil
}

func (s *Store) ListStyles(ctx context.Context) ([]Style, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, stylejson, source_id_to_tileset_id, sprite_id, etag, upstream_url
FROM styles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list styles: %w", err)
	}
	defer rows.Close()

	var out []Style
	for rows.Next() {
		var st Style
		if err := rows.Scan(&st.ID, &st.StyleJSON, &st.SourceIDToTilesetID, &st.SpriteID, &st.ETag, &st.UpstreamURL); err != nil {
			return nil, fmt.Errorf("store: scan style row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// DeleteStyle performs the full cascade spec.md §4.7 describes: tilesets
// uniquely owned by this style, its offline areas and their imports, its
// sprite, then the style row itself. Orphan detection uses json_each over
// source_id_to_tileset_id and a SQL EXCEPT between this style's referenced
// tilesets and every other style's.
func (s *Store) DeleteStyle(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		orphanTilesets, err := orphanTilesetsForStyle(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("store: compute orphan tilesets for style %s: %w", id, err)
		}

		if len(orphanTilesets) > 0 {
			q, args := inClauseQuery("DELETE FROM tiles WHERE tileset_id IN (%s)", orphanTilesets)
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("store: delete orphan tiles: %w", err)
			}
			q, args = inClauseQuery("DELETE FROM tile_data WHERE tileset_id IN (%s)", orphanTilesets)
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("store: delete orphan tile_data: %w", err)
			}
			q, args = inClauseQuery("DELETE FROM tilesets WHERE id IN (%s)", orphanTilesets)
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("store: delete orphan tilesets: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
DELETE FROM imports WHERE area_id IN (SELECT id FROM offline_areas WHERE style_id = ?)`, id); err != nil {
			return fmt.Errorf("store: delete imports for style %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM offline_areas WHERE style_id = ?`, id); err != nil {
			return fmt.Errorf("store: delete offline areas for style %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `
DELETE FROM sprites WHERE id = (SELECT sprite_id FROM styles WHERE id = ?)`, id); err != nil {
			return fmt.Errorf("store: delete sprite for style %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM styles WHERE id = ?`, id); err != nil {
			return fmt.Errorf("store: delete style %s: %w", id, err)
		}
		return nil
	})
}

func orphanTilesetsForStyle(ctx context.Context, tx *sql.Tx, styleID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT je.value FROM styles s, json_each(s.source_id_to_tileset_id) je WHERE s.id = ?
EXCEPT
SELECT je.value FROM styles s, json_each(s.source_id_to_tileset_id) je WHERE s.id != ?`,
		styleID, styleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
