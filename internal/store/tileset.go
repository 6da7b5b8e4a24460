package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tileset is the row shape of the tilesets table (spec.md §3).
type Tileset struct {
	ID               string
	TileJSON         string
	Format           string
	UpstreamTileURLs sql.NullString
	UpstreamURL      sql.NullString
	ETag             sql.NullString
}

// CreateTileset inserts a new row. Returns a *sqlite constraint error
// (unwrapped by the caller) if id already exists.
func (s *Store) CreateTileset(ctx context.Context, t Tileset) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tilesets (id, tilejson, format, upstream_tile_urls, upstream_url, etag)
VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.TileJSON, t.Format, t.UpstreamTileURLs, t.UpstreamURL, t.ETag)
	if err != nil {
		return fmt.Errorf("store: create tileset %s: %w", t.ID, err)
	}
	return nil
}

// GetTileset loads a row by id. Returns sql.ErrNoRows when absent.
func (s *Store) GetTileset(ctx context.Context, id string) (Tileset, error) {
	var t Tileset
	row := s.db.QueryRowContext(ctx, `
SELECT id, tilejson, format, upstream_tile_urls, upstream_url, etag
FROM tilesets WHERE id = ?`, id)
	err := row.Scan(&t.ID, &t.TileJSON, &t.Format, &t.UpstreamTileURLs, &t.UpstreamURL, &t.ETag)
	if err != nil {
		return Tileset{}, err
	}
	return t, nil
}

// TilesetExists reports whether id is present.
func (s *Store) TilesetExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM tilesets WHERE id = ?)", id).Scan(&exists)
	return exists, err
}

// UpdateTileset overwrites tilejson/format/upstream_tile_urls, and etag only
// when etagProvided is true (spec.md §4.5 put: "update etag only if
// explicitly provided").
func (s *Store) UpdateTileset(ctx context.Context, t Tileset, etagProvided bool) error {
	var err error
	if etagProvided {
		_, err = s.db.ExecContext(ctx, `
UPDATE tilesets SET tilejson = ?, format = ?, upstream_tile_urls = ?, etag = ?
WHERE id = ?`, t.TileJSON, t.Format, t.UpstreamTileURLs, t.ETag, t.ID)
	} else {
		_, err = s.db.ExecContext(ctx, `
UPDATE tilesets SET tilejson = ?, format = ?, upstream_tile_urls = ?
WHERE id = ?`, t.TileJSON, t.Format, t.UpstreamTileURLs, t.ID)
	}
	if err != nil {
		return fmt.Errorf("store: update tileset %s: %w", t.ID, err)
	}
	return nil
}

// SetTilesetUpstream sets upstream_url/etag for a tileset, used when a style
// creates a tileset from a normalised source URL.
func (s *Store) SetTilesetUpstream(ctx context.Context, id string, upstreamURL, etag sql.NullString) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE tilesets SET upstream_url = ?, etag = ? WHERE id = ?", upstreamURL, etag, id)
	if err != nil {
		return fmt.Errorf("store: set tileset upstream %s: %w", id, err)
	}
	return nil
}

// ListTilesets returns every row, ordered by id for deterministic listing.
func (s *Store) ListTilesets(ctx context.Context) ([]Tileset, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, tilejson, format, upstream_tile_urls, upstream_url, etag
FROM tilesets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list tilesets: %w", err)
	}
	defer rows.Close()

	var out []Tileset
	for rows.Next() {
		var t Tileset
		if err := rows.Scan(&t.ID, &t.TileJSON, &t.Format, &t.UpstreamTileURLs, &t.UpstreamURL, &t.ETag); err != nil {
			return nil, fmt.Errorf("store: scan tileset row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// BytesStoredForTilesets sums the byte length of all TileData rows across
// the given tileset ids (spec.md §4.7 list: "bytesStored").
func (s *Store) BytesStoredForTilesets(ctx context.Context, tilesetIDs []string) (int64, error) {
	if len(tilesetIDs) == 0 {
		return 0, nil
	}
	query, args := inClauseQuery(
		"SELECT COALESCE(SUM(LENGTH(data)), 0) FROM tile_data WHERE tileset_id IN (%s)",
		tilesetIDs)
	var total int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: sum bytes stored: %w", err)
	}
	return total, nil
}

func inClauseQuery(format string, values []string) (string, []any) {
	placeholders := ""
	args := make([]any, len(values))
	for i, v := range values {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = v
	}
	return fmt.Sprintf(format, placeholders), args
}
