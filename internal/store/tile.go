package store

import (
	"context"
	"database/sql"
	"fmt"
)

// TileRow is a Tile joined with its TileData bytes (spec.md §3: Tile and
// TileData, joined by tileHash within a tileset).
type TileRow struct {
	QuadKey   string
	TilesetID string
	TileHash  string
	ETag      sql.NullString
	Data      []byte
}

// GetTile loads the tile at (tilesetID, quadKey) joined with its bytes.
// Returns sql.ErrNoRows on miss.
func (s *Store) GetTile(ctx context.Context, tilesetID, quadKey string) (TileRow, error) {
	var row TileRow
	err := s.db.QueryRowContext(ctx, `
SELECT t.quad_key, t.tileset_id, t.tile_hash, t.etag, d.data
FROM tiles t
JOIN tile_data d ON d.tile_hash = t.tile_hash AND d.tileset_id = t.tileset_id
WHERE t.tileset_id = ? AND t.quad_key = ?`, tilesetID, quadKey).
		Scan(&row.QuadKey, &row.TilesetID, &row.TileHash, &row.ETag, &row.Data)
	if err != nil {
		return TileRow{}, err
	}
	return row, nil
}

// PutTile upserts TileData (conflict on tile_hash+tileset_id updates data)
// and upserts the Tile row (conflict on quad_key+tileset_id updates
// tile_hash and etag), in one transaction (spec.md §4.6 write path).
func (s *Store) PutTile(ctx context.Context, tilesetID, quadKey, tileHash string, data []byte, etag sql.NullString) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO tile_data (tile_hash, tileset_id, data) VALUES (?, ?, ?)
ON CONFLICT(tile_hash, tileset_id) DO UPDATE SET data = excluded.data`,
			tileHash, tilesetID, data); err != nil {
			return fmt.Errorf("store: upsert tile_data %s/%s: %w", tilesetID, tileHash, err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO tiles (quad_key, tileset_id, tile_hash, etag) VALUES (?, ?, ?, ?)
ON CONFLICT(quad_key, tileset_id) DO UPDATE SET tile_hash = excluded.tile_hash, etag = excluded.etag`,
			quadKey, tilesetID, tileHash, etag); err != nil {
			return fmt.Errorf("store: upsert tile %s/%s: %w", tilesetID, quadKey, err)
		}
		return nil
	})
}
