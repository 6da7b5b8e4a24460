package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Sprite is the row shape of the sprites table (spec.md §3), keyed by
// (id, pixelDensity).
type Sprite struct {
	ID           string
	PixelDensity int
	Data         []byte
	Layout       string
	ETag         sql.NullString
	UpstreamURL  sql.NullString
}

func (s *Store) CreateSprite(ctx context.Context, sp Sprite) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sprites (id, pixel_density, data, layout, etag, upstream_url)
VALUES (?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.PixelDensity, sp.Data, sp.Layout, sp.ETag, sp.UpstreamURL)
	if err != nil {
		return fmt.Errorf("store: create sprite %s@%d: %w", sp.ID, sp.PixelDensity, err)
	}
	return nil
}

// GetSprite loads an exact (id, pixelDensity) row. Returns sql.ErrNoRows on
// miss.
func (s *Store) GetSprite(ctx context.Context, id string, pixelDensity int) (Sprite, error) {
	var sp Sprite
	err := s.db.QueryRowContext(ctx, `
SELECT id, pixel_density, data, layout, etag, upstream_url
FROM sprites WHERE id = ? AND pixel_density = ?`, id, pixelDensity).
		Scan(&sp.ID, &sp.PixelDensity, &sp.Data, &sp.Layout, &sp.ETag, &sp.UpstreamURL)
	if err != nil {
		return Sprite{}, err
	}
	return sp, nil
}

// GetSpriteWithFallback matches the highest pixelDensity <= requested
// (spec.md §4.8 get with allowFallback=true).
func (s *Store) GetSpriteWithFallback(ctx context.Context, id string, pixelDensity int) (Sprite, error) {
	var sp Sprite
	err := s.db.QueryRowContext(ctx, `
SELECT id, pixel_density, data, layout, etag, upstream_url
FROM sprites WHERE id = ? AND pixel_density <= ?
ORDER BY pixel_density DESC LIMIT 1`, id, pixelDensity).
		Scan(&sp.ID, &sp.PixelDensity, &sp.Data, &sp.Layout, &sp.ETag, &sp.UpstreamURL)
	if err != nil {
		return Sprite{}, err
	}
	return sp, nil
}

func (s *Store) UpdateSprite(ctx context.Context, sp Sprite) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE sprites SET data = ?, layout = ?, etag = ?, upstream_url = ?
WHERE id = ? AND pixel_density = ?`,
		sp.Data, sp.Layout, sp.ETag, sp.UpstreamURL, sp.ID, sp.PixelDensity)
	if err != nil {
		return fmt.Errorf("store: update sprite %s@%d: %w", sp.ID, sp.PixelDensity, err)
	}
	return nil
}

// DeleteSprite removes one row when pixelDensity is non-nil, else every row
// for id (spec.md §4.8 delete).
func (s *Store) DeleteSprite(ctx context.Context, id string, pixelDensity *int) error {
	var err error
	if pixelDensity != nil {
		_, err = s.db.ExecContext(ctx,
			"DELETE FROM sprites WHERE id = ? AND pixel_density = ?", id, *pixelDensity)
	} else {
		_, err = s.db.ExecContext(ctx, "DELETE FROM sprites WHERE id = ?", id)
	}
	if err != nil {
		return fmt.Errorf("store: delete sprite %s: %w", id, err)
	}
	return nil
}
