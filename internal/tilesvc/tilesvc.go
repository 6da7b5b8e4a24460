// Package tilesvc implements TilesService (spec.md §4.6): the tile read/write
// path joining Tile×TileData, with a hit path that serves cached
// bytes while revalidating in the background and a miss path that fetches
// synchronously through UpstreamManager.
package tilesvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/idcodec"
	"github.com/tilehaven/tileserver/internal/store"
	"github.com/tilehaven/tileserver/internal/tileaddr"
	"github.com/tilehaven/tileserver/internal/tilesetsvc"
	"github.com/tilehaven/tileserver/internal/upstream"
)

// Tile is the response shape of Get: bytes plus sniffed/derived headers
// (spec.md §4.6 step 5).
type Tile struct {
	Data    []byte
	Headers tileaddr.Headers
	ETag    string
}

// Service implements TilesService.
type Service struct {
	store    *store.Store
	tilesets *tilesetsvc.Service
	upstream *upstream.Manager
	log      *slog.Logger
}

// New constructs a Service. A nil logger falls back to slog.Default().
func New(st *store.Store, tilesets *tilesetsvc.Service, up *upstream.Manager, logger *slog.Logger) *Service {
	return &Service{store: st, tilesets: tilesets, upstream: up, log: logger}
}

func (s *Service) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return slog.Default()
}

// Get implements the read path of spec.md §4.6: hit serves cached bytes and
// revalidates in the background; miss fetches synchronously.
func (s *Service) Get(ctx context.Context, tilesetID string, z, x, y uint32, accessToken string) (Tile, error) {
	quadKey := tileaddr.QuadKey(tileaddr.XYZ{Z: z, X: x, Y: y})

	row, err := s.store.GetTile(ctx, tilesetID, quadKey)
	if err == nil {
		upstream.FireAndForget(func() error {
			return s.revalidate(context.Background(), tilesetID, z, x, y, quadKey, row, accessToken)
		})
		return s.toTile(row.Data, row.ETag), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Tile{}, apierr.Wrap(apierr.KindInternal, "load tile", err)
	}

	info, err := s.tilesets.GetInfo(ctx, tilesetID)
	if err != nil {
		return Tile{}, err
	}
	if len(info.UpstreamTileURLs) == 0 {
		return Tile{}, apierr.New(apierr.KindNotFound, fmt.Sprintf("tile %d/%d/%d not found and tileset %s has no upstream", z, x, y, tilesetID))
	}

	url, err := tileaddr.Interpolate(info.UpstreamTileURLs, "xyz", z, x, y, 1, accessToken)
	if err != nil {
		return Tile{}, apierr.Wrap(apierr.KindInvalidArgument, "interpolate upstream url", err)
	}

	res, err := s.upstream.GetUpstream(ctx, url, upstream.ResponseBuffer, "")
	if err != nil {
		return Tile{}, apierr.New(apierr.KindNotFound, fmt.Sprintf("tile %d/%d/%d not found upstream", z, x, y))
	}
	if len(res.Data) == 0 {
		return Tile{}, apierr.New(apierr.KindNotFound, fmt.Sprintf("tile %d/%d/%d not found", z, x, y))
	}

	if err := s.Put(ctx, tilesetID, z, x, y, res.Data, res.ETag); err != nil {
		s.logger().Warn("failed to cache fetched tile", "tileset", tilesetID, "z", z, "x", x, "y", y, "err", err)
	}
	return s.toTile(res.Data, sql.NullString{String: res.ETag, Valid: res.ETag != ""}), nil
}

func (s *Service) revalidate(ctx context.Context, tilesetID string, z, x, y uint32, quadKey string, row store.TileRow, accessToken string) error {
	info, err := s.tilesets.GetInfo(ctx, tilesetID)
	if err != nil || len(info.UpstreamTileURLs) == 0 {
		return nil
	}
	url, err := tileaddr.Interpolate(info.UpstreamTileURLs, "xyz", z, x, y, 1, accessToken)
	if err != nil {
		return err
	}

	etag := ""
	if row.ETag.Valid {
		etag = row.ETag.String
	}
	res, err := s.upstream.GetUpstream(ctx, url, upstream.ResponseBuffer, etag)
	if errors.Is(err, upstream.ErrNotModified) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Put(ctx, tilesetID, z, x, y, res.Data, res.ETag)
}

// Put computes the content hash and upserts TileData/Tile in one transaction
// (spec.md §4.6 write path).
func (s *Service) Put(ctx context.Context, tilesetID string, z, x, y uint32, data []byte, etag string) error {
	quadKey := tileaddr.QuadKey(tileaddr.XYZ{Z: z, X: x, Y: y})
	hash := idcodec.TileDataHash(data)
	var etagArg sql.NullString
	if etag != "" {
		etagArg = sql.NullString{String: etag, Valid: true}
	}
	if err := s.store.PutTile(ctx, tilesetID, quadKey, hash, data, etagArg); err != nil {
		return apierr.Wrap(apierr.KindInternal, "put tile", err)
	}
	return nil
}

func (s *Service) toTile(data []byte, etag sql.NullString) Tile {
	headers := tileaddr.SniffTileHeaders(data)
	t := Tile{Data: data, Headers: headers}
	if etag.Valid {
		t.ETag = etag.String
	}
	return t
}
