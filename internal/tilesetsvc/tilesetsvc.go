// Package tilesetsvc implements TilesetsService (spec.md §4.5): CRUD over
// the tilesets table plus a small LRU-memoised getInfo lookup, grounded on
// NERVsystems-osmmcp's lru.New[string, V](size) usage for the cache shape
// and the teacher's zero-value-defaulting constructor style
// (internal/server/ondemand_tiles.go's NewOnDemandTiles).
package tilesetsvc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/idcodec"
	"github.com/tilehaven/tileserver/internal/store"
	"github.com/tilehaven/tileserver/internal/upstream"
)

// infoCacheSize is the LRU target size spec.md §4.5 calls for ("target size
// ≈10").
const infoCacheSize = 10

// TileJSON is the subset of a TileJSON document the service reads and
// rewrites. Unknown fields round-trip through the Extra map.
type TileJSON struct {
	ID            string         `json:"id,omitempty"`
	TileJSONValue string         `json:"tilejson,omitempty"`
	Tiles         []string       `json:"tiles"`
	VectorLayers  []any          `json:"vector_layers,omitempty"`
	Extra         map[string]any `json:"-"`
}

// Info is the memoised getInfo result (spec.md §4.5: "returns
// (tilejson, upstreamTileUrls?)").
type Info struct {
	TileJSON         TileJSON
	UpstreamTileURLs []string
}

// Service implements TilesetsService.
type Service struct {
	store    *store.Store
	upstream *upstream.Manager
	log      *slog.Logger

	cache *lru.Cache[string, Info]
}

// New constructs a Service. A nil logger falls back to slog.Default().
func New(st *store.Store, up *upstream.Manager, logger *slog.Logger) *Service {
	cache, _ := lru.New[string, Info](infoCacheSize)
	return &Service{store: st, upstream: up, log: logger, cache: cache}
}

func (s *Service) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return slog.Default()
}

// Create computes the deterministic id, inserts the row, and returns the
// TileJSON rewritten to point at baseUrl (spec.md §4.5 create).
func (s *Service) Create(ctx context.Context, tj TileJSON, baseURL string, upstreamURL, etag string) (TileJSON, error) {
	id := idcodec.TilesetID(idcodec.TileJSONSource{ID: tj.ID, Tiles: tj.Tiles})
	if id == "" {
		return TileJSON{}, apierr.New(apierr.KindInvalidArgument, "tilejson has neither id nor tiles")
	}

	exists, err := s.store.TilesetExists(ctx, id)
	if err != nil {
		return TileJSON{}, apierr.Wrap(apierr.KindInternal, "check tileset existence", err)
	}
	if exists {
		return TileJSON{}, apierr.New(apierr.KindAlreadyExists, fmt.Sprintf("tileset %s already exists", id))
	}

	format := inferFormat(tj)
	if format == "pbf" && len(tj.VectorLayers) == 0 {
		return TileJSON{}, apierr.New(apierr.KindInvalidArgument, "format=pbf requires vector_layers")
	}

	var upstreamTileURLs sql.NullString
	if len(tj.Tiles) > 0 {
		raw, mErr := json.Marshal(tj.Tiles)
		if mErr != nil {
			return TileJSON{}, apierr.Wrap(apierr.KindInternal, "marshal upstream tile urls", mErr)
		}
		upstreamTileURLs = sql.NullString{String: string(raw), Valid: true}
	}

	rawTileJSON, err := marshalTileJSON(tj, id)
	if err != nil {
		return TileJSON{}, apierr.Wrap(apierr.KindInternal, "marshal tilejson", err)
	}

	row := store.Tileset{
		ID:               id,
		TileJSON:         rawTileJSON,
		Format:           format,
		UpstreamTileURLs: upstreamTileURLs,
		UpstreamURL:      nullableString(upstreamURL),
		ETag:             nullableString(etag),
	}
	if err := s.store.CreateTileset(ctx, row); err != nil {
		return TileJSON{}, apierr.Wrap(apierr.KindInternal, "create tileset", err)
	}

	s.cache.Remove(id)
	return rewriteTiles(tj, baseURL, id), nil
}

// Get loads a tileset and fires a best-effort background revalidation of its
// upstream TileJSON (spec.md §4.5 get).
func (s *Service) Get(ctx context.Context, id, baseURL string) (TileJSON, error) {
	row, err := s.store.GetTileset(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TileJSON{}, apierr.New(apierr.KindNotFound, fmt.Sprintf("tileset %s not found", id))
		}
		return TileJSON{}, apierr.Wrap(apierr.KindInternal, "load tileset", err)
	}

	tj, err := unmarshalTileJSON(row.TileJSON)
	if err != nil {
		return TileJSON{}, apierr.Wrap(apierr.KindParse, "Parse: stored tilejson", err)
	}

	if row.UpstreamURL.Valid {
		upstream.FireAndForget(func() error { return s.revalidate(context.Background(), id, row) })
	}

	return rewriteTiles(tj, baseURL, id), nil
}

func (s *Service) revalidate(ctx context.Context, id string, row store.Tileset) error {
	etag := ""
	if row.ETag.Valid {
		etag = row.ETag.String
	}
	res, err := s.upstream.GetUpstream(ctx, row.UpstreamURL.String, upstream.ResponseJSON, etag)
	if errors.Is(err, upstream.ErrNotModified) {
		return nil
	}
	if err != nil {
		return err
	}

	var tj TileJSON
	if err := json.Unmarshal(res.Data, &tj); err != nil {
		return fmt.Errorf("tilesetsvc: parse revalidated tilejson: %w", err)
	}
	return s.Put(ctx, id, tj, "", res.ETag, true)
}

// Put requires id==tileJSON.id, updates the row, and invalidates the info
// cache (spec.md §4.5 put).
func (s *Service) Put(ctx context.Context, id string, tj TileJSON, baseURL, etag string, etagProvided bool) error {
	if tj.ID != "" && tj.ID != id {
		return apierr.New(apierr.KindMismatchedID, "MismatchedId: tilejson.id does not match path id")
	}

	exists, err := s.store.TilesetExists(ctx, id)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "check tileset existence", err)
	}
	if !exists {
		return apierr.New(apierr.KindNotFound, fmt.Sprintf("tileset %s not found", id))
	}

	format := inferFormat(tj)
	var upstreamTileURLs sql.NullString
	if len(tj.Tiles) > 0 {
		raw, mErr := json.Marshal(tj.Tiles)
		if mErr != nil {
			return apierr.Wrap(apierr.KindInternal, "marshal upstream tile urls", mErr)
		}
		upstreamTileURLs = sql.NullString{String: string(raw), Valid: true}
	}
	rawTileJSON, err := marshalTileJSON(tj, id)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "marshal tilejson", err)
	}

	row := store.Tileset{
		ID:               id,
		TileJSON:         rawTileJSON,
		Format:           format,
		UpstreamTileURLs: upstreamTileURLs,
		ETag:             nullableString(etag),
	}
	if err := s.store.UpdateTileset(ctx, row, etagProvided); err != nil {
		return apierr.Wrap(apierr.KindInternal, "update tileset", err)
	}

	s.cache.Remove(id)
	return nil
}

// List returns every tileset with rewritten tiles; rows whose stored
// tilejson fails to parse are skipped rather than failing the whole list
// (spec.md §4.5 list).
func (s *Service) List(ctx context.Context, baseURL string) ([]TileJSON, error) {
	rows, err := s.store.ListTilesets(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "list tilesets", err)
	}

	out := make([]TileJSON, 0, len(rows))
	for _, row := range rows {
		tj, err := unmarshalTileJSON(row.TileJSON)
		if err != nil {
			s.logger().Warn("skipping malformed tileset row", "id", row.ID, "err", err)
			continue
		}
		out = append(out, rewriteTiles(tj, baseURL, row.ID))
	}
	return out, nil
}

// GetInfo returns the raw tilejson and upstream tile url templates, memoised
// behind the LRU (spec.md §4.5 getInfo).
func (s *Service) GetInfo(ctx context.Context, id string) (Info, error) {
	if info, ok := s.cache.Get(id); ok {
		return info, nil
	}

	row, err := s.store.GetTileset(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Info{}, apierr.New(apierr.KindNotFound, fmt.Sprintf("tileset %s not found", id))
		}
		return Info{}, apierr.Wrap(apierr.KindInternal, "load tileset", err)
	}

	tj, err := unmarshalTileJSON(row.TileJSON)
	if err != nil {
		return Info{}, apierr.Wrap(apierr.KindParse, "Parse: stored tilejson", err)
	}

	var urls []string
	if row.UpstreamTileURLs.Valid {
		if err := json.Unmarshal([]byte(row.UpstreamTileURLs.String), &urls); err != nil {
			return Info{}, apierr.Wrap(apierr.KindParse, "Parse: stored upstream tile urls", err)
		}
	}

	info := Info{TileJSON: tj, UpstreamTileURLs: urls}
	s.cache.Add(id, info)
	return info, nil
}

func inferFormat(tj TileJSON) string {
	if len(tj.VectorLayers) > 0 {
		return "pbf"
	}
	if raw, ok := tj.Extra["format"].(string); ok && raw != "" {
		return raw
	}
	return "png"
}

func rewriteTiles(tj TileJSON, baseURL, id string) TileJSON {
	out := tj
	out.ID = id
	out.Tiles = []string{strings.TrimRight(baseURL, "/") + "/tilesets/" + id + "/{z}/{x}/{y}"}
	return out
}

func marshalTileJSON(tj TileJSON, id string) (string, error) {
	tj.ID = id
	raw, err := json.Marshal(tj)
	if err != nil {
		return "", err
	}
	if len(tj.Extra) == 0 {
		return string(raw), nil
	}
	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return "", err
	}
	for k, v := range tj.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return "", err
	}
	return string(mergedRaw), nil
}

func unmarshalTileJSON(raw string) (TileJSON, error) {
	var tj TileJSON
	if err := json.Unmarshal([]byte(raw), &tj); err != nil {
		return TileJSON{}, err
	}
	var extra map[string]any
	if err := json.Unmarshal([]byte(raw), &extra); err == nil {
		tj.Extra = extra
	}
	return tj, nil
}

func nullableString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
