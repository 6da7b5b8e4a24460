// Package stylesvc implements StylesService (spec.md §4.7): style creation
// with offline-source materialisation, URL rewriting for offline serving,
// and the cascading delete the Store's DeleteStyle implements.
package stylesvc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/idcodec"
	"github.com/tilehaven/tileserver/internal/mapboxurl"
	"github.com/tilehaven/tileserver/internal/store"
	"github.com/tilehaven/tileserver/internal/tilesetsvc"
	"github.com/tilehaven/tileserver/internal/upstream"
)

// supportedSourceTypes is the "current scope" restriction spec.md §4.7
// documents for create/update.
var supportedSourceTypes = map[string]bool{"raster": true}

// CreateParams carries the optional fields spec.md §4.7 create accepts.
type CreateParams struct {
	ID          string
	AccessToken string
	ETag        string
	UpstreamURL string
}

// Service implements StylesService.
type Service struct {
	store    *store.Store
	tilesets *tilesetsvc.Service
	upstream *upstream.Manager
}

// New constructs a Service.
func New(st *store.Store, tilesets *tilesetsvc.Service, up *upstream.Manager) *Service {
	return &Service{store: st, tilesets: tilesets, upstream: up}
}

// Summary is one entry of List (spec.md §4.7 list).
type Summary struct {
	ID          string
	Name        string
	BytesStored int64
	URL         string
}

// Create materialises offline sources for every entry in style.sources and
// inserts the Style row (spec.md §4.7 create).
func (s *Service) Create(ctx context.Context, styleJSON map[string]any, baseURL string, params CreateParams) (string, map[string]any, error) {
	styleID := params.ID
	if styleID == "" && params.UpstreamURL != "" {
		id, err := idcodec.StyleIDFromURL(params.UpstreamURL)
		if err != nil {
			return "", nil, apierr.Wrap(apierr.KindInvalidArgument, "parse upstream url", err)
		}
		styleID = id
	}
	if styleID == "" {
		styleID = idcodec.GenerateID()
	}

	exists, err := s.store.StyleExists(ctx, styleID)
	if err != nil {
		return "", nil, apierr.Wrap(apierr.KindInternal, "check style existence", err)
	}
	if exists {
		return "", nil, apierr.New(apierr.KindAlreadyExists, fmt.Sprintf("style %s already exists", styleID))
	}

	sourceIDToTilesetID, err := s.materialiseSources(ctx, styleJSON, baseURL, params.AccessToken)
	if err != nil {
		return "", nil, err
	}

	var spriteID sql.NullString
	if spriteRef, ok := styleJSON["sprite"].(string); ok && spriteRef != "" {
		spriteID = sql.NullString{String: idcodec.SpriteIDFromRef(spriteRef), Valid: true}
	}

	mapping, err := json.Marshal(sourceIDToTilesetID)
	if err != nil {
		return "", nil, apierr.Wrap(apierr.KindInternal, "marshal source mapping", err)
	}
	rawStyle, err := json.Marshal(styleJSON)
	if err != nil {
		return "", nil, apierr.Wrap(apierr.KindInternal, "marshal stylejson", err)
	}

	row := store.Style{
		ID:                  styleID,
		StyleJSON:           string(rawStyle),
		SourceIDToTilesetID: string(mapping),
		SpriteID:            spriteID,
		ETag:                nullableString(params.ETag),
		UpstreamURL:         nullableString(params.UpstreamURL),
	}
	if err := s.store.CreateStyle(ctx, row); err != nil {
		return "", nil, apierr.Wrap(apierr.KindInternal, "create style", err)
	}

	return styleID, s.addOfflineURLs(styleJSON, sourceIDToTilesetID, spriteID, baseURL, styleID), nil
}

// materialiseSources implements spec.md §4.7 step 3.
func (s *Service) materialiseSources(ctx context.Context, styleJSON map[string]any, baseURL, accessToken string) (map[string]string, error) {
	sources, _ := styleJSON["sources"].(map[string]any)
	result := make(map[string]string, len(sources))

	for sourceID, raw := range sources {
		source, ok := raw.(map[string]any)
		if !ok {
			return nil, apierr.New(apierr.KindUnsupportedSource, fmt.Sprintf("UnsupportedSource: %s is not an object", sourceID))
		}

		sourceType, _ := source["type"].(string)
		if !supportedSourceTypes[sourceType] {
			return nil, apierr.New(apierr.KindUnsupportedSource, fmt.Sprintf("UnsupportedSource: type %q for %s", sourceType, sourceID))
		}

		rawURL, ok := source["url"].(string)
		if !ok || rawURL == "" {
			return nil, apierr.New(apierr.KindUnsupportedSource, fmt.Sprintf("UnsupportedSource: %s missing url", sourceID))
		}

		if mapboxurl.IsMapboxReference(rawURL) && accessToken == "" {
			return nil, apierr.New(apierr.KindMBAccessTokenRequired, "MBAccessTokenRequired")
		}

		normalisedURL, err := mapboxurl.Resolve(rawURL, accessToken)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInvalidArgument, "normalise source url", err)
		}

		res, err := s.upstream.GetUpstream(ctx, normalisedURL, upstream.ResponseJSON, "")
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInvalidArgument, fmt.Sprintf("fetch tilejson for source %s", sourceID), err)
		}

		var tj tilesetsvc.TileJSON
		if err := json.Unmarshal(res.Data, &tj); err != nil || len(tj.Tiles) == 0 {
			return nil, apierr.New(apierr.KindUpstreamJSONValidation, fmt.Sprintf("UpstreamJsonValidation: invalid tilejson for source %s", sourceID))
		}

		tilesetID := idcodec.TilesetID(idcodec.TileJSONSource{ID: tj.ID, Tiles: tj.Tiles})
		exists, err := s.store.TilesetExists(ctx, tilesetID)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "check tileset existence", err)
		}
		if !exists {
			if _, err := s.tilesets.Create(ctx, tj, baseURL, normalisedURL, res.ETag); err != nil && !apierr.Is(err, apierr.KindAlreadyExists) {
				return nil, err
			}
		}

		result[sourceID] = tilesetID
	}
	return result, nil
}

// CreateForTileset constructs a minimal default style for a freshly created
// or imported tileset (spec.md §4.7 createForTileset).
func (s *Service) CreateForTileset(ctx context.Context, tileset tilesetsvc.TileJSON, tilesetID, name string) (string, error) {
	styleID := idcodec.StyleIDForTileset(tilesetID)
	if name == "" {
		suffix := tilesetID
		if len(suffix) > 4 {
			suffix = suffix[len(suffix)-4:]
		}
		name = "Style " + suffix
	}

	sourceType := "raster"
	if len(tileset.VectorLayers) > 0 {
		sourceType = "vector"
	}

	styleJSON := map[string]any{
		"version": 8,
		"name":    name,
		"sources": map[string]any{
			"default": map[string]any{"type": sourceType, "url": ""},
		},
		"layers": []any{},
	}
	mapping := map[string]string{"default": tilesetID}
	mappingRaw, err := json.Marshal(mapping)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "marshal source mapping", err)
	}
	styleRaw, err := json.Marshal(styleJSON)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "marshal stylejson", err)
	}

	err = s.store.CreateStyle(ctx, store.Style{
		ID:                  styleID,
		StyleJSON:           string(styleRaw),
		SourceIDToTilesetID: string(mappingRaw),
	})
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "create default style", err)
	}
	return styleID, nil
}

// Get loads and rewrites a style for offline serving (spec.md §4.7 get).
func (s *Service) Get(ctx context.Context, id, baseURL string) (map[string]any, error) {
	row, err := s.store.GetStyle(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.New(apierr.KindNotFound, fmt.Sprintf("style %s not found", id))
		}
		return nil, apierr.Wrap(apierr.KindInternal, "load style", err)
	}

	var styleJSON map[string]any
	if err := json.Unmarshal([]byte(row.StyleJSON), &styleJSON); err != nil {
		return nil, apierr.Wrap(apierr.KindParse, "Parse: stored stylejson", err)
	}
	var mapping map[string]string
	if err := json.Unmarshal([]byte(row.SourceIDToTilesetID), &mapping); err != nil {
		return nil, apierr.Wrap(apierr.KindParse, "Parse: stored source mapping", err)
	}

	return s.addOfflineURLs(styleJSON, mapping, row.SpriteID, baseURL, id), nil
}

// Update re-materialises sources and overwrites the row (spec.md §4.7
// update).
func (s *Service) Update(ctx context.Context, id string, styleJSON map[string]any, baseURL string, accessToken string) error {
	exists, err := s.store.StyleExists(ctx, id)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "check style existence", err)
	}
	if !exists {
		return apierr.New(apierr.KindNotFound, fmt.Sprintf("style %s not found", id))
	}

	mapping, err := s.materialiseSources(ctx, styleJSON, baseURL, accessToken)
	if err != nil {
		return err
	}

	var spriteID sql.NullString
	if spriteRef, ok := styleJSON["sprite"].(string); ok && spriteRef != "" {
		spriteID = sql.NullString{String: idcodec.SpriteIDFromRef(spriteRef), Valid: true}
	}

	mappingRaw, err := json.Marshal(mapping)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "marshal source mapping", err)
	}
	styleRaw, err := json.Marshal(styleJSON)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "marshal stylejson", err)
	}

	err = s.store.UpdateStyle(ctx, store.Style{
		ID: id, StyleJSON: string(styleRaw), SourceIDToTilesetID: string(mappingRaw), SpriteID: spriteID,
	})
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "update style", err)
	}
	return nil
}

// List returns a summary per style (spec.md §4.7 list).
func (s *Service) List(ctx context.Context, baseURL string) ([]Summary, error) {
	rows, err := s.store.ListStyles(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "list styles", err)
	}

	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		var mapping map[string]string
		if err := json.Unmarshal([]byte(row.SourceIDToTilesetID), &mapping); err != nil {
			continue
		}
		ids := make([]string, 0, len(mapping))
		for _, tid := range mapping {
			ids = append(ids, tid)
		}
		bytesStored, err := s.store.BytesStoredForTilesets(ctx, ids)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "sum bytes stored", err)
		}

		out = append(out, Summary{
			ID:          row.ID,
			Name:        store.ExtractStyleName(row.StyleJSON),
			BytesStored: bytesStored,
			URL:         strings.TrimRight(baseURL, "/") + "/styles/" + row.ID,
		})
	}
	return out, nil
}

// Delete removes the style and its exclusively-owned tilesets, areas,
// imports, and sprite (spec.md §4.7 delete, implemented by Store.DeleteStyle).
func (s *Service) Delete(ctx context.Context, id string) error {
	exists, err := s.store.StyleExists(ctx, id)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "check style existence", err)
	}
	if !exists {
		return apierr.New(apierr.KindNotFound, fmt.Sprintf("style %s not found", id))
	}
	if err := s.store.DeleteStyle(ctx, id); err != nil {
		return apierr.Wrap(apierr.KindInternal, "delete style", err)
	}
	return nil
}

func (s *Service) addOfflineURLs(styleJSON map[string]any, sourceIDToTilesetID map[string]string, spriteID sql.NullString, baseURL, styleID string) map[string]any {
	out := make(map[string]any, len(styleJSON))
	for k, v := range styleJSON {
		out[k] = v
	}
	base := strings.TrimRight(baseURL, "/")

	if sources, ok := out["sources"].(map[string]any); ok {
		rewritten := make(map[string]any, len(sources))
		for sourceID, raw := range sources {
			source, ok := raw.(map[string]any)
			if !ok {
				rewritten[sourceID] = raw
				continue
			}
			sourceCopy := make(map[string]any, len(source))
			for k, v := range source {
				sourceCopy[k] = v
			}
			sourceType, _ := sourceCopy["type"].(string)
			if tilesetID, ok := sourceIDToTilesetID[sourceID]; ok && isRewritableSourceType(sourceType) {
				sourceCopy["url"] = base + "/tilesets/" + tilesetID
			}
			rewritten[sourceID] = sourceCopy
		}
		out["sources"] = rewritten
	}

	if spriteID.Valid {
		out["sprite"] = base + "/styles/" + styleID + "/sprites/" + spriteID.String
	}
	if _, ok := out["glyphs"]; ok {
		out["glyphs"] = base + "/fonts/{fontstack}/{range}.pbf?styleId=" + styleID
	}
	return out
}

func isRewritableSourceType(t string) bool {
	return t == "vector" || t == "raster" || t == "raster-dem"
}

func nullableString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
