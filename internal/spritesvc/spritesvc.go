// Package spritesvc implements SpritesService (spec.md §4.8): CRUD keyed by
// (id, pixelDensity) plus a parallel upstream fetch of the 1x/2x
// layout+image pairs.
package spritesvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/store"
	"github.com/tilehaven/tileserver/internal/upstream"
)

// Info is one sprite density's layout+image pair.
type Info struct {
	Layout      string
	Data        []byte
	ETag        string
	UpstreamURL string
}

// Service implements SpritesService.
type Service struct {
	store    *store.Store
	upstream *upstream.Manager
}

// New constructs a Service.
func New(st *store.Store, up *upstream.Manager) *Service {
	return &Service{store: st, upstream: up}
}

// Create inserts a new (id, pixelDensity) row.
func (s *Service) Create(ctx context.Context, id string, pixelDensity int, info Info) error {
	exists, err := s.exists(ctx, id, pixelDensity)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "check sprite existence", err)
	}
	if exists {
		return apierr.New(apierr.KindAlreadyExists, fmt.Sprintf("sprite %s@%dx already exists", id, pixelDensity))
	}

	row := store.Sprite{
		ID: id, PixelDensity: pixelDensity, Data: info.Data, Layout: info.Layout,
		ETag: nullableString(info.ETag), UpstreamURL: nullableString(info.UpstreamURL),
	}
	if err := s.store.CreateSprite(ctx, row); err != nil {
		return apierr.Wrap(apierr.KindInternal, "create sprite", err)
	}
	return nil
}

// Get loads a sprite. With allowFallback, matches the highest pixelDensity
// <= requested; without it, requires an exact match (spec.md §4.8 get).
func (s *Service) Get(ctx context.Context, id string, pixelDensity int, allowFallback bool) (Info, error) {
	var row store.Sprite
	var err error
	if allowFallback {
		row, err = s.store.GetSpriteWithFallback(ctx, id, pixelDensity)
	} else {
		row, err = s.store.GetSprite(ctx, id, pixelDensity)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Info{}, apierr.New(apierr.KindNotFound, fmt.Sprintf("sprite %s@%dx not found", id, pixelDensity))
		}
		return Info{}, apierr.Wrap(apierr.KindInternal, "load sprite", err)
	}
	return rowToInfo(row), nil
}

// Update overwrites an existing (id, pixelDensity) row in place.
func (s *Service) Update(ctx context.Context, id string, pixelDensity int, info Info) error {
	row := store.Sprite{
		ID: id, PixelDensity: pixelDensity, Data: info.Data, Layout: info.Layout,
		ETag: nullableString(info.ETag), UpstreamURL: nullableString(info.UpstreamURL),
	}
	if err := s.store.UpdateSprite(ctx, row); err != nil {
		return apierr.Wrap(apierr.KindInternal, "update sprite", err)
	}
	return nil
}

// Delete removes one density row, or every row for id when pixelDensity is
// nil (spec.md §4.8 delete).
func (s *Service) Delete(ctx context.Context, id string, pixelDensity *int) error {
	if err := s.store.DeleteSprite(ctx, id, pixelDensity); err != nil {
		return apierr.Wrap(apierr.KindInternal, "delete sprite", err)
	}
	return nil
}

// FetchUpstream fetches the 1x and 2x layout+image pairs in parallel and
// returns only the densities whose pair succeeded (spec.md §4.8
// fetchUpstream).
func (s *Service) FetchUpstream(ctx context.Context, baseURL, accessToken, etag string) (map[int]Info, error) {
	suffixes := map[int]string{1: "", 2: "@2x"}
	results := make(map[int]Info, 2)
	var mu sync.Mutex
	var wg sync.WaitGroup
	var validationErr error

	for density, suffix := range suffixes {
		density, suffix := density, suffix
		wg.Add(1)
		go func() {
			defer wg.Done()

			layoutURL := addTokenQuery(strings.TrimSuffix(baseURL, ".json")+suffix+".json", accessToken)
			imageURL := addTokenQuery(strings.TrimSuffix(baseURL, ".json")+suffix+".png", accessToken)

			layoutRes, err := s.upstream.GetUpstream(ctx, layoutURL, upstream.ResponseJSON, etag)
			if err != nil {
				return
			}
			imageRes, err := s.upstream.GetUpstream(ctx, imageURL, upstream.ResponseBuffer, "")
			if err != nil {
				return
			}
			if !looksLikeJSON(layoutRes.Data) {
				mu.Lock()
				if validationErr == nil {
					validationErr = apierr.New(apierr.KindUpstreamJSONValidation, "UpstreamJsonValidation")
				}
				mu.Unlock()
				return
			}

			mu.Lock()
			results[density] = Info{Layout: string(layoutRes.Data), Data: imageRes.Data, ETag: layoutRes.ETag}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(results) == 0 && validationErr != nil {
		return nil, validationErr
	}
	return results, nil
}

func (s *Service) exists(ctx context.Context, id string, pixelDensity int) (bool, error) {
	_, err := s.store.GetSprite(ctx, id, pixelDensity)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, err
}

func rowToInfo(row store.Sprite) Info {
	info := Info{Layout: row.Layout, Data: row.Data}
	if row.ETag.Valid {
		info.ETag = row.ETag.String
	}
	if row.UpstreamURL.Valid {
		info.UpstreamURL = row.UpstreamURL.String
	}
	return info
}

func looksLikeJSON(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}

func addTokenQuery(url, token string) string {
	if token == "" {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "access_token=" + token
}

func nullableString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
