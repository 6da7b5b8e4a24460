// Package glyphsvc implements GlyphsService (spec.md §4.9): a static-file
// read-through, with an optional upstream fetch layered in front when the
// request names a style whose stylejson carries a glyphs template.
package glyphsvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/mapboxurl"
	"github.com/tilehaven/tileserver/internal/store"
	"github.com/tilehaven/tileserver/internal/upstream"
)

// Result is the outcome of Get: either a static file path to serve, or raw
// bytes already fetched.
type Result struct {
	Type string // "file" or "raw"
	Path string
	Data []byte
	ETag string
}

// Request carries the parameters spec.md §4.9 get accepts.
type Request struct {
	StyleID     string
	AccessToken string
	Font        string
	Start       int
	End         int
}

// Service implements GlyphsService.
type Service struct {
	store     *store.Store
	upstream  *upstream.Manager
	staticDir string
}

// New constructs a Service. staticDir is the root spec.md §6.4 calls
// "<install>/sdf".
func New(st *store.Store, up *upstream.Manager, staticDir string) *Service {
	return &Service{store: st, upstream: up, staticDir: staticDir}
}

// ValidateRange enforces spec.md §4.9's "start is a multiple of 256 in
// [0, 65280], end = start+255".
func ValidateRange(start, end int) error {
	if start < 0 || start > 65280 || start%256 != 0 {
		return apierr.New(apierr.KindInvalidGlyphsRange, fmt.Sprintf("InvalidGlyphsRange: start %d", start))
	}
	if end != start+255 {
		return apierr.New(apierr.KindInvalidGlyphsRange, fmt.Sprintf("InvalidGlyphsRange: end %d for start %d", end, start))
	}
	return nil
}

// Get implements spec.md §4.9: without a styleId, serves the static file
// directly; with one, tries the style's upstream glyphs template first and
// falls back to the static file when the style has no glyphs template or the
// URL resolution or upstream fetch fails. A Mapbox template without an access
// token returns MBAccessTokenRequired, and an error loading the style is
// returned as is.
func (s *Service) Get(ctx context.Context, req Request) (Result, error) {
	if err := ValidateRange(req.Start, req.End); err != nil {
		return Result{}, err
	}

	if req.StyleID == "" {
		return s.staticResult(req)
	}

	template, ok, err := s.glyphsTemplate(ctx, req.StyleID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return s.staticResult(req)
	}

	if mapboxurl.IsMapboxReference(template) && req.AccessToken == "" {
		return Result{}, apierr.New(apierr.KindMBAccessTokenRequired, "MBAccessTokenRequired")
	}

	url := strings.NewReplacer(
		"{fontstack}", req.Font,
		"{range}", fmt.Sprintf("%d-%d", req.Start, req.End),
	).Replace(template)
	url, err = mapboxurl.Resolve(url, req.AccessToken)
	if err != nil {
		return s.staticResult(req)
	}

	res, err := s.upstream.GetUpstream(ctx, url, upstream.ResponseBuffer, "")
	if err != nil {
		return s.staticResult(req)
	}
	return Result{Type: "raw", Data: res.Data, ETag: res.ETag}, nil
}

func (s *Service) glyphsTemplate(ctx context.Context, styleID string) (string, bool, error) {
	row, err := s.store.GetStyle(ctx, styleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, apierr.Wrap(apierr.KindInternal, "load style", err)
	}
	template, ok := store.ExtractGlyphsTemplate(row.StyleJSON)
	return template, ok && template != "", nil
}

func (s *Service) staticResult(req Request) (Result, error) {
	fontDir := strings.ReplaceAll(req.Font, " ", "-")
	path := filepath.Join(s.staticDir, fontDir, strconv.Itoa(req.Start)+"-"+strconv.Itoa(req.End)+".pbf")

	if _, err := os.Stat(path); err != nil {
		return Result{}, apierr.New(apierr.KindNotFound, fmt.Sprintf("glyph range %s not found for font %s", filepath.Base(path), req.Font))
	}
	return Result{Type: "file", Path: path}, nil
}
