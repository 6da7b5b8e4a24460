package glyphsvc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/migrate"
	"github.com/tilehaven/tileserver/internal/store"
	"github.com/tilehaven/tileserver/internal/upstream"
)

func newTestService(t *testing.T, staticDir string) (*store.Store, *Service) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, migrate.New(st.DB(), nil).Apply(context.Background()))
	return st, New(st, upstream.New(nil), staticDir)
}

func TestValidateRange(t *testing.T) {
	assert.NoError(t, ValidateRange(0, 255))
	assert.NoError(t, ValidateRange(65280, 65535))
	assert.Error(t, ValidateRange(100, 355))
	assert.Error(t, ValidateRange(256, 256))
}

func TestGet_StaticFileHit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Open-Sans-Regular"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Open-Sans-Regular", "0-255.pbf"), []byte("glyphs"), 0o644))

	_, svc := newTestService(t, dir)
	res, err := svc.Get(context.Background(), Request{Font: "Open Sans Regular", Start: 0, End: 255})
	require.NoError(t, err)
	assert.Equal(t, "file", res.Type)
	assert.Contains(t, res.Path, "Open-Sans-Regular")
}

func TestGet_StaticFileMiss(t *testing.T) {
	_, svc := newTestService(t, t.TempDir())
	_, err := svc.Get(context.Background(), Request{Font: "Missing Font", Start: 0, End: 255})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindNotFound))
}

func TestGet_WithStyleFallsBackOnUpstreamFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Noto-Sans-Regular"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Noto-Sans-Regular", "0-255.pbf"), []byte("fallback"), 0o644))

	st, svc := newTestService(t, dir)
	require.NoError(t, st.CreateStyle(context.Background(), store.Style{
		ID: "s1", StyleJSON: `{"glyphs":"http://127.0.0.1:1/{fontstack}/{range}.pbf"}`, SourceIDToTilesetID: "{}",
	}))

	res, err := svc.Get(context.Background(), Request{StyleID: "s1", Font: "Noto Sans Regular", Start: 0, End: 255})
	require.NoError(t, err)
	assert.Equal(t, "file", res.Type)
}

func TestGet_WithStyleUsesUpstreamOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("upstream-glyphs"))
	}))
	defer srv.Close()

	st, svc := newTestService(t, t.TempDir())
	require.NoError(t, st.CreateStyle(context.Background(), store.Style{
		ID: "s2", StyleJSON: `{"glyphs":"` + srv.URL + `/{fontstack}/{range}.pbf"}`, SourceIDToTilesetID: "{}",
	}))

	res, err := svc.Get(context.Background(), Request{StyleID: "s2", Font: "Arial", Start: 0, End: 255})
	require.NoError(t, err)
	assert.Equal(t, "raw", res.Type)
	assert.Equal(t, []byte("upstream-glyphs"), res.Data)
}
