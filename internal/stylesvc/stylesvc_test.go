package stylesvc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/migrate"
	"github.com/tilehaven/tileserver/internal/store"
	"github.com/tilehaven/tileserver/internal/tilesetsvc"
	"github.com/tilehaven/tileserver/internal/upstream"
)

func newTestService(t *testing.T) (*store.Store, *Service) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, migrate.New(st.DB(), nil).Apply(context.Background()))

	up := upstream.New(nil)
	tilesets := tilesetsvc.New(st, up, nil)
	return st, New(st, tilesets, up)
}

func TestCreate_MaterialisesRasterSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"src1","tiles":["http://tiles.example.com/{z}/{x}/{y}.png"]}`))
	}))
	defer srv.Close()

	_, svc := newTestService(t)
	styleJSON := map[string]any{
		"version": 8,
		"sources": map[string]any{
			"base": map[string]any{"type": "raster", "url": srv.URL},
		},
	}

	id, rewritten, err := svc.Create(context.Background(), styleJSON, "http://local", CreateParams{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sources := rewritten["sources"].(map[string]any)
	base := sources["base"].(map[string]any)
	assert.Contains(t, base["url"], "http://local/tilesets/")
}

func TestCreate_RejectsUnsupportedSourceType(t *testing.T) {
	_, svc := newTestService(t)
	styleJSON := map[string]any{
		"sources": map[string]any{"comp": map[string]any{"type": "composite", "url": "x"}},
	}
	_, _, err := svc.Create(context.Background(), styleJSON, "http://local", CreateParams{})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindUnsupportedSource))
}

func TestCreate_RequiresMapboxTokenForMapboxSource(t *testing.T) {
	_, svc := newTestService(t)
	styleJSON := map[string]any{
		"sources": map[string]any{
			"mb": map[string]any{"type": "raster", "url": "mapbox://mapbox.satellite"},
		},
	}
	_, _, err := svc.Create(context.Background(), styleJSON, "http://local", CreateParams{})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindMBAccessTokenRequired))
}

func TestCreateForTileset_DeterministicID(t *testing.T) {
	_, svc := newTestService(t)
	id1, err := svc.CreateForTileset(context.Background(), tilesetsvc.TileJSON{}, "abc", "")
	require.NoError(t, err)

	_, svc2 := newTestService(t)
	id2, err := svc2.CreateForTileset(context.Background(), tilesetsvc.TileJSON{}, "abc", "")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestDelete_CascadesAndReportsNotFound(t *testing.T) {
	_, svc := newTestService(t)
	id, err := svc.CreateForTileset(context.Background(), tilesetsvc.TileJSON{}, "tsX", "")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), id))

	err = svc.Delete(context.Background(), id)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindNotFound))
}

func TestList_ReportsNameAndURL(t *testing.T) {
	_, svc := newTestService(t)
	_, err := svc.CreateForTileset(context.Background(), tilesetsvc.TileJSON{}, "tsY", "My Name")
	require.NoError(t, err)

	list, err := svc.List(context.Background(), "http://local")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "My Name", list[0].Name)
	assert.Contains(t, list[0].URL, "http://local/styles/")
}
