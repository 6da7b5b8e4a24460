package importer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/migrate"
	"github.com/tilehaven/tileserver/internal/store"
	"github.com/tilehaven/tileserver/internal/stylesvc"
	"github.com/tilehaven/tileserver/internal/tilesetsvc"
	"github.com/tilehaven/tileserver/internal/upstream"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, migrate.New(st.DB(), nil).Apply(context.Background()))

	up := upstream.New(nil)
	tilesets := tilesetsvc.New(st, up, nil)
	styles := stylesvc.New(st, tilesets, up)
	return NewCoordinator(st, tilesets, styles, nil), st
}

func TestImportMBTiles_SucceedsAndCreatesStyleAndTileset(t *testing.T) {
	coord, st := newTestCoordinator(t)

	source := buildMBTiles(t, map[string]string{
		"name": "Demo Area", "format": "png", "maxzoom": "0", "bounds": "-1,-1,1,1",
	}, [][4]any{
		{0, 0, 0, []byte("tile-bytes")},
	})

	result, err := coord.ImportMBTiles(context.Background(), source, "http://localhost:8080")
	require.NoError(t, err)
	assert.NotEmpty(t, result.ImportID)
	assert.NotEmpty(t, result.StyleID)

	require.Eventually(t, func() bool {
		imp, err := st.GetImport(context.Background(), result.ImportID)
		return err == nil && imp.State == store.ImportStateComplete
	}, 2*time.Second, 10*time.Millisecond)

	_, err = st.GetStyle(context.Background(), result.StyleID)
	require.NoError(t, err)
}

func TestImportMBTiles_RejectsMissingFile(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	_, err := coord.ImportMBTiles(context.Background(), filepath.Join(t.TempDir(), "missing.mbtiles"), "http://localhost")
	require.Error(t, err)
}

func TestImportMBTiles_InvalidMetadataFailsBeforeStyleCreation(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	source := buildMBTiles(t, map[string]string{"name": "No Zoom"}, nil)

	_, err := coord.ImportMBTiles(context.Background(), source, "http://localhost")
	require.Error(t, err)
}

func TestImportMBTiles_SameFileIsDeterministic(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	source := buildMBTiles(t, map[string]string{
		"name": "Repeatable", "format": "png", "maxzoom": "0", "bounds": "-1,-1,1,1",
	}, [][4]any{{0, 0, 0, []byte("a")}})

	result, err := coord.ImportMBTiles(context.Background(), source, "http://localhost")
	require.NoError(t, err)

	_, err = coord.ImportMBTiles(context.Background(), source, "http://localhost")
	require.Error(t, err)
	assert.NotEmpty(t, result.Tileset.ID)
}

func TestImportMBTiles_RejectsUnsupportedFormat(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	source := buildMBTiles(t, map[string]string{
		"name": "Vector Area", "format": "pbf", "maxzoom": "0", "bounds": "-1,-1,1,1",
	}, [][4]any{{0, 0, 0, []byte("tile-bytes")}})

	_, err := coord.ImportMBTiles(context.Background(), source, "http://localhost")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindUnsupportedMBTilesFormat), "expected UnsupportedMBTilesFormat, got %v", err)
}
