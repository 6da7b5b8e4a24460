package importer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilehaven/tileserver/internal/migrate"
	"github.com/tilehaven/tileserver/internal/store"
)

func newWorkerTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, migrate.New(st.DB(), nil).Apply(context.Background()))
	return st
}

func TestWorker_Run_ImportsTilesAndCompletes(t *testing.T) {
	st := newWorkerTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateStyle(ctx, store.Style{ID: "style1", StyleJSON: "{}", SourceIDToTilesetID: "{}"}))
	require.NoError(t, st.CreateTileset(ctx, store.Tileset{ID: "tileset1", TileJSON: "{}", Format: "png"}))

	source := buildMBTiles(t, map[string]string{
		"name": "Area 1", "maxzoom": "1", "bounds": "-1,-1,1,1",
	}, [][4]any{
		{0, 0, 0, []byte("root-tile")},
		{1, 0, 0, []byte("child-tile")},
	})

	var events []ProgressEvent
	w := NewWorker(st, nil)
	err := w.Run(ctx, RunParams{
		ImportID:   "import1",
		SourcePath: source,
		TilesetID:  "tileset1",
		StyleID:    "style1",
		OnProgress: func(e ProgressEvent) { events = append(events, e) },
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "complete", events[len(events)-1].Type)

	imp, err := st.GetImport(ctx, "import1")
	require.NoError(t, err)
	assert.Equal(t, store.ImportStateComplete, imp.State)
	assert.Equal(t, int64(2), imp.ImportedResources)

	row, err := st.GetTile(ctx, "tileset1", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("root-tile"), row.Data)
}

func TestWorker_Run_RejectsMissingMaxZoom(t *testing.T) {
	st := newWorkerTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateStyle(ctx, store.Style{ID: "style1", StyleJSON: "{}", SourceIDToTilesetID: "{}"}))
	require.NoError(t, st.CreateTileset(ctx, store.Tileset{ID: "tileset1", TileJSON: "{}", Format: "png"}))

	source := buildMBTiles(t, map[string]string{"name": "No zoom"}, [][4]any{
		{0, 0, 0, []byte("tile")},
	})

	var events []ProgressEvent
	w := NewWorker(st, nil)
	err := w.Run(ctx, RunParams{
		ImportID:   "import2",
		SourcePath: source,
		TilesetID:  "tileset1",
		StyleID:    "style1",
		OnProgress: func(e ProgressEvent) { events = append(events, e) },
	})
	require.Error(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "MBTilesInvalidMetadata", events[len(events)-1].ErrorCode)
}

func TestWorker_Run_CancelStopsEarly(t *testing.T) {
	st := newWorkerTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateStyle(ctx, store.Style{ID: "style1", StyleJSON: "{}", SourceIDToTilesetID: "{}"}))
	require.NoError(t, st.CreateTileset(ctx, store.Tileset{ID: "tileset1", TileJSON: "{}", Format: "png"}))

	source := buildMBTiles(t, map[string]string{"maxzoom": "1"}, [][4]any{
		{0, 0, 0, []byte("tile")},
	})

	cancel := make(chan struct{})
	close(cancel)

	w := NewWorker(st, nil)
	err := w.Run(ctx, RunParams{
		ImportID:     "import3",
		SourcePath:   source,
		TilesetID:    "tileset1",
		StyleID:      "style1",
		CancelSignal: cancel,
	})
	require.Error(t, err)

	imp, err := st.GetImport(ctx, "import3")
	require.NoError(t, err)
	assert.Equal(t, store.ImportStateError, imp.State)
	assert.Equal(t, "CANCELLED", imp.Error.String)
}
