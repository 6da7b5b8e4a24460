package tilesetsvc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/migrate"
	"github.com/tilehaven/tileserver/internal/store"
	"github.com/tilehaven/tileserver/internal/upstream"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, migrate.New(st.DB(), nil).Apply(context.Background()))
	return New(st, upstream.New(nil), nil)
}

func TestCreate_ComputesDeterministicID(t *testing.T) {
	svc := newTestService(t)
	tj := TileJSON{Tiles: []string{"http://example.com/{z}/{x}/{y}.png"}}

	got, err := svc.Create(context.Background(), tj, "http://local", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, []string{"http://local/tilesets/" + got.ID + "/{z}/{x}/{y}"}, got.Tiles)
}

func TestCreate_DuplicateFails(t *testing.T) {
	svc := newTestService(t)
	tj := TileJSON{Tiles: []string{"http://example.com/{z}/{x}/{y}.png"}}

	_, err := svc.Create(context.Background(), tj, "http://local", "", "")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), tj, "http://local", "", "")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindAlreadyExists))
}

func TestCreate_WithoutVectorLayersDefaultsToPNG(t *testing.T) {
	svc := newTestService(t)
	tj := TileJSON{Tiles: []string{"http://example.com/{z}/{x}/{y}.pbf"}, TileJSONValue: "2.2.0"}

	got, err := svc.Create(context.Background(), tj, "http://local", "", "")
	require.NoError(t, err)
	row, err := svc.store.GetTileset(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, "png", row.Format)
}

func TestGet_NotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Get(context.Background(), "missing", "http://local")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindNotFound))
}

func TestPut_MismatchedIDFails(t *testing.T) {
	svc := newTestService(t)
	tj := TileJSON{Tiles: []string{"http://example.com/{z}/{x}/{y}.png"}}
	created, err := svc.Create(context.Background(), tj, "http://local", "", "")
	require.NoError(t, err)

	err = svc.Put(context.Background(), created.ID, TileJSON{ID: "different"}, "http://local", "", false)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindMismatchedID))
}

func TestGetInfo_IsMemoisedAndInvalidatedOnPut(t *testing.T) {
	svc := newTestService(t)
	tj := TileJSON{Tiles: []string{"http://example.com/{z}/{x}/{y}.png"}}
	created, err := svc.Create(context.Background(), tj, "http://local", "", "")
	require.NoError(t, err)

	info1, err := svc.GetInfo(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://example.com/{z}/{x}/{y}.png"}, info1.UpstreamTileURLs)

	require.NoError(t, svc.Put(context.Background(), created.ID, TileJSON{ID: created.ID, Tiles: []string{"http://other.com/{z}/{x}/{y}.png"}}, "http://local", "", false))

	info2, err := svc.GetInfo(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://other.com/{z}/{x}/{y}.png"}, info2.UpstreamTileURLs)
}

func TestList_SkipsMalformedRows(t *testing.T) {
	svc := newTestService(t)
	tj := TileJSON{Tiles: []string{"http://example.com/{z}/{x}/{y}.png"}}
	_, err := svc.Create(context.Background(), tj, "http://local", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.store.CreateTileset(context.Background(), store.Tileset{
		ID: "broken", TileJSON: "{not json", Format: "png",
	}))

	list, err := svc.List(context.Background(), "http://local")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
