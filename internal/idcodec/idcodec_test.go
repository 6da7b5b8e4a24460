package idcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTilesetID_PrefersExplicitID(t *testing.T) {
	id := TilesetID(TileJSONSource{ID: "http://a.tiles.mapbox.com/v3/aj.1x1-degrees"})
	assert.Equal(t, EncodeBase32(Hash([]byte("http://a.tiles.mapbox.com/v3/aj.1x1-degrees"))), id)
}

func TestTilesetID_MapboxFixture(t *testing.T) {
	// S1 in spec.md §8: the fixture TileJSON carries id="aj.1x1-degrees",
	// which takes precedence over its tiles array.
	id := TilesetID(TileJSONSource{
		ID:    "aj.1x1-degrees",
		Tiles: []string{"http://a.tiles.mapbox.com/v3/aj.1x1-degrees/{z}/{x}/{y}"},
	})
	assert.Equal(t, "23z3tmtw49abd8b4ycah9x94ykjhedam", id)
}

func TestTilesetID_FallsBackToSmallestTile(t *testing.T) {
	id1 := TilesetID(TileJSONSource{Tiles: []string{"http://b/x", "http://a/x"}})
	id2 := TilesetID(TileJSONSource{Tiles: []string{"http://a/x"}})
	assert.Equal(t, id2, id1, "id must depend only on the lexicographically smallest tile URL")
}

func TestTilesetID_Deterministic(t *testing.T) {
	src := TileJSONSource{Tiles: []string{"http://example.com/{z}/{x}/{y}.png"}}
	require.Equal(t, TilesetID(src), TilesetID(src))
}

func TestStyleIDFromURL_StripsAccessToken(t *testing.T) {
	id1, err := StyleIDFromURL("https://api.mapbox.com/styles/v1/mapbox/streets-v11?access_token=abc")
	require.NoError(t, err)
	id2, err := StyleIDFromURL("https://api.mapbox.com/styles/v1/mapbox/streets-v11?access_token=xyz")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestStyleIDFromURL_PreservesOtherParams(t *testing.T) {
	id1, err := StyleIDFromURL("https://example.com/style.json?optimize=true")
	require.NoError(t, err)
	id2, err := StyleIDFromURL("https://example.com/style.json")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestGenerateID_Random(t *testing.T) {
	a := GenerateID()
	b := GenerateID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 26) // 128 bits / 5 bits-per-char, no padding
}

func TestTileDataHash(t *testing.T) {
	h1 := TileDataHash([]byte("hello"))
	h2 := TileDataHash([]byte("hello"))
	h3 := TileDataHash([]byte("world"))
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 40)
}

func TestAreaID_StyleIDForTileset_Deterministic(t *testing.T) {
	assert.Equal(t, AreaID("abc"), AreaID("abc"))
	assert.Equal(t, StyleIDForTileset("abc"), StyleIDForTileset("abc"))
	assert.NotEqual(t, AreaID("abc"), StyleIDForTileset("abc"))
}
