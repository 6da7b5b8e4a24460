package mapboxurl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMapboxReference(t *testing.T) {
	assert.True(t, IsMapboxReference("mapbox://styles/mapbox/streets-v11"))
	assert.True(t, IsMapboxReference("https://api.mapbox.com/styles/v1/mapbox/streets-v11"))
	assert.True(t, IsMapboxReference("https://a.tiles.mapbox.com/v3/aj.1x1-degrees"))
	assert.False(t, IsMapboxReference("https://example.com/style.json"))
}

func TestResolve_Styles(t *testing.T) {
	got, err := Resolve("mapbox://styles/mapbox/streets-v11", "tok")
	require.NoError(t, err)
	assert.Equal(t, "https://api.mapbox.com/styles/v1/mapbox/streets-v11?access_token=tok", got)
}

func TestResolve_Sprites(t *testing.T) {
	got, err := Resolve("mapbox://sprites/mapbox/streets-v11@2x.png", "tok")
	require.NoError(t, err)
	assert.Equal(t, "https://api.mapbox.com/styles/v1/mapbox/streets-v11/sprite@2x.png?access_token=tok", got)
}

func TestResolve_Fonts(t *testing.T) {
	got, err := Resolve("mapbox://fonts/mapbox/Open Sans Regular", "tok")
	require.NoError(t, err)
	assert.Contains(t, got, "https://api.mapbox.com/fonts/v1/mapbox/")
	assert.Contains(t, got, "access_token=tok")
}

func TestResolve_BareTilesetID(t *testing.T) {
	got, err := Resolve("mapbox://mapbox.satellite", "tok")
	require.NoError(t, err)
	assert.Equal(t, "https://api.mapbox.com/v4/mapbox.satellite?access_token=tok", got)
}

func TestResolve_NonMapboxPassesThrough(t *testing.T) {
	got, err := Resolve("https://example.com/style.json", "tok")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/style.json?access_token=tok", got)
}

func TestResolve_DoesNotDuplicateExistingToken(t *testing.T) {
	got, err := Resolve("https://example.com/style.json?access_token=existing", "tok")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/style.json?access_token=existing", got)
}
