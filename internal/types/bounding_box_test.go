package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoundingBox_JSONRoundTrip(t *testing.T) {
	bbox := BoundingBox{MinLon: 6.5, MinLat: 51.9, MaxLon: 7.8, MaxLat: 52.6}

	raw, err := json.Marshal(bbox)
	require.NoError(t, err)
	require.JSONEq(t, `{"minLon":6.5,"minLat":51.9,"maxLon":7.8,"maxLat":52.6}`, string(raw))

	var decoded BoundingBox
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, bbox, decoded)
}

func TestBoundingBox_Center(t *testing.T) {
	bbox := BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 10, MaxLat: 20}
	lat, lon := bbox.Center()
	require.Equal(t, 10.0, lat)
	require.Equal(t, 5.0, lon)
}

func TestBoundingBox_String(t *testing.T) {
	bbox := BoundingBox{MinLon: 1, MinLat: 2, MaxLon: 3, MaxLat: 4}
	require.Equal(t, "bbox(1.000000,2.000000,3.000000,4.000000)", bbox.String())
}
