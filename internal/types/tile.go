// Package types holds small value types shared across the store and
// importer packages. Adapted from the teacher's internal/types/tile.go:
// BoundingBox survives as the JSON shape OfflineArea.BoundingBox is
// serialised into (spec.md §4.11 step 3, "boundingBox = JSON(bounds)");
// TileCoordinate/TileToBounds, used only by the deleted renderer/wasm
// pipeline for tile-to-geometry padding, did not survive (see DESIGN.md).
package types

import "fmt"

// BoundingBox is a geographic bounding box in WGS84 (EPSG:4326), the MBTiles
// "bounds" convention (minLon, minLat, maxLon, maxLat).
type BoundingBox struct {
	MinLon float64 `json:"minLon"`
	MinLat float64 `json:"minLat"`
	MaxLon float64 `json:"maxLon"`
	MaxLat float64 `json:"maxLat"`
}

// String returns a human-readable representation of the bounding box.
func (b BoundingBox) String() string {
	return fmt.Sprintf("bbox(%.6f,%.6f,%.6f,%.6f)", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// Center returns the center point of the bounding box.
func (b BoundingBox) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}
