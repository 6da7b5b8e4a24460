// Package tileaddr implements tile addressing: quadkey encoding, TMS↔XYZ
// conversion, upstream URL template interpolation and tile body content-type
// sniffing (spec.md §4.3). It reuses paulmach/orb's maptile package for the
// Spherical Mercator bounding-box math, the way the teacher's
// internal/tile/coords.go does.
package tileaddr

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// XYZ identifies a tile in XYZ (Google/OSM) addressing.
type XYZ struct {
	Z, X, Y uint32
}

// QuadKey returns the Bing-Maps-style quadkey for t. Empty string at z=0.
func QuadKey(t XYZ) string {
	var sb strings.Builder
	sb.Grow(int(t.Z))
	for i := int(t.Z); i > 0; i-- {
		digit := byte('0')
		mask := uint32(1) << (i - 1)
		if t.X&mask != 0 {
			digit++
		}
		if t.Y&mask != 0 {
			digit += 2
		}
		sb.WriteByte(digit)
	}
	return sb.String()
}

// TileFromQuadKey is the inverse of QuadKey.
func TileFromQuadKey(qk string) (XYZ, error) {
	z := uint32(len(qk))
	var x, y uint32
	for i, c := range qk {
		mask := uint32(1) << (z - uint32(i) - 1)
		switch c {
		case '0':
		case '1':
			x |= mask
		case '2':
			y |= mask
		case '3':
			x |= mask
			y |= mask
		default:
			return XYZ{}, fmt.Errorf("tileaddr: invalid quadkey digit %q", c)
		}
	}
	return XYZ{Z: z, X: x, Y: y}, nil
}

// XYZToTMS converts an XYZ row to its TMS equivalent. Applying it twice is
// the identity; a one-shot conversion is (1<<z)-1-y.
func XYZToTMS(z uint32, y uint32) uint32 {
	return (uint32(1) << z) - 1 - y
}

// TMSToXYZ converts a TMS row to XYZ. The transform is its own inverse.
func TMSToXYZ(z uint32, y uint32) uint32 {
	return XYZToTMS(z, y)
}

// BoundsEPSG3857 returns the tile's Spherical Mercator bounding box as
// "minX,minY,maxX,maxY" in meters, for the {bbox-epsg-3857} template token.
func BoundsEPSG3857(t XYZ) string {
	tile := maptile.New(t.X, t.Y, maptile.Zoom(t.Z))
	bound := tile.Bound()
	minX, minY := lonLatToMercator(bound.Min.Lon(), bound.Min.Lat())
	maxX, maxY := lonLatToMercator(bound.Max.Lon(), bound.Max.Lat())
	return fmt.Sprintf("%f,%f,%f,%f", minX, minY, maxX, maxY)
}

func lonLatToMercator(lon, lat float64) (float64, float64) {
	const earthRadius = 6378137.0
	x := earthRadius * lon * math.Pi / 180.0
	latRad := lat * math.Pi / 180.0
	y := earthRadius * math.Log(math.Tan(math.Pi/4.0+latRad/2.0))
	return x, y
}

// Interpolate substitutes {z},{x},{y},{quadkey},{bbox-epsg-3857},{prefix},{ratio}
// into one of templates, picking the template by
// (x + upstreamY) mod len(templates), where upstreamY is the TMS row when
// scheme is "tms" and the XYZ row otherwise (spec.md §4.3).
func Interpolate(templates []string, scheme string, z, x, y uint32, ratio int, accessToken string) (string, error) {
	if len(templates) == 0 {
		return "", fmt.Errorf("tileaddr: no templates to interpolate")
	}
	upstreamY := y
	if scheme == "tms" {
		upstreamY = XYZToTMS(z, y)
	}
	idx := (x + upstreamY) % uint32(len(templates))
	tmpl := templates[idx]

	prefix := fmt.Sprintf("%x%x", x%16, upstreamY%16)
	qk := QuadKey(XYZ{Z: z, X: x, Y: y})
	ratioStr := ""
	if ratio > 1 {
		ratioStr = fmt.Sprintf("@%dx", ratio)
	}

	replacer := strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(z), 10),
		"{x}", strconv.FormatUint(uint64(x), 10),
		"{y}", strconv.FormatUint(uint64(upstreamY), 10),
		"{quadkey}", qk,
		"{bbox-epsg-3857}", BoundsEPSG3857(XYZ{Z: z, X: x, Y: y}),
		"{prefix}", prefix,
		"{ratio}", ratioStr,
	)
	interpolated := replacer.Replace(tmpl)

	u, err := url.Parse(interpolated)
	if err != nil {
		return "", fmt.Errorf("tileaddr: invalid template result %q: %w", interpolated, err)
	}
	if accessToken != "" {
		q := u.Query()
		if q.Get("access_token") == "" {
			q.Set("access_token", accessToken)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}

// Headers describes the sniffed content-type and optional content-encoding
// of a tile body (spec.md §4.3).
type Headers struct {
	ContentType     string
	ContentEncoding string
}

var magicTable = []struct {
	magic   []byte
	headers Headers
}{
	{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, Headers{ContentType: "image/png"}},
	{[]byte{0xFF, 0xD8, 0xFF}, Headers{ContentType: "image/jpeg"}},
	{[]byte("GIF87a"), Headers{ContentType: "image/gif"}},
	{[]byte("GIF89a"), Headers{ContentType: "image/gif"}},
	{[]byte{0x78, 0x9C}, Headers{ContentType: "application/x-protobuf", ContentEncoding: "deflate"}},
	{[]byte{0x1F, 0x8B}, Headers{ContentType: "application/x-protobuf", ContentEncoding: "gzip"}},
}

// SniffTileHeaders inspects the leading bytes of data and returns the
// matching Content-Type/Content-Encoding pair. Unrecognised bodies return the
// zero Headers.
func SniffTileHeaders(data []byte) Headers {
	if len(data) >= 12 && string(data[8:12]) == "WEBP" && string(data[0:4]) == "RIFF" {
		return Headers{ContentType: "image/webp"}
	}
	for _, entry := range magicTable {
		if len(data) >= len(entry.magic) && string(data[:len(entry.magic)]) == string(entry.magic) {
			return entry.headers
		}
	}
	return Headers{}
}
