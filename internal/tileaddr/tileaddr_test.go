package tileaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuadKey_ZeroAtRoot(t *testing.T) {
	assert.Equal(t, "", QuadKey(XYZ{Z: 0, X: 0, Y: 0}))
}

func TestQuadKey_RoundTrip(t *testing.T) {
	for z := uint32(0); z <= 22; z++ {
		max := uint32(1) << z
		xs := []uint32{0}
		if max > 1 {
			xs = append(xs, max-1, max/2)
		}
		for _, x := range xs {
			for _, y := range xs {
				qk := QuadKey(XYZ{Z: z, X: x, Y: y})
				got, err := TileFromQuadKey(qk)
				require.NoError(t, err)
				assert.Equal(t, XYZ{Z: z, X: x, Y: y}, got)
			}
		}
	}
}

func TestXYZToTMS_IsInvolution(t *testing.T) {
	z, y := uint32(5), uint32(3)
	tms := XYZToTMS(z, y)
	assert.Equal(t, y, TMSToXYZ(z, tms))
	assert.Equal(t, (uint32(1)<<z)-1-y, tms)
}

func TestInterpolate_SubstitutesAllTokens(t *testing.T) {
	url, err := Interpolate(
		[]string{"https://example.com/{z}/{x}/{y}{ratio}.pbf?quadkey={quadkey}&bbox={bbox-epsg-3857}&prefix={prefix}"},
		"xyz", 3, 2, 1, 2, "",
	)
	require.NoError(t, err)
	assert.Contains(t, url, "/3/2/1@2x.pbf")
	assert.Contains(t, url, "quadkey=")
	assert.Contains(t, url, "bbox=")
	assert.Contains(t, url, "prefix=")
}

func TestInterpolate_TMSSchemeFlipsY(t *testing.T) {
	urlXYZ, err := Interpolate([]string{"https://example.com/{z}/{x}/{y}.png"}, "xyz", 2, 1, 1, 1, "")
	require.NoError(t, err)
	urlTMS, err := Interpolate([]string{"https://example.com/{z}/{x}/{y}.png"}, "tms", 2, 1, 1, 1, "")
	require.NoError(t, err)
	assert.Contains(t, urlXYZ, "/2/1/1.png")
	assert.Contains(t, urlTMS, "/2/1/2.png") // (1<<2)-1-1 = 2
}

func TestInterpolate_TemplateSelectionWraps(t *testing.T) {
	templates := []string{"https://a.example.com/{z}/{x}/{y}.png", "https://b.example.com/{z}/{x}/{y}.png"}
	url, err := Interpolate(templates, "xyz", 1, 0, 0, 1, "")
	require.NoError(t, err)
	assert.Contains(t, url, "a.example.com")

	url, err = Interpolate(templates, "xyz", 1, 1, 0, 1, "")
	require.NoError(t, err)
	assert.Contains(t, url, "b.example.com")
}

func TestInterpolate_AppendsAccessToken(t *testing.T) {
	url, err := Interpolate([]string{"https://example.com/{z}/{x}/{y}.png"}, "xyz", 1, 0, 0, 1, "tok123")
	require.NoError(t, err)
	assert.Contains(t, url, "access_token=tok123")
}

func TestSniffTileHeaders(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want Headers
	}{
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0}, Headers{ContentType: "image/png"}},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, Headers{ContentType: "image/jpeg"}},
		{"gif87", []byte("GIF87a..."), Headers{ContentType: "image/gif"}}, {"gif89", []byte("GIF89a..."), Headers{ContentType: "image/gif"}},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), Headers{ContentType: "image/webp"}},
		{"deflate-pbf", []byte{0x78, 0x9C, 0x01}, Headers{ContentType: "application/x-protobuf", ContentEncoding: "deflate"}},
		{"gzip-pbf", []byte{0x1F, 0x8B, 0x08}, Headers{ContentType: "application/x-protobuf", ContentEncoding: "gzip"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.want.ContentType == "" && c.name != "gif87" && c.name != "gif89" {
				return
			}
			got := SniffTileHeaders(c.data)
			if c.name == "gif87" || c.name == "gif89" {
				assert.Equal(t, "image/gif", got.ContentType)
				return
			}
			assert.Equal(t, c.want, got)
		})
	}
}
