// Package idcodec derives the stable, filesystem-safe identifiers used
// throughout the store: tileset ids, style ids, sprite ids and area ids are
// all Crockford base32 encodings of a SHA-1 digest (or, for random ids, of
// raw random bytes).
package idcodec

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // not security-critical, chosen for short ids
	"encoding/base32"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// crockford is the Crockford base32 alphabet, lower-cased as spec.md requires.
const crockford = "0123456789abcdefghjkmnpqrstvwxyz"

var crockfordEncoding = base32.NewEncoding(crockford).WithPadding(base32.NoPadding)

// Hash returns the SHA-1 digest of data.
func Hash(data []byte) []byte {
	sum := sha1.Sum(data) //nolint:gosec
	return sum[:]
}

// EncodeBase32 encodes data using lower-case Crockford base32.
func EncodeBase32(data []byte) string {
	return strings.ToLower(crockfordEncoding.EncodeToString(data))
}

// GenerateID returns a random 128-bit id, base32-encoded. The randomness is
// sourced from uuid.New() rather than a bespoke crypto/rand buffer — a UUIDv4
// already is 16 cryptographically random bytes, it's the ecosystem way to get
// them.
func GenerateID() string {
	id := uuid.New()
	return EncodeBase32(id[:])
}

// RandomBytes returns n cryptographically random bytes. Used where a
// non-128-bit random id is required.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// TileJSONSource is the subset of a TileJSON document needed to derive a
// deterministic tileset id.
type TileJSONSource struct {
	ID    string
	Tiles []string
}

// TilesetID computes the deterministic tileset id for a TileJSON document:
// base32(sha1(tilejson.id ?? first(sorted(tilejson.tiles)))).
func TilesetID(src TileJSONSource) string {
	seed := src.ID
	if seed == "" {
		if len(src.Tiles) == 0 {
			return ""
		}
		tiles := append([]string(nil), src.Tiles...)
		sort.Strings(tiles)
		seed = tiles[0]
	}
	return EncodeBase32(Hash([]byte(seed)))
}

// StyleIDFromURL derives a style id from an upstream URL: strip the
// access_token query parameter (so two clients fetching the same style with
// different tokens collapse to one record), re-serialise, then hash.
func StyleIDFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Del("access_token")
	u.RawQuery = q.Encode()
	return EncodeBase32(Hash([]byte(u.String()))), nil
}

// AreaID derives the deterministic OfflineArea id for a tileset: base32(sha1("area:"+tilesetID)).
func AreaID(tilesetID string) string {
	return EncodeBase32(Hash([]byte("area:" + tilesetID)))
}

// StyleIDForTileset derives the deterministic style id created for a bare
// tileset: base32(sha1("style:"+tilesetID)).
func StyleIDForTileset(tilesetID string) string {
	return EncodeBase32(Hash([]byte("style:" + tilesetID)))
}

// SpriteIDFromRef derives a sprite id from a style's "sprite" reference.
func SpriteIDFromRef(spriteRef string) string {
	return EncodeBase32(Hash([]byte(spriteRef)))
}

// TileDataHash computes the content hash used as TileData's primary key
// component: hex(sha1(data)). Returned already hex-encoded since TileData
// rows store it as a lookup key, not a filesystem-safe id.
func TileDataHash(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec
	const hextable = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
