// source.go adapts the teacher's internal/mbtiles.Reader into the read-only
// MBTiles source side of an import (spec.md §4.11): row iteration over the
// whole tiles table (rather than single-tile lookup), running byte/tile
// totals, and a metadata "json" field merge so vector_layers survives for
// pbf tilesets, which the teacher's reader never needed.
package importer

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// SourceMetadata is the MBTiles metadata table, parsed (spec.md glossary:
// MBTiles).
type SourceMetadata struct {
	Name         string
	Format       string
	Attribution  string
	Description  string
	Type         string
	Version      string
	Bounds       [4]float64
	Center       [3]float64
	MinZoom      int
	MaxZoom      int
	HasMaxZoom   bool
	VectorLayers []any
}

// SourceTile is one row of the MBTiles tiles table, with coordinates still
// in their on-disk TMS form.
type SourceTile struct {
	Z, X, TMSY int
	Data       []byte
}

// SourceReader reads an MBTiles file read-only, for the duration of one
// import (spec.md §3 ownership: "private connections to both the source
// MBTiles file... and the destination store").
type SourceReader struct {
	db *sql.DB
}

// OpenSourceReader opens path read-only and immutable, verifying the tiles
// table exists.
func OpenSourceReader(path string) (*SourceReader, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("importer: open mbtiles %s: %w", path, err)
	}

	var count int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='tiles'").Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("importer: verify mbtiles schema: %w", err)
	}
	if count == 0 {
		db.Close()
		return nil, fmt.Errorf("importer: %s has no tiles table", path)
	}

	return &SourceReader{db: db}, nil
}

// Close closes the source connection.
func (r *SourceReader) Close() error {
	return r.db.Close()
}

// Metadata reads and parses the metadata table.
func (r *SourceReader) Metadata() (SourceMetadata, error) {
	rows, err := r.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return SourceMetadata{}, fmt.Errorf("importer: query metadata: %w", err)
	}
	defer rows.Close()

	raw := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return SourceMetadata{}, fmt.Errorf("importer: scan metadata row: %w", err)
		}
		raw[name] = value
	}
	if err := rows.Err(); err != nil {
		return SourceMetadata{}, err
	}

	meta := SourceMetadata{
		Name:        raw["name"],
		Format:      raw["format"],
		Attribution: raw["attribution"],
		Description: raw["description"],
		Type:        raw["type"],
		Version:     raw["version"],
	}
	if v, ok := raw["minzoom"]; ok {
		if i, err := strconv.Atoi(v); err == nil {
			meta.MinZoom = i
		}
	}
	if v, ok := raw["maxzoom"]; ok {
		if i, err := strconv.Atoi(v); err == nil {
			meta.MaxZoom = i
			meta.HasMaxZoom = true
		}
	}
	if v, ok := raw["bounds"]; ok {
		parts := strings.Split(v, ",")
		if len(parts) == 4 {
			for i, part := range parts {
				if f, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
					meta.Bounds[i] = f
				}
			}
		}
	}
	if v, ok := raw["center"]; ok {
		parts := strings.Split(v, ",")
		if len(parts) == 3 {
			for i, part := range parts {
				if f, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
					meta.Center[i] = f
				}
			}
		}
	}
	if v, ok := raw["json"]; ok {
		var extra struct {
			VectorLayers []any `json:"vector_layers"`
		}
		if err := json.Unmarshal([]byte(v), &extra); err == nil {
			meta.VectorLayers = extra.VectorLayers
		}
	}

	return meta, nil
}

// Totals computes the counters spec.md §4.11 step 2 asks for before the
// import begins.
func (r *SourceReader) Totals() (totalTiles int64, totalBytes int64, err error) {
	err = r.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(LENGTH(tile_data)), 0) FROM tiles").
		Scan(&totalTiles, &totalBytes)
	if err != nil {
		return 0, 0, fmt.Errorf("importer: compute totals: %w", err)
	}
	return totalTiles, totalBytes, nil
}

// Iterate streams every row of the tiles table to fn, decompressing gzip
// bodies transparently. TMS/XYZ conversion is left to the caller (spec.md
// §4.11 step 6 does it alongside quadkey computation).
func (r *SourceReader) Iterate(fn func(SourceTile) error) error {
	rows, err := r.db.Query(
		"SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles")
	if err != nil {
		return fmt.Errorf("importer: query tiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var z, x, tmsY sql.NullInt64
		var data []byte
		if err := rows.Scan(&z, &x, &tmsY, &data); err != nil {
			return fmt.Errorf("importer: scan tile row: %w", err)
		}
		if !z.Valid || !x.Valid || !tmsY.Valid || data == nil {
			return errNullTileField
		}

		decoded, derr := maybeGunzip(data)
		if derr != nil {
			return fmt.Errorf("importer: decompress tile %d/%d/%d: %w", z.Int64, x.Int64, tmsY.Int64, derr)
		}

		if err := fn(SourceTile{Z: int(z.Int64), X: int(x.Int64), TMSY: int(tmsY.Int64), Data: decoded}); err != nil {
			return err
		}
	}
	return rows.Err()
}

var errNullTileField = fmt.Errorf("importer: tile row has a null field")

func maybeGunzip(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1F || data[1] != 0x8B {
		return data, nil
	}
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}
