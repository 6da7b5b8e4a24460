// worker.go implements ImportWorker (spec.md §4.11), adapting the teacher's
// internal/worker throttled-progress idiom (Progress.Print's
// rate/ETA bookkeeping, formatDuration) to a single-import state machine
// instead of an N-task generation pool: an import streams one source file
// through in iterator order, so there is exactly one unit of work to track,
// not a pool of independent tasks.
package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tilehaven/tileserver/internal/idcodec"
	"github.com/tilehaven/tileserver/internal/store"
	"github.com/tilehaven/tileserver/internal/tileaddr"
	"github.com/tilehaven/tileserver/internal/types"
)

// progressThrottle is the "one message every 200 ms" cadence spec.md §4.11
// step 7 specifies.
const progressThrottle = 200 * time.Millisecond

// ProgressEvent mirrors the SSE payload shape of spec.md §6.2.
type ProgressEvent struct {
	Type      string // "progress" | "complete" | "error"
	ImportID  string
	SoFar     int64
	Total     int64
	ErrorCode string
}

// ProgressFunc receives each emitted ProgressEvent.
type ProgressFunc func(ProgressEvent)

// RunParams carries everything Worker.Run needs for one import.
type RunParams struct {
	ImportID      string
	SourcePath    string
	TilesetID     string
	StyleID       string
	AreaName      string
	OnProgress    ProgressFunc
	CancelSignal  <-chan struct{}
}

// Worker runs one MBTiles import to completion, updating Import/OfflineArea
// rows as it goes (spec.md §4.11).
type Worker struct {
	store *store.Store
	log   *slog.Logger
}

// NewWorker constructs a Worker. A nil logger falls back to slog.Default().
func NewWorker(st *store.Store, logger *slog.Logger) *Worker {
	return &Worker{store: st, log: logger}
}

func (w *Worker) logger() *slog.Logger {
	if w.log != nil {
		return w.log
	}
	return slog.Default()
}

// Run executes the algorithm of spec.md §4.11 steps 1-7.
func (w *Worker) Run(ctx context.Context, p RunParams) error {
	source, err := OpenSourceReader(p.SourcePath)
	if err != nil {
		w.fail(ctx, p.ImportID, "MBTilesCannotRead", p.OnProgress)
		return fmt.Errorf("importer: open source for %s: %w", p.ImportID, err)
	}
	defer source.Close()

	totalTiles, totalBytes, err := source.Totals()
	if err != nil {
		w.fail(ctx, p.ImportID, "MBTilesCannotRead", p.OnProgress)
		return err
	}

	meta, err := source.Metadata()
	if err != nil {
		w.fail(ctx, p.ImportID, "MBTilesCannotRead", p.OnProgress)
		return err
	}
	if !meta.HasMaxZoom {
		w.fail(ctx, p.ImportID, "MBTilesInvalidMetadata", p.OnProgress)
		return errors.New("importer: mbtiles metadata missing maxzoom")
	}

	areaID := idcodec.AreaID(p.TilesetID)
	bbox := types.BoundingBox{
		MinLon: meta.Bounds[0], MinLat: meta.Bounds[1],
		MaxLon: meta.Bounds[2], MaxLat: meta.Bounds[3],
	}
	boundingBoxJSON, err := json.Marshal(bbox)
	if err != nil {
		w.fail(ctx, p.ImportID, "UNKNOWN", p.OnProgress)
		return fmt.Errorf("importer: marshal bounding box: %w", err)
	}
	boundingBox := string(boundingBoxJSON)
	name := p.AreaName
	if name == "" {
		name = meta.Name
	}
	if err := w.store.UpsertOfflineArea(ctx, store.OfflineArea{
		ID: areaID, ZoomLevel: meta.MaxZoom, BoundingBox: boundingBox, Name: name, StyleID: p.StyleID,
	}); err != nil {
		w.fail(ctx, p.ImportID, "UNKNOWN", p.OnProgress)
		return fmt.Errorf("importer: upsert offline area: %w", err)
	}

	if err := w.store.CreateImport(ctx, store.Import{
		ID: p.ImportID, State: store.ImportStateActive, Started: time.Now().UnixMilli(),
		TotalResources: totalTiles, TotalBytes: sql.NullInt64{Int64: totalBytes, Valid: true},
		AreaID: areaID, TilesetID: sql.NullString{String: p.TilesetID, Valid: true}, ImportType: "tileset",
	}); err != nil {
		return fmt.Errorf("importer: create import row: %w", err)
	}

	var imported, importedBytes int64
	lastEmit := time.Time{}

	emit := func(force bool, eventType, errorCode string) {
		if !force && time.Since(lastEmit) < progressThrottle {
			return
		}
		lastEmit = time.Now()
		if p.OnProgress != nil {
			p.OnProgress(ProgressEvent{Type: eventType, ImportID: p.ImportID, SoFar: imported, Total: totalTiles, ErrorCode: errorCode})
		}
	}

	iterErr := source.Iterate(func(tile SourceTile) error {
		select {
		case <-p.CancelSignal:
			return context.Canceled
		default:
		}

		xyzY := tileaddr.TMSToXYZ(uint32(tile.Z), uint32(tile.TMSY))
		quadKey := tileaddr.QuadKey(tileaddr.XYZ{Z: uint32(tile.Z), X: uint32(tile.X), Y: xyzY})
		hash := idcodec.TileDataHash(tile.Data)

		if err := w.store.PutTile(ctx, p.TilesetID, quadKey, hash, tile.Data, sql.NullString{}); err != nil {
			return fmt.Errorf("importer: write tile %d/%d/%d: %w", tile.Z, tile.X, xyzY, err)
		}

		imported++
		importedBytes += int64(len(tile.Data))
		if err := w.store.UpdateImportProgress(ctx, p.ImportID, imported, importedBytes); err != nil {
			return fmt.Errorf("importer: update progress: %w", err)
		}
		emit(false, "progress", "")
		return nil
	})

	if iterErr != nil {
		emit(true, "progress", "")
		if errors.Is(iterErr, context.Canceled) {
			_ = w.store.FailImport(ctx, p.ImportID, "CANCELLED")
			emit(true, "error", "CANCELLED")
			return iterErr
		}
		_ = w.store.FailImport(ctx, p.ImportID, "UNKNOWN")
		emit(true, "error", "UNKNOWN")
		return iterErr
	}

	emit(true, "complete", "")
	w.logger().Info("import complete", "importId", p.ImportID, "tiles", imported, "bytes", humanize.Bytes(uint64(importedBytes)))
	return nil
}

func (w *Worker) fail(ctx context.Context, importID, code string, onProgress ProgressFunc) {
	_ = w.store.FailImport(ctx, importID, code)
	if onProgress != nil {
		onProgress(ProgressEvent{Type: "error", ImportID: importID, ErrorCode: code})
	}
}
