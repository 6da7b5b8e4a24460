// coordinator.go implements ImportCoordinator (spec.md §4.10): opens the
// MBTiles file synchronously to register a tileset and default style, then
// hands the tile-by-tile work to a Worker running in its own goroutine,
// relaying progress back through activeImports until the worker reaches a
// terminal state. Grounded on the teacher's internal/worker task-submission
// idiom (internal/worker/pool.go), adapted from an N-task pool to a
// one-goroutine-per-import model since imports are whole-file units, not
// independently parallelisable work items.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/idcodec"
	"github.com/tilehaven/tileserver/internal/store"
	"github.com/tilehaven/tileserver/internal/stylesvc"
	"github.com/tilehaven/tileserver/internal/tilesetsvc"
)

// firstProgressTimeout and steadyStateTimeout are the two inactivity
// deadlines spec.md §4.10 step 7 describes: 10s until the worker proves it
// is alive, 5s between subsequent progress messages.
const (
	firstProgressTimeout = 10 * time.Second
	steadyStateTimeout   = 5 * time.Second
)

// Result is what ImportMBTiles returns once the worker has proven it is
// making progress.
type Result struct {
	ImportID string
	StyleID  string
	Tileset  tilesetsvc.TileJSON
}

type activeImport struct {
	cancel        chan struct{}
	firstProgress chan struct{}
	progressOnce  sync.Once

	// supervisorEvents feeds superviseRemaining's own inactivity timer. It is
	// private to the coordinator: SSE clients never read it, so a slow or
	// absent SSE subscriber can never starve the 5s steady-state timer of
	// events, and a fast-reading SSE client can never starve the timer either.
	supervisorEvents chan ProgressEvent

	subMu       sync.Mutex
	subscribers map[int]chan ProgressEvent
	nextSubID   int
	closed      bool
}

func newActiveImport() *activeImport {
	return &activeImport{
		cancel:           make(chan struct{}),
		firstProgress:    make(chan struct{}),
		supervisorEvents: make(chan ProgressEvent, 64),
		subscribers:      make(map[int]chan ProgressEvent),
	}
}

// publish is called from the worker goroutine; it never blocks (a slow or
// absent SSE subscriber must not stall an import). Every registered
// subscriber gets its own copy of e, fanned out independently of the
// supervisor's channel. On a terminal event every subscriber channel is
// closed so a blocked SSE reader unblocks instead of hanging until
// disconnect.
func (ai *activeImport) publish(e ProgressEvent) {
	select {
	case ai.supervisorEvents <- e:
	default:
	}
	if e.Type == "progress" {
		ai.progressOnce.Do(func() { close(ai.firstProgress) })
	}

	ai.subMu.Lock()
	defer ai.subMu.Unlock()
	if ai.closed {
		return
	}
	for _, sub := range ai.subscribers {
		select {
		case sub <- e:
		default:
		}
	}
	if e.Type != "progress" {
		ai.closed = true
		for _, sub := range ai.subscribers {
			close(sub)
		}
		ai.subscribers = nil
	}
}

// subscribe registers a fresh per-client channel and returns it along with
// an unsubscribe func the caller must invoke once it stops reading. If the
// import has already reached a terminal state, the returned channel is
// already closed.
func (ai *activeImport) subscribe() (<-chan ProgressEvent, func()) {
	ai.subMu.Lock()
	defer ai.subMu.Unlock()

	ch := make(chan ProgressEvent, 16)
	if ai.closed {
		close(ch)
		return ch, func() {}
	}

	id := ai.nextSubID
	ai.nextSubID++
	ai.subscribers[id] = ch
	return ch, func() {
		ai.subMu.Lock()
		defer ai.subMu.Unlock()
		delete(ai.subscribers, id)
	}
}

// Coordinator implements ImportCoordinator.
type Coordinator struct {
	store    *store.Store
	tilesets *tilesetsvc.Service
	styles   *stylesvc.Service
	log      *slog.Logger

	mu     sync.Mutex
	active map[string]*activeImport
	wg     sync.WaitGroup
}

// NewCoordinator constructs a Coordinator. A nil logger falls back to
// slog.Default().
func NewCoordinator(st *store.Store, tilesets *tilesetsvc.Service, styles *stylesvc.Service, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: st, tilesets: tilesets, styles: styles, log: logger, active: make(map[string]*activeImport)}
}

func (c *Coordinator) logger() *slog.Logger {
	if c.log != nil {
		return c.log
	}
	return slog.Default()
}

// ImportMBTiles runs spec.md §4.10 steps 1-8: it blocks until the worker has
// emitted its first progress event (success), failed before doing so
// (error, with orphan style cleanup), or stalled past the 10s deadline
// (Timeout, with the same cleanup).
func (c *Coordinator) ImportMBTiles(ctx context.Context, filePath, baseURL string) (Result, error) {
	source, err := OpenSourceReader(filePath)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.KindMBTilesImportTargetMissing, "MBTilesImportTargetMissing", err)
	}
	meta, metaErr := source.Metadata()
	source.Close()
	if metaErr != nil {
		return Result{}, apierr.Wrap(apierr.KindMBTilesInvalidMetadata, "MBTilesInvalidMetadata", metaErr)
	}
	if !meta.HasMaxZoom {
		return Result{}, apierr.New(apierr.KindMBTilesInvalidMetadata, "MBTilesInvalidMetadata: missing maxzoom")
	}
	if !supportedMBTilesFormat(meta.Format) {
		return Result{}, apierr.New(apierr.KindUnsupportedMBTilesFormat, fmt.Sprintf("UnsupportedMBTilesFormat: %q", meta.Format))
	}

	tilesetSeed := idcodec.EncodeBase32(idcodec.Hash([]byte("import:" + filePath)))
	tj := tilesetsvc.TileJSON{
		ID:           tilesetSeed,
		VectorLayers: meta.VectorLayers,
		Extra:        map[string]any{"format": meta.Format},
	}
	createdTileset, err := c.tilesets.Create(ctx, tj, baseURL, "", "")
	if err != nil {
		return Result{}, err
	}

	name := meta.Name
	if name == "" {
		name = filepath.Base(filePath)
	}
	styleID, err := c.styles.CreateForTileset(ctx, createdTileset, createdTileset.ID, name)
	if err != nil {
		// Step 9: on worker rejection before progress, the orphan style is
		// deleted. Here the style was never created, so there is nothing to
		// clean up. The tileset created above stays in the store, so a later
		// import of the same file fails with AlreadyExists.
		return Result{}, err
	}

	importID := idcodec.GenerateID()
	ai := newActiveImport()

	c.mu.Lock()
	c.active[importID] = ai
	c.mu.Unlock()
	c.wg.Add(1)

	worker := NewWorker(c.store, c.log)
	done := make(chan error, 1)
	go func() {
		defer c.wg.Done()
		done <- worker.Run(ctx, RunParams{
			ImportID:     importID,
			SourcePath:   filePath,
			TilesetID:    createdTileset.ID,
			StyleID:      styleID,
			AreaName:     name,
			CancelSignal: ai.cancel,
			OnProgress:   ai.publish,
		})
	}()

	result := Result{ImportID: importID, StyleID: styleID, Tileset: createdTileset}
	timer := time.NewTimer(firstProgressTimeout)
	defer timer.Stop()

	select {
	case <-ai.firstProgress:
		go c.superviseRemaining(importID, ai, done)
		return result, nil
	case err := <-done:
		c.cleanup(importID)
		if err != nil {
			c.deleteOrphanStyle(styleID)
			return Result{}, mapWorkerFailure(err)
		}
		return result, nil
	case <-timer.C:
		close(ai.cancel)
		_ = c.store.FailImport(ctx, importID, "TIMEOUT")
		<-done
		c.cleanup(importID)
		c.deleteOrphanStyle(styleID)
		return Result{}, apierr.New(apierr.KindTimeout, "Timeout: import stalled past its inactivity deadline")
	}
}

// superviseRemaining handles steps 7 (5s steady-state timer) and 10 (cleanup
// on termination) after the caller of ImportMBTiles has already been
// released with its success result.
func (c *Coordinator) superviseRemaining(importID string, ai *activeImport, done chan error) {
	defer c.cleanup(importID)

	timer := time.NewTimer(steadyStateTimeout)
	defer timer.Stop()

	for {
		select {
		case evt := <-ai.supervisorEvents:
			if evt.Type != "progress" {
				<-done
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(steadyStateTimeout)
		case <-done:
			return
		case <-timer.C:
			close(ai.cancel)
			_ = c.store.FailImport(context.Background(), importID, "TIMEOUT")
			<-done
			return
		}
	}
}

func (c *Coordinator) cleanup(importID string) {
	c.mu.Lock()
	delete(c.active, importID)
	c.mu.Unlock()
}

func (c *Coordinator) deleteOrphanStyle(styleID string) {
	if styleID == "" {
		return
	}
	if err := c.styles.Delete(context.Background(), styleID); err != nil {
		c.logger().Warn("delete orphan style after failed import", "styleId", styleID, "error", err)
	}
}

func mapWorkerFailure(err error) error {
	if errors.Is(err, context.Canceled) {
		return apierr.New(apierr.KindTimeout, "Timeout: import cancelled")
	}
	return apierr.Wrap(apierr.KindMBTilesCannotRead, "MBTilesCannotRead", err)
}

// supportedMBTilesFormat reports whether format is one of the raster formats
// this service can serve directly. "pbf" MBTiles (vector tiles) and any
// unrecognised format are rejected before any tile is imported.
func supportedMBTilesFormat(format string) bool {
	switch format {
	case "jpg", "png", "webp":
		return true
	default:
		return false
	}
}

// GetImport returns the Import subset spec.md §4.10 getImport names, or
// sql.ErrNoRows (wrapped by the caller) if absent.
func (c *Coordinator) GetImport(ctx context.Context, id string) (store.Import, error) {
	return c.store.GetImport(ctx, id)
}

// HasActivePort reports whether importId still has a live worker goroutine,
// the signal the SSE handler uses to distinguish "worker died" (204) from
// "still running" (spec.md §6.2).
func (c *Coordinator) HasActivePort(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[id]
	return ok
}

// Subscribe registers a fresh progress channel for a running import, for one
// SSE client to read from. The caller must invoke the returned unsubscribe
// func once it stops reading (e.g. on client disconnect). Returns false if
// the import is not active.
func (c *Coordinator) Subscribe(id string) (<-chan ProgressEvent, func(), bool) {
	c.mu.Lock()
	ai, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	ch, unsub := ai.subscribe()
	return ch, unsub, true
}

// Shutdown waits for all active imports to reach a terminal state, the
// close-sequence requirement of §5 ("must not interrupt an in-flight
// transaction"): cancel first, then wait.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for _, ai := range c.active {
		select {
		case <-ai.cancel:
		default:
			close(ai.cancel)
		}
	}
	c.mu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("importer: shutdown: %w", ctx.Err())
	}
}
