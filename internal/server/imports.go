package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/importer"
	"github.com/tilehaven/tileserver/internal/store"
)

type importRequest struct {
	FilePath string `json:"filePath"`
}

type importResponse struct {
	Import  importRef  `json:"import"`
	Style   *importRef `json:"style"`
	Tileset any        `json:"tileset"`
}

type importRef struct {
	ID string `json:"id"`
}

func (s *Server) handleImportMBTiles(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FilePath == "" {
		writeError(w, apierr.New(apierr.KindMBTilesImportTargetMissing, "MBTilesImportTargetMissing"))
		return
	}

	result, err := s.deps.Importer.ImportMBTiles(r.Context(), req.FilePath, baseURLFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	var style *importRef
	if result.StyleID != "" {
		style = &importRef{ID: result.StyleID}
	}
	writeJSON(w, http.StatusOK, importResponse{
		Import:  importRef{ID: result.ImportID},
		Style:   style,
		Tileset: result.Tileset,
	})
}

// handleImportProgress streams progress events over SSE (spec.md §6.2).
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	importID := r.PathValue("importId")

	imp, err := s.deps.Importer.GetImport(r.Context(), importID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.NotFound(w, r)
			return
		}
		writeError(w, apierr.Wrap(apierr.KindInternal, "load import", err))
		return
	}

	if lastEventID := r.Header.Get("Last-Event-Id"); lastEventID == "complete" || lastEventID == "error" {
		if imp.State != store.ImportStateActive {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	if imp.State != store.ImportStateActive {
		writeSSEHeaders(w)
		writeTerminalEvent(w, importID, imp)
		return
	}

	events, unsubscribe, ok := s.deps.Importer.Subscribe(importID)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	defer unsubscribe()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierr.New(apierr.KindInternal, "streaming unsupported"))
		return
	}
	writeSSEHeaders(w)
	flusher.Flush()

	for {
		select {
		case evt, open := <-events:
			if !open {
				return
			}
			writeSSEEvent(w, evt)
			flusher.Flush()
			if evt.Type != "progress" {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeTerminalEvent(w http.ResponseWriter, importID string, imp store.Import) {
	eventType := "complete"
	if imp.State == store.ImportStateError {
		eventType = "error"
	}
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", eventType, eventType, mustMarshal(map[string]any{
		"type": eventType, "importId": importID, "soFar": imp.ImportedResources, "total": imp.TotalResources,
	}))
}

func writeSSEEvent(w http.ResponseWriter, evt importer.ProgressEvent) {
	id := ""
	if evt.Type != "progress" {
		id = evt.Type
	}
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, mustMarshal(map[string]any{
		"type": evt.Type, "importId": evt.ImportID, "soFar": evt.SoFar, "total": evt.Total,
	}))
}

func mustMarshal(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
