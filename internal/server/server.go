// Package server implements the HTTP surface of spec.md §6.1, replacing the
// teacher's single-purpose mbtiles_handler.go with one handler per service.
// The withCORS wrapper and nil-logger-fallback idiom are carried over from
// the teacher's internal/server package; the route table itself is new.
package server

import (
	"log/slog"
	"net/http"

	"github.com/tilehaven/tileserver/internal/glyphsvc"
	"github.com/tilehaven/tileserver/internal/importer"
	"github.com/tilehaven/tileserver/internal/spritesvc"
	"github.com/tilehaven/tileserver/internal/store"
	"github.com/tilehaven/tileserver/internal/stylesvc"
	"github.com/tilehaven/tileserver/internal/tilesetsvc"
	"github.com/tilehaven/tileserver/internal/tilesvc"
	"github.com/tilehaven/tileserver/internal/upstream"
)

// Deps wires every service the HTTP layer delegates to.
type Deps struct {
	Store    *store.Store
	Tilesets *tilesetsvc.Service
	Tiles    *tilesvc.Service
	Styles   *stylesvc.Service
	Sprites  *spritesvc.Service
	Glyphs   *glyphsvc.Service
	Importer *importer.Coordinator
	Upstream *upstream.Manager
	Logger   *slog.Logger
}

// Server holds the wired dependencies for the route handlers.
type Server struct {
	deps Deps
}

// New constructs a Server.
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

func (s *Server) log() *slog.Logger {
	if s.deps.Logger != nil {
		return s.deps.Logger
	}
	return slog.Default()
}

// Router builds the route table of spec.md §6.1 and §6.2.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /tilesets", s.handleListTilesets)
	mux.HandleFunc("POST /tilesets", s.handleCreateTileset)
	mux.HandleFunc("POST /tilesets/import", s.handleImportMBTiles)
	mux.HandleFunc("GET /tilesets/{id}", s.handleGetTileset)
	mux.HandleFunc("PUT /tilesets/{id}", s.handlePutTileset)
	mux.HandleFunc("GET /tilesets/{id}/{z}/{x}/{y}", s.handleGetTile)

	mux.HandleFunc("GET /styles", s.handleListStyles)
	mux.HandleFunc("POST /styles", s.handleCreateStyle)
	mux.HandleFunc("GET /styles/{id}", s.handleGetStyle)
	mux.HandleFunc("DELETE /styles/{id}", s.handleDeleteStyle)
	mux.HandleFunc("GET /styles/{styleId}/sprites/{spriteInfo}", s.handleGetSprite)

	mux.HandleFunc("GET /fonts/{fontstack}/{rangeFile}", s.handleGetGlyphs)

	mux.HandleFunc("GET /imports/progress/{importId}", s.handleImportProgress)

	return withCORS(mux)
}
