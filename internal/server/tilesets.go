package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/tilesetsvc"
)

func (s *Server) handleListTilesets(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Tilesets.List(r.Context(), baseURLFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateTileset(w http.ResponseWriter, r *http.Request) {
	var tj tilesetsvc.TileJSON
	if err := json.NewDecoder(r.Body).Decode(&tj); err != nil {
		writeError(w, apierr.Wrap(apierr.KindInvalidArgument, "invalid tilejson body", err))
		return
	}

	baseURL := baseURLFromRequest(r)
	created, err := s.deps.Tilesets.Create(r.Context(), tj, baseURL, "", "")
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.deps.Styles.CreateForTileset(r.Context(), created, created.ID, ""); err != nil {
		s.log().Warn("create default style for tileset", "tilesetId", created.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, created)
}

func (s *Server) handleGetTileset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tj, err := s.deps.Tilesets.Get(r.Context(), id, baseURLFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tj)
}

func (s *Server) handlePutTileset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var tj tilesetsvc.TileJSON
	if err := json.NewDecoder(r.Body).Decode(&tj); err != nil {
		writeError(w, apierr.Wrap(apierr.KindInvalidArgument, "invalid tilejson body", err))
		return
	}
	if tj.ID != "" && tj.ID != id {
		writeError(w, apierr.New(apierr.KindMismatchedID, "MismatchedId"))
		return
	}
	tj.ID = id

	if err := s.deps.Tilesets.Put(r.Context(), id, tj, baseURLFromRequest(r), "", false); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleGetTile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	z, okZ := parseUint32(r.PathValue("z"))
	x, okX := parseUint32(r.PathValue("x"))
	y, okY := parseUint32(r.PathValue("y"))
	if !okZ || !okX || !okY {
		writeError(w, apierr.New(apierr.KindInvalidArgument, "invalid tile coordinates"))
		return
	}

	accessToken := r.URL.Query().Get("access_token")
	tile, err := s.deps.Tiles.Get(r.Context(), id, z, x, y, accessToken)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", tile.Headers.ContentType)
	if tile.Headers.ContentEncoding != "" {
		w.Header().Set("Content-Encoding", tile.Headers.ContentEncoding)
	}
	if tile.ETag != "" {
		w.Header().Set("Etag", tile.ETag)
	}
	if _, err := w.Write(tile.Data); err != nil {
		s.log().Error("write tile response", "error", err)
	}
}

func parseUint32(s string) (uint32, bool) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
