package server

import (
	"encoding/json"
	"net/http"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/mapboxurl"
	"github.com/tilehaven/tileserver/internal/stylesvc"
	"github.com/tilehaven/tileserver/internal/upstream"
)

func (s *Server) handleListStyles(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Styles.List(r.Context(), baseURLFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// createStyleRequest accepts either an inline style document or a remote
// URL to fetch one from, per spec.md §6.1's POST /styles row.
type createStyleRequest struct {
	Style       map[string]any `json:"style"`
	URL         string         `json:"url"`
	ID          string         `json:"id"`
	AccessToken string         `json:"accessToken"`
}

func (s *Server) handleCreateStyle(w http.ResponseWriter, r *http.Request) {
	var req createStyleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindInvalidArgument, "invalid style request body", err))
		return
	}

	styleJSON := req.Style
	upstreamURL := ""
	if styleJSON == nil && req.URL != "" {
		upstreamURL = req.URL
		fetched, err := s.fetchStyleDocument(r, req.URL, req.AccessToken)
		if err != nil {
			writeError(w, err)
			return
		}
		styleJSON = fetched
	}
	if styleJSON == nil {
		writeError(w, apierr.New(apierr.KindInvalidArgument, "request must carry a style document or a url"))
		return
	}

	id, result, err := s.deps.Styles.Create(r.Context(), styleJSON, baseURLFromRequest(r), stylesvc.CreateParams{
		ID: req.ID, AccessToken: req.AccessToken, UpstreamURL: upstreamURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	result["id"] = id
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) fetchStyleDocument(r *http.Request, rawURL, accessToken string) (map[string]any, error) {
	if mapboxurl.IsMapboxReference(rawURL) && accessToken == "" {
		return nil, apierr.New(apierr.KindMBAccessTokenRequired, "MBAccessTokenRequired")
	}
	resolved, err := mapboxurl.Resolve(rawURL, accessToken)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidArgument, "resolve style url", err)
	}
	res, err := s.deps.Upstream.GetUpstream(r.Context(), resolved, upstream.ResponseJSON, "")
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidArgument, "fetch style document", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(res.Data, &doc); err != nil {
		return nil, apierr.New(apierr.KindInvalidArgument, "style document is not valid JSON")
	}
	return doc, nil
}

func (s *Server) handleGetStyle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	style, err := s.deps.Styles.Get(r.Context(), id, baseURLFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, style)
}

func (s *Server) handleDeleteStyle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Styles.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
