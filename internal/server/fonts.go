package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tilehaven/tileserver/internal/apierr"
	"github.com/tilehaven/tileserver/internal/glyphsvc"
)

// parseRangeFile splits "<start>-<end>.pbf" (spec.md §6.1's
// /fonts/:fontstack/:start-:end.pbf) into its integer bounds.
func parseRangeFile(raw string) (start, end int, ok bool) {
	if !strings.HasSuffix(raw, ".pbf") {
		return 0, 0, false
	}
	raw = strings.TrimSuffix(raw, ".pbf")
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	startN, err1 := strconv.Atoi(parts[0])
	endN, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return startN, endN, true
}

func (s *Server) handleGetGlyphs(w http.ResponseWriter, r *http.Request) {
	start, end, ok := parseRangeFile(r.PathValue("rangeFile"))
	if !ok {
		writeError(w, apierr.New(apierr.KindInvalidArgument, "invalid glyph range path"))
		return
	}

	res, err := s.deps.Glyphs.Get(r.Context(), glyphsvc.Request{
		StyleID:     r.URL.Query().Get("styleId"),
		AccessToken: r.URL.Query().Get("access_token"),
		Font:        r.PathValue("fontstack"),
		Start:       start,
		End:         end,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	if res.ETag != "" {
		w.Header().Set("Etag", res.ETag)
	}

	switch res.Type {
	case "file":
		http.ServeFile(w, r, res.Path)
	case "raw":
		if _, err := w.Write(res.Data); err != nil {
			s.log().Error("write glyph response", "error", err)
		}
	}
}
