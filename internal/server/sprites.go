package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/tilehaven/tileserver/internal/apierr"
)

// parseSpriteInfo splits "<id>[@Nx].(png|json)" (spec.md §6.1's
// :spriteInfo) into the sprite id, the requested pixel density (1 when no
// @Nx suffix is present), and whether JSON (layout) or PNG (image) was
// requested.
func parseSpriteInfo(raw string) (id string, density int, wantJSON bool, ok bool) {
	switch {
	case strings.HasSuffix(raw, ".json"):
		wantJSON = true
		raw = strings.TrimSuffix(raw, ".json")
	case strings.HasSuffix(raw, ".png"):
		raw = strings.TrimSuffix(raw, ".png")
	default:
		return "", 0, false, false
	}

	density = 1
	if at := strings.LastIndex(raw, "@"); at >= 0 && strings.HasSuffix(raw, "x") {
		suffix := raw[at+1 : len(raw)-1]
		if f, err := strconv.ParseFloat(suffix, 64); err == nil {
			density = int(math.Floor(f))
			raw = raw[:at]
		}
	}
	if raw == "" || density < 1 {
		return "", 0, false, false
	}
	return raw, density, wantJSON, true
}

func (s *Server) handleGetSprite(w http.ResponseWriter, r *http.Request) {
	id, density, wantJSON, ok := parseSpriteInfo(r.PathValue("spriteInfo"))
	if !ok {
		writeError(w, apierr.New(apierr.KindInvalidArgument, "invalid sprite path"))
		return
	}

	info, err := s.deps.Sprites.Get(r.Context(), id, density, true)
	if err != nil {
		writeError(w, err)
		return
	}

	if info.ETag != "" {
		w.Header().Set("Etag", info.ETag)
	}
	if wantJSON {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(info.Layout))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(info.Data); err != nil {
		s.log().Error("write sprite response", "error", err)
	}
}
