// respond.go carries the teacher's nil-logger-fallback and JSON-response
// idioms from mbtiles_handler.go (h.log()) into every handler in this
// package.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/tilehaven/tileserver/internal/apierr"
)

type errorBody struct {
	Code       string `json:"code"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	code := "internal"
	msg := err.Error()
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		code = string(apiErr.Kind)
		msg = apiErr.Message
	}
	writeJSON(w, status, errorBody{Code: code, StatusCode: status, Message: msg})
}

// baseURLFromRequest reconstructs the externally visible origin for URL
// rewriting (spec.md §4.5-§4.9's baseUrl parameter), honouring a reverse
// proxy's X-Forwarded-Proto the way the teacher's withCORS wrapper already
// assumes requests may come through one.
func baseURLFromRequest(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.Split(proto, ",")[0]
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
