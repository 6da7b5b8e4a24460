// Package mapboxurl recognises Mapbox-flavoured upstream references
// (mapbox:// URLs and *.mapbox.com hosts) and resolves them to plain HTTPS
// URLs carrying an access token, per SPEC_FULL.md supplement 1. It is
// deliberately the smallest implementation that satisfies StylesService and
// GlyphsService's UnsupportedSource/MBAccessTokenRequired paths, not a full
// Mapbox SDK.
package mapboxurl

import (
	"fmt"
	"net/url"
	"strings"
)

// IsMapboxReference reports whether raw is a mapbox:// URL or points at a
// *.mapbox.com host.
func IsMapboxReference(raw string) bool {
	if strings.HasPrefix(raw, "mapbox://") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	return strings.HasSuffix(host, ".mapbox.com") || host == "mapbox.com"
}

// Resolve rewrites a mapbox:// reference into the HTTPS URL an upstream
// fetch can use, appending accessToken. Non-mapbox:// inputs are returned
// unchanged except for token injection.
//
// Supported mapbox:// shapes:
//
//	mapbox://styles/{owner}/{id}        -> https://api.mapbox.com/styles/v1/{owner}/{id}
//	mapbox://sprites/{owner}/{id}{suffix} -> https://api.mapbox.com/styles/v1/{owner}/{id}/sprite{suffix}
//	mapbox://fonts/{owner}/{id}          -> https://api.mapbox.com/fonts/v1/{owner}/{id}
//	mapbox://{tileset-id}                -> https://api.mapbox.com/v4/{tileset-id}
func Resolve(raw, accessToken string) (string, error) {
	if !strings.HasPrefix(raw, "mapbox://") {
		return injectToken(raw, accessToken)
	}
	rest := strings.TrimPrefix(raw, "mapbox://")
	var resolved string
	switch {
	case strings.HasPrefix(rest, "styles/"):
		resolved = "https://api.mapbox.com/styles/v1/" + strings.TrimPrefix(rest, "styles/")
	case strings.HasPrefix(rest, "sprites/"):
		resolved = rewriteSprite(strings.TrimPrefix(rest, "sprites/"))
	case strings.HasPrefix(rest, "fonts/"):
		resolved = "https://api.mapbox.com/fonts/v1/" + strings.TrimPrefix(rest, "fonts/")
	default:
		resolved = "https://api.mapbox.com/v4/" + rest
	}
	return injectToken(resolved, accessToken)
}

func rewriteSprite(ownerAndID string) string {
	for _, suffix := range []string{"@2x.json", "@2x.png", ".json", ".png"} {
		if strings.HasSuffix(ownerAndID, suffix) {
			base := strings.TrimSuffix(ownerAndID, suffix)
			return fmt.Sprintf("https://api.mapbox.com/styles/v1/%s/sprite%s", base, suffix)
		}
	}
	return "https://api.mapbox.com/styles/v1/" + ownerAndID + "/sprite"
}

func injectToken(raw, accessToken string) (string, error) {
	if accessToken == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("mapboxurl: invalid url %q: %w", raw, err)
	}
	q := u.Query()
	if q.Get("access_token") == "" {
		q.Set("access_token", accessToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
