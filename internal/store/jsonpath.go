package store

import (
	"encoding/json"

	"github.com/ohler55/ojg/jp"
)

// jsonpath extraction over stored stylejson columns, so callers holding only
// the raw JSON string can pull one field without unmarshalling into a map
// (grounded on agentic-research-mache's internal/ingest/json_walker.go jp
// usage). Callers that already hold a parsed stylejson map (stylesvc.Create/
// Update/Get all do) use a plain type assertion instead; these two exist for
// the callers that only have the stored string.

// ExtractStyleName reads stylejson.name, returning "" when absent or the
// document fails to parse.
func ExtractStyleName(styleJSON string) string {
	v, ok := extractString(styleJSON, "$.name")
	if !ok {
		return ""
	}
	return v
}

// ExtractGlyphsTemplate reads stylejson.glyphs.
func ExtractGlyphsTemplate(styleJSON string) (string, bool) {
	return extractString(styleJSON, "$.glyphs")
}

func extractString(document, path string) (string, bool) {
	var root any
	if err := json.Unmarshal([]byte(document), &root); err != nil {
		return "", false
	}
	expr, err := jp.ParseString(path)
	if err != nil {
		return "", false
	}
	results := expr.Get(root)
	if len(results) == 0 {
		return "", false
	}
	s, ok := results[0].(string)
	return s, ok
}
