// Package apierr defines the error taxonomy shared by every service package
// and the HTTP layer (spec.md §7): a closed set of Kind values, each mapped
// to one HTTP status code, wrapped around an underlying cause the way the
// teacher's internal/mbtiles wraps sqlite errors.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an API error into the taxonomy spec.md §7 defines. Values
// are spelled exactly as spec.md's table names them, since they are the
// wire-visible `code` field of every error body (respond.go's writeError).
type Kind string

const (
	KindNotFound                   Kind = "NotFound"
	KindAlreadyExists              Kind = "AlreadyExists"
	KindMismatchedID               Kind = "MismatchedId"
	KindUnsupportedSource          Kind = "UnsupportedSource"
	KindMBAccessTokenRequired      Kind = "MBAccessTokenRequired"
	KindInvalidGlyphsRange         Kind = "InvalidGlyphsRange"
	KindUnsupportedMBTilesFormat   Kind = "UnsupportedMBTilesFormat"
	KindMBTilesImportTargetMissing Kind = "MBTilesImportTargetMissing"
	KindMBTilesInvalidMetadata     Kind = "MBTilesInvalidMetadata"
	KindMBTilesCannotRead          Kind = "MBTilesCannotRead"
	KindUpstreamJSONValidation     Kind = "UpstreamJsonValidation"
	KindForwardedUpstream          Kind = "ForwardedUpstream"
	KindParse                      Kind = "Parse"
	KindTimeout                    Kind = "Timeout"

	// KindInvalidArgument and KindInternal are generic 400/500 buckets for
	// ad-hoc validation failures and unexpected errors spec.md's closed
	// taxonomy doesn't name individually (malformed request bodies,
	// programmer-facing wrapping of internal plumbing).
	KindInvalidArgument Kind = "InvalidArgument"
	KindInternal        Kind = "Internal"
)

var statusByKind = map[Kind]int{
	KindNotFound:                   http.StatusNotFound,
	KindAlreadyExists:              http.StatusConflict,
	KindMismatchedID:               http.StatusBadRequest,
	KindUnsupportedSource:          http.StatusBadRequest,
	KindMBAccessTokenRequired:      http.StatusBadRequest,
	KindInvalidGlyphsRange:         http.StatusBadRequest,
	KindUnsupportedMBTilesFormat:   http.StatusBadRequest,
	KindMBTilesImportTargetMissing: http.StatusBadRequest,
	KindMBTilesInvalidMetadata:     http.StatusBadRequest,
	KindMBTilesCannotRead:          http.StatusInternalServerError,
	KindUpstreamJSONValidation:     http.StatusInternalServerError,
	KindParse:                      http.StatusInternalServerError,
	KindTimeout:                    http.StatusInternalServerError,
	KindInvalidArgument:            http.StatusBadRequest,
	KindInternal:                   http.StatusInternalServerError,
}

// Error is the concrete error type every service package returns for
// caller-visible failures. The zero value is not useful; construct with New
// or Wrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs a Kind-tagged error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a Kind-tagged error around cause. If cause is nil, Wrap
// returns a nil *Error; stored in an `error` interface that value is non-nil,
// so callers check cause before returning Wrap's result as an `error`.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// StatusCode returns the HTTP status code for err, defaulting to 500 when
// err is not an *Error (or is nil, which never reaches an HTTP handler).
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if status, ok := statusByKind[apiErr.Kind]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// Is reports whether err's Kind (or any wrapped *Error's Kind) equals kind.
func Is(err error, kind Kind) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}
