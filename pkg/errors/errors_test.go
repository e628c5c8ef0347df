package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        *Error
		wantKind   Kind
		wantStatus int
		wantDetail string
		wantMsg    string
	}{
		{
			name:       "not authenticated",
			err:        NotAuthenticated(),
			wantKind:   KindUnauthenticated,
			wantStatus: http.StatusForbidden,
			wantDetail: "Not authenticated",
		},
		{
			name:       "invalid token with reason",
			err:        InvalidToken("token expired"),
			wantKind:   KindUnauthenticated,
			wantStatus: http.StatusUnauthorized,
			wantDetail: "token expired",
		},
		{
			name:       "invalid token default reason",
			err:        InvalidToken(""),
			wantKind:   KindUnauthenticated,
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Invalid or missing token",
		},
		{
			name:       "missing scope",
			err:        MissingScope(),
			wantKind:   KindUnauthenticated,
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Not enough permissions",
		},
		{
			name:       "forbidden",
			err:        Forbidden("write denied"),
			wantKind:   KindForbidden,
			wantStatus: http.StatusForbidden,
			wantDetail: "write denied",
		},
		{
			name:       "not found",
			err:        NotFound(),
			wantKind:   KindNotFound,
			wantStatus: http.StatusNotFound,
			wantMsg:    "Not found",
		},
		{
			name:       "upstream unavailable",
			err:        UpstreamUnavailable("timed out"),
			wantKind:   KindUpstreamUnavailable,
			wantStatus: http.StatusBadGateway,
			wantDetail: "timed out",
		},
		{
			name:       "invalid filter",
			err:        InvalidFilter(),
			wantKind:   KindUpstreamUnavailable,
			wantStatus: http.StatusBadGateway,
			wantDetail: "Invalid CQL2 filter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantKind, tt.err.Kind)
			assert.Equal(t, tt.wantStatus, tt.err.Status)
			assert.Equal(t, tt.wantDetail, tt.err.Detail)
			assert.Equal(t, tt.wantMsg, tt.err.Message)
		})
	}
}

func TestError_ErrorString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Not authenticated", NotAuthenticated().Error())
	assert.Equal(t, "Not found", NotFound().Error())
}

func TestWrap(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("connection refused")
	wrapped := UpstreamUnavailable("Upstream request failed").Wrap(cause)

	assert.Equal(t, "Upstream request failed", wrapped.Error())
	assert.True(t, stderrors.Is(wrapped, cause))

	// Wrap clones; the original stays cause-free.
	orig := UpstreamUnavailable("Upstream request failed")
	assert.Nil(t, stderrors.Unwrap(orig))
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        *Error
		wantStatus int
		wantBody   map[string]string
	}{
		{
			name:       "detail body",
			err:        NotAuthenticated(),
			wantStatus: http.StatusForbidden,
			wantBody:   map[string]string{"detail": "Not authenticated"},
		},
		{
			name:       "message body",
			err:        NotFound(),
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]string{"message": "Not found"},
		},
		{
			name:       "empty falls back to status text",
			err:        &Error{Kind: KindForbidden, Status: http.StatusForbidden},
			wantStatus: http.StatusForbidden,
			wantBody:   map[string]string{"detail": "Forbidden"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			WriteJSON(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestAs(t *testing.T) {
	t.Parallel()

	pe, ok := As(fmt.Errorf("outer: %w", NotFound()))
	require.True(t, ok)
	assert.Equal(t, KindNotFound, pe.Kind)

	_, ok = As(fmt.Errorf("plain error"))
	assert.False(t, ok)
}
