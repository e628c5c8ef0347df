package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripBasePath_EmptyIsNoop(t *testing.T) {
	var gotPath string
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	})

	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	StripBasePath("")(next).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "/collections", gotPath)
}

func TestStripBasePath_StripsMatchingPrefix(t *testing.T) {
	var gotPath string
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	})

	req := httptest.NewRequest(http.MethodGet, "/stac/collections", nil)
	StripBasePath("/stac")(next).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "/collections", gotPath)
}

func TestStripBasePath_RootAfterStrip(t *testing.T) {
	var gotPath string
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	})

	req := httptest.NewRequest(http.MethodGet, "/stac", nil)
	StripBasePath("/stac")(next).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "/", gotPath)
}

func TestStripBasePath_NonMatchingPrefixPassesThrough(t *testing.T) {
	var gotPath string
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	})

	req := httptest.NewRequest(http.MethodGet, "/other/collections", nil)
	StripBasePath("/stac")(next).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "/other/collections", gotPath)
}

func TestStripBasePath_TrimsTrailingSlashFromConfiguredPrefix(t *testing.T) {
	var gotPath string
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	})

	req := httptest.NewRequest(http.MethodGet, "/stac/collections", nil)
	StripBasePath("/stac/")(next).ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "/collections", gotPath)
}
