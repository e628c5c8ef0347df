package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/stac-auth-proxy/pkg/cql2"
)

func TestClaimsAndFilterRoundTrip(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	req = req.WithContext(withRequestState(req.Context()))

	assert.Nil(t, Claims(req))

	claims := map[string]any{"sub": "alice"}
	SetClaims(req, claims)
	assert.Equal(t, claims, Claims(req))

	expr, err := cql2.ParseText("true")
	require.NoError(t, err)
	SetFilter(req, expr)
	assert.Equal(t, expr.ToText(), Filter(req).ToText())
}

func TestStateFrom_FallsBackWhenMiddlewareNotInstalled(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	assert.Nil(t, Claims(req))

	// Setting without WithRequestState installed must not panic; it just
	// doesn't persist across separate stateFrom calls on a fresh context.
	assert.NotPanics(t, func() {
		SetClaims(req, map[string]any{"sub": "alice"})
	})
}

func TestWithRequestState_InstallsPerRequestState(t *testing.T) {
	var gotClaims map[string]any
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		SetClaims(r, map[string]any{"sub": "bob"})
		gotClaims = Claims(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	WithRequestState(next).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "bob", gotClaims["sub"])
}

func TestBaseURL_PrefersForwardedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	req.Header.Set("Forwarded", `proto=https;host="stac.example.com"`)
	req.Header.Set("X-Forwarded-Proto", "http")
	req.Header.Set("X-Forwarded-Host", "wrong.example.com")
	req = req.WithContext(withRequestState(req.Context()))

	assert.Equal(t, "https://stac.example.com", BaseURL(req))
}

func TestBaseURL_FallsBackToXForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "stac.example.com")
	req = req.WithContext(withRequestState(req.Context()))

	assert.Equal(t, "https://stac.example.com", BaseURL(req))
}

func TestBaseURL_FallsBackToHostWhenNoForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	req.Host = "stac.internal"
	req = req.WithContext(withRequestState(req.Context()))

	assert.Equal(t, "http://stac.internal", BaseURL(req))
}

func TestParseForwarded_UsesFirstHopOnly(t *testing.T) {
	scheme, host := parseForwarded(`proto=https;host=first.example.com, proto=http;host=second.example.com`)
	assert.Equal(t, "https", scheme)
	assert.Equal(t, "first.example.com", host)
}
