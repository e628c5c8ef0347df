package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkMutator_RewritesUpstreamHost(t *testing.T) {
	t.Parallel()

	upstream, err := url.Parse("http://upstream:8080/api")
	require.NoError(t, err)
	m := &LinkMutator{UpstreamBase: upstream, RootPath: "/proxy"}

	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	req.Host = "api.example.com"

	doc := map[string]any{
		"links": []any{
			map[string]any{"rel": "self", "href": "http://upstream:8080/api/collections"},
		},
	}

	out, err := m.Transform(doc, req)
	require.NoError(t, err)

	links := out.(map[string]any)["links"].([]any)
	href := links[0].(map[string]any)["href"].(string)
	assert.Equal(t, "http://api.example.com/proxy/collections", href)
}

func TestLinkMutator_LeavesUnrelatedHostAlone(t *testing.T) {
	t.Parallel()

	upstream, err := url.Parse("http://upstream:8080/api")
	require.NoError(t, err)
	m := &LinkMutator{UpstreamBase: upstream}

	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	req.Host = "api.example.com"

	doc := map[string]any{
		"links": []any{
			map[string]any{"rel": "external", "href": "https://unrelated.example.org/thing"},
		},
	}

	out, err := m.Transform(doc, req)
	require.NoError(t, err)

	links := out.(map[string]any)["links"].([]any)
	href := links[0].(map[string]any)["href"].(string)
	assert.Equal(t, "https://unrelated.example.org/thing", href)
}

func TestLinkMutator_WalksNestedFeaturesAndCollections(t *testing.T) {
	t.Parallel()

	upstream, err := url.Parse("http://upstream:8080/api")
	require.NoError(t, err)
	m := &LinkMutator{UpstreamBase: upstream}

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	req.Host = "api.example.com"

	doc := map[string]any{
		"features": []any{
			map[string]any{
				"links": []any{
					map[string]any{"rel": "self", "href": "http://upstream:8080/api/collections/a/items/1"},
				},
			},
		},
	}

	out, err := m.Transform(doc, req)
	require.NoError(t, err)

	feature := out.(map[string]any)["features"].([]any)[0].(map[string]any)
	href := feature["links"].([]any)[0].(map[string]any)["href"].(string)
	assert.Equal(t, "http://api.example.com/collections/a/items/1", href)
}

func TestLinkMutator_RewriteIsIdempotent(t *testing.T) {
	t.Parallel()

	upstream, err := url.Parse("http://upstream:8080/api")
	require.NoError(t, err)
	m := &LinkMutator{UpstreamBase: upstream, RootPath: "/proxy"}

	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	req.Host = "api.example.com"

	doc := map[string]any{
		"links": []any{
			map[string]any{"rel": "self", "href": "http://upstream:8080/api/collections"},
		},
	}

	first, err := m.Transform(doc, req)
	require.NoError(t, err)
	second, err := m.Transform(first, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLinkMutator_ElidesStandardPort(t *testing.T) {
	t.Parallel()

	upstream, err := url.Parse("https://upstream/api")
	require.NoError(t, err)
	m := &LinkMutator{UpstreamBase: upstream}

	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	req.Host = "api.example.com:443"
	req.Header.Set("X-Forwarded-Proto", "https")

	doc := map[string]any{
		"links": []any{
			map[string]any{"rel": "self", "href": "https://upstream/api/collections"},
		},
	}

	out, err := m.Transform(doc, req)
	require.NoError(t, err)
	links := out.(map[string]any)["links"].([]any)
	href := links[0].(map[string]any)["href"].(string)
	assert.NotContains(t, href, ":443")
}
