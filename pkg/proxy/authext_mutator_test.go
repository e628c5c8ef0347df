package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/stac-auth-proxy/pkg/auth/oidc"
	"github.com/stacklok/stac-auth-proxy/pkg/classifier"
)

func TestAuthExtensionMutator_ShouldTransform(t *testing.T) {
	t.Parallel()
	m := &AuthExtensionMutator{}

	cases := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/collections", true},
		{"/collections/a", true},
		{"/collections/a/items", true},
		{"/collections/a/items/1", true},
		{"/search", true},
		{"/healthz", false},
		{"/api.html", false},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, c.path, nil)
		header := http.Header{"Content-Type": []string{"application/json"}}
		assert.Equal(t, c.want, m.ShouldTransform(req, header), c.path)
	}
}

func TestAuthExtensionMutator_AddsSchemesAndRefs(t *testing.T) {
	t.Parallel()

	private := []classifier.Rule{
		{Pattern: mustRePattern(t, `^/collections$`), Methods: []classifier.MethodRule{{Method: "POST", Scopes: []string{"collections:create"}}}},
	}
	c := classifier.New(nil, private, true)

	upstreamBase, err := url.Parse("http://upstream/api")
	require.NoError(t, err)

	m := &AuthExtensionMutator{
		Discovery: &oidc.DiscoveryDocument{
			Issuer:                "https://idp.example.com",
			AuthorizationEndpoint: "https://idp.example.com/authorize",
			TokenEndpoint:         "https://idp.example.com/token",
			ScopesSupported:       []string{"openid", "collections:create"},
		},
		OIDCDiscoveryURL: "https://idp.example.com/.well-known/openid-configuration",
		Classifier:       c,
		UpstreamBase:     upstreamBase,
	}

	doc := map[string]any{
		"links": []any{
			map[string]any{"rel": "root", "href": "http://upstream/api", "method": "GET"},
			map[string]any{"rel": "create-collection", "href": "http://upstream/api/collections", "method": "POST"},
		},
	}

	out, err := m.Transform(doc, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	result := out.(map[string]any)

	exts := result["stac_extensions"].([]any)
	assert.Contains(t, exts, authExtensionURL)

	schemes := result["auth:schemes"].(map[string]any)
	oidcScheme := schemes[SchemeName].(map[string]any)
	assert.Equal(t, "openIdConnect", oidcScheme["type"])

	links := result["links"].([]any)
	rootLink := links[0].(map[string]any)
	_, hasRefs := rootLink["auth:refs"]
	assert.False(t, hasRefs)

	createLink := links[1].(map[string]any)
	refs := createLink["auth:refs"].([]any)
	assert.Contains(t, refs, SchemeName)
}

func mustRePattern(t *testing.T, pattern string) *regexp.Regexp {
	t.Helper()
	re, err := classifier.CompilePattern(pattern)
	require.NoError(t, err)
	return re
}
