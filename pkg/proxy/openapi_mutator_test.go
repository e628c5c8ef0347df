package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/stac-auth-proxy/pkg/classifier"
)

func TestOpenAPIMutator_MarksOnlyPrivateOperations(t *testing.T) {
	t.Parallel()

	private := []classifier.Rule{
		{Pattern: mustRePattern(t, `^/collections$`), Methods: []classifier.MethodRule{{Method: "POST", Scopes: []string{"collections:create"}}}},
	}
	c := classifier.New(nil, private, true)

	m := &OpenAPIMutator{
		SpecPath:         "/openapi.json",
		OIDCDiscoveryURL: "https://idp.example.com/.well-known/openid-configuration",
		Classifier:       c,
	}

	spec := map[string]any{
		"paths": map[string]any{
			"/collections": map[string]any{
				"get":  map[string]any{},
				"post": map[string]any{},
			},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	header := http.Header{"Content-Type": []string{"application/json"}}
	require.True(t, m.ShouldTransform(req, header))

	out, err := m.Transform(spec, req)
	require.NoError(t, err)
	result := out.(map[string]any)

	schemes := result["components"].(map[string]any)["securitySchemes"].(map[string]any)
	assert.Contains(t, schemes, SchemeName)

	paths := result["paths"].(map[string]any)["/collections"].(map[string]any)
	postOp := paths["post"].(map[string]any)
	getOp := paths["get"].(map[string]any)

	postSecurity := postOp["security"].([]any)
	require.Len(t, postSecurity, 1)
	entry := postSecurity[0].(map[string]any)
	assert.ElementsMatch(t, []any{"collections:create"}, entry[SchemeName])

	_, getHasSecurity := getOp["security"]
	assert.False(t, getHasSecurity)
}

func TestOpenAPIMutator_IgnoresOtherPaths(t *testing.T) {
	t.Parallel()
	m := &OpenAPIMutator{SpecPath: "/openapi.json"}
	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	header := http.Header{"Content-Type": []string{"application/json"}}
	assert.False(t, m.ShouldTransform(req, header))
}
