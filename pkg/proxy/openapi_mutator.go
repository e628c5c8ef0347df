package proxy

import (
	"net/http"
	"strings"

	"github.com/stacklok/stac-auth-proxy/pkg/classifier"
)

// SchemeName is the OIDC security scheme name published into the OpenAPI
// document and referenced from `auth:schemes`/`auth:refs` in the
// Authentication Extension mutator.
const SchemeName = "oidc"

// OpenAPIMutator rewrites the served OpenAPI document: it matches the single
// configured OpenAPI spec path, adds an OIDC securityScheme, and marks every
// private (path, method) operation with a `security` requirement naming it.
type OpenAPIMutator struct {
	SpecPath         string
	OIDCDiscoveryURL string
	Classifier       *classifier.Classifier
}

func (m *OpenAPIMutator) ShouldTransform(r *http.Request, header http.Header) bool {
	if m.SpecPath == "" || r.URL.Path != m.SpecPath {
		return false
	}
	return isJSONContentType(header.Get("Content-Type"))
}

func (m *OpenAPIMutator) Transform(value any, _ *http.Request) (any, error) {
	spec, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}

	m.addSecurityScheme(spec)
	m.markPrivateOperations(spec)
	return spec, nil
}

func (m *OpenAPIMutator) addSecurityScheme(spec map[string]any) {
	components, _ := spec["components"].(map[string]any)
	if components == nil {
		components = map[string]any{}
		spec["components"] = components
	}
	schemes, _ := components["securitySchemes"].(map[string]any)
	if schemes == nil {
		schemes = map[string]any{}
		components["securitySchemes"] = schemes
	}
	schemes[SchemeName] = map[string]any{
		"type":             "openIdConnect",
		"openIdConnectUrl": m.OIDCDiscoveryURL,
	}
}

func (m *OpenAPIMutator) markPrivateOperations(spec map[string]any) {
	paths, _ := spec["paths"].(map[string]any)
	for path, rawOps := range paths {
		ops, ok := rawOps.(map[string]any)
		if !ok {
			continue
		}
		for method, rawOp := range ops {
			if !isHTTPMethodKey(method) {
				continue
			}
			op, ok := rawOp.(map[string]any)
			if !ok {
				continue
			}
			match := m.Classifier.Classify(path, strings.ToUpper(method))
			if !match.IsPrivate {
				continue
			}
			security, _ := op["security"].([]any)
			security = append(security, map[string]any{SchemeName: toAnySlice(match.RequiredScopes)})
			op["security"] = security
		}
	}
}

func isHTTPMethodKey(key string) bool {
	switch strings.ToLower(key) {
	case "get", "put", "post", "delete", "options", "head", "patch", "trace":
		return true
	default:
		return false
	}
}

func toAnySlice(scopes []string) []any {
	out := make([]any, len(scopes))
	for i, s := range scopes {
		out[i] = s
	}
	return out
}
