package filter

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/stacklok/stac-auth-proxy/pkg/auth/oidc"
	"github.com/stacklok/stac-auth-proxy/pkg/cql2"
)

// celBuilder evaluates a compiled CEL expression against the request context
// and expects a CQL2-text string as its result; any other result type,
// including a CEL map or list, is an error. Compilation happens once at
// construction; Build only evaluates.
//
// The environment only declares the three variables the filter contract
// promises (req, claims, oidc_metadata) and registers no custom functions,
// so expressions have no path to the filesystem or network: the capability
// boundary is the absence of bindings, not a runtime check.
type celBuilder struct {
	program cel.Program
}

// newCELBuilder builds a celBuilder from its descriptor args:
//   - "expression" (string, required): the CEL source.
func newCELBuilder(args map[string]any) (Builder, error) {
	expr, _ := args["expression"].(string)
	if expr == "" {
		return nil, fmt.Errorf("cel filter: expression is required")
	}

	env, err := cel.NewEnv(
		cel.Variable("req", cel.DynType),
		cel.Variable("claims", cel.DynType),
		cel.Variable("oidc_metadata", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel filter: failed to build environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel filter: failed to compile expression: %w", issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel filter: failed to build program: %w", err)
	}

	return &celBuilder{program: program}, nil
}

func (b *celBuilder) Build(rc RequestContext) (cql2.Expression, error) {
	out, _, err := b.program.Eval(map[string]any{
		"req":           requestContextToCEL(rc),
		"claims":        claimsToCEL(rc.Claims),
		"oidc_metadata": oidcMetadataToCEL(rc.OIDCMetadata),
	})
	if err != nil {
		return cql2.Expression{}, fmt.Errorf("cel filter: evaluation failed: %w", err)
	}

	result, ok := out.Value().(string)
	if !ok {
		return cql2.Expression{}, fmt.Errorf("cel filter: expression must produce a string, got %T", out.Value())
	}
	if result == "" {
		return cql2.Expression{}, nil
	}
	return cql2.ParseText(result)
}

func requestContextToCEL(rc RequestContext) map[string]any {
	query := map[string]any{}
	for k, v := range rc.Query {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	pathParams := map[string]any{}
	for k, v := range rc.PathParams {
		pathParams[k] = v
	}
	return map[string]any{
		"path":         rc.Path,
		"method":       rc.Method,
		"query_params": query,
		"path_params":  pathParams,
		"body":         string(rc.Body),
	}
}

func claimsToCEL(claims map[string]any) any {
	if claims == nil {
		return nil
	}
	out := make(map[string]any, len(claims))
	for k, v := range claims {
		out[k] = v
	}
	return out
}

func oidcMetadataToCEL(doc *oidc.DiscoveryDocument) any {
	if doc == nil {
		return nil
	}
	return map[string]any{
		"issuer":                 doc.Issuer,
		"authorization_endpoint": doc.AuthorizationEndpoint,
		"token_endpoint":         doc.TokenEndpoint,
		"jwks_uri":               doc.JWKSURI,
		"scopes_supported":       doc.ScopesSupported,
	}
}
