package filter

import (
	"fmt"

	"github.com/stacklok/stac-auth-proxy/pkg/cql2"
)

// scopeBasedBuilder is the simplest, safest default filter kind: it returns
// one of two fixed CQL2-text predicates depending on whether the caller's
// claims carry a configured scope (or, with no scope configured, whether the
// caller is authenticated at all).
type scopeBasedBuilder struct {
	scope       string // empty means "any authenticated caller"
	matchFilter string // CQL2-text applied when the scope/claim check passes
	elseFilter  string // CQL2-text applied otherwise; empty means unrestricted
}

// newScopeBasedBuilder builds a scopeBasedBuilder from its descriptor args:
//   - "scope" (optional string): the scope to check for in the token.
//   - "match_filter" (string, required): CQL2-text used when the check passes.
//   - "else_filter" (optional string): CQL2-text used otherwise.
func newScopeBasedBuilder(args map[string]any) (Builder, error) {
	matchFilter, _ := args["match_filter"].(string)
	if matchFilter == "" {
		return nil, fmt.Errorf("scope-based filter: match_filter is required")
	}
	scope, _ := args["scope"].(string)
	elseFilter, _ := args["else_filter"].(string)

	if _, err := cql2.ParseText(matchFilter); err != nil {
		return nil, fmt.Errorf("scope-based filter: invalid match_filter: %w", err)
	}
	if elseFilter != "" {
		if _, err := cql2.ParseText(elseFilter); err != nil {
			return nil, fmt.Errorf("scope-based filter: invalid else_filter: %w", err)
		}
	}

	return &scopeBasedBuilder{scope: scope, matchFilter: matchFilter, elseFilter: elseFilter}, nil
}

func (b *scopeBasedBuilder) Build(rc RequestContext) (cql2.Expression, error) {
	if b.hasAccess(rc.Claims) {
		return cql2.ParseText(b.matchFilter)
	}
	if b.elseFilter == "" {
		return cql2.Expression{}, nil
	}
	return cql2.ParseText(b.elseFilter)
}

func (b *scopeBasedBuilder) hasAccess(claims map[string]any) bool {
	if claims == nil {
		return false
	}
	if b.scope == "" {
		return true
	}
	raw, _ := claims["scope"].(string)
	for _, s := range splitScopes(raw) {
		if s == b.scope {
			return true
		}
	}
	return false
}

func splitScopes(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ' ' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}
