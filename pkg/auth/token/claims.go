// Package token validates bearer JWTs against a JWKS and exposes their
// claims.
package token

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimsContextKey is the key the validation middleware uses to stash the
// raw claims map in the request context, ahead of building an Identity.
type ClaimsContextKey struct{}

// GetClaimsFromContext retrieves the raw JWT claims from the request
// context, if a token was validated for this request.
func GetClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(ClaimsContextKey{}).(jwt.MapClaims)
	return claims, ok
}

// ScopesFromClaims splits the space-separated "scope" claim into individual
// scope strings, per RFC 6749 §3.3.
func ScopesFromClaims(claims jwt.MapClaims) []string {
	raw, ok := claims["scope"].(string)
	if !ok || raw == "" {
		return nil
	}
	var scopes []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ' ' {
			if i > start {
				scopes = append(scopes, raw[start:i])
			}
			start = i + 1
		}
	}
	return scopes
}

// HasScope reports whether required appears verbatim among the token's
// scopes.
func HasScope(claims jwt.MapClaims, required string) bool {
	for _, s := range ScopesFromClaims(claims) {
		if s == required {
			return true
		}
	}
	return false
}
