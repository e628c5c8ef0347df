// Package auth holds the authenticated-caller model shared by the rest of
// the proxy: the Identity type, its context plumbing, and the JWT validator
// that produces it.
package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityContextKey is the key used to store Identity in the request
// context. Using an empty struct as the key prevents collisions with other
// packages' context keys.
type IdentityContextKey struct{}

// WithIdentity stores an Identity in the context. A nil identity is not
// attached: ctx is returned unchanged, so "no identity" is always
// represented by absence, never by a stored nil, and an anonymous caller
// on a public endpoint looks the same as one for which WithIdentity was
// never called.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, IdentityContextKey{}, identity)
}

// IdentityFromContext retrieves an Identity from the context. Returns the
// identity and true if present, nil and false otherwise (an anonymous
// caller).
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey{}).(*Identity)
	return identity, ok
}

// ClaimsFromContext retrieves the raw claims map from the Identity in the
// request context, if any. This is the shape the filter builder's template
// and CEL contexts bind as "claims".
func ClaimsFromContext(ctx context.Context) (map[string]any, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity == nil || identity.Claims == nil {
		return nil, false
	}
	return identity.Claims, true
}

// NewIdentity converts validated JWT claims into an Identity for the
// authentication middleware. It requires the 'sub' claim per OIDC Core 1.0
// §5.1.
func NewIdentity(claims jwt.MapClaims, token string) (*Identity, error) {
	return claimsToIdentity(claims, token)
}

// claimsToIdentity converts validated JWT claims into an Identity. It
// requires the 'sub' claim per OIDC Core 1.0 §5.1. The raw token is carried
// for pass-through scenarios but never logged or serialized.
func claimsToIdentity(claims jwt.MapClaims, token string) (*Identity, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, errors.New("missing or invalid 'sub' claim (required by OIDC Core 1.0 §5.1)")
	}

	identity := &Identity{
		Subject:   sub,
		Claims:    claims,
		Token:     token,
		TokenType: "Bearer",
	}

	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}

	return identity, nil
}
