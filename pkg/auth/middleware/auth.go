// Package middleware wires the token validator and endpoint classifier into
// the HTTP auth-enforcement stage of the proxy's request pipeline.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/stacklok/stac-auth-proxy/pkg/auth"
	"github.com/stacklok/stac-auth-proxy/pkg/auth/token"
	"github.com/stacklok/stac-auth-proxy/pkg/classifier"
	proxyerrors "github.com/stacklok/stac-auth-proxy/pkg/errors"
	"github.com/stacklok/stac-auth-proxy/pkg/logger"
	"github.com/stacklok/stac-auth-proxy/pkg/proxy"
)

// RequireAuth returns the auth-enforcement middleware: it classifies every
// request by (path, method), lets public requests without an Authorization
// header through untouched, and for every other request validates the
// bearer token and the route's required scopes before attaching the
// caller's Identity and claims to the request context.
func RequireAuth(validator *token.Validator, c *classifier.Classifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			match := c.Classify(r.URL.Path, r.Method)

			authHeader := r.Header.Get("Authorization")
			if !match.IsPrivate && authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			// A public endpoint with a bearer token still gets the token
			// validated and its claims attached — filter builders (e.g. a
			// template keyed on "claims is none") distinguish anonymous
			// from authenticated callers even where no scope is required.
			if authHeader == "" {
				// Only reachable for private endpoints: missing header when
				// auth is required is the 403 case, not the 401 one.
				writeUnauthenticated(w, validator)
				return
			}
			bearer, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				writeInvalidToken(w, validator, "Malformed Authorization header")
				return
			}

			claims, err := validator.ValidateToken(r.Context(), bearer)
			if err != nil {
				logger.Debugf("token validation failed: %v", err)
				writeInvalidToken(w, validator, err.Error())
				return
			}

			for _, scope := range match.RequiredScopes {
				if !token.HasScope(claims, scope) {
					writeMissingScope(w, validator, scope)
					return
				}
			}

			identity, err := auth.NewIdentity(claims, bearer)
			if err != nil {
				writeInvalidToken(w, validator, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), token.ClaimsContextKey{}, claims)
			ctx = auth.WithIdentity(ctx, identity)
			r = r.WithContext(ctx)
			proxy.SetClaims(r, map[string]any(claims))
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthenticated(w http.ResponseWriter, validator *token.Validator) {
	w.Header().Set("WWW-Authenticate", buildWWWAuthenticate(validator, false, "", ""))
	proxyerrors.WriteJSON(w, proxyerrors.NotAuthenticated())
}

func writeInvalidToken(w http.ResponseWriter, validator *token.Validator, reason string) {
	w.Header().Set("WWW-Authenticate", buildWWWAuthenticate(validator, true, "", reason))
	proxyerrors.WriteJSON(w, proxyerrors.InvalidToken(reason))
}

func writeMissingScope(w http.ResponseWriter, validator *token.Validator, missingScope string) {
	w.Header().Set("WWW-Authenticate", buildWWWAuthenticate(validator, true, missingScope, "insufficient_scope"))
	proxyerrors.WriteJSON(w, proxyerrors.MissingScope())
}

// buildWWWAuthenticate builds an RFC 6750 / RFC 9728 compliant
// WWW-Authenticate header value. scope, when non-empty, is reported per
// RFC 6750 §3 so the caller knows which permission it is missing.
func buildWWWAuthenticate(validator *token.Validator, includeError bool, scope, errDescription string) string {
	var parts []string

	parts = append(parts, fmt.Sprintf(`realm="%s"`, escapeQuotes(validator.JWKSURL())))

	if resourceURL := validator.ResourceURL(); resourceURL != "" {
		parts = append(parts, fmt.Sprintf(`resource_metadata="%s"`, escapeQuotes(resourceURL)))
	}

	if includeError {
		if scope != "" {
			parts = append(parts, `error="insufficient_scope"`, fmt.Sprintf(`scope="%s"`, escapeQuotes(scope)))
		} else {
			parts = append(parts, `error="invalid_token"`)
		}
		if errDescription != "" {
			parts = append(parts, fmt.Sprintf(`error_description="%s"`, escapeQuotes(errDescription)))
		}
	}
	return "Bearer " + strings.Join(parts, ", ")
}

// escapeQuotes escapes a string for use in a quoted-string header context.
func escapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
