// Package auth provides authentication and authorization utilities.
package auth

import (
	"net/http"
	"strings"
)

// WellKnownOAuthResourcePath is the RFC 9728 standard path for OAuth
// Protected Resource metadata. Per RFC 9728 §3, this endpoint and any
// subpaths under it must be accessible without authentication so OAuth
// clients can discover how to obtain a token for the proxied STAC API.
const WellKnownOAuthResourcePath = "/.well-known/oauth-protected-resource"

// NewWellKnownHandler routes requests under the /.well-known/ path space:
// the protected-resource metadata path (and its subpaths) go to
// authInfoHandler, everything else is a 404. The proxy mounts this ahead of
// the auth-enforcing pipeline so discovery never requires a token.
//
// If authInfoHandler is nil, no handler is returned and the caller skips
// the mount entirely.
func NewWellKnownHandler(authInfoHandler http.Handler) http.Handler {
	if authInfoHandler == nil {
		return nil
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, WellKnownOAuthResourcePath) {
			authInfoHandler.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}
