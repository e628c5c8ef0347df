package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/stacklok/stac-auth-proxy/pkg/logger"
)

// RFC9728AuthInfo represents the OAuth Protected Resource metadata defined
// by RFC 9728.
type RFC9728AuthInfo struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	JWKSURI                string   `json:"jwks_uri"`
	ScopesSupported        []string `json:"scopes_supported"`
}

// NewAuthInfoHandler creates a handler that serves RFC 9728 compliant OAuth
// Protected Resource metadata at the well-known discovery path.
func NewAuthInfoHandler(issuer, jwksURL, resourceURL string, scopes []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if resourceURL == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		supportedScopes := scopes
		if len(supportedScopes) == 0 {
			supportedScopes = []string{"openid"}
		}

		authInfo := RFC9728AuthInfo{
			Resource:               resourceURL,
			AuthorizationServers:   []string{issuer},
			BearerMethodsSupported: []string{"header"},
			JWKSURI:                jwksURL,
			ScopesSupported:        supportedScopes,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(authInfo); err != nil {
			logger.Errorf("failed to encode OAuth discovery response: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	})
}
