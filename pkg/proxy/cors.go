package proxy

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/stacklok/stac-auth-proxy/pkg/config"
)

// CORS applies the Access-Control-* response headers described by the
// configured CORSSettings, answering preflight OPTIONS requests directly
// and decorating the actual response otherwise.
func CORS(settings config.CORSSettings) func(http.Handler) http.Handler {
	allowAll := len(settings.AllowOrigins) == 1 && settings.AllowOrigins[0] == "*"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, settings.AllowOrigins, allowAll) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				if settings.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if len(settings.ExposeHeaders) > 0 {
					w.Header().Set("Access-Control-Expose-Headers", strings.Join(settings.ExposeHeaders, ", "))
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if len(settings.AllowMethods) > 0 {
					w.Header().Set("Access-Control-Allow-Methods", strings.Join(settings.AllowMethods, ", "))
				}
				if len(settings.AllowHeaders) > 0 {
					w.Header().Set("Access-Control-Allow-Headers", strings.Join(settings.AllowHeaders, ", "))
				}
				if settings.MaxAge > 0 {
					w.Header().Set("Access-Control-Max-Age", strconv.Itoa(settings.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string, allowAll bool) bool {
	if allowAll {
		return true
	}
	for _, a := range allowed {
		if a == origin {
			return true
		}
	}
	return false
}
