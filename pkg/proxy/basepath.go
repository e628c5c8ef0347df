package proxy

import (
	"net/http"
	"strings"
)

// StripBasePath trims a configured prefix from the request path before any
// other middleware sees it. This is the only stage that must run ahead of
// auth enforcement; an empty basePath makes this a no-op.
func StripBasePath(basePath string) func(http.Handler) http.Handler {
	basePath = strings.TrimSuffix(basePath, "/")
	return func(next http.Handler) http.Handler {
		if basePath == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rest, ok := strings.CutPrefix(r.URL.Path, basePath); ok {
				if rest == "" {
					rest = "/"
				}
				r.URL.Path = rest
				if r.URL.RawPath != "" {
					if rawRest, ok := strings.CutPrefix(r.URL.RawPath, basePath); ok {
						r.URL.RawPath = rawRest
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
