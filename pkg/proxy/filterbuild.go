package proxy

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/stacklok/stac-auth-proxy/pkg/auth/oidc"
	proxyerrors "github.com/stacklok/stac-auth-proxy/pkg/errors"
	"github.com/stacklok/stac-auth-proxy/pkg/filter"
	"github.com/stacklok/stac-auth-proxy/pkg/logger"
)

// FilterRoute pairs a path pattern with the Builder that should run for
// requests matching it (collections routes vs items/search routes).
type FilterRoute struct {
	Pattern *regexp.Regexp
	Builder filter.Builder
}

// BuildFilter returns the filter-build middleware: for each request whose
// path matches a configured filter route, it invokes that route's Builder
// with the constructed RequestContext and attaches the resulting CQL2
// expression via SetFilter.
//
// Timing: for GET the filter is built before the next stage runs.
// For methods with a body (POST/PUT/PATCH), the body is read and buffered
// here so the builder may reference it, then restored onto the request so
// later stages (filter-apply, transaction-validate, the reverse proxy) can
// still read it.
func BuildFilter(routes []FilterRoute, discovery *oidc.DiscoveryDocument) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := matchFilterRoute(routes, r.URL.Path)
			if route == nil {
				next.ServeHTTP(w, r)
				return
			}

			var body []byte
			if r.Body != nil && requestHasBody(r.Method) {
				var err error
				body, err = io.ReadAll(r.Body)
				if err != nil {
					logger.Warnf("proxy: failed to buffer request body for filter build: %v", err)
					proxyerrors.WriteJSON(w, proxyerrors.UpstreamUnavailable("failed to read request body"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			rc := filter.RequestContext{
				Path:         r.URL.Path,
				Method:       r.Method,
				Query:        r.URL.Query(),
				PathParams:   extractPathParams(r.URL.Path),
				Header:       r.Header,
				Body:         body,
				Claims:       Claims(r),
				OIDCMetadata: discovery,
			}

			expr, err := route.Builder.Build(rc)
			if err != nil {
				logger.Warnf("proxy: filter builder failed: %v", err)
				proxyerrors.WriteJSON(w, proxyerrors.InvalidFilter())
				return
			}
			if !expr.IsEmpty() {
				if err := expr.Validate(); err != nil {
					logger.Warnf("proxy: filter builder produced an invalid expression: %v", err)
					proxyerrors.WriteJSON(w, proxyerrors.InvalidFilter())
					return
				}
			}

			SetFilter(r, expr)
			next.ServeHTTP(w, r)
		})
	}
}

func matchFilterRoute(routes []FilterRoute, path string) *FilterRoute {
	for i, route := range routes {
		if route.Pattern.MatchString(path) {
			return &routes[i]
		}
	}
	return nil
}

// extractPathParams names the path segments of the STAC routes the filter
// builder attaches to, so templates and CEL expressions can reference
// collection_id / item_id without re-parsing the path.
func extractPathParams(path string) map[string]string {
	params := map[string]string{}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "collections" {
		params["collection_id"] = parts[1]
		if len(parts) >= 4 && parts[2] == "items" {
			params["item_id"] = parts[3]
		}
	}
	return params
}

func requestHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}
