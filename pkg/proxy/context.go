// Package proxy implements the request pipeline: the ordered middleware
// chain, the streaming JSON response mutators layered on it, and the
// reverse proxy that forwards to the upstream STAC API. Middleware order is
// a correctness contract, not an implementation detail — see buildHandler
// in cmd/stac-auth-proxy/app/run.go.
package proxy

import (
	"context"
	"net/http"
	"strings"

	"github.com/stacklok/stac-auth-proxy/pkg/cql2"
)

// requestStateKey is the context key for the per-request state carried
// alongside each in-flight request, cleared automatically
// when the request completes since it lives only in that request's
// context.Context.
type requestStateKey struct{}

// requestState holds the mutable per-request fields the pipeline stages
// attach to as they run: the caller's claims, the CQL2 filter bound to this
// request, and the client-visible base URL used to rewrite hyperlinks.
type requestState struct {
	claims  map[string]any
	filter  cql2.Expression
	baseURL string
}

// withRequestState attaches a fresh requestState to ctx.
func withRequestState(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestStateKey{}, &requestState{})
}

func stateFrom(r *http.Request) *requestState {
	s, _ := r.Context().Value(requestStateKey{}).(*requestState)
	if s == nil {
		// Pipeline stages below always run after WithRequestState; a nil
		// state means a stage was wired outside the pipeline (e.g. a unit
		// test exercising a stage directly), so fall back to a scratch one
		// rather than panicking on every stage under test.
		return &requestState{}
	}
	return s
}

// SetClaims attaches the validated token claims for req (nil for anonymous
// callers).
func SetClaims(r *http.Request, claims map[string]any) {
	stateFrom(r).claims = claims
}

// Claims returns the claims attached to req, if any.
func Claims(r *http.Request) map[string]any {
	return stateFrom(r).claims
}

// SetFilter attaches the CQL2 expression built for req.
func SetFilter(r *http.Request, expr cql2.Expression) {
	stateFrom(r).filter = expr
}

// Filter returns the CQL2 expression attached to req, the zero Expression
// if filter-build hasn't run or produced no restriction.
func Filter(r *http.Request) cql2.Expression {
	return stateFrom(r).filter
}

// BaseURL returns the client-visible base URL derived from
// Forwarded/X-Forwarded-* headers, falling back to the Host header.
func BaseURL(r *http.Request) string {
	if s := stateFrom(r); s.baseURL != "" {
		return s.baseURL
	}
	return deriveBaseURL(r)
}

// deriveBaseURL derives the client-visible base URL: prefer the standard
// Forwarded header, then the legacy X-Forwarded-* trio, then fall back to
// the request's own Host/TLS state.
func deriveBaseURL(r *http.Request) string {
	scheme, host := "", ""

	if fwd := r.Header.Get("Forwarded"); fwd != "" {
		scheme, host = parseForwarded(fwd)
	}
	if host == "" {
		host = r.Header.Get("X-Forwarded-Host")
	}
	if scheme == "" {
		scheme = r.Header.Get("X-Forwarded-Proto")
	}
	if host == "" {
		host = r.Host
	}
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + host
}

// parseForwarded extracts proto and host from a single RFC 7239 Forwarded
// header value. Only the first forwarded-pair is consulted, matching the
// "client-visible" semantics the base URL needs (the outermost hop).
func parseForwarded(value string) (scheme, host string) {
	first := value
	if i := strings.IndexByte(value, ','); i >= 0 {
		first = value[:i]
	}
	for _, part := range strings.Split(first, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		switch key {
		case "proto":
			scheme = val
		case "host":
			host = val
		}
	}
	return scheme, host
}

// WithRequestState is exported for cmd/stac-auth-proxy to install at the
// very front of the chain, before any stage below reads or writes state.
func WithRequestState(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(withRequestState(r.Context())))
	})
}
