package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/stacklok/stac-auth-proxy/pkg/cql2"
	proxyerrors "github.com/stacklok/stac-auth-proxy/pkg/errors"
	"github.com/stacklok/stac-auth-proxy/pkg/logger"
)

// FilterApplyConfig names the two route shapes the applier distinguishes:
// single-resource endpoints, whose response is checked against the filter
// after the fact, and list/search endpoints, whose querystring or JSON body
// the filter is injected into before the request is forwarded.
type FilterApplyConfig struct {
	SingleResourcePatterns []*regexp.Regexp
	ListPatterns           []*regexp.Regexp
}

// ApplyFilter returns the filter-apply middleware. It requires the CQL2
// expression attached by BuildFilter; a request with no filter (off a
// configured route, or one whose builder returned no restriction) passes
// through untouched.
func ApplyFilter(cfg FilterApplyConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expr := Filter(r)
			if expr.IsEmpty() {
				next.ServeHTTP(w, r)
				return
			}

			switch {
			case matchesAnyPattern(cfg.SingleResourcePatterns, r.URL.Path) && r.Method == http.MethodGet:
				applyToSingleResource(w, r, next, expr)
			case matchesAnyPattern(cfg.ListPatterns, r.URL.Path):
				applyToList(w, r, next, expr)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func matchesAnyPattern(patterns []*regexp.Regexp, path string) bool {
	for _, p := range patterns {
		if p.MatchString(path) {
			return true
		}
	}
	return false
}

// applyToSingleResource lets the request through untouched and evaluates
// the filter against the parsed JSON response; a non-match is rewritten to
// 404 so filtered-out and genuinely-absent resources are indistinguishable
// to the caller.
func applyToSingleResource(w http.ResponseWriter, r *http.Request, next http.Handler, expr cql2.Expression) {
	rec := newCapturingWriter()
	next.ServeHTTP(rec, r)

	if rec.status < 200 || rec.status >= 300 || !isJSONContentType(rec.Header().Get("Content-Type")) {
		rec.flushTo(w)
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(rec.body.Bytes(), &doc); err != nil {
		rec.flushTo(w)
		return
	}

	matches, err := expr.Matches(doc)
	if err != nil {
		logger.Warnf("proxy: filter evaluation failed: %v", err)
		rec.flushTo(w)
		return
	}
	if !matches {
		proxyerrors.WriteJSON(w, proxyerrors.NotFound())
		return
	}
	rec.flushTo(w)
}

// applyToList injects expr into the querystring (GET) or the JSON request
// body (POST/PUT/PATCH), combined by AND with any filter the caller already
// supplied, then forwards the (possibly rewritten) request.
func applyToList(w http.ResponseWriter, r *http.Request, next http.Handler, expr cql2.Expression) {
	if r.Method == http.MethodGet {
		if err := injectIntoQuery(r, expr); err != nil {
			logger.Warnf("proxy: failed to inject filter into querystring: %v", err)
			proxyerrors.WriteJSON(w, proxyerrors.InvalidFilter())
			return
		}
		next.ServeHTTP(w, r)
		return
	}

	if err := injectIntoBody(r, expr); err != nil {
		logger.Warnf("proxy: failed to inject filter into request body: %v", err)
		proxyerrors.WriteJSON(w, proxyerrors.InvalidFilter())
		return
	}
	next.ServeHTTP(w, r)
}

// injectIntoQuery combines expr with any existing `filter` querystring
// parameter by AND. The existing filter-lang (default cql2-text) is
// preserved, and the combined expression is serialized in that dialect.
func injectIntoQuery(r *http.Request, expr cql2.Expression) error {
	q := r.URL.Query()
	lang := q.Get("filter-lang")
	if lang == "" {
		lang = "cql2-text"
	}

	combined := expr
	if existing := q.Get("filter"); existing != "" {
		var existingExpr cql2.Expression
		var err error
		if lang == "cql2-json" {
			existingExpr, err = cql2.ParseJSON([]byte(existing))
		} else {
			existingExpr, err = cql2.ParseText(existing)
		}
		if err != nil {
			return fmt.Errorf("cql2: failed to parse existing filter: %w", err)
		}
		combined = existingExpr.CombineAnd(expr)
	}

	// The combined expression is serialized in whatever dialect the caller
	// already declared.
	if lang == "cql2-json" {
		asJSON, err := combined.ToJSON()
		if err != nil {
			return fmt.Errorf("cql2: failed to serialize combined filter: %w", err)
		}
		encoded, err := json.Marshal(asJSON)
		if err != nil {
			return fmt.Errorf("cql2: failed to encode combined filter: %w", err)
		}
		q.Set("filter", string(encoded))
	} else {
		q.Set("filter", combined.ToText())
	}
	q.Set("filter-lang", lang)
	r.URL.RawQuery = q.Encode()
	return nil
}

// injectIntoBody combines expr with any existing `filter` key in the JSON
// request body by AND, defaulting filter-lang to cql2-json, and
// recomputes Content-Length for the rewritten body.
func injectIntoBody(r *http.Request, expr cql2.Expression) error {
	if r.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}

	var doc map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			// Not a JSON body; forward unchanged rather than
			// failing a request the filter builder didn't expect a body on.
			r.Body = io.NopCloser(bytes.NewReader(raw))
			r.ContentLength = int64(len(raw))
			return nil
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}

	combined := expr
	if existingRaw, ok := doc["filter"]; ok {
		existingJSON, err := json.Marshal(existingRaw)
		if err == nil {
			if existingExpr, err := cql2.ParseJSON(existingJSON); err == nil {
				combined = existingExpr.CombineAnd(expr)
			}
		}
	}

	asJSON, err := combined.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize combined filter: %w", err)
	}
	doc["filter"] = asJSON
	if _, ok := doc["filter-lang"]; !ok {
		doc["filter-lang"] = "cql2-json"
	}

	newBody, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to re-serialize request body: %w", err)
	}

	r.Body = io.NopCloser(bytes.NewReader(newBody))
	r.ContentLength = int64(len(newBody))
	r.Header.Set("Content-Length", fmt.Sprintf("%d", len(newBody)))
	return nil
}

func isJSONContentType(contentType string) bool {
	return len(contentType) >= len("application/json") && contentType[:len("application/json")] == "application/json"
}

// capturingWriter buffers a handler's response instead of writing it
// through immediately, so applyToSingleResource can inspect the body before
// deciding whether the caller is allowed to see it.
type capturingWriter struct {
	header    http.Header
	body      bytes.Buffer
	status    int
	wroteHead bool
}

func newCapturingWriter() *capturingWriter {
	return &capturingWriter{header: make(http.Header), status: http.StatusOK}
}

func (c *capturingWriter) Header() http.Header { return c.header }

func (c *capturingWriter) Write(b []byte) (int, error) {
	if !c.wroteHead {
		c.WriteHeader(http.StatusOK)
	}
	return c.body.Write(b)
}

func (c *capturingWriter) WriteHeader(status int) {
	if c.wroteHead {
		return
	}
	c.status = status
	c.wroteHead = true
}

func (c *capturingWriter) flushTo(w http.ResponseWriter) {
	for k, v := range c.header {
		w.Header()[k] = v
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", c.body.Len()))
	w.WriteHeader(c.status)
	_, _ = w.Write(c.body.Bytes())
}
