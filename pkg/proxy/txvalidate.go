package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/stacklok/stac-auth-proxy/pkg/cql2"
	proxyerrors "github.com/stacklok/stac-auth-proxy/pkg/errors"
)

// TransactionValidatorConfig configures ValidateTransaction.
type TransactionValidatorConfig struct {
	// Patterns names the write endpoints this stage governs:
	// /collections and /collections/{id}/items.
	Patterns []*regexp.Regexp

	// Upstream is the upstream STAC API base URL, used to fetch current
	// resource state for PUT/PATCH/DELETE.
	Upstream *url.URL

	// Client performs the upstream GET used to read current state.
	Client *http.Client
}

// ValidateTransaction returns the transaction-validate middleware: writes
// that would move a resource out of the caller's allowed set, or mutate a
// resource the caller should not see, are rejected before they reach the
// upstream.
func ValidateTransaction(cfg TransactionValidatorConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expr := Filter(r)
			if expr.IsEmpty() || !matchesAnyPattern(cfg.Patterns, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			switch r.Method {
			case http.MethodPost:
				validateCreate(w, r, next, expr)
			case http.MethodPut:
				validateReplace(w, r, next, expr, cfg)
			case http.MethodPatch:
				validatePatch(w, r, next, expr, cfg)
			case http.MethodDelete:
				validateDelete(w, r, next, expr, cfg)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func validateCreate(w http.ResponseWriter, r *http.Request, next http.Handler, expr cql2.Expression) {
	body, doc, err := readJSONBody(r)
	if err != nil {
		proxyerrors.WriteJSON(w, proxyerrors.UpstreamUnavailable("failed to read request body"))
		return
	}
	restoreBody(r, body)

	matches, err := expr.Matches(doc)
	if err != nil || !matches {
		proxyerrors.WriteJSON(w, proxyerrors.Forbidden("Resource is outside the caller's allowed set"))
		return
	}
	next.ServeHTTP(w, r)
}

func validateReplace(w http.ResponseWriter, r *http.Request, next http.Handler, expr cql2.Expression, cfg TransactionValidatorConfig) {
	current, err := fetchCurrentState(r.Context(), r.URL.Path, cfg)
	if err != nil {
		if isNotFoundErr(err) {
			proxyerrors.WriteJSON(w, proxyerrors.NotFound())
			return
		}
		proxyerrors.WriteJSON(w, proxyerrors.UpstreamUnavailable(err.Error()))
		return
	}
	if ok, _ := expr.Matches(current); !ok {
		proxyerrors.WriteJSON(w, proxyerrors.NotFound())
		return
	}

	body, doc, err := readJSONBody(r)
	if err != nil {
		proxyerrors.WriteJSON(w, proxyerrors.UpstreamUnavailable("failed to read request body"))
		return
	}
	restoreBody(r, body)

	if ok, _ := expr.Matches(doc); !ok {
		proxyerrors.WriteJSON(w, proxyerrors.Forbidden("Replacement would move the resource outside the caller's allowed set"))
		return
	}
	next.ServeHTTP(w, r)
}

func validatePatch(w http.ResponseWriter, r *http.Request, next http.Handler, expr cql2.Expression, cfg TransactionValidatorConfig) {
	current, err := fetchCurrentState(r.Context(), r.URL.Path, cfg)
	if err != nil {
		if isNotFoundErr(err) {
			proxyerrors.WriteJSON(w, proxyerrors.NotFound())
			return
		}
		proxyerrors.WriteJSON(w, proxyerrors.UpstreamUnavailable(err.Error()))
		return
	}
	if ok, _ := expr.Matches(current); !ok {
		proxyerrors.WriteJSON(w, proxyerrors.NotFound())
		return
	}

	body, patch, err := readJSONBody(r)
	if err != nil {
		proxyerrors.WriteJSON(w, proxyerrors.UpstreamUnavailable("failed to read request body"))
		return
	}
	restoreBody(r, body)

	merged := deepMerge(current, patch)
	if ok, _ := expr.Matches(merged); !ok {
		proxyerrors.WriteJSON(w, proxyerrors.Forbidden("Patch would move the resource outside the caller's allowed set"))
		return
	}
	next.ServeHTTP(w, r)
}

func validateDelete(w http.ResponseWriter, r *http.Request, next http.Handler, expr cql2.Expression, cfg TransactionValidatorConfig) {
	current, err := fetchCurrentState(r.Context(), r.URL.Path, cfg)
	if err != nil {
		if isNotFoundErr(err) {
			proxyerrors.WriteJSON(w, proxyerrors.NotFound())
			return
		}
		proxyerrors.WriteJSON(w, proxyerrors.UpstreamUnavailable(err.Error()))
		return
	}
	if ok, _ := expr.Matches(current); !ok {
		proxyerrors.WriteJSON(w, proxyerrors.NotFound())
		return
	}
	next.ServeHTTP(w, r)
}

func readJSONBody(r *http.Request) (raw []byte, doc map[string]any, err error) {
	if r.Body == nil {
		return nil, map[string]any{}, nil
	}
	raw, err = io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, err
	}
	doc = map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return raw, nil, err
		}
	}
	return raw, doc, nil
}

func restoreBody(r *http.Request, raw []byte) {
	r.Body = io.NopCloser(bytes.NewReader(raw))
	r.ContentLength = int64(len(raw))
}

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }

func isNotFoundErr(err error) bool {
	_, ok := err.(*notFoundError)
	return ok
}

// fetchCurrentState performs the read-modify-write's read: a GET to the
// upstream resource at path, returning the parsed JSON body. Upstream
// errors surface as 502, except a 404 which the caller treats the
// same as a filter mismatch.
func fetchCurrentState(ctx context.Context, path string, cfg TransactionValidatorConfig) (map[string]any, error) {
	upstreamURL := *cfg.Upstream
	upstreamURL.Path = joinUpstreamPath(cfg.Upstream.Path, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstreamURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	resp, err := cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current upstream state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &notFoundError{msg: "resource not found upstream"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream returned status %d fetching current state", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse upstream response: %w", err)
	}
	return doc, nil
}

func joinUpstreamPath(base, reqPath string) string {
	trimmed := base
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == '/' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return trimmed + reqPath
}

// deepMerge recursively merges patch into current: nested mappings merge
// key-by-key, and any non-mapping value in patch overrides the
// corresponding value in current.
func deepMerge(current, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		merged[k] = v
	}
	for k, patchVal := range patch {
		currentVal, exists := merged[k]
		if !exists {
			merged[k] = patchVal
			continue
		}
		currentMap, currentIsMap := currentVal.(map[string]any)
		patchMap, patchIsMap := patchVal.(map[string]any)
		if currentIsMap && patchIsMap {
			merged[k] = deepMerge(currentMap, patchMap)
		} else {
			merged[k] = patchVal
		}
	}
	return merged
}
