// Package errors defines the error taxonomy the proxy uses to turn pipeline
// failures into HTTP responses. Every stage of the request pipeline reports
// failures through this package so the client-visible body shape stays
// consistent regardless of which middleware produced it.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind classifies a pipeline failure into the taxonomy from the error
// handling design: Unauthenticated, Forbidden, NotFound, UpstreamUnavailable.
// ConfigInvalid is deliberately not a Kind here — it is only ever returned
// from startup/config loading and never reaches the request pipeline.
type Kind int

const (
	// KindUnauthenticated covers a missing or rejected token (401 or 403).
	KindUnauthenticated Kind = iota
	// KindForbidden covers an authenticated caller acting outside their scope
	// or filter (403).
	KindForbidden
	// KindNotFound covers a resource that does not exist or is filtered out
	// of the caller's view; these are deliberately indistinguishable (404).
	KindNotFound
	// KindUpstreamUnavailable covers upstream refusal, timeout, or an
	// unparseable body when a mutator required JSON (502).
	KindUpstreamUnavailable
)

// Error is a pipeline failure carrying the HTTP status and JSON body the
// proxy should emit. It never wraps or forwards an upstream-produced body.
type Error struct {
	Kind    Kind
	Status  int
	Detail  string // rendered as {"detail": "..."}
	Message string // rendered as {"message": "..."}, mutually exclusive with Detail
	cause   error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap attaches an underlying cause for logging purposes without leaking it
// to the client.
func (e *Error) Wrap(cause error) *Error {
	clone := *e
	clone.cause = cause
	return &clone
}

// NotAuthenticated is returned when no Authorization header is present on a
// request that requires one.
func NotAuthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Status: http.StatusForbidden, Detail: "Not authenticated"}
}

// InvalidToken is returned for a malformed Authorization header, or a token
// that fails signature, expiry, or audience validation.
func InvalidToken(reason string) *Error {
	msg := "Invalid or missing token"
	if reason != "" {
		msg = reason
	}
	return &Error{Kind: KindUnauthenticated, Status: http.StatusUnauthorized, Detail: msg}
}

// MissingScope is returned when a validated token is missing a required
// scope.
func MissingScope() *Error {
	return &Error{Kind: KindUnauthenticated, Status: http.StatusUnauthorized, Detail: "Not enough permissions"}
}

// Forbidden is returned for a write that would violate the caller's filter.
func Forbidden(detail string) *Error {
	return &Error{Kind: KindForbidden, Status: http.StatusForbidden, Detail: detail}
}

// NotFound is returned both for truly absent resources and for resources
// filtered out of the caller's view; these are deliberately indistinguishable.
func NotFound() *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: "Not found"}
}

// UpstreamUnavailable is returned when the upstream refuses, times out, or
// returns a body a required mutator could not parse.
func UpstreamUnavailable(detail string) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Status: http.StatusBadGateway, Detail: detail}
}

// InvalidFilter is returned when a filter builder produces an expression
// that fails validation; this indicates misconfiguration, not caller error.
func InvalidFilter() *Error {
	return &Error{Kind: KindUpstreamUnavailable, Status: http.StatusBadGateway, Detail: "Invalid CQL2 filter"}
}

// WriteJSON renders the error as the JSON body its Kind expects and sets the
// response status code. It never writes an upstream-produced body.
func WriteJSON(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	body := map[string]string{}
	if err.Detail != "" {
		body["detail"] = err.Detail
	}
	if err.Message != "" {
		body["message"] = err.Message
	}
	if len(body) == 0 {
		body["detail"] = http.StatusText(err.Status)
	}
	_ = json.NewEncoder(w).Encode(body)
}

// As is a thin wrapper over errors.As for callers that don't want to import
// the standard errors package just to unwrap an *Error.
func As(err error) (*Error, bool) {
	var pe *Error
	ok := errors.As(err, &pe)
	return pe, ok
}
