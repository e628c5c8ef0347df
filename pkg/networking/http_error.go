// Copyright 2025 Stacklok, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package networking provides hardened HTTP client construction and helpers
// used wherever the proxy makes outbound calls: OIDC discovery, JWKS fetch,
// and upstream health probing.
package networking

import (
	"errors"
	"fmt"
)

// HTTPError represents a non-2xx HTTP response. The message is always the
// status text, never response body content, so error strings are safe to log
// without leaking upstream-supplied data.
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError constructs an HTTPError.
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{StatusCode: statusCode, URL: url, Message: message}
}

// IsHTTPError reports whether err is (or wraps) an *HTTPError. statusCode of
// 0 matches any status.
func IsHTTPError(err error, statusCode int) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return statusCode == 0 || httpErr.StatusCode == statusCode
}
