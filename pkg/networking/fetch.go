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

package networking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// FetchResult carries a decoded JSON body plus the response headers, for
// callers (conformance probing, metadata fetches) that need both.
type FetchResult[T any] struct {
	Data    T
	Headers http.Header
}

type fetchOptions struct {
	headers      map[string]string
	errorHandler func(resp *http.Response, body []byte) error
}

// FetchOption configures a FetchJSON call.
type FetchOption func(*fetchOptions)

// WithHeader sets a request header, overriding the default Accept value if
// named explicitly.
func WithHeader(key, value string) FetchOption {
	return func(o *fetchOptions) {
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		o.headers[key] = value
	}
}

// WithErrorHandler lets a caller translate a non-2xx response body into a
// domain-specific error. Returning nil falls back to the default *HTTPError.
func WithErrorHandler(handler func(resp *http.Response, body []byte) error) FetchOption {
	return func(o *fetchOptions) { o.errorHandler = handler }
}

// FetchJSON GETs a JSON document and decodes it into T. Non-2xx responses
// never leak their body into the returned error; only the HTTP status text
// is included, unless a WithErrorHandler option overrides that behavior.
func FetchJSON[T any](ctx context.Context, client *http.Client, rawURL string, opts ...FetchOption) (*FetchResult[T], error) {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if o.errorHandler != nil {
			if handled := o.errorHandler(resp, body); handled != nil {
				return nil, handled
			}
		}
		return nil, NewHTTPError(resp.StatusCode, rawURL, http.StatusText(resp.StatusCode))
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		return nil, fmt.Errorf("unexpected content type %q", ct)
	}

	var data T
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	return &FetchResult[T]{Data: data, Headers: resp.Header}, nil
}
