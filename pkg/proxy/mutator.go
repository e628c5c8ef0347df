package proxy

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	proxyerrors "github.com/stacklok/stac-auth-proxy/pkg/errors"
	"github.com/stacklok/stac-auth-proxy/pkg/logger"
)

// Mutator implements the streaming JSON response mutator protocol:
// should_transform decides whether a given response needs rewriting at all;
// transform receives the fully-parsed JSON body and returns the replacement.
// Concrete mutators (OpenAPI, Authentication Extension, link processor)
// implement this against the shared applyMutators driver below.
type Mutator interface {
	ShouldTransform(r *http.Request, header http.Header) bool
	Transform(value any, r *http.Request) (any, error)
}

// ApplyMutators returns a ModifyResponse-compatible hook that runs every
// mutator in mutators, in order, against resp's body when at least one of
// them claims the response. Mutators layer on one shared
// accumulate/decompress/parse/transform/reserialize/recompress pass rather
// than each re-reading the body.
func ApplyMutators(mutators ...Mutator) func(*http.Response) error {
	return func(resp *http.Response) error {
		if len(mutators) == 0 {
			return nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil
		}

		var applicable []Mutator
		for _, m := range mutators {
			if m.ShouldTransform(resp.Request, resp.Header) {
				applicable = append(applicable, m)
			}
		}
		if len(applicable) == 0 {
			return nil
		}

		encoding := resp.Header.Get("Content-Encoding")
		rawBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("proxy: failed to read upstream body: %w", err)
		}

		decoded, err := decompress(rawBody, encoding)
		if err != nil {
			return writeUpstreamUnparseable(resp, fmt.Errorf("failed to decompress upstream body: %w", err))
		}

		var value any
		if err := json.Unmarshal(decoded, &value); err != nil {
			return writeUpstreamUnparseable(resp, fmt.Errorf("failed to parse upstream JSON: %w", err))
		}

		for _, m := range applicable {
			value, err = m.Transform(value, resp.Request)
			if err != nil {
				return writeUpstreamUnparseable(resp, fmt.Errorf("mutator transform failed: %w", err))
			}
		}

		reencoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("proxy: failed to re-serialize transformed body: %w", err)
		}

		recompressed, err := compress(reencoded, encoding)
		if err != nil {
			return fmt.Errorf("proxy: failed to recompress transformed body: %w", err)
		}

		resp.Body = io.NopCloser(bytes.NewReader(recompressed))
		resp.ContentLength = int64(len(recompressed))
		resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(recompressed)))
		if encoding == "" {
			resp.Header.Del("Content-Encoding")
		}
		return nil
	}
}

// writeUpstreamUnparseable reports a required transformation that cannot
// parse the upstream body; it leaves resp's body untouched and does not
// change resp.StatusCode (httputil.ReverseProxy has already
// committed headers from the Director's perspective by the time
// ModifyResponse runs for some response types), so instead it logs and
// returns the sentinel error, which ReverseProxy's ErrorHandler turns into
// the 502 response.
func writeUpstreamUnparseable(_ *http.Response, cause error) error {
	logger.Warnf("proxy: %v", cause)
	return fmt.Errorf("%w: %v", errUnparseableUpstreamBody, cause)
}

// The unparseable-body failure renders as {"message": "Not found"}, not the
// taxonomy's usual {"detail": ...} shape.
var errUnparseableUpstreamBody = &proxyerrors.Error{
	Kind:    proxyerrors.KindUpstreamUnavailable,
	Status:  http.StatusBadGateway,
	Message: "Not found",
}

func decompress(body []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "":
		return body, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		// No brotli codec is wired into this build (see DESIGN.md); a
		// br-encoded body surfaces the same as any other unparseable body.
		return nil, fmt.Errorf("brotli decoding is not supported")
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", encoding)
	}
}

func compress(body []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "":
		return body, nil
	case "gzip":
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "deflate":
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "br":
		return nil, fmt.Errorf("brotli encoding is not supported")
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", encoding)
	}
}
