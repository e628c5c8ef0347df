package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	proxyerrors "github.com/stacklok/stac-auth-proxy/pkg/errors"
	"github.com/stacklok/stac-auth-proxy/pkg/logger"
)

// hopByHopHeaders are stripped from the upstream response before it is
// copied back to the client — meaningful only for a single transport hop.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// ReverseProxyConfig configures NewReverseProxy.
type ReverseProxyConfig struct {
	// Upstream is the upstream STAC API base URL.
	Upstream *url.URL

	// ProxyName identifies this proxy in the Via header, e.g. "stac-auth-proxy".
	ProxyName string

	// Timeout bounds the full upstream exchange. Defaults to 15s.
	Timeout time.Duration

	// EmitLegacyForwardedHeaders also sets X-Forwarded-For/Host/Proto/Path
	// alongside the standard Forwarded header.
	EmitLegacyForwardedHeaders bool

	// Mutators run against JSON response bodies in response-flow order:
	// the response traverses the middleware chain bottom-to-top, so the
	// mutator declared innermost in the request chain (openapi-rewrite)
	// runs first here, then auth-extension, then link-rewrite last —
	// auth-extension's classifier lookups see the pre-rewrite upstream
	// paths that way, before link-rewrite prepends a root path.
	Mutators []Mutator
}

// NewReverseProxy builds the innermost pipeline stage: it forwards the
// (possibly mutated) request to cfg.Upstream, decorates forwarded/via
// headers, strips hop-by-hop headers, records X-Upstream-Time, and runs any
// configured response mutators before copying the body back to the client.
func NewReverseProxy(cfg ReverseProxyConfig) http.Handler {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			director(req, cfg)
		},
		ModifyResponse: chainModifyResponse(recordUpstreamTime, stripHopByHop, ApplyMutators(cfg.Mutators...)),
		ErrorHandler:   errorHandler,
		Transport:      &timingTransport{base: http.DefaultTransport},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		rp.ServeHTTP(w, r.WithContext(ctx))
	})
}

func director(req *http.Request, cfg ReverseProxyConfig) {
	original := req.Clone(req.Context())

	req.URL.Scheme = cfg.Upstream.Scheme
	req.URL.Host = cfg.Upstream.Host
	req.URL.Path, req.URL.RawPath = joinPath(cfg.Upstream, req.URL)
	req.Host = cfg.Upstream.Host

	clientIP := clientIPFromRequest(original)
	setForwardedHeaders(req, original, clientIP, cfg)
}

func joinPath(upstream *url.URL, reqURL *url.URL) (path, rawPath string) {
	base := strings.TrimSuffix(upstream.Path, "/")
	return base + reqURL.Path, base + reqURL.RawPath
}

func clientIPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// setForwardedHeaders emits Forwarded/Via (and, if configured, the legacy
// X-Forwarded-* trio), but only for fields the incoming request did not
// already carry — headers set by an upstream proxy like NGINX are
// preserved verbatim rather than overwritten.
func setForwardedHeaders(req *http.Request, original *http.Request, clientIP string, cfg ReverseProxyConfig) {
	scheme := "http"
	if original.TLS != nil {
		scheme = "https"
	}
	if xfProto := original.Header.Get("X-Forwarded-Proto"); xfProto != "" {
		scheme = xfProto
	}

	if req.Header.Get("Forwarded") == "" {
		req.Header.Set("Forwarded", fmt.Sprintf("for=%s; host=%s; proto=%s", clientIP, original.Host, scheme))
	}

	via := req.Header.Get("Via")
	proxyName := cfg.ProxyName
	if proxyName == "" {
		proxyName = "stac-auth-proxy"
	}
	viaEntry := "1.1 " + proxyName
	if via == "" {
		req.Header.Set("Via", viaEntry)
	} else if !strings.Contains(via, viaEntry) {
		req.Header.Set("Via", via+", "+viaEntry)
	}

	if !cfg.EmitLegacyForwardedHeaders {
		return
	}
	if req.Header.Get("X-Forwarded-For") == "" {
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	if req.Header.Get("X-Forwarded-Host") == "" {
		req.Header.Set("X-Forwarded-Host", original.Host)
	}
	if req.Header.Get("X-Forwarded-Proto") == "" {
		req.Header.Set("X-Forwarded-Proto", scheme)
	}
	if req.Header.Get("X-Forwarded-Path") == "" {
		req.Header.Set("X-Forwarded-Path", original.URL.Path)
	}
}

// timingTransport measures the upstream round trip and stamps it onto the
// response as an internal header; recordUpstreamTime promotes that to the
// public X-Upstream-Time header once ModifyResponse runs.
type timingTransport struct {
	base http.RoundTripper
}

const internalUpstreamTimeHeader = "X-Stac-Auth-Proxy-Upstream-Time-Internal"

func (t *timingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if resp != nil {
		resp.Header.Set(internalUpstreamTimeHeader, time.Since(start).String())
	}
	return resp, err
}

func recordUpstreamTime(resp *http.Response) error {
	if elapsed := resp.Header.Get(internalUpstreamTimeHeader); elapsed != "" {
		resp.Header.Del(internalUpstreamTimeHeader)
		resp.Header.Set("X-Upstream-Time", elapsed)
	}
	return nil
}

func stripHopByHop(resp *http.Response) error {
	for _, h := range hopByHopHeaders {
		resp.Header.Del(h)
	}
	return nil
}

// chainModifyResponse runs each hook in order, stopping at the first error.
func chainModifyResponse(hooks ...func(*http.Response) error) func(*http.Response) error {
	return func(resp *http.Response) error {
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if err := h(resp); err != nil {
				return err
			}
		}
		return nil
	}
}

// errorHandler turns a failed round trip or a ModifyResponse error into the
// taxonomy's UpstreamUnavailable response: the proxy never forwards an
// upstream-produced error body it didn't itself validate.
func errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if pe, ok := proxyerrors.As(err); ok {
		proxyerrors.WriteJSON(w, pe)
		return
	}
	logger.Warnf("proxy: upstream request failed: %v", err)
	proxyerrors.WriteJSON(w, proxyerrors.UpstreamUnavailable("Upstream request failed"))
	_ = r
}
