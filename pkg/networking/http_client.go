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
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// HttpTimeout is the default overall timeout for outbound HTTP clients built
// by HttpClientBuilder (OIDC discovery, JWKS fetch).
const HttpTimeout = 30 * time.Second

// HttpClientBuilder builds an *http.Client hardened for talking to
// OIDC/JWKS endpoints: TLS verification via an optional CA bundle, optional
// bearer-token auth read from a file, and optional blocking of requests to
// private/loopback addresses.
type HttpClientBuilder struct {
	clientTimeout         time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	caCertPath            string
	authTokenFile         string
	allowPrivate          bool
}

// NewHttpClientBuilder returns a builder with the proxy's default timeouts.
func NewHttpClientBuilder() *HttpClientBuilder {
	return &HttpClientBuilder{
		clientTimeout:         HttpTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
	}
}

// WithCABundle sets a path to a PEM CA bundle trusted in addition to the
// system roots. An empty path is a no-op.
func (b *HttpClientBuilder) WithCABundle(path string) *HttpClientBuilder {
	b.caCertPath = path
	return b
}

// WithTokenFromFile sets a path to a file containing a bearer token sent on
// every outbound request. An empty path is a no-op.
func (b *HttpClientBuilder) WithTokenFromFile(path string) *HttpClientBuilder {
	b.authTokenFile = path
	return b
}

// WithPrivateIPs controls whether the resulting client is allowed to dial
// private/link-local addresses. The proxy defaults this to false for
// internet-facing OIDC providers and true when an internal discovery
// override points at a cluster-private address.
func (b *HttpClientBuilder) WithPrivateIPs(allow bool) *HttpClientBuilder {
	b.allowPrivate = allow
	return b
}

// Build assembles the configured *http.Client.
func (b *HttpClientBuilder) Build() (*http.Client, error) {
	transport := &http.Transport{
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
	}

	if b.caCertPath != "" {
		pemBytes, err := os.ReadFile(b.caCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("failed to parse CA certificate bundle at %s", b.caCertPath)
		}
		transport.TLSClientConfig = &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}
	}

	if !b.allowPrivate {
		transport.DialContext = dialDenyingPrivateAddrs
	}

	var rt http.RoundTripper = &ValidatingTransport{Transport: transport}

	if b.authTokenFile != "" {
		tokenSource, err := createTokenSourceFromFile(b.authTokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create token source: %w", err)
		}
		rt = &oauth2.Transport{Source: tokenSource, Base: rt}
	}

	return &http.Client{
		Timeout:   b.clientTimeout,
		Transport: rt,
	}, nil
}

func dialDenyingPrivateAddrs(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if IsLocalhost(host) {
		return nil, fmt.Errorf("connections to localhost are not allowed: %s", addr)
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err == nil {
		for _, ip := range ips {
			if ip.IP.IsLoopback() || ip.IP.IsPrivate() || ip.IP.IsLinkLocalUnicast() {
				return nil, fmt.Errorf("connections to private address %s are not allowed", ip.IP)
			}
		}
	}
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// ValidatingTransport rejects non-HTTPS requests before delegating to the
// wrapped transport. Outbound OIDC/JWKS traffic must never fall back to
// plaintext.
type ValidatingTransport struct {
	Transport http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || req.URL.Scheme != "https" {
		return nil, fmt.Errorf("refusing request: %s is not HTTPS scheme", req.URL)
	}
	return t.Transport.RoundTrip(req)
}

func createTokenSourceFromFile(path string) (oauth2.TokenSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth token file: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return nil, fmt.Errorf("auth token file is empty: %s", path)
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}), nil
}
