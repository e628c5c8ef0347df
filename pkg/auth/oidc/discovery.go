// Package oidc discovers a caller's OpenID Connect configuration: the
// discovery document and the JWKS it points at.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/stacklok/stac-auth-proxy/pkg/networking"
)

// UserAgent identifies the proxy to upstream OIDC providers.
const UserAgent = "stac-auth-proxy/1.0"

// DiscoveryDocument is the subset of an OIDC discovery document the proxy
// relies on.
type DiscoveryDocument struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

// httpClient is the interface discoverWithClient needs, so tests can inject a
// fake without standing up TLS.
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Discover fetches the OIDC discovery document from publicURL — or, when
// internalURL is non-empty, from internalURL instead, so the proxy can reach
// an identity provider through a cluster-private address while the document
// it serves to callers still names the public one. If the announced
// jwks_uri's host differs from the URL actually fetched and an internal
// override is active, the jwks_uri is rewritten to the internal netloc: the
// IdP's metadata is only reachable from inside the cluster, and its jwks_uri
// is assumed to live at the same host.
func Discover(ctx context.Context, publicURL, internalURL string) (*DiscoveryDocument, error) {
	client, err := networking.NewHttpClientBuilder().WithPrivateIPs(internalURL != "").Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return discoverWithClient(ctx, client, publicURL, internalURL)
}

func discoverWithClient(ctx context.Context, client httpClient, publicURL, internalURL string) (*DiscoveryDocument, error) {
	fetchURL := publicURL
	if internalURL != "" {
		fetchURL = internalURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build discovery request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", fetchURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %d", fetchURL, resp.StatusCode)
	}

	const maxResponseSize = 1024 * 1024
	var doc DiscoveryDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%s: unexpected response: %w", fetchURL, err)
	}

	if err := validateDocument(&doc); err != nil {
		return nil, fmt.Errorf("%s: invalid metadata: %w", fetchURL, err)
	}

	if internalURL != "" {
		doc.JWKSURI = rewriteJWKSNetloc(doc.JWKSURI, fetchURL)
	}

	return &doc, nil
}

// rewriteJWKSNetloc replaces jwksURI's scheme+host with the scheme+host of
// discoveryURL when they differ, leaving the path untouched. An IdP's
// discovery document commonly advertises jwks_uri under its public
// hostname even when fetched through an internal override, since it has no
// way to know which address the caller used.
func rewriteJWKSNetloc(jwksURI, discoveryURL string) string {
	jwksParsed, err := url.Parse(jwksURI)
	if err != nil {
		return jwksURI
	}
	discoveryParsed, err := url.Parse(discoveryURL)
	if err != nil {
		return jwksURI
	}
	if jwksParsed.Host == discoveryParsed.Host {
		return jwksURI
	}
	jwksParsed.Scheme = discoveryParsed.Scheme
	jwksParsed.Host = discoveryParsed.Host
	return jwksParsed.String()
}

func validateDocument(doc *DiscoveryDocument) error {
	if doc.Issuer == "" {
		return fmt.Errorf("missing issuer")
	}
	if doc.JWKSURI == "" {
		return fmt.Errorf("missing jwks_uri")
	}
	endpoints := map[string]string{
		"jwks_uri":               doc.JWKSURI,
		"authorization_endpoint": doc.AuthorizationEndpoint,
		"token_endpoint":         doc.TokenEndpoint,
	}
	for name, endpoint := range endpoints {
		if endpoint == "" {
			continue
		}
		if err := networking.ValidateEndpointURL(endpoint); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// WellKnownURL derives the standard OIDC discovery document URL from an
// issuer, handling tenant/realm paths the way most providers expect.
func WellKnownURL(issuer string) (string, error) {
	issuerURL, err := url.Parse(issuer)
	if err != nil {
		return "", fmt.Errorf("invalid issuer URL: %w", err)
	}
	base := issuerURL.Scheme + "://" + issuerURL.Host
	tenant := strings.Trim(issuerURL.EscapedPath(), "/")
	return base + path.Join("/", tenant, ".well-known", "openid-configuration"), nil
}

// DiscoveryTimeout bounds discovery and JWKS fetch requests; they get a
// tighter bound than the upstream exchange.
const DiscoveryTimeout = 5 * time.Second
