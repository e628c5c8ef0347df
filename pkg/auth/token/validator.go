package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/time/rate"

	"github.com/stacklok/stac-auth-proxy/pkg/auth/oidc"
	"github.com/stacklok/stac-auth-proxy/pkg/networking"
)

// Common errors.
var (
	ErrTokenExpired            = errors.New("token expired")
	ErrInvalidToken            = errors.New("invalid token")
	ErrInvalidIssuer           = errors.New("invalid issuer")
	ErrInvalidAudience         = errors.New("invalid audience")
	ErrUnsupportedAlgorithm    = errors.New("only RS256 tokens are accepted")
	ErrMissingJWKSURL          = errors.New("missing JWKS URL")
	ErrFailedToDiscoverOIDC    = errors.New("failed to discover OIDC configuration")
	ErrMissingIssuerAndJWKSURL = errors.New("either issuer discovery or a JWKS URL must be configured")
)

// Validator validates RS256 JWTs against a JWKS resolved from OIDC
// discovery. Introspection of opaque tokens is intentionally unsupported:
// the proxy only accepts signed JWTs it can verify itself.
type Validator struct {
	issuer           string
	allowedAudiences []string
	jwksURL          string
	jwksClient       *jwk.Cache
	resourceURL      string

	jwksRegistered      bool
	jwksRegistrationMu  sync.Mutex
	jwksRegistrationErr error

	refreshLimiter *rate.Limiter
}

// ValidatorConfig configures NewValidator.
type ValidatorConfig struct {
	// Issuer is the OIDC issuer, used to validate the 'iss' claim.
	Issuer string

	// AllowedAudiences is the audience allowlist (ALLOWED_JWT_AUDIENCES). An
	// empty list disables the check entirely; the 'aud' claim is only
	// validated when an allowlist is configured.
	AllowedAudiences []string

	// DiscoveryURL is the OIDC discovery document URL (oidc_discovery_url).
	DiscoveryURL string

	// DiscoveryInternalURL, if set, is fetched instead of DiscoveryURL so the
	// proxy can reach the IdP through a cluster-private address
	// (oidc_discovery_internal_url).
	DiscoveryInternalURL string

	// JWKSURL, if set, bypasses discovery entirely.
	JWKSURL string

	// ResourceURL is the RFC 9728 resource identifier published in
	// WWW-Authenticate and the discovery metadata endpoint.
	ResourceURL string

	// JWKSRefreshInterval bounds how often an unknown-kid refresh may occur.
	// Defaults to 5 minutes.
	JWKSRefreshInterval time.Duration

	// HTTPClient overrides the hardened outbound client used for JWKS
	// fetches. Nil builds one via networking.HttpClientBuilder; tests inject
	// an httptest client here.
	HTTPClient *http.Client
}

// NewValidator creates a new token validator, resolving the JWKS URL via
// OIDC discovery when one isn't supplied directly.
func NewValidator(ctx context.Context, config ValidatorConfig) (*Validator, error) {
	jwksURL := config.JWKSURL

	if jwksURL == "" && config.DiscoveryURL != "" {
		doc, err := oidc.Discover(ctx, config.DiscoveryURL, config.DiscoveryInternalURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToDiscoverOIDC, err)
		}
		jwksURL = doc.JWKSURI
		if config.Issuer == "" {
			config.Issuer = doc.Issuer
		}
	}

	if jwksURL == "" {
		return nil, ErrMissingIssuerAndJWKSURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		var err error
		httpClient, err = networking.NewHttpClientBuilder().
			WithPrivateIPs(config.DiscoveryInternalURL != "").
			Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
	}

	httprcClient := httprc.NewClient(httprc.WithHTTPClient(httpClient))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	refreshInterval := config.JWKSRefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = 5 * time.Minute
	}

	return &Validator{
		issuer:           config.Issuer,
		allowedAudiences: config.AllowedAudiences,
		jwksURL:          jwksURL,
		jwksClient:       cache,
		resourceURL:      config.ResourceURL,
		refreshLimiter:   rate.NewLimiter(rate.Every(refreshInterval), 1),
	}, nil
}

// ensureJWKSRegistered registers the JWKS URL with the cache on first use;
// the cache then refreshes it automatically in the background.
func (v *Validator) ensureJWKSRegistered(ctx context.Context) error {
	v.jwksRegistrationMu.Lock()
	defer v.jwksRegistrationMu.Unlock()

	if v.jwksRegistered {
		return v.jwksRegistrationErr
	}

	registrationCtx, cancel := context.WithTimeout(ctx, oidc.DiscoveryTimeout)
	defer cancel()

	err := v.jwksClient.Register(registrationCtx, v.jwksURL)
	if err != nil {
		v.jwksRegistrationErr = fmt.Errorf("failed to register JWKS URL: %w", err)
	} else {
		v.jwksRegistrationErr = nil
	}
	v.jwksRegistered = true
	return v.jwksRegistrationErr
}

// getKeyFromJWKS resolves the signing key for token, refreshing the JWKS
// once (rate-limited) if the key ID isn't found in the cached set — the
// proxy's only path for learning about IdP key rotation mid-flight.
func (v *Validator) getKeyFromJWKS(ctx context.Context, token *jwt.Token) (interface{}, error) {
	if err := v.ensureJWKSRegistered(ctx); err != nil {
		return nil, fmt.Errorf("JWKS registration failed: %w", err)
	}

	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, ErrUnsupportedAlgorithm
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}

	key, err := v.lookupKeyID(ctx, kid)
	if err == nil {
		return key, nil
	}

	if !v.refreshLimiter.Allow() {
		return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
	}

	refreshCtx, cancel := context.WithTimeout(ctx, oidc.DiscoveryTimeout)
	defer cancel()
	if _, refreshErr := v.jwksClient.Refresh(refreshCtx, v.jwksURL); refreshErr != nil {
		return nil, fmt.Errorf("key ID %s not found in JWKS, refresh failed: %w", kid, refreshErr)
	}

	return v.lookupKeyID(ctx, kid)
}

func (v *Validator) lookupKeyID(ctx context.Context, kid string) (interface{}, error) {
	keySet, err := v.jwksClient.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}
	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
	}
	var rawKey interface{}
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return rawKey, nil
}

func (v *Validator) validateClaims(claims jwt.MapClaims) error {
	if v.issuer != "" {
		issuerClaim, err := claims.GetIssuer()
		if err != nil {
			return fmt.Errorf("failed to get issuer from claims: %w", err)
		}
		if strings.TrimSpace(issuerClaim) != strings.TrimSpace(v.issuer) {
			return ErrInvalidIssuer
		}
	}

	if len(v.allowedAudiences) > 0 {
		audiences, err := claims.GetAudience()
		if err != nil {
			return ErrInvalidAudience
		}
		found := false
		for _, aud := range audiences {
			for _, allowed := range v.allowedAudiences {
				if aud == allowed {
					found = true
					break
				}
			}
		}
		if !found {
			return ErrInvalidAudience
		}
	}

	expirationTime, err := claims.GetExpirationTime()
	if err != nil || expirationTime == nil || expirationTime.Before(time.Now()) {
		return ErrTokenExpired
	}

	return nil
}

// ValidateToken parses and verifies an RS256 JWT, returning its claims.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return v.getKeyFromJWKS(ctx, token)
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("failed to get claims from token")
	}

	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}

	return claims, nil
}

// JWKSURL returns the JWKS URL used by the validator, surfaced in
// WWW-Authenticate and RFC 9728 metadata.
func (v *Validator) JWKSURL() string {
	return v.jwksURL
}

// ResourceURL returns the configured RFC 9728 resource identifier.
func (v *Validator) ResourceURL() string {
	return v.resourceURL
}
