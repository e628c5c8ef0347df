// Package config loads the proxy's typed Settings from environment
// variables via viper. Endpoint rule maps and filter plugin descriptors
// arrive as JSON-encoded environment values; both are parsed and compiled
// once at startup and are immutable for the life of the process.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix viper is configured with;
// every setting below is read as STAC_AUTH_PROXY_<NAME>.
const EnvPrefix = "STAC_AUTH_PROXY"

// Settings is the fully-parsed, immutable configuration surface. Nothing
// downstream re-reads the environment: every consumer takes a Settings
// value (or a component built from one).
type Settings struct {
	UpstreamURL string `mapstructure:"upstream_url"`

	OIDCDiscoveryURL         string `mapstructure:"oidc_discovery_url"`
	OIDCDiscoveryInternalURL string `mapstructure:"oidc_discovery_internal_url"`
	AllowedJWTAudiences      []string `mapstructure:"allowed_jwt_audiences"`

	// ResourceURL is the RFC 9728 protected-resource identifier published in
	// WWW-Authenticate and the well-known metadata endpoint. Empty disables
	// both.
	ResourceURL string `mapstructure:"resource_url"`

	DefaultPublic    bool   `mapstructure:"default_public"`
	PublicEndpoints  string `mapstructure:"public_endpoints"`  // raw JSON
	PrivateEndpoints string `mapstructure:"private_endpoints"` // raw JSON

	ItemsFilter       string `mapstructure:"items_filter"`       // raw JSON descriptor
	CollectionsFilter string `mapstructure:"collections_filter"` // raw JSON descriptor

	OpenAPISpecEndpoint string `mapstructure:"openapi_spec_endpoint"`

	HealthzPrefix string `mapstructure:"healthz_prefix"`
	BasePath      string `mapstructure:"base_path"`
	RootPath      string `mapstructure:"root_path"`

	WaitForUpstream  bool `mapstructure:"wait_for_upstream"`
	CheckConformance bool `mapstructure:"check_conformance"`

	CORS CORSSettings `mapstructure:"cors"`

	UpstreamTimeout  time.Duration `mapstructure:"upstream_timeout"`
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
}

// CORSSettings mirrors the CORS_* environment variables (origins, methods,
// headers, credentials, expose-headers, max-age).
type CORSSettings struct {
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowMethods     []string `mapstructure:"allow_methods"`
	AllowHeaders     []string `mapstructure:"allow_headers"`
	ExposeHeaders    []string `mapstructure:"expose_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// defaults applied before environment overrides.
var defaults = map[string]any{
	"default_public":    false,
	"healthz_prefix":    "/healthz",
	"wait_for_upstream": false,
	"check_conformance": false,
	"upstream_timeout":  15 * time.Second,
	"discovery_timeout": 5 * time.Second,
	"cors.allow_methods": []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
	"cors.allow_headers": []string{"Authorization", "Content-Type"},
	"cors.max_age":       86400,
}

// Load builds a Settings from the process environment using viper's
// SetEnvPrefix/AutomaticEnv convention. It validates the required fields
// (UPSTREAM_URL, OIDC_DISCOVERY_URL) and returns a plain error naming
// whichever of them is missing.
func Load() (*Settings, error) {
	v := viper.New()
	return LoadWithViper(v)
}

// LoadWithViper builds a Settings using a caller-supplied viper instance,
// primarily so tests can seed values with v.Set instead of mutating the
// process environment.
func LoadWithViper(v *viper.Viper) (*Settings, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	// Bind every field explicitly: AutomaticEnv alone only resolves a key
	// once something has asked for it, and nested keys (cors.*) need the
	// replacer above to map to flat STAC_AUTH_PROXY_CORS_* env names.
	for _, key := range []string{
		"upstream_url", "oidc_discovery_url", "oidc_discovery_internal_url",
		"allowed_jwt_audiences", "resource_url", "default_public", "public_endpoints",
		"private_endpoints", "items_filter", "collections_filter",
		"openapi_spec_endpoint", "healthz_prefix", "base_path", "root_path",
		"wait_for_upstream", "check_conformance", "upstream_timeout", "discovery_timeout",
		"cors.allow_origins", "cors.allow_methods", "cors.allow_headers",
		"cors.expose_headers", "cors.allow_credentials", "cors.max_age",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: failed to bind %s: %w", key, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal settings: %w", err)
	}

	if err := validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func validate(s *Settings) error {
	var missing []string
	if s.UpstreamURL == "" {
		missing = append(missing, "UPSTREAM_URL")
	}
	if s.OIDCDiscoveryURL == "" {
		missing = append(missing, "OIDC_DISCOVERY_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}
