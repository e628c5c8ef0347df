package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	return viper.New()
}

func TestLoadWithViper_RequiresUpstreamURLAndDiscoveryURL(t *testing.T) {
	t.Parallel()
	_, err := LoadWithViper(newViper())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPSTREAM_URL")
	assert.Contains(t, err.Error(), "OIDC_DISCOVERY_URL")
}

func TestLoadWithViper_AppliesDefaults(t *testing.T) {
	t.Parallel()
	v := newViper()
	v.Set("upstream_url", "https://stac.example.com")
	v.Set("oidc_discovery_url", "https://idp.example.com/.well-known/openid-configuration")

	s, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.Equal(t, "/healthz", s.HealthzPrefix)
	assert.False(t, s.DefaultPublic)
	assert.Equal(t, 15*time.Second, s.UpstreamTimeout)
	assert.Equal(t, 5*time.Second, s.DiscoveryTimeout)
	assert.Equal(t, 86400, s.CORS.MaxAge)
}

func TestLoadWithViper_ReadsOverrides(t *testing.T) {
	t.Parallel()
	v := newViper()
	v.Set("upstream_url", "https://stac.example.com")
	v.Set("oidc_discovery_url", "https://idp.example.com/.well-known/openid-configuration")
	v.Set("default_public", true)
	v.Set("base_path", "/api")
	v.Set("allowed_jwt_audiences", []string{"stac-proxy"})

	s, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.True(t, s.DefaultPublic)
	assert.Equal(t, "/api", s.BasePath)
	assert.Equal(t, []string{"stac-proxy"}, s.AllowedJWTAudiences)
}

func TestLoadWithViper_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("STAC_AUTH_PROXY_UPSTREAM_URL", "https://stac.example.com")
	t.Setenv("STAC_AUTH_PROXY_OIDC_DISCOVERY_URL", "https://idp.example.com/.well-known/openid-configuration")
	t.Setenv("STAC_AUTH_PROXY_HEALTHZ_PREFIX", "/status")

	s, err := LoadWithViper(newViper())
	require.NoError(t, err)
	assert.Equal(t, "/status", s.HealthzPrefix)
}
