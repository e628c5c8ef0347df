package token

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func TestScopesFromClaimsSplitsOnSpace(t *testing.T) {
	t.Parallel()
	claims := jwt.MapClaims{"scope": "openid profile collections:create"}
	assert.Equal(t, []string{"openid", "profile", "collections:create"}, ScopesFromClaims(claims))
}

func TestScopesFromClaimsEmptyOrMissing(t *testing.T) {
	t.Parallel()
	assert.Nil(t, ScopesFromClaims(jwt.MapClaims{}))
	assert.Nil(t, ScopesFromClaims(jwt.MapClaims{"scope": ""}))
	assert.Nil(t, ScopesFromClaims(jwt.MapClaims{"scope": 42}))
}

func TestHasScopeExactMatchOnly(t *testing.T) {
	t.Parallel()
	claims := jwt.MapClaims{"scope": "openid profile"}
	assert.True(t, HasScope(claims, "openid"))
	assert.False(t, HasScope(claims, "collections:create"))
	assert.False(t, HasScope(claims, "open"))
}

func TestGetClaimsFromContext(t *testing.T) {
	t.Parallel()
	_, ok := GetClaimsFromContext(context.Background())
	assert.False(t, ok)

	_, ok = GetClaimsFromContext(nil)
	assert.False(t, ok)

	claims := jwt.MapClaims{"sub": "user-1"}
	ctx := context.WithValue(context.Background(), ClaimsContextKey{}, claims)
	got, ok := GetClaimsFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, claims, got)
}
