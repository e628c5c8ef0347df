package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithIdentity_StoreAndRetrieve(t *testing.T) {
	t.Parallel()

	identity := &Identity{
		Subject: "user-123",
		Name:    "Alice",
		Email:   "alice@example.com",
		Claims: map[string]any{
			"scope": "openid collections:create",
		},
		Token:     "opaque-bearer",
		TokenType: "Bearer",
	}

	ctx := WithIdentity(context.Background(), identity)

	got, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "user-123", got.Subject)
	assert.Equal(t, "openid collections:create", got.Claims["scope"])
}

func TestWithIdentity_NilLeavesContextUntouched(t *testing.T) {
	t.Parallel()

	// An anonymous caller is represented by never attaching an identity,
	// not by attaching a nil one.
	ctx := context.Background()
	assert.Equal(t, ctx, WithIdentity(ctx, nil))

	_, ok := IdentityFromContext(ctx)
	assert.False(t, ok)
}

func TestIdentityFromContext_Absent(t *testing.T) {
	t.Parallel()

	identity, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, identity)
}

func TestClaimsFromContext(t *testing.T) {
	t.Parallel()

	t.Run("present", func(t *testing.T) {
		t.Parallel()
		ctx := WithIdentity(context.Background(), &Identity{
			Subject: "user-1",
			Claims:  map[string]any{"scope": "openid"},
		})
		claims, ok := ClaimsFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, "openid", claims["scope"])
	})

	t.Run("absent", func(t *testing.T) {
		t.Parallel()
		_, ok := ClaimsFromContext(context.Background())
		assert.False(t, ok)
	})

	t.Run("identity without claims", func(t *testing.T) {
		t.Parallel()
		ctx := WithIdentity(context.Background(), &Identity{Subject: "user-1"})
		_, ok := ClaimsFromContext(ctx)
		assert.False(t, ok)
	})

	t.Run("nil context", func(t *testing.T) {
		t.Parallel()
		_, ok := ClaimsFromContext(nil) //nolint:staticcheck // exercising the nil guard
		assert.False(t, ok)
	})
}
