package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCELBuilder_RequiresExpression(t *testing.T) {
	t.Parallel()
	_, err := newCELBuilder(map[string]any{})
	require.Error(t, err)
}

func TestCELBuilder_RejectsInvalidExpression(t *testing.T) {
	t.Parallel()
	_, err := newCELBuilder(map[string]any{"expression": "this is not valid cel (("})
	require.Error(t, err)
}

func TestCELBuilder_AnonymousVsAuthenticated(t *testing.T) {
	t.Parallel()
	b, err := newCELBuilder(map[string]any{
		"expression": `claims == null ? "properties.private = false" : "true"`,
	})
	require.NoError(t, err)

	anon, err := b.Build(RequestContext{Claims: nil})
	require.NoError(t, err)
	assert.Equal(t, "properties.private = false", anon.ToText())

	authed, err := b.Build(RequestContext{Claims: map[string]any{"sub": "user-1"}})
	require.NoError(t, err)
	assert.Equal(t, "true", authed.ToText())
}

func TestCELBuilder_ReadsClaimValue(t *testing.T) {
	t.Parallel()
	b, err := newCELBuilder(map[string]any{
		"expression": `"collection = '" + string(claims["org"]) + "'"`,
	})
	require.NoError(t, err)

	expr, err := b.Build(RequestContext{Claims: map[string]any{"org": "acme"}})
	require.NoError(t, err)
	assert.Equal(t, "collection = 'acme'", expr.ToText())
}

func TestCELBuilder_EmptyStringMeansUnrestricted(t *testing.T) {
	t.Parallel()
	b, err := newCELBuilder(map[string]any{"expression": `""`})
	require.NoError(t, err)

	expr, err := b.Build(RequestContext{})
	require.NoError(t, err)
	assert.True(t, expr.IsEmpty())
}

func TestCELBuilder_NonStringResultIsAnError(t *testing.T) {
	t.Parallel()
	b, err := newCELBuilder(map[string]any{"expression": `1 + 1`})
	require.NoError(t, err)

	_, err = b.Build(RequestContext{})
	require.Error(t, err)
}

func TestCELBuilder_ReadsRequestMethod(t *testing.T) {
	t.Parallel()
	b, err := newCELBuilder(map[string]any{
		"expression": `req.method == "GET" ? "true" : "false"`,
	})
	require.NoError(t, err)

	expr, err := b.Build(RequestContext{Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, "true", expr.ToText())
}
