package cql2

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTextRoundTrip(t *testing.T) {
	t.Parallel()
	expr, err := ParseText("properties.private = false")
	require.NoError(t, err)
	require.NoError(t, expr.Validate())
	assert.Equal(t, "properties.private = false", expr.ToText())
}

func TestCombineAndIdempotentOnIdenticalFilter(t *testing.T) {
	t.Parallel()
	a, err := ParseText("collection = 'allowed'")
	require.NoError(t, err)
	b, err := ParseText("collection = 'allowed'")
	require.NoError(t, err)

	combined := a.CombineAnd(b)
	doc := map[string]any{"collection": "allowed"}
	matches, err := combined.Matches(doc)
	require.NoError(t, err)
	assert.True(t, matches)

	other := map[string]any{"collection": "denied"}
	matches, err = combined.Matches(other)
	require.NoError(t, err)
	assert.False(t, matches)
}

func TestCombineAndWithEmptyIsNoOp(t *testing.T) {
	t.Parallel()
	a, err := ParseText("collection = 'allowed'")
	require.NoError(t, err)
	empty := Expression{}

	assert.Equal(t, a.ToText(), a.CombineAnd(empty).ToText())
	assert.Equal(t, a.ToText(), empty.CombineAnd(a).ToText())
}

func TestParseTextAndJSONEvaluateIdentically(t *testing.T) {
	t.Parallel()
	textExpr, err := ParseText("collection = 'allowed' AND properties.count > 1")
	require.NoError(t, err)

	jsonExpr, err := textExpr.ToJSON()
	require.NoError(t, err)
	raw, err := json.Marshal(jsonExpr)
	require.NoError(t, err)

	reparsed, err := ParseJSON(raw)
	require.NoError(t, err)

	docs := []map[string]any{
		{"collection": "allowed", "properties": map[string]any{"count": 5.0}},
		{"collection": "allowed", "properties": map[string]any{"count": 0.0}},
		{"collection": "denied", "properties": map[string]any{"count": 5.0}},
	}
	for _, doc := range docs {
		a, err := textExpr.Matches(doc)
		require.NoError(t, err)
		b, err := reparsed.Matches(doc)
		require.NoError(t, err)
		assert.Equal(t, a, b, "mismatch for doc %v", doc)
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	t.Parallel()
	assert.Error(t, Expression{}.Validate())
}

func TestMatchesWithAndOrNot(t *testing.T) {
	t.Parallel()
	expr, err := ParseText("NOT (collection = 'denied') AND (properties.private = false OR properties.owner = 'me')")
	require.NoError(t, err)

	doc := map[string]any{
		"collection": "allowed",
		"properties": map[string]any{"private": false, "owner": "someone-else"},
	}
	matches, err := expr.Matches(doc)
	require.NoError(t, err)
	assert.True(t, matches)

	doc2 := map[string]any{
		"collection": "denied",
		"properties": map[string]any{"private": false, "owner": "someone-else"},
	}
	matches, err = expr.Matches(doc2)
	require.NoError(t, err)
	assert.False(t, matches)
}

func TestEmptyExpressionAlwaysMatches(t *testing.T) {
	t.Parallel()
	matches, err := Expression{}.Matches(map[string]any{"anything": "goes"})
	require.NoError(t, err)
	assert.True(t, matches)
}
