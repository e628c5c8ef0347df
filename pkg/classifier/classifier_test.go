package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRule(t *testing.T, pattern string, methods ...MethodRule) Rule {
	t.Helper()
	re, err := CompilePattern(pattern)
	require.NoError(t, err)
	return Rule{Pattern: re, Methods: methods}
}

func TestDefaultPrivateWithPublicException(t *testing.T) {
	t.Parallel()
	public := []Rule{mustRule(t, `^/api$`, MethodRule{Method: "GET"})}
	c := New(public, nil, false)

	res := c.Classify("/api", "GET")
	assert.False(t, res.IsPrivate)

	res = c.Classify("/search", "GET")
	assert.True(t, res.IsPrivate)
	assert.Empty(t, res.RequiredScopes)
}

func TestDefaultPublicWithPrivateException(t *testing.T) {
	t.Parallel()
	private := []Rule{mustRule(t, `^/collections$`, MethodRule{Method: "POST", Scopes: []string{"collections:create"}})}
	c := New(nil, private, true)

	res := c.Classify("/collections", "POST")
	assert.True(t, res.IsPrivate)
	assert.Equal(t, []string{"collections:create"}, res.RequiredScopes)

	res = c.Classify("/collections", "GET")
	assert.False(t, res.IsPrivate, "GET not named in private rule falls back to default_public")

	res = c.Classify("/anything-else", "GET")
	assert.False(t, res.IsPrivate)
}

func TestMethodCaseInsensitive(t *testing.T) {
	t.Parallel()
	public := []Rule{mustRule(t, `^/api$`, MethodRule{Method: "GET"})}
	c := New(public, nil, false)

	res := c.Classify("/api", "get")
	assert.False(t, res.IsPrivate)
}

// TestClassifierDualism: a private map M under default_public=true yields
// the same is_private verdict as its complement used as the public map
// under default_public=false, over a finite (path, method) grid.
func TestClassifierDualism(t *testing.T) {
	t.Parallel()

	paths := []string{"/collections", "/search", "/api"}
	methods := []string{"GET", "POST", "DELETE"}
	isInM := func(p, meth string) bool { return p == "/collections" && meth == "POST" }

	m := []Rule{mustRule(t, `^/collections$`, MethodRule{Method: "POST", Scopes: []string{"collections:create"}})}

	// Build complement(M) over the grid: every combination M does not name.
	var complement []Rule
	for _, p := range paths {
		var entries []MethodRule
		for _, meth := range methods {
			if !isInM(p, meth) {
				entries = append(entries, MethodRule{Method: meth})
			}
		}
		complement = append(complement, mustRule(t, "^"+p+"$", entries...))
	}

	privateDefault := New(nil, m, true)
	publicDefault := New(complement, nil, false)

	for _, p := range paths {
		for _, meth := range methods {
			a := privateDefault.Classify(p, meth)
			b := publicDefault.Classify(p, meth)
			assert.Equal(t, a.IsPrivate, b.IsPrivate, "path=%s method=%s", p, meth)
			assert.Equal(t, isInM(p, meth), a.IsPrivate, "path=%s method=%s", p, meth)
		}
	}
}

func TestFirstMatchWins(t *testing.T) {
	t.Parallel()
	private := []Rule{
		mustRule(t, `^/collections$`, MethodRule{Method: "POST", Scopes: []string{"first"}}),
		mustRule(t, `^/collections$`, MethodRule{Method: "POST", Scopes: []string{"second"}}),
	}
	c := New(nil, private, true)
	res := c.Classify("/collections", "POST")
	assert.Equal(t, []string{"first"}, res.RequiredScopes)
}
