package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/stac-auth-proxy/pkg/filter"
)

func TestRoutePatterns_Match(t *testing.T) {
	assert.True(t, CollectionsListPattern.MatchString("/collections"))
	assert.False(t, CollectionsListPattern.MatchString("/collections/landsat"))

	assert.True(t, CollectionPattern.MatchString("/collections/landsat"))
	assert.False(t, CollectionPattern.MatchString("/collections"))
	assert.False(t, CollectionPattern.MatchString("/collections/landsat/items"))

	assert.True(t, ItemsListPattern.MatchString("/collections/landsat/items"))
	assert.False(t, ItemsListPattern.MatchString("/collections/landsat"))

	assert.True(t, ItemPattern.MatchString("/collections/landsat/items/scene-1"))
	assert.False(t, ItemPattern.MatchString("/collections/landsat/items"))

	assert.True(t, SearchPattern.MatchString("/search"))
	assert.False(t, SearchPattern.MatchString("/search/extra"))
}

func TestBuildFilterRoutes_NilBuildersOmitted(t *testing.T) {
	routes := BuildFilterRoutes(nil, nil)
	assert.Empty(t, routes)
}

func TestBuildFilterRoutes_RegistersExpectedPatterns(t *testing.T) {
	var items, collections filter.Builder = &stubBuilder{}, &stubBuilder{}

	routes := BuildFilterRoutes(items, collections)

	assert.Len(t, routes, 5)

	var gotPatterns []string
	for _, rt := range routes {
		gotPatterns = append(gotPatterns, rt.Pattern.String())
	}
	assert.Contains(t, gotPatterns, CollectionsListPattern.String())
	assert.Contains(t, gotPatterns, CollectionPattern.String())
	assert.Contains(t, gotPatterns, ItemsListPattern.String())
	assert.Contains(t, gotPatterns, ItemPattern.String())
	assert.Contains(t, gotPatterns, SearchPattern.String())
}

func TestDefaultFilterApplyConfig_SplitsSingleVsList(t *testing.T) {
	cfg := DefaultFilterApplyConfig()
	assert.Len(t, cfg.SingleResourcePatterns, 2)
	assert.Len(t, cfg.ListPatterns, 3)
}

func TestDefaultTransactionPatterns_CoversWriteRoutes(t *testing.T) {
	patterns := DefaultTransactionPatterns()
	assert.Len(t, patterns, 4)
}
