package proxy

import (
	"regexp"

	"github.com/stacklok/stac-auth-proxy/pkg/filter"
)

// The canonical STAC route shapes the pipeline's filter-build, filter-apply,
// and transaction-validate stages all key off of. Defined once here so the
// three stages (and main's wiring) agree on what counts as a "collection"
// route versus an "items/search" route.
var (
	// CollectionsListPattern matches the collections list endpoint.
	CollectionsListPattern = regexp.MustCompile(`^/collections$`)
	// CollectionPattern matches a single collection resource.
	CollectionPattern = regexp.MustCompile(`^/collections/[^/]+$`)
	// ItemsListPattern matches a collection's items list endpoint.
	ItemsListPattern = regexp.MustCompile(`^/collections/[^/]+/items$`)
	// ItemPattern matches a single item resource.
	ItemPattern = regexp.MustCompile(`^/collections/[^/]+/items/[^/]+$`)
	// SearchPattern matches the cross-collection search endpoint.
	SearchPattern = regexp.MustCompile(`^/search$`)
)

// BuildFilterRoutes pairs the collections filter with collection routes and
// the items filter with items/search routes. Either builder may be
// nil, in which case its routes are simply not registered — unrestricted
// for every caller.
func BuildFilterRoutes(itemsBuilder, collectionsBuilder filter.Builder) []FilterRoute {
	var routes []FilterRoute
	if collectionsBuilder != nil {
		routes = append(routes,
			FilterRoute{Pattern: CollectionsListPattern, Builder: collectionsBuilder},
			FilterRoute{Pattern: CollectionPattern, Builder: collectionsBuilder},
		)
	}
	if itemsBuilder != nil {
		routes = append(routes,
			FilterRoute{Pattern: ItemsListPattern, Builder: itemsBuilder},
			FilterRoute{Pattern: ItemPattern, Builder: itemsBuilder},
			FilterRoute{Pattern: SearchPattern, Builder: itemsBuilder},
		)
	}
	return routes
}

// DefaultFilterApplyConfig returns the single-resource vs list pattern
// split for every STAC route the filter builder can attach to.
func DefaultFilterApplyConfig() FilterApplyConfig {
	return FilterApplyConfig{
		SingleResourcePatterns: []*regexp.Regexp{CollectionPattern, ItemPattern},
		ListPatterns:           []*regexp.Regexp{CollectionsListPattern, ItemsListPattern, SearchPattern},
	}
}

// RequiredConformanceClasses lists the conformance-class regexes the
// configured stages depend on upstream advertising: the filter stages need
// CQL2 filtering on item search, and the transaction validator needs the
// transaction extension. The lifecycle manager checks each against the
// upstream's /conformance document at startup.
func RequiredConformanceClasses(filtering, transactions bool) []*regexp.Regexp {
	var classes []*regexp.Regexp
	if filtering {
		classes = append(classes,
			regexp.MustCompile(`ogcapi-features-3/[^/]+/conf/filter`),
			regexp.MustCompile(`cql2/[^/]+/conf/cql2-text`),
		)
	}
	if transactions {
		classes = append(classes,
			regexp.MustCompile(`ogcapi-features-4/[^/]+/conf/create-replace-delete`),
		)
	}
	return classes
}

// DefaultTransactionPatterns lists the write endpoints the transaction
// validator governs:
// /collections and /collections/{id}/items, at both the list and
// single-resource shape (POST targets the list URL; PUT/PATCH/DELETE the
// resource URL).
func DefaultTransactionPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{CollectionsListPattern, CollectionPattern, ItemsListPattern, ItemPattern}
}
