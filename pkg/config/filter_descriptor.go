package config

import (
	"encoding/json"
	"fmt"

	"github.com/stacklok/stac-auth-proxy/pkg/filter"
)

// rawFilterDescriptor is the JSON wire shape of ITEMS_FILTER/COLLECTIONS_FILTER:
// a named kind plus its construction arguments. "kind" names one of the registry's closed set of
// plugin implementations; "args" is passed through verbatim.
type rawFilterDescriptor struct {
	Kind string         `json:"kind"`
	Args map[string]any `json:"args"`
}

// ParseFilterDescriptor decodes a JSON-encoded filter plugin descriptor. An
// empty string means "no filter configured for this route group."
func ParseFilterDescriptor(raw string) (*filter.Descriptor, error) {
	if raw == "" {
		return nil, nil
	}
	var rd rawFilterDescriptor
	if err := json.Unmarshal([]byte(raw), &rd); err != nil {
		return nil, fmt.Errorf("config: failed to parse filter descriptor: %w", err)
	}
	if rd.Kind == "" {
		return nil, fmt.Errorf("config: filter descriptor missing \"kind\"")
	}
	return &filter.Descriptor{Kind: rd.Kind, Args: rd.Args}, nil
}
