package config

import (
	"encoding/json"
	"fmt"

	"github.com/stacklok/stac-auth-proxy/pkg/classifier"
)

// rawMethodEntry decodes one entry of a rule's method list: either a bare
// method name or a method paired with required scopes. JSON has no tuple
// type, so a scoped entry is encoded as a two-element array
// ["GET", ["scope:create"]] and an unscoped one as a bare string.
type rawMethodEntry struct {
	method string
	scopes []string
}

func (e *rawMethodEntry) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		e.method = asString
		return nil
	}

	var asPair [2]json.RawMessage
	if err := json.Unmarshal(data, &asPair); err != nil {
		return fmt.Errorf("method entry must be a string or a [method, scopes] pair: %w", err)
	}
	if err := json.Unmarshal(asPair[0], &e.method); err != nil {
		return fmt.Errorf("method entry's first element must be a method name: %w", err)
	}
	if err := json.Unmarshal(asPair[1], &e.scopes); err != nil {
		return fmt.Errorf("method entry's second element must be a scope list: %w", err)
	}
	return nil
}

// ParseEndpointRules decodes a JSON-encoded pattern→method-list map (the
// wire shape of PUBLIC_ENDPOINTS/PRIVATE_ENDPOINTS) and compiles it into
// classifier.Rule values in the map's key order is not guaranteed by Go's
// encoding/json decoder, so callers that care about declared order should
// supply raw as a JSON array of {pattern, methods} objects instead; both
// shapes are accepted here.
func ParseEndpointRules(raw string) ([]classifier.Rule, error) {
	if raw == "" {
		return nil, nil
	}

	if rules, err := parseOrderedRules(raw); err == nil {
		return rules, nil
	}

	var asMap map[string][]rawMethodEntry
	if err := json.Unmarshal([]byte(raw), &asMap); err != nil {
		return nil, fmt.Errorf("config: failed to parse endpoint rules: %w", err)
	}

	rules := make([]classifier.Rule, 0, len(asMap))
	for pattern, methods := range asMap {
		rule, err := buildRule(pattern, methods)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// orderedRuleEntry is the array-of-objects shape that preserves declared
// pattern order, which matters only for tie-breaking among
// multiple matching patterns (first match wins).
type orderedRuleEntry struct {
	Pattern string           `json:"pattern"`
	Methods []rawMethodEntry `json:"methods"`
}

func parseOrderedRules(raw string) ([]classifier.Rule, error) {
	var entries []orderedRuleEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}
	rules := make([]classifier.Rule, 0, len(entries))
	for _, e := range entries {
		rule, err := buildRule(e.Pattern, e.Methods)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func buildRule(pattern string, methods []rawMethodEntry) (classifier.Rule, error) {
	re, err := classifier.CompilePattern(pattern)
	if err != nil {
		return classifier.Rule{}, fmt.Errorf("config: invalid endpoint pattern %q: %w", pattern, err)
	}
	methodRules := make([]classifier.MethodRule, 0, len(methods))
	for _, m := range methods {
		methodRules = append(methodRules, classifier.MethodRule{Method: m.method, Scopes: m.scopes})
	}
	return classifier.Rule{Pattern: re, Methods: methodRules}, nil
}
