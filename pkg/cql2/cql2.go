// Package cql2 treats the OGC Common Query Language (CQL2) as an opaque
// algebra with three operations — parse, combine-by-AND, serialize — plus
// the one evaluator the proxy itself needs: Matches, used by the
// single-resource filter applier and the transaction validator. It is
// deliberately not a full CQL2 implementation; evaluating CQL2 is a
// documented Non-goal, and Matches only needs to answer yes/no against a
// caller-specific predicate, never to execute a general STAC search.
package cql2

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Expression is an opaque CQL2 predicate. Callers never inspect the
// underlying AST directly; they compose expressions with CombineAnd and
// render them with ToText/ToJSON.
type Expression struct {
	node node
}

// node is the internal AST. It is unexported: nothing outside this package
// may pattern-match on it, preserving the "opaque algebra" contract.
type node struct {
	op   string // "and", "or", "not", comparison/function name, or "" for a literal/property leaf
	args []node

	// leaf fields, valid when op == ""
	isProperty bool
	property   string
	literal    any
}

// errEmpty is returned by Validate when the expression has no content.
var errEmpty = fmt.Errorf("cql2: expression is empty")

// ParseText parses a CQL2-text expression into an Expression. It supports
// the subset of the grammar needed to combine, serialize, and evaluate
// predicates: comparisons (=, <>, <, <=, >, >=), boolean connectives
// (AND, OR, NOT), LIKE, IN, parentheses, property references (bare
// identifiers and dotted paths), string/number/boolean/null literals.
func ParseText(text string) (Expression, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Expression{}, nil
	}
	p := &textParser{input: text}
	n, err := p.parseOr()
	if err != nil {
		return Expression{}, fmt.Errorf("cql2: parse error: %w", err)
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return Expression{}, fmt.Errorf("cql2: unexpected trailing input at byte %d: %q", p.pos, p.input[p.pos:])
	}
	return Expression{node: n}, nil
}

// jsonExpr is the CQL2-JSON wire shape: {"op": "...", "args": [...]}.
type jsonExpr struct {
	Op   string            `json:"op"`
	Args []json.RawMessage `json:"args"`
}

// ParseJSON parses a CQL2-JSON expression.
func ParseJSON(data []byte) (Expression, error) {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return Expression{}, nil
	}
	n, err := parseJSONValue(data)
	if err != nil {
		return Expression{}, fmt.Errorf("cql2: parse error: %w", err)
	}
	return Expression{node: n}, nil
}

func parseJSONValue(data []byte) (node, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return node{}, err
	}
	return jsonToNode(raw)
}

func jsonToNode(v any) (node, error) {
	switch val := v.(type) {
	case map[string]any:
		opAny, ok := val["op"]
		if !ok {
			// {"property": "foo"} leaf form
			if prop, ok := val["property"]; ok {
				propStr, _ := prop.(string)
				return node{isProperty: true, property: propStr}, nil
			}
			return node{}, fmt.Errorf("object missing \"op\"")
		}
		op, _ := opAny.(string)
		argsAny, _ := val["args"].([]any)
		n := node{op: strings.ToLower(op)}
		for _, a := range argsAny {
			child, err := jsonToNode(a)
			if err != nil {
				return node{}, err
			}
			n.args = append(n.args, child)
		}
		return n, nil
	case nil:
		return node{literal: nil}, nil
	default:
		return node{literal: val}, nil
	}
}

// CombineAnd returns a new expression representing (e) AND (other). If
// either side is empty (the zero value, meaning "no restriction"), the
// other side is returned unchanged so combining with "no restriction" is a
// no-op rather than producing "x AND true".
func (e Expression) CombineAnd(other Expression) Expression {
	if e.IsEmpty() {
		return other
	}
	if other.IsEmpty() {
		return e
	}
	return Expression{node: node{op: "and", args: []node{e.node, other.node}}}
}

// IsEmpty reports whether this expression carries no restriction — the
// result of parsing an empty string/object, or the zero value.
func (e Expression) IsEmpty() bool {
	return e.node.op == "" && !e.node.isProperty && e.node.literal == nil && len(e.node.args) == 0
}

// ToText serializes the expression to CQL2-text.
func (e Expression) ToText() string {
	if e.IsEmpty() {
		return ""
	}
	return nodeToText(e.node)
}

func nodeToText(n node) string {
	if n.isProperty {
		return n.property
	}
	if n.op == "" {
		return literalToText(n.literal)
	}
	switch n.op {
	case "and", "or":
		parts := make([]string, len(n.args))
		for i, a := range n.args {
			parts[i] = "(" + nodeToText(a) + ")"
		}
		sep := " AND "
		if n.op == "or" {
			sep = " OR "
		}
		return strings.Join(parts, sep)
	case "not":
		return "NOT (" + nodeToText(n.args[0]) + ")"
	case "like":
		return fmt.Sprintf("%s LIKE %s", nodeToText(n.args[0]), nodeToText(n.args[1]))
	case "in":
		parts := make([]string, len(n.args)-1)
		for i, a := range n.args[1:] {
			parts[i] = nodeToText(a)
		}
		return fmt.Sprintf("%s IN (%s)", nodeToText(n.args[0]), strings.Join(parts, ", "))
	case "=", "<>", "<", "<=", ">", ">=":
		return fmt.Sprintf("%s %s %s", nodeToText(n.args[0]), n.op, nodeToText(n.args[1]))
	default:
		parts := make([]string, len(n.args))
		for i, a := range n.args {
			parts[i] = nodeToText(a)
		}
		return fmt.Sprintf("%s(%s)", n.op, strings.Join(parts, ", "))
	}
}

func literalToText(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// ToJSON serializes the expression to CQL2-JSON.
func (e Expression) ToJSON() (any, error) {
	if e.IsEmpty() {
		return nil, nil
	}
	return nodeToJSON(e.node), nil
}

func nodeToJSON(n node) any {
	if n.isProperty {
		return map[string]any{"property": n.property}
	}
	if n.op == "" {
		return n.literal
	}
	args := make([]any, len(n.args))
	for i, a := range n.args {
		args[i] = nodeToJSON(a)
	}
	return map[string]any{"op": n.op, "args": args}
}

// Validate checks that the expression is structurally well-formed: non-empty
// where a restriction was expected to be attached, and every operator has
// the arity it requires.
func (e Expression) Validate() error {
	if e.IsEmpty() {
		return errEmpty
	}
	return validateNode(e.node)
}

func validateNode(n node) error {
	if n.isProperty || n.op == "" {
		return nil
	}
	switch n.op {
	case "not":
		if len(n.args) != 1 {
			return fmt.Errorf("cql2: NOT requires exactly 1 argument, got %d", len(n.args))
		}
	case "and", "or":
		if len(n.args) < 2 {
			return fmt.Errorf("cql2: %s requires at least 2 arguments, got %d", n.op, len(n.args))
		}
	case "=", "<>", "<", "<=", ">", ">=", "like":
		if len(n.args) != 2 {
			return fmt.Errorf("cql2: %s requires exactly 2 arguments, got %d", n.op, len(n.args))
		}
	case "in":
		if len(n.args) < 2 {
			return fmt.Errorf("cql2: IN requires at least 2 arguments, got %d", len(n.args))
		}
	}
	for _, a := range n.args {
		if err := validateNode(a); err != nil {
			return err
		}
	}
	return nil
}

// Matches evaluates the expression against a JSON document represented as a
// decoded map. An empty expression (no restriction) always matches.
func (e Expression) Matches(doc map[string]any) (bool, error) {
	if e.IsEmpty() {
		return true, nil
	}
	v, err := evalNode(e.node, doc)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("cql2: expression did not evaluate to a boolean")
	}
	return b, nil
}

func evalNode(n node, doc map[string]any) (any, error) {
	if n.isProperty {
		return lookupProperty(doc, n.property), nil
	}
	if n.op == "" {
		return n.literal, nil
	}
	switch n.op {
	case "and":
		for _, a := range n.args {
			v, err := evalNode(a, doc)
			if err != nil {
				return nil, err
			}
			b, _ := v.(bool)
			if !b {
				return false, nil
			}
		}
		return true, nil
	case "or":
		for _, a := range n.args {
			v, err := evalNode(a, doc)
			if err != nil {
				return nil, err
			}
			b, _ := v.(bool)
			if b {
				return true, nil
			}
		}
		return false, nil
	case "not":
		v, err := evalNode(n.args[0], doc)
		if err != nil {
			return nil, err
		}
		b, _ := v.(bool)
		return !b, nil
	case "=", "<>", "<", "<=", ">", ">=":
		left, err := evalNode(n.args[0], doc)
		if err != nil {
			return nil, err
		}
		right, err := evalNode(n.args[1], doc)
		if err != nil {
			return nil, err
		}
		return compare(n.op, left, right)
	case "like":
		left, err := evalNode(n.args[0], doc)
		if err != nil {
			return nil, err
		}
		right, err := evalNode(n.args[1], doc)
		if err != nil {
			return nil, err
		}
		return likeMatch(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right)), nil
	case "in":
		left, err := evalNode(n.args[0], doc)
		if err != nil {
			return nil, err
		}
		for _, a := range n.args[1:] {
			v, err := evalNode(a, doc)
			if err != nil {
				return nil, err
			}
			if equalValues(left, v) {
				return true, nil
			}
		}
		return false, nil
	default:
		return nil, fmt.Errorf("cql2: unsupported operator %q for evaluation", n.op)
	}
}

func lookupProperty(doc map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func equalValues(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compare(op string, left, right any) (bool, error) {
	if op == "=" || op == "<>" {
		eq := equalValues(left, right)
		if op == "<>" {
			return !eq, nil
		}
		return eq, nil
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return false, fmt.Errorf("cql2: cannot order-compare non-numeric values %v, %v", left, right)
	}
	switch op {
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return false, fmt.Errorf("cql2: unsupported comparison operator %q", op)
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func likeMatch(value, pattern string) bool {
	// CQL2 LIKE uses '%' as a multi-char wildcard and '_' as single-char;
	// translate to a simple glob match since the proxy never needs regex-grade LIKE.
	regexLike := "^" + escapeLike(pattern) + "$"
	return globMatch(regexLike, value)
}

func escapeLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// globMatch is a tiny anchored matcher supporting the "." and ".*" tokens
// produced by escapeLike, avoiding a regexp import for a single call site.
func globMatch(pattern, value string) bool {
	pattern = strings.TrimPrefix(pattern, "^")
	pattern = strings.TrimSuffix(pattern, "$")
	return matchHere(pattern, value)
}

func matchHere(pattern, value string) bool {
	if pattern == "" {
		return value == ""
	}
	if strings.HasPrefix(pattern, ".*") {
		rest := pattern[2:]
		for i := 0; i <= len(value); i++ {
			if matchHere(rest, value[i:]) {
				return true
			}
		}
		return false
	}
	if strings.HasPrefix(pattern, ".") {
		if value == "" {
			return false
		}
		return matchHere(pattern[1:], value[1:])
	}
	if value == "" {
		return false
	}
	if pattern[0] != value[0] {
		return false
	}
	return matchHere(pattern[1:], value[1:])
}
