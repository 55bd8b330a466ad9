package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/getmockd/gqlsubs/pkg/subscriptions"
)

// variablePrefix marks an expected value taken from the subscription's
// variables.
const variablePrefix = "$variables."

type condition struct {
	path     string
	expr     jp.Expr
	expected interface{}
}

// JSONPath builds a filter from JSONPath conditions over the payload. Every
// condition must hold. The expected value may be:
//
//   - a literal, compared with numeric coercion
//   - "$variables.name", the subscription's variable of that name
//   - {"exists": true|false}, checking presence only
func JSONPath(conditions map[string]interface{}) (subscriptions.Filter, error) {
	paths := make([]string, 0, len(conditions))
	for p := range conditions {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	compiled := make([]condition, 0, len(paths))
	for _, p := range paths {
		x, err := jp.ParseString(p)
		if err != nil {
			return nil, fmt.Errorf("invalid JSONPath %q: %w", p, err)
		}
		compiled = append(compiled, condition{path: p, expr: x, expected: conditions[p]})
	}

	return func(_ context.Context, payload interface{}, variables map[string]interface{}) bool {
		data := normalize(payload)
		for _, c := range compiled {
			if !c.match(data, variables) {
				return false
			}
		}
		return true
	}, nil
}

func (c condition) match(data interface{}, variables map[string]interface{}) bool {
	results := c.expr.Get(data)

	if exists, ok := existenceCheck(c.expected); ok {
		return (len(results) > 0) == exists
	}

	expected := c.expected
	if s, ok := expected.(string); ok && strings.HasPrefix(s, variablePrefix) {
		v, ok := variables[strings.TrimPrefix(s, variablePrefix)]
		if !ok {
			return false
		}
		expected = v
	}

	for _, r := range results {
		if valuesEqual(r, expected) {
			return true
		}
	}
	return false
}

// existenceCheck reports whether expected is {"exists": bool}.
func existenceCheck(expected interface{}) (exists, ok bool) {
	m, isMap := expected.(map[string]interface{})
	if !isMap || len(m) != 1 {
		return false, false
	}
	b, isBool := m["exists"].(bool)
	return b, isBool
}

// normalize turns arbitrary Go values into the generic JSON shape JSONPath
// and expr expect. Generic values are returned as is.
func normalize(v interface{}) interface{} {
	switch v.(type) {
	case nil, map[string]interface{}, []interface{}, string, bool, float64, int, int64:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// valuesEqual compares two values, treating all numeric kinds as equal
// when their float64 values are.
func valuesEqual(actual, expected interface{}) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if reflect.DeepEqual(actual, expected) {
		return true
	}
	a, aNum := toFloat64(actual)
	e, eNum := toFloat64(expected)
	if aNum && eNum {
		return a == e
	}
	return false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
