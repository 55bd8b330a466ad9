package graphql

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
)

// serializeLeaf coerces a resolved scalar or enum value into its JSON form.
// Custom scalars are passed through unchanged.
func serializeLeaf(def *ast.Definition, value interface{}) (interface{}, error) {
	if def.Kind == ast.Enum {
		s := fmt.Sprint(value)
		if def.EnumValues.ForName(s) == nil {
			return nil, fmt.Errorf("enum %s cannot represent value %q", def.Name, s)
		}
		return s, nil
	}

	switch def.Name {
	case "Int":
		return coerceInt(value)
	case "Float":
		return coerceFloat(value)
	case "String":
		return coerceString(value)
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("Boolean cannot represent a non boolean value: %v", value)
	case "ID":
		switch v := value.(type) {
		case string:
			return v, nil
		case json.Number:
			return v.String(), nil
		}
		if i, err := coerceInt(value); err == nil {
			return strconv.FormatInt(i.(int64), 10), nil
		}
		return nil, fmt.Errorf("ID cannot represent value: %v", value)
	default:
		return value, nil
	}
}

func coerceInt(value interface{}) (interface{}, error) {
	if n, ok := value.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		return nil, fmt.Errorf("Int cannot represent non-integer value: %s", n)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("Int cannot represent value: %d", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return nil, fmt.Errorf("Int cannot represent non-integer value: %v", f)
		}
		return int64(f), nil
	}
	return nil, fmt.Errorf("Int cannot represent value: %v", value)
}

func coerceFloat(value interface{}) (interface{}, error) {
	if n, ok := value.(json.Number); ok {
		return n.Float64()
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, fmt.Errorf("Float cannot represent value: %v", value)
}

func coerceString(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case bool, json.Number:
		return fmt.Sprint(v), nil
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprint(value), nil
	}
	return nil, fmt.Errorf("String cannot represent value: %v", value)
}
