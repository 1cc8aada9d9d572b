package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Condition is one comparison extracted from a Filter. Path holds the
// sub-document keys below Field for nested, non-operator filters such as
// {"location": {"state": "MA"}}.
type Condition struct {
	Field string
	Path  []string
	Op    string
	Value any
}

// Conditions flattens f into a deterministic (field-sorted) list.
// Literal values become $eq, string lists become $in, and operator maps
// expand to one Condition per operator. $in values given as a single
// string are split on commas. All leaf strings go through Coerce.
func (f Filter) Conditions() ([]Condition, error) {
	var out []Condition
	for _, field := range sortedKeys(f) {
		conds, err := conditionsFor(field, nil, f[field])
		if err != nil {
			return nil, err
		}
		out = append(out, conds...)
	}
	return out, nil
}

func conditionsFor(field string, path []string, v any) ([]Condition, error) {
	switch val := v.(type) {
	case Filter:
		return nestedConditions(field, path, val)
	case map[string]any:
		return nestedConditions(field, path, val)
	case []string:
		return []Condition{{Field: field, Path: path, Op: OpIn, Value: CoerceAll(val)}}, nil
	case []any:
		return []Condition{{Field: field, Path: path, Op: OpIn, Value: coerceAny(val)}}, nil
	case string:
		return []Condition{{Field: field, Path: path, Op: OpEq, Value: Coerce(val)}}, nil
	case nil:
		return []Condition{{Field: field, Path: path, Op: OpEq, Value: nil}}, nil
	default:
		return []Condition{{Field: field, Path: path, Op: OpEq, Value: val}}, nil
	}
}

func nestedConditions(field string, path []string, m map[string]any) ([]Condition, error) {
	var out []Condition
	for _, key := range sortedKeys(m) {
		v := m[key]
		if !IsOperator(key) {
			sub := append(append([]string{}, path...), key)
			conds, err := conditionsFor(field, sub, v)
			if err != nil {
				return nil, err
			}
			out = append(out, conds...)
			continue
		}

		switch key {
		case OpIn:
			out = append(out, Condition{Field: field, Path: path, Op: OpIn, Value: InList(v)})
		default:
			val, err := scalar(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s %s: %v", ErrInvalidField, field, key, err)
			}
			out = append(out, Condition{Field: field, Path: path, Op: key, Value: val})
		}
	}
	return out, nil
}

func scalar(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return Coerce(val), nil
	case []string:
		if len(val) == 1 {
			return Coerce(val[0]), nil
		}
		return nil, fmt.Errorf("expected a single value, got %d", len(val))
	case Filter, map[string]any:
		return nil, fmt.Errorf("expected a value, got an object")
	default:
		return val, nil
	}
}

// InList normalises the operand of $in: a comma separated string or a list
// of strings becomes a list of coerced values.
func InList(v any) []any {
	switch val := v.(type) {
	case string:
		return CoerceAll(strings.Split(val, ","))
	case []string:
		var parts []string
		for _, s := range val {
			parts = append(parts, strings.Split(s, ",")...)
		}
		return CoerceAll(parts)
	case []any:
		return coerceAny(val)
	default:
		return []any{val}
	}
}

// Coerce converts s to int64, float64 or bool when the conversion is
// lossless, so "100" becomes 100 while "02134" and "1e3" stay strings.
func Coerce(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && strconv.FormatFloat(f, 'f', -1, 64) == s {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// CoerceAll applies Coerce to every element of ss.
func CoerceAll(ss []string) []any {
	out := make([]any, 0, len(ss))
	for _, s := range ss {
		out = append(out, Coerce(strings.TrimSpace(s)))
	}
	return out
}

func coerceAny(vs []any) []any {
	out := make([]any, 0, len(vs))
	for _, v := range vs {
		if s, ok := v.(string); ok {
			out = append(out, Coerce(s))
			continue
		}
		out = append(out, v)
	}
	return out
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
