package memory

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/edgeflare/advres/pkg/store"
)

func matchesAll(rec store.Record, conds []store.Condition) bool {
	for _, c := range conds {
		if !matches(rec, c) {
			return false
		}
	}
	return true
}

func matches(rec store.Record, c store.Condition) bool {
	path := c.Field
	if len(c.Path) > 0 {
		path += "." + strings.Join(c.Path, ".")
	}
	v, found := lookup(rec, path)

	switch c.Op {
	case store.OpEq:
		if c.Value == nil {
			return !found || v == nil
		}
		return anyElement(v, func(e any) bool { return equal(e, c.Value) })
	case store.OpIn:
		list, _ := c.Value.([]any)
		return anyElement(v, func(e any) bool {
			for _, want := range list {
				if equal(e, want) {
					return true
				}
			}
			return false
		})
	case store.OpGt, store.OpGte, store.OpLt, store.OpLte:
		if !found {
			return false
		}
		return anyElement(v, func(e any) bool {
			cmp, ok := compare(e, c.Value)
			if !ok {
				return false
			}
			switch c.Op {
			case store.OpGt:
				return cmp > 0
			case store.OpGte:
				return cmp >= 0
			case store.OpLt:
				return cmp < 0
			default:
				return cmp <= 0
			}
		})
	}
	return false
}

// anyElement applies fn to v, or to each element when v is a list: an array
// field matches when any of its elements does.
func anyElement(v any, fn func(any) bool) bool {
	if list, ok := v.([]any); ok {
		for _, e := range list {
			if fn(e) {
				return true
			}
		}
		return fn(v)
	}
	return fn(v)
}

// lookup resolves a dotted path. Lists of sub-documents are traversed
// element-wise and the matches collected.
func lookup(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	key, rest, _ := strings.Cut(path, ".")

	switch cur := v.(type) {
	case store.Record:
		next, ok := cur[key]
		if !ok {
			return nil, false
		}
		return lookup(next, rest)
	case []any:
		var out []any
		for _, item := range cur {
			if val, ok := lookup(item, path); ok {
				if list, isList := val.([]any); isList {
					out = append(out, list...)
				} else {
					out = append(out, val)
				}
			}
		}
		return out, len(out) > 0
	case []store.Record:
		items := make([]any, len(cur))
		for i := range cur {
			items[i] = cur[i]
		}
		return lookup(items, path)
	}
	return nil, false
}

func equal(a, b any) bool {
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	_, aStr := a.(string)
	_, bStr := b.(string)
	return (aStr || bStr) && fmt.Sprint(a) == fmt.Sprint(b)
}

// compare orders two scalar values of compatible kinds. Numeric strings
// compare numerically against numbers.
func compare(a, b any) (int, bool) {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	switch {
	case aNum && bNum:
		return cmpFloat(af, bf), true
	case aNum:
		if s, ok := b.(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return cmpFloat(af, f), true
			}
		}
		return 0, false
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
		if bNum {
			if f, err := strconv.ParseFloat(av, 64); err == nil {
				return cmpFloat(f, bf), true
			}
		}
	case time.Time:
		if bt, ok := toTime(b); ok {
			return av.Compare(bt), true
		}
	case bool:
		if bv, ok := b.(bool); ok && av == bv {
			return 0, true
		}
	}
	return 0, false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareForSort(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, ok := compare(a, b); ok {
		return c
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}
