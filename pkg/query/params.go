package query

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/edgeflare/advres/pkg/store"
)

// ErrMalformedQuery is matched by every error caused by an unparseable query string.
var ErrMalformedQuery = errors.New("malformed query")

// Error reports a query parameter that could not be translated.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("malformed query parameter %q: %s", e.Key, e.Reason)
}

func (e *Error) Is(target error) bool {
	return target == ErrMalformedQuery
}

// Status maps query errors to 400 Bad Request.
func (e *Error) Status() int {
	return 400
}

// Reserved parameters are directives, never filter fields.
const (
	ParamSelect = "select"
	ParamSort   = "sort"
	ParamPage   = "page"
	ParamLimit  = "limit"
)

func isReservedParam(name string) bool {
	switch name {
	case ParamSelect, ParamSort, ParamPage, ParamLimit:
		return true
	}
	return false
}

// Translate builds the store filter for values: reserved keys are dropped,
// bracket keys (price[gt]=100) become nested filters, and operator keywords
// are rewritten to their prefixed form.
func Translate(values url.Values) (store.Filter, error) {
	raw, err := parseFilter(values)
	if err != nil {
		return nil, err
	}
	return RewriteOperators(raw), nil
}

// RewriteOperators returns a copy of f where every key, at any depth, equal
// to gt, gte, lt, lte or in is replaced by $gt, $gte, $lt, $lte or $in.
func RewriteOperators(f store.Filter) store.Filter {
	out := make(store.Filter, len(f))
	for k, v := range f {
		if op, ok := store.PrefixedOperator(k); ok {
			k = op
		}
		if nested, ok := v.(store.Filter); ok {
			v = RewriteOperators(nested)
		}
		out[k] = v
	}
	return out
}

// parseFilter expands bracket keys into nested filters without touching
// operator keywords.
func parseFilter(values url.Values) (store.Filter, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := store.Filter{}
	for _, key := range keys {
		segs, err := splitKey(key)
		if err != nil {
			return nil, err
		}
		if isReservedParam(segs[0]) {
			continue
		}
		for _, v := range values[key] {
			if err := assign(root, segs, v, key); err != nil {
				return nil, err
			}
		}
	}
	return root, nil
}

// splitKey splits "a[b][c]" into ["a", "b", "c"]. An empty trailing
// segment ("tags[]") marks a list append.
func splitKey(key string) ([]string, error) {
	open := strings.IndexByte(key, '[')
	if open == -1 {
		if key == "" {
			return nil, &Error{Key: key, Reason: "empty parameter name"}
		}
		if strings.IndexByte(key, ']') != -1 {
			return nil, &Error{Key: key, Reason: "unbalanced brackets"}
		}
		return []string{key}, nil
	}
	if open == 0 {
		return nil, &Error{Key: key, Reason: "empty parameter name"}
	}

	segs := []string{key[:open]}
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' {
			return nil, &Error{Key: key, Reason: "unexpected text after ]"}
		}
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			return nil, &Error{Key: key, Reason: "unbalanced brackets"}
		}
		seg := rest[1:end]
		if strings.IndexByte(seg, '[') != -1 {
			return nil, &Error{Key: key, Reason: "unbalanced brackets"}
		}
		segs = append(segs, seg)
		rest = rest[end+1:]
	}

	for _, s := range segs[1 : len(segs)-1] {
		if s == "" {
			return nil, &Error{Key: key, Reason: "[] is only allowed at the end"}
		}
	}
	return segs, nil
}

func assign(node store.Filter, segs []string, v, key string) error {
	name := segs[0]
	cur, exists := node[name]

	if len(segs) == 1 || (len(segs) == 2 && segs[1] == "") {
		switch c := cur.(type) {
		case nil:
			if len(segs) == 2 {
				node[name] = []string{v}
			} else {
				node[name] = v
			}
		case string:
			node[name] = []string{c, v}
		case []string:
			node[name] = append(c, v)
		default:
			return &Error{Key: key, Reason: fmt.Sprintf("%q is both a value and an object", name)}
		}
		return nil
	}

	child, ok := cur.(store.Filter)
	if !ok {
		if exists {
			return &Error{Key: key, Reason: fmt.Sprintf("%q is both a value and an object", name)}
		}
		child = store.Filter{}
		node[name] = child
	}
	return assign(child, segs[1:], v, key)
}

// parseIntParam parses the leading integer of value, returning def when
// there is none or it is not a positive page-sized number.
func parseIntParam(value string, def int) int {
	var result int
	if _, err := fmt.Sscanf(value, "%d", &result); err != nil {
		return def
	}
	if result < 1 || result > math.MaxInt32 {
		return def
	}
	return result
}

// splitList splits a comma separated directive, trimming blanks.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
