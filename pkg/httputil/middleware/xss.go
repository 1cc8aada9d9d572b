package middleware

import (
	"net/http"
	"strings"

	"github.com/edgeflare/advres/pkg/httputil"
	"github.com/microcosm-cc/bluemonday"
)

// XSSClean strips HTML markup from query values and JSON body strings with a
// strict bluemonday policy. Strings without angle brackets are left as is.
func XSSClean(next http.Handler) http.Handler {
	policy := bluemonday.StrictPolicy()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			values := r.URL.Query()
			changed := false
			for _, vs := range values {
				for i, v := range vs {
					if clean := cleanString(policy, v); clean != v {
						vs[i] = clean
						changed = true
					}
				}
			}
			if changed {
				r = withQuery(r, values)
			}
		}

		if body, ok := httputil.Body(r); ok {
			if cleanValue(policy, body) {
				var err error
				if r, err = replaceBody(r, body); err != nil {
					httputil.RenderError(w, r, err)
					return
				}
			}
		}

		next.ServeHTTP(w, r)
	})
}

func cleanString(p *bluemonday.Policy, s string) string {
	if !strings.ContainsAny(s, "<>") {
		return s
	}
	return p.Sanitize(s)
}

// cleanValue sanitizes strings inside maps and slices in place and reports
// whether anything changed.
func cleanValue(p *bluemonday.Policy, v any) bool {
	changed := false
	switch val := v.(type) {
	case map[string]any:
		for k, x := range val {
			if s, ok := x.(string); ok {
				if clean := cleanString(p, s); clean != s {
					val[k] = clean
					changed = true
				}
				continue
			}
			changed = cleanValue(p, x) || changed
		}
	case []any:
		for i, x := range val {
			if s, ok := x.(string); ok {
				if clean := cleanString(p, s); clean != s {
					val[i] = clean
					changed = true
				}
				continue
			}
			changed = cleanValue(p, x) || changed
		}
	}
	return changed
}
