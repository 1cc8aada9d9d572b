package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/edgeflare/advres/pkg/httputil"
	"go.uber.org/zap"
)

// Sanitize removes operator injection from user input: query parameters and
// JSON body keys that start with "$" or contain "." are dropped, at any depth.
// Bracketed query keys are checked segment by segment, so price[$gt]=1 is
// dropped while price[gt]=1 is kept.
func Sanitize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var removed []string

		if r.URL.RawQuery != "" {
			values := r.URL.Query()
			for key := range values {
				if unsafeQueryKey(key) {
					delete(values, key)
					removed = append(removed, key)
				}
			}
			if len(removed) > 0 {
				r = withQuery(r, values)
			}
		}

		if body, ok := httputil.Body(r); ok {
			n := len(removed)
			sanitizeMap(body, &removed)
			if len(removed) > n {
				var err error
				if r, err = replaceBody(r, body); err != nil {
					httputil.RenderError(w, r, err)
					return
				}
			}
		}

		if len(removed) > 0 {
			httputil.Logger(r, zap.NewNop()).Debug("sanitized request", zap.Strings("keys", removed))
		}
		next.ServeHTTP(w, r)
	})
}

func unsafeKey(key string) bool {
	return strings.HasPrefix(key, "$") || strings.Contains(key, ".")
}

func unsafeQueryKey(key string) bool {
	segments := strings.FieldsFunc(key, func(r rune) bool { return r == '[' || r == ']' })
	for _, s := range segments {
		if unsafeKey(s) {
			return true
		}
	}
	return false
}

// sanitizeMap deletes unsafe keys from m in place; removed collects them.
func sanitizeMap(m map[string]any, removed *[]string) {
	for k, v := range m {
		if unsafeKey(k) {
			delete(m, k)
			*removed = append(*removed, k)
			continue
		}
		sanitizeValue(v, removed)
	}
}

func sanitizeValue(v any, removed *[]string) {
	switch val := v.(type) {
	case map[string]any:
		sanitizeMap(val, removed)
	case []any:
		for _, item := range val {
			sanitizeValue(item, removed)
		}
	}
}

// withQuery returns a shallow copy of r whose URL carries values.
func withQuery(r *http.Request, values url.Values) *http.Request {
	r2 := r.Clone(r.Context())
	u := *r.URL
	u.RawQuery = values.Encode()
	r2.URL = &u
	return r2
}
