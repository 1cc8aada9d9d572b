package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/edgeflare/advres/pkg/httputil"
)

// HPP guards against HTTP parameter pollution: a query parameter sent more
// than once keeps only its last value, and the full list is available via
// httputil.PollutedQuery. Only plain top-level names are collapsed:
// bracketed keys such as "careers[in]" or "tags[]" and whitelisted names
// keep every value.
func HPP(whitelist ...string) httputil.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.RawQuery == "" {
				next.ServeHTTP(w, r)
				return
			}

			values := r.URL.Query()
			polluted := make(map[string][]string)
			for key, vs := range values {
				if len(vs) < 2 || strings.Contains(key, "[") || slices.Contains(whitelist, key) {
					continue
				}
				polluted[key] = vs
				values[key] = vs[len(vs)-1:]
			}
			if len(polluted) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			r = withQuery(r, values)
			r = r.WithContext(context.WithValue(r.Context(), httputil.PollutedQueryCtxKey, polluted))
			next.ServeHTTP(w, r)
		})
	}
}
