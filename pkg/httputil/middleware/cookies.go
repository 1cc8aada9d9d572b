package middleware

import (
	"context"
	"net/http"

	"github.com/edgeflare/advres/pkg/httputil"
)

// Cookies parses the Cookie header into a name to value map available
// through httputil.Cookies. The first cookie wins when a name repeats.
func Cookies(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies := make(map[string]string)
		for _, c := range r.Cookies() {
			if _, seen := cookies[c.Name]; !seen {
				cookies[c.Name] = c.Value
			}
		}
		ctx := context.WithValue(r.Context(), httputil.CookiesCtxKey, cookies)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
