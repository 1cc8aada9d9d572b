package middleware

import (
	"net/http"
	"strconv"

	"github.com/edgeflare/advres/pkg/httputil"
	"github.com/edgeflare/advres/pkg/metrics"
)

// Metrics records the request count and duration of every request, labelled
// with the pattern of the route that handled it ("unmatched" otherwise).
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := NewResponseRecorder(w)
		route := "unmatched"
		r = r.WithContext(httputil.WithRouteRecorder(r.Context(), &route))

		next.ServeHTTP(rec, r)

		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.StatusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(rec.Latency().Seconds())
	})
}
