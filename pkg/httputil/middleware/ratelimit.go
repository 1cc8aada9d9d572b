package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edgeflare/advres/pkg/httputil"
	"github.com/edgeflare/advres/pkg/metrics"
	"github.com/edgeflare/advres/pkg/ratelimit"
	"go.uber.org/zap"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimitOptions configures RateLimit.
type RateLimitOptions struct {
	// KeyFunc identifies the client. Default: ClientIP.
	KeyFunc func(r *http.Request) string
	// TrustProxy makes the default KeyFunc use the first X-Forwarded-For address.
	TrustProxy bool
	Message    string
	Logger     *zap.Logger
}

// RateLimit counts requests per client with limiter and rejects clients
// over the limit with 429. The X-RateLimit-* headers are sent on every
// counted request. When the limiter itself fails, the request is let
// through and the failure logged.
func RateLimit(limiter ratelimit.Limiter, options *RateLimitOptions) httputil.Middleware {
	opts := RateLimitOptions{}
	if options != nil {
		opts = *options
	}
	if opts.KeyFunc == nil {
		trust := opts.TrustProxy
		opts.KeyFunc = func(r *http.Request) string { return ClientIP(r, trust) }
	}
	if opts.Message == "" {
		opts.Message = "Too many requests, please try again later."
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFunc(r)
			res, err := limiter.Allow(r.Context(), key)
			if err != nil {
				httputil.Logger(r, opts.Logger).Warn("rate limiter unavailable", zap.String("client", key), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
			h.Set(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
			h.Set(HeaderRateLimitReset, strconv.FormatInt(res.Reset.Unix(), 10))

			if !res.Allowed {
				metrics.RateLimited.Inc()
				retry := max(res.Reset.Unix()-nowUnix(), 0)
				h.Set("Retry-After", strconv.FormatInt(retry, 10))
				httputil.RenderError(w, r, httputil.NewErrorResponse(opts.Message, http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var nowUnix = func() int64 { return time.Now().Unix() }

// ClientIP returns the client address of r. With trustProxy the first
// X-Forwarded-For entry wins.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
