package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/unrolled/secure"

	"github.com/edgeflare/advres/pkg/httputil"
)

// SecureHeadersOptions lists the security headers to set. An empty value
// removes the header from the defaults.
type SecureHeadersOptions struct {
	ContentSecurityPolicy string
	Headers               map[string]string
}

// DefaultSecureHeaders are the headers set on every response. No
// Content-Security-Policy is sent unless configured.
func DefaultSecureHeaders() map[string]string {
	return map[string]string{
		"Cross-Origin-Opener-Policy":        "same-origin",
		"Cross-Origin-Resource-Policy":      "same-origin",
		"Origin-Agent-Cluster":              "?1",
		"Referrer-Policy":                   "no-referrer",
		"Strict-Transport-Security":         "max-age=15552000; includeSubDomains",
		"X-Content-Type-Options":            "nosniff",
		"X-DNS-Prefetch-Control":            "off",
		"X-Download-Options":                "noopen",
		"X-Frame-Options":                   "SAMEORIGIN",
		"X-Permitted-Cross-Domain-Policies": "none",
		"X-XSS-Protection":                  "0",
	}
}

// SecureHeaders sets the default security headers merged with options.
// Headers known to unrolled/secure are set by it; the rest are set as is.
func SecureHeaders(options *SecureHeadersOptions) httputil.Middleware {
	headers := DefaultSecureHeaders()
	if options != nil {
		for k, v := range options.Headers {
			if v == "" {
				delete(headers, k)
				continue
			}
			headers[k] = v
		}
		if options.ContentSecurityPolicy != "" {
			headers["Content-Security-Policy"] = options.ContentSecurityPolicy
		}
	}

	opts, extra := secureOptions(headers)
	sec := secure.New(opts)

	return func(next http.Handler) http.Handler {
		return sec.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range extra {
				h.Set(k, v)
			}
			h.Del("X-Powered-By")
			next.ServeHTTP(w, r)
		}))
	}
}

// secureOptions moves the headers secure.Options can express into it and
// returns the remaining ones. HSTS is sent on plain HTTP too, as the server
// usually runs behind a TLS-terminating proxy.
func secureOptions(headers map[string]string) (secure.Options, map[string]string) {
	opts := secure.Options{ForceSTSHeader: true}
	extra := make(map[string]string)
	for k, v := range headers {
		switch http.CanonicalHeaderKey(k) {
		case "Strict-Transport-Security":
			if !parseSTS(v, &opts) {
				extra[k] = v
			}
		case "X-Frame-Options":
			opts.CustomFrameOptionsValue = v
		case "X-Content-Type-Options":
			if v == "nosniff" {
				opts.ContentTypeNosniff = true
			} else {
				extra[k] = v
			}
		case "X-Xss-Protection":
			opts.BrowserXssFilter = true
			opts.CustomBrowserXssValue = v
		case "Referrer-Policy":
			opts.ReferrerPolicy = v
		case "Content-Security-Policy":
			opts.ContentSecurityPolicy = v
		default:
			extra[k] = v
		}
	}
	return opts, extra
}

// parseSTS fills the HSTS fields of opts from a header value like
// "max-age=15552000; includeSubDomains; preload".
func parseSTS(v string, opts *secure.Options) bool {
	var maxAge int64
	var subdomains, preload bool
	for _, directive := range strings.Split(v, ";") {
		directive = strings.TrimSpace(directive)
		name, value, _ := strings.Cut(directive, "=")
		switch strings.ToLower(name) {
		case "max-age":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n <= 0 {
				return false
			}
			maxAge = n
		case "includesubdomains":
			subdomains = true
		case "preload":
			preload = true
		case "":
		default:
			return false
		}
	}
	if maxAge == 0 {
		return false
	}
	opts.STSSeconds = maxAge
	opts.STSIncludeSubdomains = subdomains
	opts.STSPreload = preload
	return true
}
