package middleware

import (
	"fmt"
	"net/http"

	"github.com/edgeflare/advres/pkg/httputil"
	"go.uber.org/zap"
)

// ErrorHandlerOptions configures ErrorHandler.
type ErrorHandlerOptions struct {
	Logger *zap.Logger
	// Mappings translate errors to responses. Default: httputil.DefaultErrorMappings.
	Mappings []httputil.ErrorMapping
}

// ErrorHandler is the centralized error handler; register it last so it
// wraps the routes directly. It installs the renderer used by
// httputil.RenderError and turns panics into 500 responses. Server errors
// are logged at error level, client errors at debug.
func ErrorHandler(options *ErrorHandlerOptions) httputil.Middleware {
	opts := ErrorHandlerOptions{}
	if options != nil {
		opts = *options
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Mappings == nil {
		opts.Mappings = httputil.DefaultErrorMappings()
	}

	render := func(w http.ResponseWriter, r *http.Request, err error) {
		status, message := httputil.MapError(err, opts.Mappings)
		logger := httputil.Logger(r, opts.Logger).With(
			zap.String("req_id", httputil.RequestID(r)),
			zap.Int("status", status),
			zap.Error(err),
		)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed")
		} else {
			logger.Debug("request rejected")
		}
		httputil.Error(w, status, message)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := NewResponseRecorder(w)
			r = r.WithContext(httputil.WithErrorRenderer(r.Context(), render))

			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				err, ok := v.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", v)
				}
				httputil.Logger(r, opts.Logger).Error("panic recovered",
					zap.String("req_id", httputil.RequestID(r)),
					zap.Error(err),
					zap.Stack("stack"),
				)
				if !rec.Written {
					httputil.Error(rec, http.StatusInternalServerError, "Server Error")
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
