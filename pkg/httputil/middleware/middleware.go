// Package middleware provides the cross-cutting HTTP middlewares of the
// server pipeline. Each one is an httputil.Middleware; the server registers
// them in a fixed order with Router.Use.
package middleware

import (
	"net/http"

	"github.com/edgeflare/advres/pkg/httputil"
)

// Chain applies one or more middleware functions to a handler in the order they were provided.
// The first middleware in the list will be the outermost wrapper (executed first).
func Chain(h http.Handler, middlewares ...httputil.Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
