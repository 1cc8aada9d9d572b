package httputil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
)

// Middleware defines a function type that represents a middleware. Middleware functions wrap an
// http.Handler to modify or enhance its behavior.
type Middleware func(http.Handler) http.Handler

// RouterOptions is a function type that represents options to configure a Router.
type RouterOptions func(*Router)

// Router is the main structure for handling HTTP routing and middleware.
//
// Middleware added to the root router wraps the whole mux, so it also runs for
// requests that match no route (static files, 404s). Middleware added to a group
// wraps only the handlers registered on that group.
type Router struct {
	mux        *http.ServeMux
	server     *http.Server
	prefix     string
	middleware []Middleware
	group      bool
	mu         sync.RWMutex
}

// NewRouter creates a new instance of Router with the given options.
func NewRouter(opts ...RouterOptions) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		server: &http.Server{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithServerOptions returns a RouterOptions function that sets custom http.Server options.
func WithServerOptions(opts ...func(*http.Server)) RouterOptions {
	return func(r *Router) {
		for _, opt := range opts {
			opt(r.server)
		}
	}
}

// Use adds one or more middleware to the router. At least one middleware must be provided.
// Middleware functions are applied in the order they are added.
func (r *Router) Use(mw Middleware, additional ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
	if len(additional) > 0 {
		r.middleware = append(r.middleware, additional...)
	}
}

// Group creates a new sub-router with a specified prefix. A group inherits the
// middleware of its parent group, not the root router's global middleware.
func (r *Router) Group(prefix string) *Router {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := &Router{
		mux:    r.mux,
		server: r.server,
		prefix: r.prefix + prefix,
		group:  true,
	}
	if r.group {
		g.middleware = slices.Clone(r.middleware)
	}
	return g
}

// Handle registers an HTTP handler function for a given method and pattern as introduced in
// [Routing Enhancements for Go 1.22](https://go.dev/blog/routing-enhancements)
// The handler `METHOD /pattern` on a route group with a /prefix resolves to `METHOD /prefix/pattern`
func (r *Router) Handle(methodPattern string, handler http.Handler) {
	method, pattern, ok := strings.Cut(methodPattern, " ")
	if !ok {
		panic(fmt.Sprintf("httputil: invalid method pattern: %s", methodPattern))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	finalHandler := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		recordRoute(req)
		handler.ServeHTTP(w, req)
	}))
	if r.group {
		finalHandler = chain(finalHandler, r.middleware)
	}
	r.mux.Handle(fmt.Sprintf("%s %s%s", method, r.prefix, pattern), finalHandler)
}

// Handler returns the mux wrapped in the root router's middleware.
func (r *Router) Handler() http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.group {
		return r.mux
	}
	return chain(r.mux, r.middleware)
}

// Serve accepts connections on l until Shutdown is called. It always returns a
// non-nil error; after Shutdown the error is http.ErrServerClosed.
func (r *Router) Serve(l net.Listener) error {
	r.server.Handler = r.Handler()
	return r.server.Serve(l)
}

// ListenAndServe listens on addr and serves the router.
func (r *Router) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	r.server.Addr = addr
	return r.Serve(l)
}

// Shutdown gracefully shuts down the HTTP server: the listener is closed and
// in-flight requests are allowed to finish until ctx expires.
func (r *Router) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

func chain(h http.Handler, mws []Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
