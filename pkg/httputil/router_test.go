package httputil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func setHeader(key, value string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Add(key, value)
			next.ServeHTTP(w, req)
		})
	}
}

func TestRouterHandle(t *testing.T) {
	r := NewRouter()
	r.Handle("GET /test", okHandler())

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/test", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouterHandleInvalidPattern(t *testing.T) {
	r := NewRouter()
	assert.Panics(t, func() { r.Handle("/test", okHandler()) })
}

func TestRouterMiddleware(t *testing.T) {
	r := NewRouter()
	r.Use(setHeader("X-Order", "first"), setHeader("X-Order", "second"))
	r.Handle("GET /test", okHandler())

	t.Run("global middleware runs once in order", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
		assert.Equal(t, []string{"first", "second"}, w.Header().Values("X-Order"))
	})

	t.Run("global middleware runs for unmatched routes", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, []string{"first", "second"}, w.Header().Values("X-Order"))
	})
}

func TestRouterGroup(t *testing.T) {
	r := NewRouter()
	r.Use(setHeader("X-Global", "true"))

	api := r.Group("/api")
	api.Use(setHeader("X-Api", "true"))
	v1 := api.Group("/v1")
	v1.Handle("GET /test", okHandler())

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"true"}, w.Header().Values("X-Global"))
	assert.Equal(t, []string{"true"}, w.Header().Values("X-Api"))
}

func TestRouterServe(t *testing.T) {
	r := NewRouter()
	r.Handle("GET /test", okHandler())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.ErrorIs(t, r.Serve(l), http.ErrServerClosed)
	}()

	resp, err := http.Get(fmt.Sprintf("http://%s/test", l.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, r.Shutdown(context.Background()))
	wg.Wait()
}

// BenchmarkRouterServeHTTP benchmarks serving HTTP requests
func BenchmarkRouterServeHTTP(b *testing.B) {
	r := NewRouter()
	r.Handle("GET /test", okHandler())
	h := r.Handler()

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.ServeHTTP(w, req)
	}
}

// BenchmarkRouterServeHTTPConcurrent benchmarks serving HTTP requests concurrently
func BenchmarkRouterServeHTTPConcurrent(b *testing.B) {
	r := NewRouter()
	r.Use(setHeader("X-Test", "true"))
	r.Handle("GET /test", okHandler())
	h := r.Handler()

	req := httptest.NewRequest("GET", "/test", nil)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			h.ServeHTTP(httptest.NewRecorder(), req)
		}
	})
}
