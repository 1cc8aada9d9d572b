package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/edgeflare/advres/pkg/httputil"
)

// DefaultBodyLimit caps JSON bodies when JSONBody is given no limit.
const DefaultBodyLimit int64 = 1 << 20

// JSONBody parses application/json request bodies of at most limit bytes.
// An object body is stored in the context (see httputil.Body); the raw
// bytes stay readable from r.Body. Oversized bodies fail with 413 and
// invalid JSON with 400.
func JSONBody(limit int64) httputil.Middleware {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody || !isJSON(r) {
				next.ServeHTTP(w, r)
				return
			}

			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
			if err != nil {
				httputil.RenderError(w, r, err)
				return
			}
			if len(bytes.TrimSpace(raw)) == 0 {
				r.Body = io.NopCloser(bytes.NewReader(raw))
				next.ServeHTTP(w, r)
				return
			}

			var body any
			if err := json.Unmarshal(raw, &body); err != nil {
				var syntaxErr *json.SyntaxError
				msg := "Invalid JSON body"
				if errors.As(err, &syntaxErr) {
					msg = "Invalid JSON body: " + syntaxErr.Error()
				}
				httputil.RenderError(w, r, httputil.NewErrorResponse(msg, http.StatusBadRequest))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(raw))
			if obj, ok := body.(map[string]any); ok {
				r = r.WithContext(context.WithValue(r.Context(), httputil.BodyCtxKey, obj))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}

// replaceBody stores body in the request context and re-encodes it as the
// request body, so both views stay in sync after a rewrite.
func replaceBody(r *http.Request, body map[string]any) (*http.Request, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return r, err
	}
	r = r.WithContext(context.WithValue(r.Context(), httputil.BodyCtxKey, body))
	r.Body = io.NopCloser(bytes.NewReader(raw))
	r.ContentLength = int64(len(raw))
	return r, nil
}
