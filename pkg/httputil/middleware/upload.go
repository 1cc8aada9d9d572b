package middleware

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/edgeflare/advres/pkg/httputil"
)

const (
	// DefaultUploadLimit caps multipart bodies when FileUpload is given no limit.
	DefaultUploadLimit int64 = 10 << 20
	uploadMemory       int64 = 8 << 20
)

// FileUpload parses multipart/form-data bodies of at most maxBytes. Files
// are available through httputil.Files and form values through
// r.MultipartForm. Parts beyond the in-memory threshold are spooled to
// temporary files, removed when the request ends.
func FileUpload(maxBytes int64) httputil.Middleware {
	if maxBytes <= 0 {
		maxBytes = DefaultUploadLimit
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "multipart/form-data" {
				next.ServeHTTP(w, r)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			if err := r.ParseMultipartForm(min(maxBytes, uploadMemory)); err != nil {
				httputil.RenderError(w, r, uploadError(err))
				return
			}
			defer func() { _ = r.MultipartForm.RemoveAll() }()

			ctx := context.WithValue(r.Context(), httputil.FilesCtxKey, r.MultipartForm.File)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func uploadError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
		return httputil.NewErrorResponse("Request body too large", http.StatusRequestEntityTooLarge)
	}
	return httputil.NewErrorResponse("Invalid multipart body", http.StatusBadRequest)
}
