package middleware

import (
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/edgeflare/advres/pkg/httputil"
)

// Static serves GET and HEAD requests for files that exist under directory
// and passes every other request to the next handler. A directory is
// served through its index.html; directories are never listed.
func Static(directory string) httputil.Middleware {
	return StaticFS(os.DirFS(directory))
}

// StaticFS is Static over any file system, e.g. an embed.FS.
func StaticFS(fsys fs.FS) httputil.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			name, ok := lookupFile(fsys, r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			setContentType(w, name)
			http.ServeFileFS(w, r, fsys, name)
		})
	}
}

// lookupFile maps a URL path to a servable file name in fsys.
func lookupFile(fsys fs.FS, urlPath string) (string, bool) {
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" {
		name = "."
	}
	if !isValidFilePath(name) {
		return "", false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		name = path.Join(name, "index.html")
		if info, err = fs.Stat(fsys, name); err != nil || info.IsDir() {
			return "", false
		}
	}
	return name, true
}

// isValidFilePath rejects traversal and hidden files.
func isValidFilePath(name string) bool {
	if !fs.ValidPath(name) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part != "." && strings.HasPrefix(part, ".") {
			return false
		}
	}
	return true
}

// setContentType sets the Content-Type header based on the file extension.
func setContentType(w http.ResponseWriter, filePath string) {
	if ext := filepath.Ext(filePath); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
	}
}
