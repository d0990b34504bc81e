package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

// handleSPA serves the booth web app from dir. Paths that are not files
// get index.html so client-side routes such as /b/demo/<id> work on reload.
func handleSPA(dir string) http.HandlerFunc {
	root := os.DirFS(dir)
	files := http.FileServerFS(root)

	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name != "" {
			info, err := fs.Stat(root, name)
			if err == nil && !info.IsDir() {
				files.ServeHTTP(w, r)
				return
			}
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
		}

		http.ServeFileFS(w, r, root, "index.html")
	}
}
