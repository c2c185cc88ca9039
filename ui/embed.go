//go:build ui_embed

// Package ui embeds a frontend build for the web interface.
package ui

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// Build with: go build -tags ui_embed .
// Requires a frontend build in ui/dist.

//go:embed all:dist
var distFS embed.FS

//go:embed control.html
var controlPage []byte

// Handler returns an http.Handler that serves the embedded frontend. Paths
// without an extension get index.html for client-side routing, or the
// built-in control page when the build has no index.html.
func Handler() (http.Handler, error) {
	fsys, err := fs.Sub(distFS, "dist")
	if err != nil {
		return nil, err
	}
	_, statErr := fs.Stat(fsys, "index.html")
	hasIndex := statErr == nil

	fileServer := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := path.Clean(r.URL.Path)

		if f, openErr := fsys.Open(strings.TrimPrefix(p, "/")); openErr == nil {
			stat, statErr := f.Stat()
			_ = f.Close()
			if statErr == nil && !stat.IsDir() {
				fileServer.ServeHTTP(w, r)
				return
			}
		}

		if strings.Contains(path.Base(p), ".") {
			http.NotFound(w, r)
			return
		}
		if !hasIndex {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(controlPage)
			return
		}
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	}), nil
}
