//go:build !ui_embed

// Package ui serves the built-in control page when the full frontend is not embedded.
package ui

import (
	_ "embed"
	"net/http"
)

//go:embed control.html
var controlPage []byte

// Handler returns an http.Handler that serves the control page at "/" and
// redirects every other path to the API docs.
func Handler() (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "/index.html" {
			http.Redirect(w, r, "/docs", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(controlPage)
	}), nil
}
