// Package uistatic serves the embedded chat page.
package uistatic

import (
	"bytes"
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"
)

//go:embed app
var appFS embed.FS

// Handler serves the chat page at / and its assets by name. Extensionless
// paths fall back to the page; a missing asset is a 404.
func Handler() http.Handler {
	assets, err := fs.Sub(appFS, "app")
	if err != nil {
		return http.NotFoundHandler()
	}
	page, err := fs.ReadFile(assets, "index.html")
	if err != nil {
		return http.NotFoundHandler()
	}
	files := http.FileServerFS(assets)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		switch {
		case name == "." || name == "index.html":
			servePage(w, r, page)
		case path.Ext(name) == "":
			servePage(w, r, page)
		default:
			if _, err := fs.Stat(assets, name); err != nil {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Cache-Control", "public, max-age=300")
			files.ServeHTTP(w, r)
		}
	})
}

// servePage always revalidates so a redeploy is picked up on reload.
func servePage(w http.ResponseWriter, r *http.Request, page []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, "index.html", time.Time{}, bytes.NewReader(page))
}
