// Package web embeds the GABE chat shell: index.html plus the app.js client
// (chat, age buttons, EventSource stream, XP panel) and app.css.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// SPAHandler serves the embedded chat shell. Known assets are served as
// files; any other page path gets index.html so client-side views such as
// /journal resolve. Paths under /api/ and /ws/ never fall back to the shell:
// a stale client calling a removed endpoint gets a JSON 404, not HTML.
func SPAHandler() http.Handler {
	shell, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to open embedded shell: " + err.Error())
	}
	files := http.FileServer(http.FS(shell))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/ws/") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}` + "\n"))
			return
		}

		name := strings.TrimPrefix(r.URL.Path, "/")
		if name != "" && isAsset(shell, name) {
			files.ServeHTTP(w, r)
			return
		}

		// The shell itself must be revalidated so a deploy picks up new assets.
		w.Header().Set("Cache-Control", "no-cache")
		r.URL.Path = "/"
		files.ServeHTTP(w, r)
	})
}

func isAsset(shell fs.FS, name string) bool {
	info, err := fs.Stat(shell, name)
	return err == nil && !info.IsDir()
}
