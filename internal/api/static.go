package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/myrespondr/orgdocs/internal/apperr"
)

// staticHandler serves the prebuilt browser client. Paths that match a real
// file are served as-is; everything else falls back to the entry document so
// the client can handle its own routes. API paths that reached this handler
// are unknown routes, not client routes.
func (s *Server) staticHandler() http.Handler {
	dir := s.cfg.StaticDir
	index := filepath.Join(dir, "index.html")
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			respondError(w, apperr.NotFound("unknown API route"))
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fs.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, index)
	})
}
