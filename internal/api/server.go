// Package api exposes the HTTP surface: sign-in, organization document
// uploads, and the static fallback for the browser client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/myrespondr/orgdocs/internal/apperr"
	"github.com/myrespondr/orgdocs/internal/blobstore"
	"github.com/myrespondr/orgdocs/internal/config"
	"github.com/myrespondr/orgdocs/internal/metrics"
)

// Server stitches together configuration, the blob and metadata stores, the
// identity provider, and the reconcile queue. Collaborators arrive as
// interfaces so tests can substitute fakes; any of them may be nil when the
// corresponding backend is not configured, and handlers report that per
// request instead of failing at startup.
type Server struct {
	cfg      *config.Config
	repo     DocumentRepo
	profiles ProfileReader
	identity IdentityProvider
	store    blobstore.Store
	orphans  OrphanQueue
	local    *blobstore.LocalStore
	server   *http.Server
	once     sync.Once
}

// New constructs a Server. local may be nil unless the local blob backend is
// selected; when set it also serves the signed /local/ download routes.
func New(cfg *config.Config, repo DocumentRepo, profiles ProfileReader, provider IdentityProvider, store blobstore.Store, orphans OrphanQueue, local *blobstore.LocalStore) *Server {
	return &Server{
		cfg:      cfg,
		repo:     repo,
		profiles: profiles,
		identity: provider,
		store:    store,
		orphans:  orphans,
		local:    local,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:         s.cfg.Address,
			Handler:      s.Routes(),
			ReadTimeout:  s.cfg.ReadTimeout,
			WriteTimeout: s.cfg.WriteTimeout,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes builds the handler tree. Exposed for httptest use.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/signin", s.handleSignIn)
	mux.HandleFunc("/api/organizations/me/documents", s.handleDocuments)
	mux.HandleFunc("/api/organizations/me/documents/", s.handleDocumentRoute)
	if s.local != nil {
		mux.Handle("/local/", s.local)
	}
	mux.Handle("/", s.staticHandler())
	return corsMiddleware(loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDocumentRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/organizations/me/documents/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 && parts[1] == "url" {
		s.handleDocumentURL(w, r, parts[0])
		return
	}
	http.NotFound(w, r)
}

// respondJSON writes a JSON body with the given status.
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// respondError converts any failure into a JSON {error} body; no error leaves
// a handler unconverted.
func respondError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		respondJSON(w, ae.Status(), map[string]string{"error": ae.Message()})
		return
	}
	respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// optional maps "" to a SQL NULL.
func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
