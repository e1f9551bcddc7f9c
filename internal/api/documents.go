package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/myrespondr/orgdocs/internal/apperr"
	"github.com/myrespondr/orgdocs/internal/repository"
)

type listResponse struct {
	Success   bool                        `json:"success"`
	Documents []repository.DocumentRecord `json:"documents"`
}

// handleList returns the newest documents for one organization. The org
// comes from the org_id query parameter or from a bearer token.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		respondError(w, apperr.StoreUnavailable("metadata store is not configured", nil))
		return
	}
	orgID := strings.TrimSpace(r.URL.Query().Get("org_id"))
	if orgID == "" {
		_, orgID = s.resolveIdentity(r, "", "")
	}
	if orgID == "" {
		respondError(w, apperr.Validation("org_id is required"))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			respondError(w, apperr.Validation("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	docs, err := s.repo.ListByOrg(r.Context(), orgID, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	if docs == nil {
		docs = []repository.DocumentRecord{}
	}
	respondJSON(w, http.StatusOK, listResponse{Success: true, Documents: docs})
}

// handleDocumentURL returns a time-limited download URL for a stored blob.
func (s *Server) handleDocumentURL(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.repo == nil || s.store == nil {
		respondError(w, apperr.StoreUnavailable("document stores are not configured", nil))
		return
	}
	doc, err := s.repo.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	url, err := s.store.PresignGet(r.Context(), doc.StoragePath, s.cfg.SignedURLTTL)
	if err != nil {
		respondError(w, apperr.Internal("failed to generate url", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}
