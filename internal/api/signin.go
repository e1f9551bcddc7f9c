package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/myrespondr/orgdocs/internal/apperr"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	Success     bool        `json:"success"`
	User        userPayload `json:"user"`
	OrgID       *string     `json:"org_id"`
	AccessToken string      `json:"access_token,omitempty"`
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// handleSignIn authenticates against the identity provider and resolves the
// user's organization: provider claims first, then a single profile-table
// lookup. No organization anywhere is not an error; org_id comes back null
// and later uploads are filed under the unscoped path.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.identity == nil {
		respondError(w, apperr.StoreUnavailable("identity provider is not configured", nil))
		return
	}
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.Validation("invalid request body"))
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		respondError(w, apperr.Validation("email and password required"))
		return
	}

	sess, err := s.identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}

	orgID := sess.OrgID
	if orgID == "" && s.profiles != nil {
		v, err := s.profiles.OrgID(r.Context(), sess.UserID)
		if err != nil {
			// The fallback lookup failing must not block sign-in.
			log.Printf("profile lookup failed for %s: %v", sess.UserID, err)
		} else {
			orgID = v
		}
	}

	respondJSON(w, http.StatusOK, signInResponse{
		Success:     true,
		User:        userPayload{ID: sess.UserID, Email: sess.Email},
		OrgID:       optional(orgID),
		AccessToken: sess.AccessToken,
	})
}
