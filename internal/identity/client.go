// Package identity talks to the hosted identity provider: password-grant
// sign-in and bearer token validation. The provider exposes a Supabase-style
// auth API (/auth/v1/token, /auth/v1/user) keyed by a project api key.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/myrespondr/orgdocs/internal/apperr"
)

// Session is the result of a successful sign-in. OrgID is empty when neither
// the profile claims nor the access token carry one; callers fall back to the
// user_profiles table and finally to an unscoped session.
type Session struct {
	UserID      string
	Email       string
	AccessToken string
	OrgID       string
}

// User is the identity behind a validated bearer token.
type User struct {
	ID    string
	Email string
	OrgID string
}

// Client is an HTTP client for the identity provider.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New constructs a Client. A request-level timeout applies to every provider
// call; a timeout is retryable, a 4xx rejection is not.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	User        providerUser `json:"user"`
}

type providerUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type providerError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

// SignIn exchanges credentials for a session via the password grant.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}
	url := c.baseURL + "/auth/v1/token?grant_type=password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.StoreUnavailable("identity provider unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, apperr.Authentication(readProviderError(resp.Body))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	sess := &Session{
		UserID:      tr.User.ID,
		Email:       tr.User.Email,
		AccessToken: tr.AccessToken,
		OrgID:       orgFromMetadata(tr.User.UserMetadata),
	}
	if sess.OrgID == "" {
		sess.OrgID = orgFromToken(tr.AccessToken)
	}
	return sess, nil
}

// User validates a bearer token and returns the identity it belongs to.
func (c *Client) User(ctx context.Context, token string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("build user request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.StoreUnavailable("identity provider unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, apperr.Authentication(readProviderError(resp.Body))
	}

	var pu providerUser
	if err := json.NewDecoder(resp.Body).Decode(&pu); err != nil {
		return nil, fmt.Errorf("decode user response: %w", err)
	}
	u := &User{ID: pu.ID, Email: pu.Email, OrgID: orgFromMetadata(pu.UserMetadata)}
	if u.OrgID == "" {
		u.OrgID = orgFromToken(token)
	}
	return u, nil
}

func readProviderError(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 8<<10))
	if err != nil || len(data) == 0 {
		return "authentication failed"
	}
	var pe providerError
	if err := json.Unmarshal(data, &pe); err == nil {
		for _, msg := range []string{pe.ErrorDescription, pe.Msg, pe.Error} {
			if msg != "" {
				return msg
			}
		}
	}
	return "authentication failed"
}

func orgFromMetadata(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta["org_id"].(string); ok {
		return v
	}
	return ""
}

// orgFromToken reads the org claim out of the access token without verifying
// the signature; the token came from the provider over TLS moments ago, so
// this is claim extraction, not authentication.
func orgFromToken(token string) string {
	if token == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	if meta, ok := claims["user_metadata"].(map[string]any); ok {
		if v, ok := meta["org_id"].(string); ok && v != "" {
			return v
		}
	}
	if v, ok := claims["org_id"].(string); ok {
		return v
	}
	return ""
}
