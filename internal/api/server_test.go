package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/myrespondr/orgdocs/internal/apperr"
	"github.com/myrespondr/orgdocs/internal/blobstore"
	"github.com/myrespondr/orgdocs/internal/config"
	"github.com/myrespondr/orgdocs/internal/identity"
	"github.com/myrespondr/orgdocs/internal/repository"
)

type fakeRepo struct {
	mu        sync.Mutex
	created   []*repository.DocumentRecord
	createErr error
}

func (f *fakeRepo) Create(ctx context.Context, doc *repository.DocumentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, doc)
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (*repository.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.created {
		if doc.ID == id {
			return doc, nil
		}
	}
	return nil, apperr.NotFound("document not found")
}

func (f *fakeRepo) ListByOrg(ctx context.Context, orgID string, limit int) ([]repository.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var docs []repository.DocumentRecord
	for _, doc := range f.created {
		if doc.OrgID != nil && *doc.OrgID == orgID {
			docs = append(docs, *doc)
		}
	}
	return docs, nil
}

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeIdentity struct {
	session   *identity.Session
	signInErr error
	user      *identity.User
	userErr   error
}

func (f *fakeIdentity) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.session, nil
}

func (f *fakeIdentity) User(ctx context.Context, token string) (*identity.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.user, nil
}

type fakeProfiles struct {
	orgs map[string]string
	err  error
}

func (f *fakeProfiles) OrgID(ctx context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.orgs[userID], nil
}

type reconcileCall struct {
	documentID string
	storageKey string
	bucket     string
}

type fakeQueue struct {
	mu    sync.Mutex
	calls []reconcileCall
}

func (f *fakeQueue) EnqueueReconcile(ctx context.Context, documentID, storageKey, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reconcileCall{documentID, storageKey, bucket})
	return nil
}

type failingStore struct {
	err error
}

func (f *failingStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return f.err
}

func (f *failingStore) Remove(ctx context.Context, key string) error { return nil }

func (f *failingStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", f.err
}

type testEnv struct {
	cfg      *config.Config
	repo     *fakeRepo
	store    blobstore.Store
	memory   *blobstore.MemoryStore
	identity IdentityProvider
	profiles ProfileReader
	queue    *fakeQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := blobstore.NewMemoryStore()
	return &testEnv{
		cfg: &config.Config{
			Bucket:         "organization-documents",
			MaxUploadBytes: 1 << 20,
			SignedURLTTL:   time.Minute,
			StaticDir:      t.TempDir(),
		},
		repo:   &fakeRepo{},
		store:  mem,
		memory: mem,
		queue:  &fakeQueue{},
	}
}

func (e *testEnv) handler() http.Handler {
	return New(e.cfg, e.repo, e.profiles, e.identity, e.store, e.queue, nil).Routes()
}

func multipartBody(t *testing.T, fields map[string]string, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
		h.Set("Content-Type", contentType)
		pw, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, handler http.Handler, fields map[string]string, filename, contentType string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, bodyType := multipartBody(t, fields, filename, contentType, content)
	req := httptest.NewRequest(http.MethodPost, "/api/organizations/me/documents", body)
	req.Header.Set("Content-Type", bodyType)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), out))
}

func TestUploadRequiresFile(t *testing.T) {
	env := newTestEnv(t)
	resp := postUpload(t, env.handler(), map[string]string{"description": "quarterly report"}, "", "", nil)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "file is required", body["error"])
	require.Zero(t, env.repo.count())
	require.Zero(t, env.memory.Len())
}

func TestUploadDerivesScopedKey(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("%PDF-1.4 fake body")
	resp := postUpload(t, env.handler(), map[string]string{
		"org_id":  "org-1",
		"user_id": "user-9",
	}, "My Report (final).pdf", "application/pdf", content)

	require.Equal(t, http.StatusOK, resp.Code)
	var body uploadResponse
	decodeBody(t, resp, &body)
	require.True(t, body.Success)
	require.Equal(t, "organization-documents", body.Bucket)
	_, err := uuid.Parse(body.DocumentID)
	require.NoError(t, err)
	require.Equal(t, "orgs/org-1/"+body.DocumentID+"_My_Report__final_.pdf", body.StoragePath)

	// The blob was written under exactly the reported key.
	data, storedType, ok := env.memory.Object(body.StoragePath)
	require.True(t, ok)
	require.Equal(t, content, data)
	require.Equal(t, "application/pdf", storedType)

	// The metadata row references the same identifier and key.
	require.Equal(t, 1, env.repo.count())
	rec := env.repo.created[0]
	require.Equal(t, body.DocumentID, rec.ID)
	require.Equal(t, body.StoragePath, rec.StoragePath)
	require.Equal(t, "My Report (final).pdf", rec.Filename)
	require.Equal(t, int64(len(content)), rec.SizeBytes)
	require.NotNil(t, rec.OrgID)
	require.Equal(t, "org-1", *rec.OrgID)
	require.NotNil(t, rec.UserID)
	require.Equal(t, "user-9", *rec.UserID)
}

func TestUploadAcceptsEmptyFile(t *testing.T) {
	env := newTestEnv(t)
	resp := postUpload(t, env.handler(), map[string]string{"org_id": "org-1"}, "empty.txt", "text/plain", nil)

	require.Equal(t, http.StatusOK, resp.Code)
	var body uploadResponse
	decodeBody(t, resp, &body)
	require.True(t, body.Success)

	data, _, ok := env.memory.Object(body.StoragePath)
	require.True(t, ok)
	require.Empty(t, data)
	require.Equal(t, 1, env.repo.count())
	require.Zero(t, env.repo.created[0].SizeBytes)
}

func TestUploadWithoutOrgFallsBackToUnscoped(t *testing.T) {
	env := newTestEnv(t)
	resp := postUpload(t, env.handler(), nil, "notes.txt", "text/plain", []byte("hello"))

	require.Equal(t, http.StatusOK, resp.Code)
	var body uploadResponse
	decodeBody(t, resp, &body)
	require.True(t, strings.HasPrefix(body.StoragePath, "unscoped/"))
	require.False(t, strings.HasPrefix(body.StoragePath, "orgs/"))
	require.Nil(t, env.repo.created[0].OrgID)
}

func TestUploadBlobFailureSkipsMetadata(t *testing.T) {
	env := newTestEnv(t)
	env.store = &failingStore{err: errors.New("bucket unavailable")}
	resp := postUpload(t, env.handler(), nil, "a.txt", "text/plain", []byte("x"))

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Contains(t, body["error"], "bucket unavailable")
	require.Zero(t, env.repo.count())
}

func TestUploadMetadataFailureReportsSchemaMissing(t *testing.T) {
	env := newTestEnv(t)
	env.repo.createErr = apperr.SchemaMissing("organization_documents table is missing; create it (see internal/database.EnsureSchema) before serving uploads")
	resp := postUpload(t, env.handler(), map[string]string{"org_id": "org-1"}, "a.pdf", "application/pdf", []byte("x"))

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Contains(t, body["error"], "organization_documents table is missing")

	// The blob stayed behind and the reconcile queue was told about it.
	require.Equal(t, 1, env.memory.Len())
	require.Len(t, env.queue.calls, 1)
	call := env.queue.calls[0]
	require.Equal(t, env.memory.Keys()[0], call.storageKey)
	require.Equal(t, "organization-documents", call.bucket)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.MaxUploadBytes = 16
	resp := postUpload(t, env.handler(), nil, "big.bin", "application/octet-stream", bytes.Repeat([]byte("a"), 64))

	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	require.Zero(t, env.repo.count())
	require.Zero(t, env.memory.Len())
}

func TestUploadRejectsDisallowedContentType(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.AllowedTypes = []string{"application/pdf"}
	resp := postUpload(t, env.handler(), nil, "evil.exe", "application/x-msdownload", []byte("MZ"))

	require.Equal(t, http.StatusUnsupportedMediaType, resp.Code)
	require.Zero(t, env.repo.count())
	require.Zero(t, env.memory.Len())
}

func TestUploadWithoutConfiguredStores(t *testing.T) {
	env := newTestEnv(t)
	env.store = nil
	handler := New(env.cfg, nil, nil, nil, nil, nil, nil).Routes()
	resp := postUpload(t, handler, nil, "a.txt", "text/plain", []byte("x"))

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Contains(t, body["error"], "not configured")
}

func TestUploadResolvesOrgFromBearer(t *testing.T) {
	env := newTestEnv(t)
	env.identity = &fakeIdentity{user: &identity.User{ID: "user-1", Email: "a@b.co"}}
	env.profiles = &fakeProfiles{orgs: map[string]string{"user-1": "org-7"}}

	body, bodyType := multipartBody(t, nil, "a.pdf", "application/pdf", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/organizations/me/documents", body)
	req.Header.Set("Content-Type", bodyType)
	req.Header.Set("Authorization", "Bearer token-123")
	resp := httptest.NewRecorder()
	env.handler().ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var out uploadResponse
	decodeBody(t, resp, &out)
	require.True(t, strings.HasPrefix(out.StoragePath, "orgs/org-7/"))
	rec := env.repo.created[0]
	require.NotNil(t, rec.UserID)
	require.Equal(t, "user-1", *rec.UserID)
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestSignInRequiresCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.identity = &fakeIdentity{}
	resp := postJSON(t, env.handler(), "/api/signin", map[string]string{"email": "a@b.co"})

	require.Equal(t, http.StatusBadRequest, resp.Code)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "email and password required", body["error"])
}

func TestSignInPropagatesProviderMessage(t *testing.T) {
	env := newTestEnv(t)
	env.identity = &fakeIdentity{signInErr: apperr.Authentication("Invalid login credentials")}
	resp := postJSON(t, env.handler(), "/api/signin", map[string]string{"email": "a@b.co", "password": "nope"})

	require.Equal(t, http.StatusUnauthorized, resp.Code)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "Invalid login credentials", body["error"])
}

func TestSignInWithoutOrgReturnsNull(t *testing.T) {
	env := newTestEnv(t)
	env.identity = &fakeIdentity{session: &identity.Session{
		UserID:      "user-1",
		Email:       "a@b.co",
		AccessToken: "tok",
	}}
	env.profiles = &fakeProfiles{orgs: map[string]string{}}
	resp := postJSON(t, env.handler(), "/api/signin", map[string]string{"email": "a@b.co", "password": "pw"})

	require.Equal(t, http.StatusOK, resp.Code)
	var body map[string]any
	decodeBody(t, resp, &body)
	require.Equal(t, true, body["success"])
	require.Nil(t, body["org_id"])
	user := body["user"].(map[string]any)
	require.Equal(t, "user-1", user["id"])
	require.Equal(t, "a@b.co", user["email"])
}

func TestSignInPrefersClaimOrgOverProfile(t *testing.T) {
	env := newTestEnv(t)
	env.identity = &fakeIdentity{session: &identity.Session{
		UserID:      "user-1",
		Email:       "a@b.co",
		AccessToken: "tok",
		OrgID:       "org-claim",
	}}
	env.profiles = &fakeProfiles{orgs: map[string]string{"user-1": "org-profile"}}
	resp := postJSON(t, env.handler(), "/api/signin", map[string]string{"email": "a@b.co", "password": "pw"})

	require.Equal(t, http.StatusOK, resp.Code)
	var body map[string]any
	decodeBody(t, resp, &body)
	require.Equal(t, "org-claim", body["org_id"])
}

func TestListDocumentsByOrg(t *testing.T) {
	env := newTestEnv(t)
	handler := env.handler()
	postUpload(t, handler, map[string]string{"org_id": "org-1"}, "a.pdf", "application/pdf", []byte("a"))
	postUpload(t, handler, map[string]string{"org_id": "org-2"}, "b.pdf", "application/pdf", []byte("b"))

	req := httptest.NewRequest(http.MethodGet, "/api/organizations/me/documents?org_id=org-1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var body listResponse
	decodeBody(t, resp, &body)
	require.True(t, body.Success)
	require.Len(t, body.Documents, 1)
	require.Equal(t, "a.pdf", body.Documents[0].Filename)
}

func TestDocumentURL(t *testing.T) {
	env := newTestEnv(t)
	handler := env.handler()
	up := postUpload(t, handler, map[string]string{"org_id": "org-1"}, "a.pdf", "application/pdf", []byte("a"))
	var uploaded uploadResponse
	decodeBody(t, up, &uploaded)

	req := httptest.NewRequest(http.MethodGet, "/api/organizations/me/documents/"+uploaded.DocumentID+"/url", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "memory://"+uploaded.StoragePath, body["url"])
}

func TestDocumentURLUnknownID(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/organizations/me/documents/nope/url", nil)
	resp := httptest.NewRecorder()
	env.handler().ServeHTTP(resp, req)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestStaticFallbackServesIndex(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.StaticDir, "index.html"), []byte("<html>entry</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.StaticDir, "app.js"), []byte("console.log(1)"), 0o644))
	handler := env.handler()

	// A client-side route falls back to the entry document.
	req := httptest.NewRequest(http.MethodGet, "/dashboard/settings", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "entry")

	// A real asset is served as-is.
	req = httptest.NewRequest(http.MethodGet, "/app.js", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "console.log")

	// Unknown API routes are 404s, not client routes.
	req = httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNotFound, resp.Code)
}
