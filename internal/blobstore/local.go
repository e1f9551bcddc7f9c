package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/myrespondr/orgdocs/internal/signing"
)

// LocalStore keeps blobs on the local filesystem. It exists for development
// setups without an object storage backend; download URLs are HMAC-signed and
// served back through ServeHTTP.
type LocalStore struct {
	dir     string
	signer  *signing.Signer
	baseURL string
}

// NewLocal creates the store rooted at dir.
func NewLocal(dir string, signer *signing.Signer, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalStore{dir: dir, signer: signer, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *LocalStore) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(l.dir, filepath.FromSlash(key)), nil
}

// Upload writes the object with O_EXCL so an existing key is never replaced.
func (l *LocalStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrKeyExists, key)
		}
		return fmt.Errorf("create blob file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return fmt.Errorf("write blob file: %w", err)
	}
	return nil
}

// Remove deletes the object; a missing key is not an error.
func (l *LocalStore) Remove(ctx context.Context, key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob file: %w", err)
	}
	return nil
}

// PresignGet returns a signed URL pointing back at ServeHTTP.
func (l *LocalStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := l.path(key); err != nil {
		return "", err
	}
	expires := time.Now().Add(ttl).Unix()
	sig := l.signer.Sign(key, expires)
	return fmt.Sprintf("%s/local/%s?expires=%d&sig=%s", l.baseURL, key, expires, url.QueryEscape(sig)), nil
}

// ServeHTTP validates the signature and expiry on /local/{key} requests and
// streams the blob.
func (l *LocalStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/local/")
	expires := r.URL.Query().Get("expires")
	sig := r.URL.Query().Get("sig")
	if !l.signer.Validate(key, expires, sig) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || time.Now().Unix() > exp {
		http.Error(w, "url expired", http.StatusForbidden)
		return
	}
	path, err := l.path(key)
	if err != nil {
		http.Error(w, "invalid key", http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, path)
}
