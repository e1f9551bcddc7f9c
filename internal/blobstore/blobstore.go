// Package blobstore holds the object storage backends for raw document bytes.
// All backends write under string keys and refuse to overwrite an existing
// key; upload handlers rely on that to keep two-phase writes collision-free.
package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrKeyExists is returned when an upload targets a key that already holds an
// object.
var ErrKeyExists = errors.New("object already exists")

// Store is implemented by the S3, local-disk, and in-memory backends.
type Store interface {
	// Upload writes size bytes from r under key with the declared content
	// type. The write fails with ErrKeyExists when the key is taken.
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Remove deletes the object at key. Removing a missing key is not an
	// error; the reconcile sweep depends on that.
	Remove(ctx context.Context, key string) error
	// PresignGet returns a time-limited URL for downloading the object.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
