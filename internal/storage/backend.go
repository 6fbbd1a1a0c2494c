// Package storage defines the Backend interface for document content and
// selects an implementation from configuration.
package storage

import (
	"context"
	"io"

	"github.com/healthdocs/doctracker/pkg/protocol"
)

// Backend stores raw document content. Document records are kept separately
// in postgres.
type Backend interface {
	// Get returns the object's content and size. A missing object yields an
	// error wrapping fs.ErrNotExist.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Put stores content under key.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns objects whose keys start with prefix, in key order. A
	// limit <= 0 returns everything.
	List(ctx context.Context, prefix string, limit int) ([]protocol.Blob, error)

	// URL returns a time-limited link clients can fetch the object from, or
	// "" when content must be served through the API.
	URL(ctx context.Context, key string) (string, error)

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
