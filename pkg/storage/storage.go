// Package storage abstracts the blob store holding uploaded session
// documents. The pipeline treats it as an opaque, at-least-once-durable
// key/value store; drivers exist for Google Cloud Storage and an in-memory
// store used by tests and local development.
package storage

import (
	"context"
	"time"
)

// BlobStore is the contract the extraction pipeline relies on.
type BlobStore interface {
	// UploadURL returns a URL a client can PUT the object bytes to directly.
	UploadURL(ctx context.Context, key string, contentType string, ttl time.Duration) (string, error)

	// Upload writes the object server-side.
	Upload(ctx context.Context, key string, data []byte, contentType string) error

	// Download reads the full object.
	Download(ctx context.Context, key string) ([]byte, error)

	// SignedDownloadURL returns a time-limited GET URL for the object.
	SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)
}
