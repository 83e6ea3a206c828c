// Package mstore persists molt's durable records in S3-compatible
// object storage: batch intent and outcome records, uploaded source
// archives, and shared container configuration.
package mstore

import (
	"context"
	"io"
	"time"
)

// Object describes a stored object.
type Object struct {
	Key          string
	Bucket       string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is a bucket-scoped view of the object store.
type Store interface {
	// Upload writes an object of the given size. Writes are encrypted
	// at rest.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*Object, error)

	// Download retrieves an object by key. Returns ErrNotFound if the
	// key doesn't exist.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns up to max objects under prefix. A max of 0 means no
	// limit.
	List(ctx context.Context, prefix string, max int) ([]Object, error)

	// PresignedPut generates a URL that grants a direct upload of key
	// until expiry passes.
	PresignedPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)

	// Bucket returns the bucket this store is scoped to.
	Bucket() string

	// EnsureBucket ensures the bucket exists, creating it if necessary.
	EnsureBucket(ctx context.Context) error
}

// URI renders the s3:// form of an object location.
func URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
