// Package objstore is the object store adapter: presigned uploads, the
// staging → masters server-side copy, and preview artifact I/O. It carries no
// business logic beyond the key-naming conventions in keys.go. Every backend
// failure is returned as a merr StorageError (or NotFound) so callers never
// have to branch on backend-specific error types.
package objstore

import (
	"context"
	"io"
	"time"
)

// Object describes a stored object.
type Object struct {
	Key          string            `json:"key"`
	Bucket       string            `json:"bucket"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type"`
	ETag         string            `json:"etag,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CopyOptions controls the staging → masters copy.
type CopyOptions struct {
	// Metadata replaces the user metadata on the destination when non-empty.
	Metadata map[string]string
	// RetainUntil enables COMPLIANCE object-lock retention on the destination
	// when non-zero. The destination bucket must have object lock enabled.
	RetainUntil time.Time
}

// Store defines the operations the pipeline needs from object storage.
type Store interface {
	// PresignPut returns a URL the client can PUT the object to directly.
	PresignPut(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)

	// Stat returns object info, or a NotFound error if the key is absent.
	Stat(ctx context.Context, bucket, key string) (*Object, error)

	// Copy performs a server-side copy. Copying onto an existing key
	// overwrites it, which makes repeated copies of the same source safe.
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, opts CopyOptions) (*Object, error)

	// Put uploads data. size may be -1 when unknown.
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (*Object, error)

	// Get streams an object. The caller must close the reader.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, *Object, error)

	// List lists all objects with the given prefix.
	List(ctx context.Context, bucket, prefix string) ([]*Object, error)

	// EnsureBucket ensures the bucket exists, creating it if necessary.
	EnsureBucket(ctx context.Context, bucket string) error
}
