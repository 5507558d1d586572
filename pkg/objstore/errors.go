package objstore

import "errors"

// Common errors
var (
	ErrNotFound      = errors.New("object not found")
	ErrBucketMissing = errors.New("bucket does not exist")
)
