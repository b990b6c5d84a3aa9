// Package store reads and writes module metadata records and their tags in
// object storage.
package store

import "context"

// PutOptions adjust a single Put.
type PutOptions struct {
	// IfAbsent makes the write fail with ErrConflict when the key exists.
	IfAbsent bool
}

// ObjectStore is the storage contract the handlers depend on.
type ObjectStore interface {
	// Get returns the object body, or ErrNotFound.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// GetTags returns the object's tags, or ErrNotFound.
	GetTags(ctx context.Context, bucket, key string) (map[string]string, error)
	// Put replaces the object body and its whole tag set.
	Put(ctx context.Context, bucket, key string, body []byte, tags map[string]string, opts PutOptions) error
}
