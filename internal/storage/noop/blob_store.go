// Package noop discards image bytes; useful for dry runs where
// classification results matter but the raw images do not.
package noop

import "context"

// BlobStore performs no writes and returns an empty URI.
type BlobStore struct{}

// New creates a no-op blob store.
func New() *BlobStore {
	return &BlobStore{}
}

// PutObject does nothing.
func (*BlobStore) PutObject(_ context.Context, _ string, _ string, _ []byte) (string, error) {
	return "", nil
}
