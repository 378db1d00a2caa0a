// Package storage defines the blob store abstraction used to archive crawl
// snapshots. Implementations live in the local, gcs and memory subpackages.
package storage

import (
	"context"
	"io"
)

// BlobStore uploads one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// NoopBlobStore discards every object. It is used when archiving is disabled.
type NoopBlobStore struct{}

// PutObject drains nothing and returns an empty URI.
func (NoopBlobStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", nil
}
