// Package storage defines the object storage port used for destination media.
package storage

import (
	"context"
	"io"
)

// ObjectStore stores media files under slash-separated keys such as
// "2021/05/photo.jpg".
type ObjectStore interface {
	// Put writes data under key, replacing any existing object, and returns the bytes written.
	Put(ctx context.Context, key string, data io.Reader) (int64, error)
	// Open returns a reader for key. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List calls fn for every key under prefix.
	List(ctx context.Context, prefix string, fn func(key string) error) error
}
