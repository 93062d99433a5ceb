// Package blobstore abstracts where serialized index snapshots live:
// in memory, on the local file system, or in object storage.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for reading and writing immutable snapshot blobs.
type Store interface {
	// Put writes the blob under key, replacing any previous content.
	Put(ctx context.Context, key string, r io.Reader) error

	// Get opens the blob stored under key for reading.
	// The caller owns the returned ReadCloser.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the blob stored under key.
	// Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error
}
