package storage

import (
	"context"
	"io"
)

// ChunkStorage defines the interface for the byte sink chunks are
// appended to. One blob per upload session, addressed by path.
type ChunkStorage interface {
	// AppendAt writes content into the blob starting at offset and
	// truncates the blob to offset+written. A retried chunk therefore
	// overwrites any stale bytes left behind by a failed attempt.
	AppendAt(ctx context.Context, path string, offset int64, content io.Reader) (int64, error)

	// Retrieve gets content from the given path
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes content at the given path
	Delete(ctx context.Context, path string) error

	// Exists checks if content exists at the given path
	Exists(ctx context.Context, path string) (bool, error)

	// Size returns the number of bytes stored at the given path
	Size(ctx context.Context, path string) (int64, error)
}
