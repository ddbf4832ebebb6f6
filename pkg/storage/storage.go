// Package storage abstracts where index files live. The core reads whole
// files as streams and writes whole files as byte slices; atomicity of a write
// is whatever the backend provides.
package storage

import (
	"context"
	"io"
)

// Storage is the surface the index core consumes.
type Storage interface {
	// ReadStream opens path for reading. The caller closes the stream.
	ReadStream(ctx context.Context, path string) (io.ReadCloser, error)
	// WriteBytes replaces the contents of path with data.
	WriteBytes(ctx context.Context, path string, data []byte) error
	// Exists reports whether path is present.
	Exists(ctx context.Context, path string) (bool, error)
	// Length returns the size of path in bytes.
	Length(ctx context.Context, path string) (int64, error)
}
