package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Compressed wraps another store and zstd-compresses every file. Compression
// sits below the index format: the versioned payload is unchanged, only the
// bytes at rest shrink. Record names repeat across sibling trees, so trees
// compress well.
type Compressed struct {
	inner Storage
}

var _ Storage = (*Compressed)(nil)

// NewCompressed wraps inner with transparent zstd compression.
func NewCompressed(inner Storage) *Compressed {
	return &Compressed{inner: inner}
}

// WriteBytes compresses data and writes it to the inner store.
func (s *Compressed) WriteBytes(ctx context.Context, path string, data []byte) error {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return errors.Errorf("creating zstd writer: %s", err)
	}
	if _, err := w.Write(data); err != nil {
		return errors.Errorf("compressing %s: %s", path, err)
	}
	if err := w.Close(); err != nil {
		return errors.Errorf("closing zstd writer: %s", err)
	}
	return s.inner.WriteBytes(ctx, path, buf.Bytes())
}

// ReadStream opens path and decompresses on the fly.
func (s *Compressed) ReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := s.inner.ReadStream(ctx, path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, errors.Errorf("creating zstd reader for %s: %s", path, err)
	}
	return &decompressedStream{dec: dec, underlying: rc}, nil
}

// Exists reports whether path is present.
func (s *Compressed) Exists(ctx context.Context, path string) (bool, error) {
	return s.inner.Exists(ctx, path)
}

// Length returns the compressed size of path in bytes.
func (s *Compressed) Length(ctx context.Context, path string) (int64, error) {
	return s.inner.Length(ctx, path)
}

type decompressedStream struct {
	dec        *zstd.Decoder
	underlying io.ReadCloser
}

func (d *decompressedStream) Read(p []byte) (int, error) {
	return d.dec.Read(p)
}

func (d *decompressedStream) Close() error {
	d.dec.Close()
	return d.underlying.Close()
}
