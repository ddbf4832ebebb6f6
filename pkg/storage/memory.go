package storage

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Memory keeps files in a map. It backs tests and replication dry runs.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

var _ Storage = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

// ReadStream opens path for reading.
func (s *Memory) ReadStream(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[path]
	if !ok {
		return nil, errors.Errorf("opening %s: no such file", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// WriteBytes replaces path with data.
func (s *Memory) WriteBytes(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.files[path] = cp
	return nil
}

// Exists reports whether path is present.
func (s *Memory) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[path]
	return ok, nil
}

// Length returns the size of path in bytes.
func (s *Memory) Length(_ context.Context, path string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[path]
	if !ok {
		return 0, errors.Errorf("stat %s: no such file", path)
	}
	return int64(len(data)), nil
}
