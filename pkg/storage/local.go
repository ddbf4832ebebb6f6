package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// Local stores files under a root directory on the local filesystem. Writes
// are plain file replacements; callers that need atomic renames do them a
// level above.
type Local struct {
	root string
	log  zerolog.Logger
}

var _ Storage = (*Local)(nil)

// NewLocal creates a Local store rooted at root, creating it if needed.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Errorf("creating storage root: %s", err)
	}
	return &Local{
		root: root,
		log:  logger.With().Str("component", "localstorage").Logger(),
	}, nil
}

func (s *Local) resolve(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// ReadStream opens path for reading.
func (s *Local) ReadStream(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(s.resolve(path))
	if err != nil {
		return nil, errors.Errorf("opening %s: %s", path, err)
	}
	return f, nil
}

// WriteBytes replaces path with data, creating parent directories.
func (s *Local) WriteBytes(_ context.Context, path string, data []byte) error {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Errorf("creating parent dirs for %s: %s", path, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return errors.Errorf("writing %s: %s", path, err)
	}
	s.log.Debug().Str("path", path).Int("bytes", len(data)).Msg("wrote file")
	return nil
}

// Exists reports whether path is present.
func (s *Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(s.resolve(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Errorf("stat %s: %s", path, err)
}

// Length returns the size of path in bytes.
func (s *Local) Length(_ context.Context, path string) (int64, error) {
	info, err := os.Stat(s.resolve(path))
	if err != nil {
		return 0, errors.Errorf("stat %s: %s", path, err)
	}
	return info.Size(), nil
}
