package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

var filesBucket = []byte("files")

// Bolt stores index files as values in a bbolt database, one key per path.
type Bolt struct {
	db *bbolt.DB
}

var _ Storage = (*Bolt)(nil)

// NewBolt opens (creating if needed) a bbolt-backed store at path.
func NewBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening database: %s", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(filesBucket)
		return err
	}); err != nil {
		return nil, fmt.Errorf("creating bucket: %s", err)
	}
	return &Bolt{db: db}, nil
}

// WriteBytes replaces the value stored under path.
func (s *Bolt) WriteBytes(_ context.Context, path string, data []byte) error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(filesBucket).Put([]byte(path), data)
	}); err != nil {
		return fmt.Errorf("storing %s: %s", path, err)
	}
	return nil
}

// ReadStream opens the value stored under path.
func (s *Bolt) ReadStream(_ context.Context, path string) (io.ReadCloser, error) {
	var data []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(filesBucket).Get([]byte(path))
		if v == nil {
			return errors.Errorf("no such key")
		}
		// The value is only valid inside the transaction.
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("reading %s: %s", path, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether path is present.
func (s *Bolt) Exists(_ context.Context, path string) (bool, error) {
	var ok bool
	if err := s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(filesBucket).Get([]byte(path)) != nil
		return nil
	}); err != nil {
		return false, fmt.Errorf("checking %s: %s", path, err)
	}
	return ok, nil
}

// Length returns the size of the value stored under path.
func (s *Bolt) Length(_ context.Context, path string) (int64, error) {
	var n int64 = -1
	if err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(filesBucket).Get([]byte(path)); v != nil {
			n = int64(len(v))
		}
		return nil
	}); err != nil {
		return 0, fmt.Errorf("checking %s: %s", path, err)
	}
	if n < 0 {
		return 0, errors.Errorf("stat %s: no such key", path)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Bolt) Close() error {
	return s.db.Close()
}
