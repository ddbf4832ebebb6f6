// Package hashset provides set and map containers keyed by 32-byte content
// hashes. Buckets are indexed by a 32-bit fingerprint folded from the hash;
// entries inside a bucket are disambiguated by comparing the full 32 bytes, so
// fingerprint collisions never conflate two hashes.
package hashset

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// HashSize is the only accepted key length, in bytes.
const HashSize = 32

// Fingerprint folds a 32-byte hash into a bucket key by XOR-ing its eight
// big-endian 32-bit words.
func Fingerprint(hash []byte) (uint32, error) {
	if len(hash) != HashSize {
		return 0, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(hash))
	}
	var fp uint32
	for i := 0; i < HashSize; i += 4 {
		fp ^= binary.BigEndian.Uint32(hash[i : i+4])
	}
	return fp, nil
}

type entry[V any] struct {
	hash  []byte
	value V
}

// Map associates values with 32-byte hashes.
type Map[V any] struct {
	buckets map[uint32][]entry[V]
	count   int
}

// NewMap creates an empty Map.
func NewMap[V any]() *Map[V] {
	return &Map[V]{buckets: make(map[uint32][]entry[V])}
}

// Set stores value under hash, replacing any previous value.
func (m *Map[V]) Set(hash []byte, value V) error {
	fp, err := Fingerprint(hash)
	if err != nil {
		return err
	}
	bucket := m.buckets[fp]
	for i := range bucket {
		if bytes.Equal(bucket[i].hash, hash) {
			bucket[i].value = value
			return nil
		}
	}
	h := make([]byte, HashSize)
	copy(h, hash)
	m.buckets[fp] = append(bucket, entry[V]{hash: h, value: value})
	m.count++
	return nil
}

// Get returns the value stored under hash.
func (m *Map[V]) Get(hash []byte) (V, bool, error) {
	var zero V
	fp, err := Fingerprint(hash)
	if err != nil {
		return zero, false, err
	}
	for _, e := range m.buckets[fp] {
		if bytes.Equal(e.hash, hash) {
			return e.value, true, nil
		}
	}
	return zero, false, nil
}

// Has reports whether hash is present.
func (m *Map[V]) Has(hash []byte) (bool, error) {
	fp, err := Fingerprint(hash)
	if err != nil {
		return false, err
	}
	for _, e := range m.buckets[fp] {
		if bytes.Equal(e.hash, hash) {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes hash. Other hashes sharing the same fingerprint stay findable.
func (m *Map[V]) Delete(hash []byte) (bool, error) {
	fp, err := Fingerprint(hash)
	if err != nil {
		return false, err
	}
	bucket := m.buckets[fp]
	for i, e := range bucket {
		if !bytes.Equal(e.hash, hash) {
			continue
		}
		bucket = append(bucket[:i], bucket[i+1:]...)
		if len(bucket) == 0 {
			delete(m.buckets, fp)
		} else {
			m.buckets[fp] = bucket
		}
		m.count--
		return true, nil
	}
	return false, nil
}

// Clear removes every entry.
func (m *Map[V]) Clear() {
	m.buckets = make(map[uint32][]entry[V])
	m.count = 0
}

// Len returns the number of entries.
func (m *Map[V]) Len() int {
	return m.count
}

// Each calls fn for every (hash, value) pair until fn returns false.
// Iteration order is unspecified.
func (m *Map[V]) Each(fn func(hash []byte, value V) bool) {
	for _, bucket := range m.buckets {
		for _, e := range bucket {
			if !fn(e.hash, e.value) {
				return
			}
		}
	}
}

// Set is a set of 32-byte hashes.
type Set struct {
	m *Map[struct{}]
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{m: NewMap[struct{}]()}
}

// Add inserts hash into the set.
func (s *Set) Add(hash []byte) error {
	return s.m.Set(hash, struct{}{})
}

// Has reports whether hash is present.
func (s *Set) Has(hash []byte) (bool, error) {
	return s.m.Has(hash)
}

// Delete removes hash, reporting whether it was present.
func (s *Set) Delete(hash []byte) (bool, error) {
	return s.m.Delete(hash)
}

// Clear removes every hash.
func (s *Set) Clear() {
	s.m.Clear()
}

// Len returns the number of hashes in the set.
func (s *Set) Len() int {
	return s.m.Len()
}

// Each calls fn for every hash until fn returns false.
func (s *Set) Each(fn func(hash []byte) bool) {
	s.m.Each(func(hash []byte, _ struct{}) bool {
		return fn(hash)
	})
}
