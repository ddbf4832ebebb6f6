package storage

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// checkStore runs the behavior every backend must share.
func checkStore(t *testing.T, store Storage) {
	t.Helper()
	ctx := context.Background()

	ok, err := store.Exists(ctx, "sub/tree.dat")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.ReadStream(ctx, "sub/tree.dat")
	require.Error(t, err)

	payload := []byte("some serialized tree bytes")
	require.NoError(t, store.WriteBytes(ctx, "sub/tree.dat", payload))

	ok, err = store.Exists(ctx, "sub/tree.dat")
	require.NoError(t, err)
	require.True(t, ok)

	rc, err := store.ReadStream(ctx, "sub/tree.dat")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, payload, got)

	// Overwrite replaces the contents.
	require.NoError(t, store.WriteBytes(ctx, "sub/tree.dat", []byte("v2")))
	rc, err = store.ReadStream(ctx, "sub/tree.dat")
	require.NoError(t, err)
	got, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, []byte("v2"), got)
}

func TestLocal(t *testing.T) {
	t.Parallel()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	checkStore(t, store)
}

func TestLocalLength(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.WriteBytes(ctx, "x.dat", make([]byte, 123)))
	n, err := store.Length(ctx, "x.dat")
	require.NoError(t, err)
	require.EqualValues(t, 123, n)

	_, err = store.Length(ctx, "absent.dat")
	require.Error(t, err)
}

func TestMemory(t *testing.T) {
	t.Parallel()
	checkStore(t, NewMemory())
}

func TestMemoryCopiesData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemory()

	data := []byte("original")
	require.NoError(t, store.WriteBytes(ctx, "x", data))
	data[0] = 'X'

	rc, err := store.ReadStream(ctx, "x")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got)
}

func TestCompressed(t *testing.T) {
	t.Parallel()
	checkStore(t, NewCompressed(NewMemory()))
}

func TestCompressedShrinksRepetitiveData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := NewMemory()
	store := NewCompressed(inner)

	// Tree files repeat names across sibling subtrees; emulate that.
	var payload []byte
	for i := 0; i < 100; i++ {
		payload = append(payload, []byte("asset/0d2a36a3-7994-4eaf-9914-b759c0e68686")...)
	}
	require.NoError(t, store.WriteBytes(ctx, "x.zst", payload))

	stored, err := inner.Length(ctx, "x.zst")
	require.NoError(t, err)
	require.Less(t, stored, int64(len(payload)))

	rc, err := store.ReadStream(ctx, "x.zst")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, payload, got)
}

func TestBolt(t *testing.T) {
	t.Parallel()
	store, err := NewBolt(filepath.Join(t.TempDir(), "trees.db"))
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()
	checkStore(t, store)
}

func TestBoltLength(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := NewBolt(filepath.Join(t.TempDir(), "trees.db"))
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	require.NoError(t, store.WriteBytes(ctx, "x", make([]byte, 55)))
	n, err := store.Length(ctx, "x")
	require.NoError(t, err)
	require.EqualValues(t, 55, n)

	_, err = store.Length(ctx, "absent")
	require.Error(t, err)
}

func TestSQLite(t *testing.T) {
	t.Parallel()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "trees.db"))
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()
	checkStore(t, store)

	ctx := context.Background()
	require.NoError(t, store.WriteBytes(ctx, "y", make([]byte, 99)))
	n, err := store.Length(ctx, "y")
	require.NoError(t, err)
	require.EqualValues(t, 99, n)
}
