package merkleindex

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/treedex/go-treedex/pkg/storage"
	"github.com/treedex/go-treedex/pkg/wire"
)

func savedTree(t *testing.T, items ...Item) *Tree {
	t.Helper()
	tree := buildTree(t, items...)
	require.NoError(t, tree.SetMetadata(bson.D{{Key: "database", Value: "photos"}}))
	tree.BuildMerkle()
	return tree
}

func TestSaveRefusesDirtyTree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	tree := buildTree(t, distinctItems("a", "b")...)
	require.True(t, tree.Dirty())
	require.ErrorIs(t, tree.Save(ctx, store, "tree.dat"), ErrTreeDirty)

	tree.BuildMerkle()
	require.NoError(t, tree.Save(ctx, store, "tree.dat"))
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	tree := savedTree(t, distinctItems("asset/1", "asset/2", "display/1", "thumb/1", "thumb/2")...)
	require.NoError(t, tree.Save(ctx, store, "tree.dat"))

	loaded, err := Load(ctx, store, "tree.dat")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	require.Equal(t, tree.ID(), loaded.ID())
	require.False(t, loaded.Dirty())
	require.EqualValues(t, CurrentVersion, loaded.Version())
	require.Equal(t, tree.RootHash(), loaded.RootHash())
	require.Equal(t, tree.Items(), loaded.Items())
	require.Equal(t, tree.Metadata(), loaded.Metadata())
	checkInvariants(t, loaded)

	// Re-saving the loaded tree reproduces the file byte for byte.
	require.NoError(t, loaded.Save(ctx, store, "tree2.dat"))
	first, err := store.ReadStream(ctx, "tree.dat")
	require.NoError(t, err)
	second, err := store.ReadStream(ctx, "tree2.dat")
	require.NoError(t, err)
	b1 := readAll(t, first)
	b2 := readAll(t, second)
	require.Equal(t, b1, b2)
}

func TestRoundTripEmptyTree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	tree := New(testUUID(9))
	tree.BuildMerkle()
	require.NoError(t, tree.Save(ctx, store, "empty.dat"))

	loaded, err := Load(ctx, store, "empty.dat")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, 0, loaded.Len())
	require.Nil(t, loaded.SortRoot())
	require.Nil(t, loaded.MerkleRoot())
}

func TestLoadAbsentPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	loaded, err := Load(ctx, store, "nope.dat")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestLoadVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	tree := savedTree(t, distinctItems("a", "b", "c")...)
	require.NoError(t, tree.Save(ctx, store, "tree.dat"))

	version, ok, err := LoadVersion(ctx, store, "tree.dat")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, CurrentVersion, version)

	_, ok, err = LoadVersion(ctx, store, "absent.dat")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadRefusesFutureVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	require.NoError(t, w.WriteUint32(CurrentVersion+1))
	require.NoError(t, store.WriteBytes(ctx, "future.dat", buf.Bytes()))

	_, err := Load(ctx, store, "future.dat")
	var bv *BadVersionError
	require.ErrorAs(t, err, &bv)
	require.EqualValues(t, CurrentVersion+1, bv.Version)
}

func TestLoadRejectsTruncatedFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	tree := savedTree(t, distinctItems("a", "b", "c")...)
	require.NoError(t, tree.Save(ctx, store, "tree.dat"))

	rc, err := store.ReadStream(ctx, "tree.dat")
	require.NoError(t, err)
	data := readAll(t, rc)

	require.NoError(t, store.WriteBytes(ctx, "cut.dat", data[:len(data)-10]))
	_, err = Load(ctx, store, "cut.dat")
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}

func TestLoadRejectsBadStringIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	// One leaf whose name index points past the (empty) string table.
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	require.NoError(t, w.WriteUint32(CurrentVersion))
	require.NoError(t, w.WriteRawBSON(nil))
	require.NoError(t, w.WriteBytes(make([]byte, 16)))
	require.NoError(t, w.WriteUint32(0)) // empty string table
	require.NoError(t, w.WriteUint32(1)) // one-leaf sort tree
	require.NoError(t, w.WriteUint64(1))
	require.NoError(t, w.WriteUint32(5)) // out of range
	require.NoError(t, w.WriteBytes(contentHashOf("x")))
	require.NoError(t, w.WriteUint64(0))

	require.NoError(t, store.WriteBytes(ctx, "bad.dat", buf.Bytes()))
	_, err := Load(ctx, store, "bad.dat")
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}

// --- legacy fixtures ---

// writeLegacyFixture serializes tree at an older version, mirroring the
// layouts this codebase still loads.
func writeLegacyFixture(t *testing.T, tree *Tree, version uint32, withMerkle bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	require.NoError(t, w.WriteUint32(version))

	if version == Version2 {
		require.NoError(t, w.WriteUint64(1600000000000)) // created at
		require.NoError(t, w.WriteUint64(1600000001000)) // modified at
	} else {
		require.NoError(t, w.WriteRawBSON(tree.Metadata()))
	}

	id := tree.ID()
	require.NoError(t, w.WriteBytes(id[:]))

	if version != Version4 {
		require.NoError(t, w.WriteUint32(uint32(tree.Len())))
	}

	writeLegacySort(t, w, tree.SortRoot(), version)
	if withMerkle {
		writeLegacyMerkle(t, w, tree.MerkleRoot())
	} else {
		require.NoError(t, w.WriteUint32(0))
	}
	return buf.Bytes()
}

func writeLegacySort(t *testing.T, w *wire.Writer, n *SortNode, version uint32) {
	t.Helper()
	if n == nil {
		require.NoError(t, w.WriteUint32(0))
		return
	}
	require.NoError(t, w.WriteUint32(n.NodeCount()))
	if n.IsLeaf() {
		require.NoError(t, w.WriteUint64(n.Size()))
		require.NoError(t, w.WriteString(n.Name()))
		require.NoError(t, w.WriteBytes(n.ContentHash()))
		require.NoError(t, w.WriteUint64(timeToMillis(n.LastModified())))
		if version != Version4 {
			require.NoError(t, w.WriteUint8(0)) // deleted flag
		}
		return
	}
	leafCount := (n.NodeCount() + 1) / 2
	require.NoError(t, w.WriteUint32(leafCount))
	require.NoError(t, w.WriteUint64(n.Size()))
	writeLegacySort(t, w, n.Left(), version)
	writeLegacySort(t, w, n.Right(), version)
}

func writeLegacyMerkle(t *testing.T, w *wire.Writer, n *MerkleNode) {
	t.Helper()
	if n == nil {
		require.NoError(t, w.WriteUint32(0))
		return
	}
	require.NoError(t, w.WriteUint32(n.NodeCount()))
	require.NoError(t, w.WriteBytes(n.Hash()))
	if n.IsLeaf() {
		require.NoError(t, w.WriteString(n.Name()))
		return
	}
	writeLegacyMerkle(t, w, n.Left())
	writeLegacyMerkle(t, w, n.Right())
}

// Every legacy fixture must load into a tree whose contents and Merkle root
// match the canonical current-version tree over the same items.
func TestLoadLegacyVersions(t *testing.T) {
	t.Parallel()

	items := distinctItems("asset/1", "asset/2", "display/1", "thumb/1")
	canonical := savedTree(t, items...)

	testCases := []struct {
		name       string
		version    uint32
		withMerkle bool
	}{
		{"v4 with stored merkle", Version4, true},
		{"v4 without merkle", Version4, false},
		{"v3 with stored merkle", Version3, true},
		{"v3 without merkle", Version3, false},
		{"v2 without merkle", Version2, false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := storage.NewMemory()

			data := writeLegacyFixture(t, canonical, tc.version, tc.withMerkle)
			require.NoError(t, store.WriteBytes(ctx, "legacy.dat", data))

			loaded, err := Load(ctx, store, "legacy.dat")
			require.NoError(t, err)
			require.NotNil(t, loaded)

			require.Equal(t, tc.version, loaded.Version())
			require.False(t, loaded.Dirty())
			require.Equal(t, canonical.ID(), loaded.ID())
			require.Equal(t, canonical.Items(), loaded.Items())
			require.Equal(t, canonical.RootHash(), loaded.RootHash())
			checkInvariants(t, loaded)

			if tc.version != Version2 {
				require.Equal(t, canonical.Metadata(), loaded.Metadata())
			}

			// Upgrading: a re-save always writes the current version.
			require.NoError(t, loaded.Save(ctx, store, "upgraded.dat"))
			version, ok, err := LoadVersion(ctx, store, "upgraded.dat")
			require.NoError(t, err)
			require.True(t, ok)
			require.EqualValues(t, CurrentVersion, version)
		})
	}
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	return data
}
