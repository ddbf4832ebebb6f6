package merkleindex

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildMerkleEmpty(t *testing.T) {
	t.Parallel()
	require.Nil(t, buildMerkle(nil))
}

func TestBuildMerkleSingleLeaf(t *testing.T) {
	t.Parallel()
	tree := buildTree(t, testItem("only", "payload"))
	tree.BuildMerkle()

	root := tree.MerkleRoot()
	require.True(t, root.IsLeaf())
	require.Equal(t, "only", root.Name())

	hash := sha256.Sum256([]byte("payload"))
	require.Equal(t, hash[:], root.Hash())
	require.Equal(t, hash[:], tree.RootHash())
}

// Three leaves: the stack holds a pair at level one and the third leaf at
// level zero; the final fold must put the pair on the left.
func TestBuildMerkleThreeLeaves(t *testing.T) {
	t.Parallel()
	items := distinctItems("a", "b", "c")
	tree := buildTree(t, items...)
	tree.BuildMerkle()

	h12 := combineHash(items[0].Hash, items[1].Hash)
	want := combineHash(h12, items[2].Hash)
	require.Equal(t, want, tree.RootHash())
}

func TestBuildMerkleFiveLeaves(t *testing.T) {
	t.Parallel()
	items := distinctItems("a", "b", "c", "d", "e")
	tree := buildTree(t, items...)
	tree.BuildMerkle()

	// Binary-counter pairing: ((a+b)+(c+d)) folds with the trailing e.
	h12 := combineHash(items[0].Hash, items[1].Hash)
	h34 := combineHash(items[2].Hash, items[3].Hash)
	h1234 := combineHash(h12, h34)
	want := combineHash(h1234, items[4].Hash)
	require.Equal(t, want, tree.RootHash())
}

// The Merkle leaf sequence must equal the sort tree's in-order leaf sequence.
func TestMerkleLeafOrderMirrorsSortTree(t *testing.T) {
	t.Parallel()
	var items []Item
	for i := 0; i < 33; i++ {
		items = append(items, testItem(fmt.Sprintf("rec-%d", i), fmt.Sprintf("body %d", i)))
	}
	tree := buildTree(t, items...)
	tree.BuildMerkle()

	require.Equal(t, tree.sortedNames(), LeafNames(tree.MerkleRoot()))
}

// Every internal hash is the SHA-256 of the concatenated child hashes.
func TestMerkleInternalHashes(t *testing.T) {
	t.Parallel()
	tree := buildTree(t, distinctItems("a", "b", "c", "d", "e", "f", "g")...)
	tree.BuildMerkle()

	var check func(n *MerkleNode)
	check = func(n *MerkleNode) {
		if n.IsLeaf() {
			return
		}
		require.Equal(t, combineHash(n.Left().Hash(), n.Right().Hash()), n.Hash())
		require.Equal(t, n.Left().NodeCount()+n.Right().NodeCount()+1, n.NodeCount())
		check(n.Left())
		check(n.Right())
	}
	check(tree.MerkleRoot())
}

// The root hash is a pure function of the leaf hash sequence, independent of
// the sort tree's internal shape.
func TestMerkleRootIgnoresSortShape(t *testing.T) {
	t.Parallel()
	items := distinctItems("a", "b", "c", "d", "e", "f")

	shaped := buildTree(t, items...)
	shaped.BuildMerkle()

	// A degenerate chain with the same leaf order.
	chain := newSortLeaf(items[0])
	for _, item := range items[1:] {
		chain = &SortNode{left: chain, right: newSortLeaf(item)}
		chain.recompute()
	}
	require.Equal(t, shaped.RootHash(), buildMerkle(chain).hash)
}

func TestLeafIterator(t *testing.T) {
	t.Parallel()
	tree := buildTree(t, distinctItems("a", "b", "c", "d", "e")...)
	tree.BuildMerkle()

	it := Leaves(tree.MerkleRoot())
	var names []string
	for {
		leaf, ok := it.Next()
		if !ok {
			break
		}
		names = append(names, leaf.Name())
	}
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, names)

	// Exhausted iterators stay exhausted.
	_, ok := it.Next()
	require.False(t, ok)

	_, ok = Leaves(nil).Next()
	require.False(t, ok)
}

func TestEachLeafStopsEarly(t *testing.T) {
	t.Parallel()
	tree := buildTree(t, distinctItems("a", "b", "c", "d")...)
	tree.BuildMerkle()

	var names []string
	completed := EachLeaf(tree.MerkleRoot(), func(leaf *MerkleNode) bool {
		names = append(names, leaf.Name())
		return len(names) < 2
	})
	require.False(t, completed)
	require.Equal(t, []string{"a", "b"}, names)
}
