package merkleindex

import (
	"bytes"
	"context"
	"fmt"

	"github.com/treedex/go-treedex/pkg/storage"
	"github.com/treedex/go-treedex/pkg/wire"
)

// Format versions. Files older than V2 predate this codebase; files newer
// than CurrentVersion are refused.
const (
	Version2 uint32 = 2
	Version3 uint32 = 3
	Version4 uint32 = 4
	Version5 uint32 = 5

	// CurrentVersion is the version Save writes.
	CurrentVersion = Version5
)

// Save serializes the tree at the current version and writes it to path.
// It refuses while the tree is dirty: the stored Merkle tree must match the
// stored items.
func (t *Tree) Save(ctx context.Context, store storage.Storage, path string) error {
	if t.dirty {
		return ErrTreeDirty
	}
	if err := validateSortNode(t.sort); err != nil {
		return err
	}
	if err := validateMerkleNode(t.merkle); err != nil {
		return err
	}

	var buf bytes.Buffer
	w := wire.NewWriter(&buf)

	if err := w.WriteUint32(CurrentVersion); err != nil {
		return err
	}
	if err := writePayloadV5(w, t); err != nil {
		return err
	}
	if err := store.WriteBytes(ctx, path, buf.Bytes()); err != nil {
		return fmt.Errorf("writing %s: %s", path, err)
	}
	return nil
}

func writePayloadV5(w *wire.Writer, t *Tree) error {
	if err := w.WriteRawBSON(t.metadata); err != nil {
		return err
	}
	if err := w.WriteBytes(t.id[:]); err != nil {
		return err
	}

	table, indexes := buildStringTable(t)
	if err := w.WriteUint32(uint32(len(table))); err != nil {
		return err
	}
	for _, s := range table {
		if err := w.WriteString(s); err != nil {
			return err
		}
	}

	if err := writeSortNodeV5(w, t.sort, indexes); err != nil {
		return err
	}
	return writeMerkleNodeV5(w, t.merkle, indexes)
}

// buildStringTable assigns indexes to unique names in the order a pre-pass
// encounters them: sort tree pre-order first, then Merkle tree pre-order.
func buildStringTable(t *Tree) ([]string, map[string]uint32) {
	var table []string
	indexes := make(map[string]uint32)
	intern := func(s string) {
		if _, ok := indexes[s]; ok {
			return
		}
		indexes[s] = uint32(len(table))
		table = append(table, s)
	}

	walkSortNode(t.sort, func(n *SortNode) bool {
		if n.IsLeaf() {
			intern(n.name)
		}
		return true
	})
	var walkMerkle func(n *MerkleNode)
	walkMerkle = func(n *MerkleNode) {
		if n == nil {
			return
		}
		if n.IsLeaf() {
			intern(n.name)
			return
		}
		walkMerkle(n.left)
		walkMerkle(n.right)
	}
	walkMerkle(t.merkle)

	return table, indexes
}

// writeSortNodeV5 emits the sort tree pre-order. Every node starts with its
// node count; a count of one marks a leaf. Internal aggregates are recomputed
// on load and never serialized.
func writeSortNodeV5(w *wire.Writer, n *SortNode, indexes map[string]uint32) error {
	if n == nil {
		return w.WriteUint32(0)
	}
	if err := w.WriteUint32(n.nodeCount); err != nil {
		return err
	}
	if n.IsLeaf() {
		if err := w.WriteUint64(n.size); err != nil {
			return err
		}
		if err := w.WriteUint32(indexes[n.name]); err != nil {
			return err
		}
		if err := w.WriteBytes(n.contentHash); err != nil {
			return err
		}
		return w.WriteUint64(timeToMillis(n.lastModified))
	}
	if err := writeSortNodeV5(w, n.left, indexes); err != nil {
		return err
	}
	return writeSortNodeV5(w, n.right, indexes)
}

// writeMerkleNodeV5 emits the Merkle tree pre-order: node count, hash, then a
// name index for leaves or the children for internal nodes.
func writeMerkleNodeV5(w *wire.Writer, n *MerkleNode, indexes map[string]uint32) error {
	if n == nil {
		return w.WriteUint32(0)
	}
	if err := w.WriteUint32(n.nodeCount); err != nil {
		return err
	}
	if err := w.WriteBytes(n.hash); err != nil {
		return err
	}
	if n.IsLeaf() {
		return w.WriteUint32(indexes[n.name])
	}
	if err := writeMerkleNodeV5(w, n.left, indexes); err != nil {
		return err
	}
	return writeMerkleNodeV5(w, n.right, indexes)
}
