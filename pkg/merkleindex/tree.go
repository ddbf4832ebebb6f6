// Package merkleindex implements a content-addressed index over named
// records. Items live in a canonically shaped sorted tree; a Merkle tree
// derived from its leaves gives every index a root hash that is a pure
// function of the item set, so two indexes holding the same records always
// agree byte-for-byte on the root. Diffing two roots enumerates the records
// present on one side only, in time near-linear on the difference.
package merkleindex

import (
	"context"

	"github.com/google/uuid"
	"github.com/treedex/go-treedex/pkg/naturalsort"
	"go.mongodb.org/mongo-driver/bson"
)

// Tree is a single index: a sorted item tree, the Merkle tree built from it,
// and the identity and metadata that travel with the file. A Tree is owned by
// one logical task at a time; it has no internal locking.
type Tree struct {
	id       uuid.UUID
	sort     *SortNode
	merkle   *MerkleNode
	dirty    bool
	version  uint32
	metadata bson.Raw
}

// New creates an empty tree with the given identity, at the current format
// version.
func New(id uuid.UUID) *Tree {
	return &Tree{id: id, version: CurrentVersion}
}

// ID returns the tree identity.
func (t *Tree) ID() uuid.UUID { return t.id }

// Version returns the format version the tree was created or loaded at. Save
// always writes the current version.
func (t *Tree) Version() uint32 { return t.version }

// Dirty reports whether the sort tree changed since the Merkle tree was last
// built.
func (t *Tree) Dirty() bool { return t.dirty }

// SortRoot returns the root of the sorted item tree, nil when empty.
func (t *Tree) SortRoot() *SortNode { return t.sort }

// MerkleRoot returns the root of the Merkle tree, nil when empty or not yet
// built.
func (t *Tree) MerkleRoot() *MerkleNode { return t.merkle }

// RootHash returns the Merkle root hash, nil when the Merkle tree is absent.
func (t *Tree) RootHash() []byte {
	if t.merkle == nil {
		return nil
	}
	return t.merkle.hash
}

// Metadata returns the opaque database metadata document stored with the tree.
func (t *Tree) Metadata() bson.Raw { return t.metadata }

// SetMetadata replaces the metadata document. doc is any bson-marshalable
// value.
func (t *Tree) SetMetadata(doc interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return preconditionErrorf("marshaling metadata: %s", err)
	}
	t.metadata = raw
	return nil
}

// Len returns the number of items in the tree.
func (t *Tree) Len() int {
	if t.sort == nil {
		return 0
	}
	return int(t.sort.nodeCount+1) / 2
}

// Add inserts a new item. The name must not already be present.
func (t *Tree) Add(item Item) error {
	if err := item.validate(); err != nil {
		return err
	}
	if findLeaf(t.sort, item.Name) != nil {
		return preconditionErrorf("item %q already exists", item.Name)
	}
	t.sort = addNode(t.sort, newSortLeaf(item))
	t.dirty = true
	return nil
}

// Upsert inserts item, or replaces the stored hash, length and last-modified
// time when the name is already present.
func (t *Tree) Upsert(item Item) error {
	if err := item.validate(); err != nil {
		return err
	}
	leaf := findLeaf(t.sort, item.Name)
	if leaf == nil {
		t.sort = addNode(t.sort, newSortLeaf(item))
		t.dirty = true
		return nil
	}
	t.replaceLeaf(leaf, item)
	return nil
}

// Update replaces the stored hash, length and last-modified time of an
// existing item. It fails when the name is absent.
func (t *Tree) Update(item Item) error {
	if err := item.validate(); err != nil {
		return err
	}
	leaf := findLeaf(t.sort, item.Name)
	if leaf == nil {
		return &NotFoundError{Names: []string{item.Name}}
	}
	t.replaceLeaf(leaf, item)
	return nil
}

func (t *Tree) replaceLeaf(leaf *SortNode, item Item) {
	copy(leaf.contentHash, item.Hash)
	leaf.lastModified = item.LastModified
	if leaf.size != item.Length {
		delta := item.Length - leaf.size
		leaf.size = item.Length
		// Ancestor sizes are stale now; rebuild them along the search path.
		refreshSizes(t.sort, leaf.name, delta)
	}
	t.dirty = true
}

// refreshSizes adds delta to the size aggregate of every internal node on the
// path to name. delta wraps for negative adjustments.
func refreshSizes(n *SortNode, name string, delta uint64) {
	for n != nil && !n.IsLeaf() {
		n.size += delta
		if naturalsort.Compare(name, n.right.minName) < 0 {
			n = n.left
		} else {
			n = n.right
		}
	}
}

// Delete removes the item named name. Deleting an absent name is a no-op.
func (t *Tree) Delete(name string) {
	newRoot, found := deleteNode(t.sort, name)
	if !found {
		return
	}
	t.sort = newRoot
	t.dirty = true
}

// DeleteMany removes every named item. It fails without mutating the tree if
// any name is absent.
func (t *Tree) DeleteMany(names []string) error {
	var missing []string
	for _, name := range names {
		if findLeaf(t.sort, name) == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &NotFoundError{Names: missing}
	}
	for _, name := range names {
		t.Delete(name)
	}
	return nil
}

// Prune deletes every leaf under the given Merkle subtree roots and returns
// the names it removed.
func (t *Tree) Prune(nodes []*MerkleNode) ([]string, error) {
	var pruned []string
	for _, node := range nodes {
		if err := validateMerkleNode(node); err != nil {
			return nil, err
		}
		EachLeaf(node, func(leaf *MerkleNode) bool {
			t.Delete(leaf.name)
			pruned = append(pruned, leaf.name)
			return true
		})
	}
	return pruned, nil
}

// Rebuild traverses every item, drops those whose name starts with any of
// dropPrefixes, and re-inserts the survivors into a fresh tree carrying the
// same identity and metadata. The result has its Merkle tree built and is not
// dirty. Used for cleanup and format upgrades.
func (t *Tree) Rebuild(dropPrefixes []string) (*Tree, error) {
	items := collectItems(t.sort, nil)

	kept := items[:0]
	for _, item := range items {
		if hasAnyPrefix(item.Name, dropPrefixes) {
			continue
		}
		kept = append(kept, item)
	}

	// collectItems walks in-order, so kept is already sorted; insertion alone
	// restores the canonical shape.
	fresh := New(t.id)
	fresh.metadata = t.metadata
	for _, item := range kept {
		if err := fresh.Add(item); err != nil {
			return nil, err
		}
	}
	fresh.BuildMerkle()
	return fresh, nil
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if len(name) >= len(p) && name[:len(p)] == p {
			return true
		}
	}
	return false
}

// Find returns the leaf named name.
func (t *Tree) Find(name string) (*SortNode, bool) {
	leaf := findLeaf(t.sort, name)
	if leaf == nil {
		return nil, false
	}
	return leaf, true
}

// ItemInfo returns the stored hash, length and last-modified time of name.
func (t *Tree) ItemInfo(name string) (Item, bool) {
	leaf := findLeaf(t.sort, name)
	if leaf == nil {
		return Item{}, false
	}
	return leaf.Item(), true
}

// Items returns every item in name order.
func (t *Tree) Items() []Item {
	return collectItems(t.sort, nil)
}

// BuildMerkle (re)derives the Merkle tree from the sort tree and clears the
// dirty flag.
func (t *Tree) BuildMerkle() {
	t.merkle = buildMerkle(t.sort)
	t.dirty = false
}

// Walk visits the sort tree pre-order, stopping when fn returns false.
func (t *Tree) Walk(fn func(*SortNode) bool) {
	walkSortNode(t.sort, fn)
}

// WalkContext visits the sort tree pre-order. It stops with ErrCancelled when
// ctx is done or fn returns false, and with fn's error when fn fails. The tree
// is never mutated by a partial walk.
func (t *Tree) WalkContext(ctx context.Context, fn func(*SortNode) (bool, error)) error {
	return walkSortNodeContext(ctx, t.sort, fn)
}

// sortedNames is a test/debug helper: the in-order leaf names.
func (t *Tree) sortedNames() []string {
	items := collectItems(t.sort, nil)
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	return names
}
