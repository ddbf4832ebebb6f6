package merkleindex

import (
	"context"
	"time"

	"github.com/treedex/go-treedex/pkg/naturalsort"
)

// SortNode is a node of the sorted item tree. A node with no children is a
// leaf holding one item; a node with two children is internal and carries only
// aggregates. A node with exactly one child is invalid.
//
// The tree keeps two invariants: the in-order leaf sequence is ascending under
// naturalsort.Compare, and at every internal node the left child's node count
// exceeds the right's by at most two while the right never exceeds the left.
// The second one makes the shape a pure function of the item set, so any
// insertion order converges to the same tree and the same Merkle root.
type SortNode struct {
	name         string
	contentHash  []byte
	size         uint64
	lastModified time.Time

	nodeCount uint32
	minName   string

	left, right *SortNode
}

// IsLeaf reports whether n holds an item.
func (n *SortNode) IsLeaf() bool {
	return n.left == nil && n.right == nil
}

// Name returns the item name. Empty for internal nodes.
func (n *SortNode) Name() string { return n.name }

// ContentHash returns the item's content hash. Nil for internal nodes.
func (n *SortNode) ContentHash() []byte { return n.contentHash }

// Size returns the item length for a leaf, or the sum of all leaf lengths in
// the subtree for an internal node.
func (n *SortNode) Size() uint64 { return n.size }

// LastModified returns the item's last-modified time. Zero when absent and for
// internal nodes.
func (n *SortNode) LastModified() time.Time { return n.lastModified }

// NodeCount returns the number of nodes in the subtree rooted at n, counting n.
func (n *SortNode) NodeCount() uint32 { return n.nodeCount }

// MinName returns the name of the leftmost leaf in the subtree.
func (n *SortNode) MinName() string { return n.minName }

// Left returns the left child, nil for leaves.
func (n *SortNode) Left() *SortNode { return n.left }

// Right returns the right child, nil for leaves.
func (n *SortNode) Right() *SortNode { return n.right }

// Item returns the leaf's item. Calling it on an internal node returns a zero
// Item.
func (n *SortNode) Item() Item {
	if !n.IsLeaf() {
		return Item{}
	}
	hash := make([]byte, len(n.contentHash))
	copy(hash, n.contentHash)
	return Item{
		Name:         n.name,
		Hash:         hash,
		Length:       n.size,
		LastModified: n.lastModified,
	}
}

func newSortLeaf(item Item) *SortNode {
	hash := make([]byte, HashSize)
	copy(hash, item.Hash)
	return &SortNode{
		name:         item.Name,
		contentHash:  hash,
		size:         item.Length,
		lastModified: item.LastModified,
		nodeCount:    1,
		minName:      item.Name,
	}
}

func newSortInternal(left, right *SortNode) *SortNode {
	n := &SortNode{left: left, right: right}
	n.recompute()
	return n
}

// recompute refreshes the aggregates of an internal node from its children.
func (n *SortNode) recompute() {
	n.nodeCount = 1 + n.left.nodeCount + n.right.nodeCount
	n.size = n.left.size + n.right.size
	n.minName = n.left.minName
}

// addNode inserts leaf into the subtree rooted at n and returns the new root of
// that subtree. Descent uses the right child's minimum name as the pivot.
func addNode(n, leaf *SortNode) *SortNode {
	if n == nil {
		return leaf
	}
	if n.IsLeaf() {
		if naturalsort.Compare(leaf.name, n.name) < 0 {
			return newSortInternal(leaf, n)
		}
		return newSortInternal(n, leaf)
	}
	if naturalsort.Compare(leaf.name, n.right.minName) < 0 {
		n.left = addNode(n.left, leaf)
	} else {
		n.right = addNode(n.right, leaf)
	}
	n.recompute()
	return balance(n)
}

// deleteNode removes the leaf named name from the subtree rooted at n,
// promoting its sibling, and returns the new subtree root and whether a leaf
// was removed. A missing name leaves the subtree untouched.
func deleteNode(n *SortNode, name string) (*SortNode, bool) {
	if n == nil {
		return nil, false
	}
	if n.IsLeaf() {
		if n.name == name {
			return nil, true
		}
		return n, false
	}

	var found bool
	if naturalsort.Compare(name, n.right.minName) < 0 {
		var newLeft *SortNode
		newLeft, found = deleteNode(n.left, name)
		if newLeft == nil {
			return n.right, found
		}
		n.left = newLeft
	} else {
		var newRight *SortNode
		newRight, found = deleteNode(n.right, name)
		if newRight == nil {
			return n.left, found
		}
		n.right = newRight
	}
	if !found {
		return n, false
	}
	n.recompute()
	return balance(n), true
}

// balance restores the canonical shape at n: the left subtree may outweigh the
// right by at most two nodes and the right must never outweigh the left.
//
// A single rotation moves the whole inner grandchild across. When the
// grandchildren tie and the inner one is internal that move overshoots and the
// two sides oscillate, so the tie takes the double rotation, which splits the
// inner grandchild instead; a leaf inner grandchild cannot be split and takes
// the single rotation. Rotations compose fresh internal nodes, which are
// re-balanced before n is examined again.
func balance(n *SortNode) *SortNode {
	for {
		if n.IsLeaf() {
			return n
		}
		l := int64(n.left.nodeCount)
		r := int64(n.right.nodeCount)

		switch {
		case l-r > 2:
			left := n.left
			if left.right.IsLeaf() || left.left.nodeCount > left.right.nodeCount {
				n = rotateRight(n)
			} else {
				n.left = rotateLeft(left)
				n = rotateRight(n)
			}
		case r-l > 0:
			right := n.right
			if right.left.IsLeaf() || right.right.nodeCount > right.left.nodeCount {
				n = rotateLeft(n)
			} else {
				n.right = rotateRight(right)
				n = rotateLeft(n)
			}
		default:
			return n
		}

		n.left = balance(n.left)
		n.right = balance(n.right)
		n.recompute()
	}
}

// rotateLeft lifts the right child over n, keeping the in-order sequence.
func rotateLeft(n *SortNode) *SortNode {
	pivot := n.right
	n.right = pivot.left
	pivot.left = n
	n.recompute()
	pivot.recompute()
	return pivot
}

// rotateRight lifts the left child over n, keeping the in-order sequence.
func rotateRight(n *SortNode) *SortNode {
	pivot := n.left
	n.left = pivot.right
	pivot.right = n
	n.recompute()
	pivot.recompute()
	return pivot
}

// findLeaf locates the leaf named name using the same pivot rule as addNode.
func findLeaf(n *SortNode, name string) *SortNode {
	for n != nil {
		if n.IsLeaf() {
			if n.name == name {
				return n
			}
			return nil
		}
		if naturalsort.Compare(name, n.right.minName) < 0 {
			n = n.left
		} else {
			n = n.right
		}
	}
	return nil
}

// walkSortNode visits the subtree pre-order, stopping when fn returns false.
// It reports whether the walk ran to completion.
func walkSortNode(n *SortNode, fn func(*SortNode) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	if n.IsLeaf() {
		return true
	}
	if !walkSortNode(n.left, fn) {
		return false
	}
	return walkSortNode(n.right, fn)
}

// walkSortNodeContext is the context-aware variant of walkSortNode. It returns
// ErrCancelled when the context is done or fn asks to stop, or fn's error.
func walkSortNodeContext(ctx context.Context, n *SortNode, fn func(*SortNode) (bool, error)) error {
	if n == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
	}
	cont, err := fn(n)
	if err != nil {
		return err
	}
	if !cont {
		return ErrCancelled
	}
	if n.IsLeaf() {
		return nil
	}
	if err := walkSortNodeContext(ctx, n.left, fn); err != nil {
		return err
	}
	return walkSortNodeContext(ctx, n.right, fn)
}

// collectItems appends every leaf item in-order.
func collectItems(n *SortNode, items []Item) []Item {
	if n == nil {
		return items
	}
	if n.IsLeaf() {
		return append(items, n.Item())
	}
	items = collectItems(n.left, items)
	return collectItems(n.right, items)
}

// validateSortNode checks the structural invariants the deserializer and
// mutation paths rely on.
func validateSortNode(n *SortNode) error {
	if n == nil {
		return nil
	}
	if (n.left == nil) != (n.right == nil) {
		return structureErrorf("sort node with a single child")
	}
	if n.IsLeaf() {
		if n.name == "" {
			return structureErrorf("sort leaf with empty name")
		}
		if len(n.contentHash) != HashSize {
			return structureErrorf("sort leaf %q with %d-byte content hash", n.name, len(n.contentHash))
		}
		return nil
	}
	if err := validateSortNode(n.left); err != nil {
		return err
	}
	return validateSortNode(n.right)
}
