package merkleindex

import (
	"bytes"

	"github.com/treedex/go-treedex/pkg/hashset"
)

// Result is the outcome of diffing two Merkle trees. OnlyInA and OnlyInB hold
// nodes whose leaf closures are exactly the items present on one side and not
// the other, duplicate content hashes matched by multiplicity.
type Result struct {
	Identical bool
	OnlyInA   []*MerkleNode
	OnlyInB   []*MerkleNode
}

// Diff computes the two-way symmetric difference between the trees rooted at a
// and b. Either root may be nil, meaning an empty tree.
func Diff(a, b *MerkleNode) (Result, error) {
	onlyInA, err := differingNodes(a, b)
	if err != nil {
		return Result{}, err
	}
	onlyInB, err := differingNodes(b, a)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Identical: len(onlyInA) == 0 && len(onlyInB) == 0,
		OnlyInA:   onlyInA,
		OnlyInB:   onlyInB,
	}, nil
}

// differingNodes returns nodes of a whose leaves have no counterpart in b.
//
// Both trees are walked level by level. Every hash seen in b goes into a
// multiset; leaves of a consume matching counts. Internal nodes of a are
// always expanded instead of matched whole, so a duplicated content hash can
// never be double-counted. Only the tail pass, after one side is exhausted,
// matches whole subtrees by hash: at that point every leaf-level match has
// already been consumed.
func differingNodes(a, b *MerkleNode) ([]*MerkleNode, error) {
	if a == nil {
		return nil, nil
	}
	if b == nil {
		return []*MerkleNode{a}, nil
	}
	if bytes.Equal(a.hash, b.hash) {
		return nil, nil
	}

	counts := hashset.NewMap[int]()
	queueA := []*MerkleNode{a}
	queueB := []*MerkleNode{b}

	for len(queueA) > 0 && len(queueB) > 0 {
		// Expand b one level, recording every hash.
		nextB := make([]*MerkleNode, 0, len(queueB)*2)
		for _, n := range queueB {
			if err := incrementCount(counts, n.hash); err != nil {
				return nil, err
			}
			if n.IsLeaf() {
				continue
			}
			if (n.left == nil) != (n.right == nil) {
				return nil, structureErrorf("merkle node with a single child")
			}
			nextB = append(nextB, n.left, n.right)
		}
		queueB = nextB

		// Probe the current level of a. Unmatched leaves are requeued for a
		// later pass, after more of b has been expanded.
		nextA := make([]*MerkleNode, 0, len(queueA))
		for _, n := range queueA {
			if n.IsLeaf() {
				matched, err := decrementCount(counts, n.hash)
				if err != nil {
					return nil, err
				}
				if !matched {
					nextA = append(nextA, n)
				}
				continue
			}
			if (n.left == nil) != (n.right == nil) {
				return nil, structureErrorf("merkle node with a single child")
			}
			nextA = append(nextA, n.left, n.right)
		}
		queueA = nextA
	}

	var only []*MerkleNode
	for _, n := range queueA {
		var err error
		only, err = tailMatch(counts, n, only)
		if err != nil {
			return nil, err
		}
	}
	return only, nil
}

// tailMatch resolves a's leftover nodes once b is fully recorded. Internal
// nodes may match whole subtrees by hash here.
func tailMatch(counts *hashset.Map[int], n *MerkleNode, only []*MerkleNode) ([]*MerkleNode, error) {
	matched, err := decrementCount(counts, n.hash)
	if err != nil {
		return nil, err
	}
	if matched {
		return only, nil
	}
	if n.IsLeaf() {
		return append(only, n), nil
	}
	if (n.left == nil) != (n.right == nil) {
		return nil, structureErrorf("merkle node with a single child")
	}
	only, err = tailMatch(counts, n.left, only)
	if err != nil {
		return nil, err
	}
	return tailMatch(counts, n.right, only)
}

func incrementCount(counts *hashset.Map[int], hash []byte) error {
	c, _, err := counts.Get(hash)
	if err != nil {
		return err
	}
	return counts.Set(hash, c+1)
}

// decrementCount consumes one occurrence of hash if any remain.
func decrementCount(counts *hashset.Map[int], hash []byte) (bool, error) {
	c, ok, err := counts.Get(hash)
	if err != nil || !ok || c <= 0 {
		return false, err
	}
	return true, counts.Set(hash, c-1)
}
