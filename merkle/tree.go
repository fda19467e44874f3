// Package merkle implements the OpenZeppelin "standard" Merkle tree: a
// complete binary tree over sorted, double-hashed, ABI-encoded leaves with
// sorted-pair internal hashing.
//
// The tree is stored as a flat array. Index 0 is the root and the children
// of node i are at 2i+1 and 2i+2. For L leaves the array has 2L-1 slots and
// the i-th sorted leaf lives at slot len(tree)-1-i.
//
// Proofs produced here verify against MerkleProof.sol, so the layout and the
// hashing rules must not change.
package merkle

import (
	"fmt"

	"github.com/lidofinance/csm-rewards/core/types"
)

// Tree is the read side of a Merkle commitment.
type Tree interface {
	// Root returns the commitment published on chain.
	Root() types.Hash
	// Find returns the tree index of the given leaf.
	Find(leaf types.Hash) (int, error)
	// Proof returns the sibling path from the node at index up to the root.
	Proof(index int) ([]types.Hash, error)
}

var _ Tree = (*CompleteTree)(nil)

// CompleteTree is a Merkle tree shaped as a complete binary tree. It is
// immutable once built and safe for concurrent use.
type CompleteTree struct {
	nodes   []types.Hash
	nLeaves int
	// positions maps a leaf to the lowest tree slot holding it.
	positions map[types.Hash]int
}

// NewCompleteTree builds a tree over the given leaves in the given order.
// Callers wanting a canonical tree must sort the leaves first.
func NewCompleteTree(leaves []types.Hash) (*CompleteTree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	nodes := make([]types.Hash, 2*len(leaves)-1)
	for i, leaf := range leaves {
		nodes[len(nodes)-1-i] = leaf
	}
	for i := len(nodes) - 1 - len(leaves); i >= 0; i-- {
		nodes[i] = HashNode(nodes[2*i+1], nodes[2*i+2])
	}

	positions := make(map[types.Hash]int, len(leaves))
	for i := len(nodes) - len(leaves); i < len(nodes); i++ {
		if _, ok := positions[nodes[i]]; !ok {
			positions[nodes[i]] = i
		}
	}

	return &CompleteTree{
		nodes:     nodes,
		nLeaves:   len(leaves),
		positions: positions,
	}, nil
}

// Root returns the hash at index 0.
func (t *CompleteTree) Root() types.Hash {
	return t.nodes[0]
}

// Len returns the number of leaves.
func (t *CompleteTree) Len() int {
	return t.nLeaves
}

// Nodes returns a copy of the flat tree array.
func (t *CompleteTree) Nodes() []types.Hash {
	out := make([]types.Hash, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Leaves returns the leaves in the order they were given to the constructor.
func (t *CompleteTree) Leaves() []types.Hash {
	out := make([]types.Hash, t.nLeaves)
	for i := range out {
		out[i] = t.nodes[len(t.nodes)-1-i]
	}
	return out
}

// Find returns the tree index of leaf. When the same leaf appears more than
// once the lowest index wins.
func (t *CompleteTree) Find(leaf types.Hash) (int, error) {
	idx, ok := t.positions[leaf]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrLeafNotFound, leaf)
	}
	return idx, nil
}

// Proof returns the siblings on the path from the leaf at index to the root,
// leaf side first.
func (t *CompleteTree) Proof(index int) ([]types.Hash, error) {
	if !t.isLeaf(index) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	var proof []types.Hash
	for i := index; i > 0; i = parent(i) {
		proof = append(proof, t.nodes[sibling(i)])
	}
	return proof, nil
}

// VerifyIntegrity recomputes every internal node and reports whether the
// stored array is consistent.
func (t *CompleteTree) VerifyIntegrity() bool {
	for i := len(t.nodes) - 1 - t.nLeaves; i >= 0; i-- {
		if t.nodes[i] != HashNode(t.nodes[2*i+1], t.nodes[2*i+2]) {
			return false
		}
	}
	return true
}

func (t *CompleteTree) isLeaf(index int) bool {
	return index >= len(t.nodes)-t.nLeaves && index < len(t.nodes)
}

// Verify reports whether proof links leaf to root. It needs no tree, so it
// can check proofs handed out to third parties.
func Verify(root, leaf types.Hash, proof []types.Hash) bool {
	return ProcessProof(leaf, proof) == root
}

// ProcessProof folds the proof into the leaf and returns the resulting root.
func ProcessProof(leaf types.Hash, proof []types.Hash) types.Hash {
	h := leaf
	for _, p := range proof {
		h = HashNode(h, p)
	}
	return h
}

func parent(i int) int {
	return (i - 1) / 2
}

// sibling returns i+1 for a left child (odd index) and i-1 for a right one.
func sibling(i int) int {
	if i%2 == 1 {
		return i + 1
	}
	return i - 1
}
