package merkle

import (
	"github.com/lidofinance/csm-rewards/core/types"
	"github.com/lidofinance/csm-rewards/crypto"
)

// HashLeaf hashes an encoded value twice, keeping leaves distinct from
// internal nodes so that a node can never be presented as a leaf.
func HashLeaf(encoded []byte) types.Hash {
	inner := crypto.Keccak256Hash(encoded)
	return crypto.Keccak256Hash(inner[:])
}

// HashNode hashes two nodes in ascending byte order, which makes the result
// independent of argument order.
func HashNode(a, b types.Hash) types.Hash {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}
