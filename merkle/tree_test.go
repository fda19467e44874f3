package merkle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidofinance/csm-rewards/core/types"
	"github.com/lidofinance/csm-rewards/crypto"
)

func testLeaves(n int) []types.Hash {
	leaves := make([]types.Hash, n)
	for i := range leaves {
		leaves[i] = crypto.Keccak256Hash([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return leaves
}

func TestHashNodeSymmetric(t *testing.T) {
	leaves := testLeaves(8)
	for _, a := range leaves {
		for _, b := range leaves {
			assert.Equal(t, HashNode(a, b), HashNode(b, a))
		}
	}
}

func TestHashNodeSortsInputs(t *testing.T) {
	lo := types.BytesToHash([]byte{0x01})
	hi := types.BytesToHash([]byte{0x02})
	assert.Equal(t, crypto.Keccak256Hash(lo[:], hi[:]), HashNode(hi, lo))
}

func TestHashLeafIsDoubleKeccak(t *testing.T) {
	data := []byte("value")
	inner := crypto.Keccak256(data)
	assert.Equal(t, crypto.Keccak256Hash(inner), HashLeaf(data))
	assert.NotEqual(t, crypto.Keccak256Hash(data), HashLeaf(data))
}

func TestNewCompleteTreeEmpty(t *testing.T) {
	_, err := NewCompleteTree(nil)
	require.ErrorIs(t, err, ErrEmptyTree)
}

func TestCompleteTreeLayout(t *testing.T) {
	leaves := testLeaves(3)
	tree, err := NewCompleteTree(leaves)
	require.NoError(t, err)

	nodes := tree.Nodes()
	require.Len(t, nodes, 5)
	assert.Equal(t, leaves[0], nodes[4])
	assert.Equal(t, leaves[1], nodes[3])
	assert.Equal(t, leaves[2], nodes[2])
	assert.Equal(t, HashNode(nodes[3], nodes[4]), nodes[1])
	assert.Equal(t, HashNode(nodes[1], nodes[2]), nodes[0])
	assert.Equal(t, nodes[0], tree.Root())
	assert.Equal(t, leaves, tree.Leaves())
	assert.Equal(t, 3, tree.Len())
	assert.True(t, tree.VerifyIntegrity())
}

func TestCompleteTreeSingleLeaf(t *testing.T) {
	leaf := testLeaves(1)[0]
	tree, err := NewCompleteTree([]types.Hash{leaf})
	require.NoError(t, err)

	assert.Equal(t, leaf, tree.Root())
	idx, err := tree.Find(leaf)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	proof, err := tree.Proof(idx)
	require.NoError(t, err)
	assert.Empty(t, proof)
	assert.True(t, Verify(tree.Root(), leaf, proof))
}

func TestCompleteTreeProofs(t *testing.T) {
	for n := 1; n <= 17; n++ {
		leaves := testLeaves(n)
		tree, err := NewCompleteTree(leaves)
		require.NoError(t, err)

		for _, leaf := range leaves {
			idx, err := tree.Find(leaf)
			require.NoError(t, err)
			proof, err := tree.Proof(idx)
			require.NoError(t, err)
			assert.True(t, Verify(tree.Root(), leaf, proof), "n=%d leaf=%s", n, leaf)
		}
	}
}

func TestCompleteTreeProofOrder(t *testing.T) {
	leaves := testLeaves(4)
	tree, err := NewCompleteTree(leaves)
	require.NoError(t, err)
	nodes := tree.Nodes()

	// Slot 3 is a left child: its sibling is 4, then the parent 1 has sibling 2.
	proof, err := tree.Proof(3)
	require.NoError(t, err)
	assert.Equal(t, []types.Hash{nodes[4], nodes[2]}, proof)

	proof, err = tree.Proof(6)
	require.NoError(t, err)
	assert.Equal(t, []types.Hash{nodes[5], nodes[1]}, proof)
}

func TestCompleteTreeProofRejection(t *testing.T) {
	leaves := testLeaves(9)
	tree, err := NewCompleteTree(leaves)
	require.NoError(t, err)
	root := tree.Root()

	idx, err := tree.Find(leaves[4])
	require.NoError(t, err)
	proof, err := tree.Proof(idx)
	require.NoError(t, err)
	require.True(t, Verify(root, leaves[4], proof))

	for i := range proof {
		for b := 0; b < types.HashLength; b++ {
			tampered := append([]types.Hash(nil), proof...)
			tampered[i][b] ^= 0x01
			assert.False(t, Verify(root, leaves[4], tampered), "proof[%d] byte %d", i, b)
		}
	}
	for b := 0; b < types.HashLength; b++ {
		leaf := leaves[4]
		leaf[b] ^= 0x80
		assert.False(t, Verify(root, leaf, proof), "leaf byte %d", b)
	}
	assert.False(t, Verify(root, leaves[4], proof[:len(proof)-1]))
}

func TestCompleteTreeFindMissing(t *testing.T) {
	tree, err := NewCompleteTree(testLeaves(3))
	require.NoError(t, err)

	_, err = tree.Find(crypto.Keccak256Hash([]byte("absent")))
	require.ErrorIs(t, err, ErrLeafNotFound)

	// Internal nodes are not leaves.
	_, err = tree.Find(tree.Root())
	require.ErrorIs(t, err, ErrLeafNotFound)
}

func TestCompleteTreeProofInvalidIndex(t *testing.T) {
	tree, err := NewCompleteTree(testLeaves(3))
	require.NoError(t, err)

	for _, idx := range []int{-1, 0, 1, 5, 100} {
		_, err := tree.Proof(idx)
		assert.ErrorIs(t, err, ErrInvalidIndex, "index %d", idx)
	}
}

func TestCompleteTreeDuplicateLeaves(t *testing.T) {
	leaf := testLeaves(1)[0]
	tree, err := NewCompleteTree([]types.Hash{leaf, leaf})
	require.NoError(t, err)

	idx, err := tree.Find(leaf)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	proof, err := tree.Proof(idx)
	require.NoError(t, err)
	assert.True(t, Verify(tree.Root(), leaf, proof))
}

func BenchmarkNewCompleteTree(b *testing.B) {
	leaves := testLeaves(4096)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewCompleteTree(leaves); err != nil {
			b.Fatal(err)
		}
	}
}
