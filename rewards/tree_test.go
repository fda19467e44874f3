package rewards

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidofinance/csm-rewards/merkle"
)

func mustTree(t *testing.T, rewards ...Reward) *Tree {
	t.Helper()
	tree, err := New(rewards)
	require.NoError(t, err)
	return tree
}

func TestTreeIndexAndTotal(t *testing.T) {
	tree := mustTree(t, NewReward(1, 130), NewReward(2, 50), NewReward(3, 20))

	assert.Equal(t, uint256.NewInt(200), tree.TotalShares())
	assert.Equal(t, 3, tree.Operators())

	s, ok := tree.Shares(1)
	require.True(t, ok)
	assert.Equal(t, uint256.NewInt(130), s)

	_, ok = tree.Shares(4)
	assert.False(t, ok)
}

func TestTreeSharesAreCopies(t *testing.T) {
	tree := mustTree(t, NewReward(1, 100))
	s, _ := tree.Shares(1)
	s.SetUint64(1)
	tree.TotalShares().SetUint64(1)

	again, _ := tree.Shares(1)
	assert.Equal(t, uint256.NewInt(100), again)
	assert.Equal(t, uint256.NewInt(100), tree.TotalShares())
}

func TestTreeRewardsKeepRecordOrder(t *testing.T) {
	in := []Reward{NewReward(9, 1), NewReward(3, 2), NewReward(5, 3)}
	tree := mustTree(t, in...)
	assert.Equal(t, in, tree.Rewards())
}

func TestTreeLargeShares(t *testing.T) {
	big, err := uint256.FromDecimal("123456789012345678901234567890")
	require.NoError(t, err)
	tree := mustTree(t, Reward{OperatorID: 7, Shares: big}, NewReward(8, 10))

	doc, err := tree.Dump()
	require.NoError(t, err)
	data, err := doc.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "123456789012345678901234567890")

	loaded, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, tree.Root(), loaded.Root())
	assert.Equal(t, tree.TotalShares(), loaded.TotalShares())
}

func TestTreeRejectsNilShares(t *testing.T) {
	_, err := New([]Reward{{OperatorID: 1}})
	require.ErrorIs(t, err, ErrInvalidReward)
}

func TestTreeRejectsBadDocument(t *testing.T) {
	_, err := Parse([]byte(`{"format":"standard-v1","leafEncoding":["uint256","uint256"],"values":[{"value":[18446744073709551616,1],"treeIndex":0}]}`))
	require.ErrorIs(t, err, ErrInvalidReward)

	_, err = Parse([]byte(`{"format":"standard-v1","leafEncoding":["uint256","uint256"]}`))
	require.ErrorIs(t, err, merkle.ErrValuesMissing)
}

func TestTreeDuplicateOperator(t *testing.T) {
	tree := mustTree(t, NewReward(1, 10), NewReward(1, 30))

	s, ok := tree.Shares(1)
	require.True(t, ok)
	assert.Equal(t, uint256.NewInt(30), s)
	assert.Equal(t, uint256.NewInt(40), tree.TotalShares())
	assert.Equal(t, 1, tree.Operators())
}

func TestTreeProofOf(t *testing.T) {
	tree := mustTree(t, NewReward(1, 100), NewReward(2, 50), NewReward(3, 20))

	r, proof, err := tree.ProofOf(2)
	require.NoError(t, err)
	assert.Equal(t, NewReward(2, 50), r)

	leaf, err := tree.Leaf(r)
	require.NoError(t, err)
	assert.True(t, merkle.Verify(tree.Root(), leaf, proof))

	_, _, err = tree.ProofOf(42)
	require.ErrorIs(t, err, ErrUnknownOperator)
}

func TestTreeLoadIgnoresStoredNodes(t *testing.T) {
	const dump = `{
  "format": "standard-v1",
  "leafEncoding": ["uint256", "uint256"],
  "tree": ["0x0000000000000000000000000000000000000000000000000000000000000000"],
  "values": [
    {"value": [1, 100], "treeIndex": 2},
    {"value": [2, 50], "treeIndex": 1}
  ]
}`
	tree, err := Parse([]byte(dump))
	require.NoError(t, err)

	want := mustTree(t, NewReward(1, 100), NewReward(2, 50))
	assert.Equal(t, want.Root(), tree.Root())
	assert.Equal(t, uint256.NewInt(150), tree.TotalShares())
}

func TestProofsExport(t *testing.T) {
	tree := mustTree(t, NewReward(10, 100), NewReward(2, 50), NewReward(3, 20))

	proofs, err := tree.Proofs()
	require.NoError(t, err)
	require.Len(t, proofs, 3)

	for i, r := range tree.Rewards() {
		assert.Equal(t, r.OperatorID, proofs[i].OperatorID)
		leaf, err := tree.Leaf(r)
		require.NoError(t, err)
		assert.True(t, merkle.Verify(tree.Root(), leaf, proofs[i].Proof))
	}

	data, err := proofs.Marshal()
	require.NoError(t, err)
	s := string(data)

	// Record order, not lexical order.
	i10 := strings.Index(s, `"CSM Operator 10"`)
	i2 := strings.Index(s, `"CSM Operator 2"`)
	i3 := strings.Index(s, `"CSM Operator 3"`)
	assert.True(t, i10 >= 0 && i10 < i2 && i2 < i3, s)
	assert.Contains(t, s, "\"cumulativeFeeShares\": 100,")

	var parsed map[string]struct {
		CumulativeFeeShares json.Number `json:"cumulativeFeeShares"`
		Proof               []string    `json:"proof"`
	}
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, json.Number("50"), parsed["CSM Operator 2"].CumulativeFeeShares)
	for _, p := range parsed["CSM Operator 2"].Proof {
		assert.True(t, strings.HasPrefix(p, "0x"))
		assert.Len(t, p, 66)
	}
}

func TestProofsExportSingleOperator(t *testing.T) {
	tree := mustTree(t, NewReward(1, 100))
	proofs, err := tree.Proofs()
	require.NoError(t, err)

	data, err := proofs.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"CSM Operator 1":{"cumulativeFeeShares":100,"proof":[]}}`, string(data))
}
