// Package rewards implements the CSM reward tree: a standard Merkle tree over
// (node operator ID, cumulative fee shares) pairs.
package rewards

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/lidofinance/csm-rewards/core/types"
	"github.com/lidofinance/csm-rewards/merkle"
)

// LeafEncoding is the ABI encoding of a reward leaf.
var LeafEncoding = []string{"uint256", "uint256"}

var (
	ErrInvalidReward   = errors.New("rewards: invalid reward")
	ErrUnknownOperator = errors.New("rewards: unknown node operator")
	ErrSharesOverflow  = errors.New("rewards: total shares overflow uint256")
)

// NodeOperatorID identifies a CSM node operator.
type NodeOperatorID = uint64

// Reward is the cumulative amount of fee shares owed to a node operator.
type Reward struct {
	OperatorID NodeOperatorID
	Shares     *uint256.Int
}

// NewReward is a shorthand for building rewards from small amounts.
func NewReward(id NodeOperatorID, shares uint64) Reward {
	return Reward{OperatorID: id, Shares: uint256.NewInt(shares)}
}

// Codec maps rewards onto (uint256, uint256) leaf tuples.
type Codec struct{}

var _ merkle.Codec[Reward] = Codec{}

// Fields implements merkle.Codec.
func (Codec) Fields(r Reward) []any {
	return []any{new(big.Int).SetUint64(r.OperatorID), r.Shares}
}

// Value implements merkle.Codec.
func (Codec) Value(fields []any) (Reward, error) {
	if len(fields) != 2 {
		return Reward{}, fmt.Errorf("%w: expected 2 fields, got %d", ErrInvalidReward, len(fields))
	}
	id, ok := fields[0].(*big.Int)
	if !ok || !id.IsUint64() {
		return Reward{}, fmt.Errorf("%w: node operator id %v", ErrInvalidReward, fields[0])
	}
	amount, ok := fields[1].(*big.Int)
	if !ok {
		return Reward{}, fmt.Errorf("%w: shares %v", ErrInvalidReward, fields[1])
	}
	shares, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return Reward{}, fmt.Errorf("%w: shares %s", ErrInvalidReward, amount)
	}
	return Reward{OperatorID: id.Uint64(), Shares: shares}, nil
}

// Tree is a reward tree with a per-operator index and the total amount of
// shares. It is immutable.
type Tree struct {
	*merkle.StandardTree[Reward]

	shares map[NodeOperatorID]*uint256.Int
	total  *uint256.Int
}

// New builds a reward tree.
func New(rewards []Reward) (*Tree, error) {
	for i, r := range rewards {
		if r.Shares == nil {
			return nil, fmt.Errorf("%w: reward %d has no shares", ErrInvalidReward, i)
		}
	}
	st, err := merkle.NewStandardTree(rewards, LeafEncoding, Codec{})
	if err != nil {
		return nil, err
	}
	return fromStandard(st)
}

// Load rebuilds a reward tree from a standard-v1 document.
func Load(doc *merkle.Document) (*Tree, error) {
	st, err := merkle.LoadStandardTree(doc, Codec{})
	if err != nil {
		return nil, err
	}
	return fromStandard(st)
}

// Parse decodes and loads a JSON document.
func Parse(data []byte) (*Tree, error) {
	doc, err := merkle.ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return Load(doc)
}

func fromStandard(st *merkle.StandardTree[Reward]) (*Tree, error) {
	t := &Tree{
		StandardTree: st,
		shares:       make(map[NodeOperatorID]*uint256.Int),
		total:        new(uint256.Int),
	}
	for _, v := range st.Values() {
		r := v.Value
		t.shares[r.OperatorID] = r.Shares
		if _, overflow := t.total.AddOverflow(t.total, r.Shares); overflow {
			return nil, ErrSharesOverflow
		}
	}
	return t, nil
}

// Shares returns the cumulative shares of a node operator.
func (t *Tree) Shares(id NodeOperatorID) (*uint256.Int, bool) {
	s, ok := t.shares[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// TotalShares returns the sum of the shares of every record.
func (t *Tree) TotalShares() *uint256.Int {
	return t.total.Clone()
}

// Operators returns the number of distinct node operators.
func (t *Tree) Operators() int {
	return len(t.shares)
}

// Rewards returns the rewards in record order.
func (t *Tree) Rewards() []Reward {
	values := t.Values()
	out := make([]Reward, len(values))
	for i, v := range values {
		out[i] = Reward{OperatorID: v.Value.OperatorID, Shares: v.Value.Shares.Clone()}
	}
	return out
}

// ProofOf returns the reward of a node operator and its proof.
func (t *Tree) ProofOf(id NodeOperatorID) (Reward, []types.Hash, error) {
	s, ok := t.shares[id]
	if !ok {
		return Reward{}, nil, fmt.Errorf("%w: %d", ErrUnknownOperator, id)
	}
	r := Reward{OperatorID: id, Shares: s.Clone()}
	proof, err := t.ProofFor(r)
	if err != nil {
		return Reward{}, nil, err
	}
	return r, proof, nil
}
