package rewards

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/lidofinance/csm-rewards/core/types"
)

// OperatorLabel is the key of a node operator in the proofs export.
func OperatorLabel(id NodeOperatorID) string {
	return fmt.Sprintf("CSM Operator %d", id)
}

// OperatorProof is one entry of the proofs export.
type OperatorProof struct {
	OperatorID          NodeOperatorID `json:"-"`
	CumulativeFeeShares json.RawMessage `json:"cumulativeFeeShares"`
	Proof               []types.Hash    `json:"proof"`
}

// Proofs is the proofs export: one entry per value record, in record
// order. It marshals to a JSON object keyed by OperatorLabel.
type Proofs []OperatorProof

// Proofs derives the proof of every value record.
func (t *Tree) Proofs() (Proofs, error) {
	values := t.Values()
	out := make(Proofs, len(values))
	for i, v := range values {
		proof, err := t.StandardTree.Proof(v.TreeIndex)
		if err != nil {
			return nil, fmt.Errorf("operator %d: %w", v.Value.OperatorID, err)
		}
		if proof == nil {
			proof = []types.Hash{}
		}
		out[i] = OperatorProof{
			OperatorID:          v.Value.OperatorID,
			CumulativeFeeShares: json.RawMessage(v.Value.Shares.Dec()),
			Proof:               proof,
		}
	}
	return out, nil
}

// MarshalJSON keeps record order, which a Go map would lose.
func (p Proofs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(OperatorLabel(entry.OperatorID))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(entry)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Marshal encodes the export as JSON indented with two spaces.
func (p Proofs) Marshal() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}
