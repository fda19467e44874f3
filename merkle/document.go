package merkle

import (
	"encoding/json"
	"fmt"

	"github.com/lidofinance/csm-rewards/core/types"
)

// StandardFormat is the only supported dump format.
const StandardFormat = "standard-v1"

// Document is the JSON dump of a StandardTree.
type Document struct {
	Format       string          `json:"format"`
	LeafEncoding []string        `json:"leafEncoding"`
	Tree         []types.Hash    `json:"tree"`
	Values       []DocumentValue `json:"values"`
}

// DocumentValue is one value record of a Document.
type DocumentValue struct {
	Value     []json.RawMessage `json:"value"`
	TreeIndex int               `json:"treeIndex"`
}

// ParseDocument decodes a JSON dump. Structural checks are left to the
// loaders.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("merkle: decode document: %w", err)
	}
	return &doc, nil
}

// Marshal encodes the document as JSON indented with two spaces.
func (d *Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// check rejects documents that cannot be loaded. A missing field and an
// empty list are different things: only the former is rejected here.
func (d *Document) check() error {
	if d == nil || d.Format != StandardFormat {
		return ErrFormat
	}
	if d.LeafEncoding == nil {
		return ErrSchemaMissing
	}
	if d.Values == nil {
		return ErrValuesMissing
	}
	return nil
}
