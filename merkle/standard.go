package merkle

import (
	"fmt"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/lidofinance/csm-rewards/core/types"
)

// parallelLeafThreshold is the number of values above which leaves are
// hashed concurrently.
const parallelLeafThreshold = 1024

// Codec maps a typed value onto the field tuple of its leaf encoding.
type Codec[T any] interface {
	// Fields returns the ABI fields of v in encoding order.
	Fields(v T) []any
	// Value rebuilds a value from canonical fields.
	Value(fields []any) (T, error)
}

// Tuple is an untyped value: its fields in encoding order.
type Tuple = []any

// TupleCodec is the identity codec, for trees whose value shape is only
// known from a document.
type TupleCodec struct{}

// Fields implements Codec.
func (TupleCodec) Fields(v Tuple) []any { return v }

// Value implements Codec.
func (TupleCodec) Value(fields []any) (Tuple, error) { return fields, nil }

// Value is a tree value together with the index of its leaf in the tree.
type Value[T any] struct {
	Value     T
	TreeIndex int
}

// StandardTree is a CompleteTree over sorted leaves derived from typed
// values. The leaf of a value is keccak256(keccak256(abi.encode(value))).
type StandardTree[T any] struct {
	*CompleteTree

	encoder *LeafEncoder
	codec   Codec[T]
	values  []Value[T]
}

// NewStandardTree builds a tree over values encoded with the given type
// tags. The result does not depend on the order of values.
func NewStandardTree[T any](values []T, encoding []string, codec Codec[T]) (*StandardTree[T], error) {
	encoder, err := NewLeafEncoder(encoding)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrEmptyTree
	}

	leaves, err := hashLeaves(values, encoder, codec)
	if err != nil {
		return nil, err
	}

	sorted := slices.Clone(leaves)
	slices.SortFunc(sorted, types.Hash.Cmp)

	tree, err := NewCompleteTree(sorted)
	if err != nil {
		return nil, err
	}

	records := make([]Value[T], len(values))
	for i, v := range values {
		idx, err := tree.Find(leaves[i])
		if err != nil {
			return nil, err
		}
		records[i] = Value[T]{Value: v, TreeIndex: idx}
	}

	return &StandardTree[T]{
		CompleteTree: tree,
		encoder:      encoder,
		codec:        codec,
		values:       records,
	}, nil
}

// hashLeaves returns the leaf of every value, in input order.
func hashLeaves[T any](values []T, encoder *LeafEncoder, codec Codec[T]) ([]types.Hash, error) {
	leaves := make([]types.Hash, len(values))
	hashOne := func(i int) error {
		leaf, err := encoder.Leaf(codec.Fields(values[i]))
		if err != nil {
			return fmt.Errorf("value %d: %w", i, err)
		}
		leaves[i] = leaf
		return nil
	}

	if len(values) < parallelLeafThreshold {
		for i := range values {
			if err := hashOne(i); err != nil {
				return nil, err
			}
		}
		return leaves, nil
	}

	workers := runtime.GOMAXPROCS(0)
	chunk := (len(values) + workers - 1) / workers
	var g errgroup.Group
	for start := 0; start < len(values); start += chunk {
		end := min(start+chunk, len(values))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := hashOne(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return leaves, nil
}

// Encoding returns the leaf encoding type tags.
func (t *StandardTree[T]) Encoding() []string {
	return t.encoder.Tags()
}

// Values returns the value records in input order.
func (t *StandardTree[T]) Values() []Value[T] {
	return slices.Clone(t.values)
}

// Leaf returns the leaf hash of v.
func (t *StandardTree[T]) Leaf(v T) (types.Hash, error) {
	return t.encoder.Leaf(t.codec.Fields(v))
}

// ProofFor returns the proof of a value of the tree.
func (t *StandardTree[T]) ProofFor(v T) ([]types.Hash, error) {
	leaf, err := t.Leaf(v)
	if err != nil {
		return nil, err
	}
	idx, err := t.Find(leaf)
	if err != nil {
		return nil, err
	}
	return t.Proof(idx)
}

// Dump returns the serializable form of the tree.
func (t *StandardTree[T]) Dump() (*Document, error) {
	doc := &Document{
		Format:       StandardFormat,
		LeafEncoding: t.Encoding(),
		Tree:         t.Nodes(),
		Values:       make([]DocumentValue, len(t.values)),
	}
	for i, v := range t.values {
		fields, err := t.encoder.EncodeJSON(t.codec.Fields(v.Value))
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		doc.Values[i] = DocumentValue{Value: fields, TreeIndex: v.TreeIndex}
	}
	return doc, nil
}

// LoadStandardTree rebuilds a tree from a document. The tree is recomputed
// from the values and the declared encoding; the serialized tree array is
// not consulted.
func LoadStandardTree[T any](doc *Document, codec Codec[T]) (*StandardTree[T], error) {
	if err := doc.check(); err != nil {
		return nil, err
	}
	encoder, err := NewLeafEncoder(doc.LeafEncoding)
	if err != nil {
		return nil, err
	}

	values := make([]T, len(doc.Values))
	for i, dv := range doc.Values {
		fields, err := encoder.DecodeJSON(dv.Value)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		v, err := codec.Value(fields)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		values[i] = v
	}
	return NewStandardTree(values, doc.LeafEncoding, codec)
}
