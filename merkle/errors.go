package merkle

import "errors"

// Tree construction and lookup errors.
var (
	ErrEmptyTree    = errors.New("merkle: attempt to create an empty tree")
	ErrLeafNotFound = errors.New("merkle: leaf not found")
	ErrInvalidIndex = errors.New("merkle: index is not a leaf of the tree")
)

// Leaf encoding errors.
var (
	ErrUnknownType  = errors.New("merkle: unknown leaf encoding type")
	ErrInvalidValue = errors.New("merkle: invalid value for leaf encoding")
)

// Document errors.
var (
	ErrFormat        = errors.New("merkle: unexpected dump format value")
	ErrSchemaMissing = errors.New("merkle: no leaf encoding provided")
	ErrValuesMissing = errors.New("merkle: no values provided")
)
