package merkle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/lidofinance/csm-rewards/core/types"
)

// leafType normalizes Go and JSON values of one ABI type. canon turns an
// input into the canonical value kept in memory and written to documents;
// pack turns a canonical value into the Go type the ABI packer expects.
type leafType struct {
	canon func(v any) (any, error)
	pack  func(v any) any
}

// leafTypes is the closed set of supported encoding tags. Anything else is
// rejected when a tree or document is built.
var leafTypes = map[string]leafType{
	"uint8":   uintType(8),
	"uint16":  uintType(16),
	"uint32":  uintType(32),
	"uint64":  uintType(64),
	"uint128": uintType(128),
	"uint256": uintType(256),
	"int256":  {canon: intCanon(256, true), pack: identity},
	"address": {canon: addressCanon, pack: identity},
	"bool":    {canon: boolCanon, pack: identity},
	"bytes32": {canon: bytes32Canon, pack: func(v any) any { return [32]byte(v.(types.Hash)) }},
	"bytes":   {canon: bytesCanon, pack: func(v any) any { return []byte(v.(hexutil.Bytes)) }},
	"string":  {canon: stringCanon, pack: identity},
}

// LeafEncoder encodes value tuples the way Solidity's abi.encode does.
type LeafEncoder struct {
	tags  []string
	types []leafType
	args  abi.Arguments
}

// NewLeafEncoder returns an encoder for the given type tags.
func NewLeafEncoder(tags []string) (*LeafEncoder, error) {
	if len(tags) == 0 {
		return nil, ErrSchemaMissing
	}
	e := &LeafEncoder{
		tags:  append([]string(nil), tags...),
		types: make([]leafType, len(tags)),
		args:  make(abi.Arguments, len(tags)),
	}
	for i, tag := range tags {
		lt, ok := leafTypes[tag]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
		}
		typ, err := abi.NewType(tag, "", nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrUnknownType, tag, err)
		}
		e.types[i] = lt
		e.args[i] = abi.Argument{Type: typ}
	}
	return e, nil
}

// Tags returns the type tags of the encoder.
func (e *LeafEncoder) Tags() []string {
	return append([]string(nil), e.tags...)
}

// Canonical checks fields against the encoding and returns their canonical
// representation.
func (e *LeafEncoder) Canonical(fields []any) ([]any, error) {
	if len(fields) != len(e.types) {
		return nil, fmt.Errorf("%w: got %d fields, encoding has %d", ErrInvalidValue, len(fields), len(e.types))
	}
	out := make([]any, len(fields))
	for i, f := range fields {
		v, err := e.types[i].canon(f)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d (%s): %v", ErrInvalidValue, i, e.tags[i], err)
		}
		out[i] = v
	}
	return out, nil
}

// Encode returns abi.encode(tags, fields).
func (e *LeafEncoder) Encode(fields []any) ([]byte, error) {
	canon, err := e.Canonical(fields)
	if err != nil {
		return nil, err
	}
	packed := make([]any, len(canon))
	for i, v := range canon {
		packed[i] = e.types[i].pack(v)
	}
	out, err := e.args.Pack(packed...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return out, nil
}

// Leaf returns the double-hashed leaf of fields.
func (e *LeafEncoder) Leaf(fields []any) (types.Hash, error) {
	enc, err := e.Encode(fields)
	if err != nil {
		return types.Hash{}, err
	}
	return HashLeaf(enc), nil
}

// DecodeJSON parses the JSON fields of a document value.
func (e *LeafEncoder) DecodeJSON(raw []json.RawMessage) ([]any, error) {
	fields := make([]any, len(raw))
	for i, r := range raw {
		dec := json.NewDecoder(bytes.NewReader(r))
		dec.UseNumber()
		if err := dec.Decode(&fields[i]); err != nil {
			return nil, fmt.Errorf("%w: field %d: %v", ErrInvalidValue, i, err)
		}
	}
	return e.Canonical(fields)
}

// EncodeJSON renders canonical fields for a document.
func (e *LeafEncoder) EncodeJSON(fields []any) ([]json.RawMessage, error) {
	canon, err := e.Canonical(fields)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(canon))
	for i, v := range canon {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func identity(v any) any { return v }

func uintType(bits int) leafType {
	lt := leafType{canon: intCanon(bits, false), pack: identity}
	switch bits {
	case 8:
		lt.pack = func(v any) any { return uint8(v.(*big.Int).Uint64()) }
	case 16:
		lt.pack = func(v any) any { return uint16(v.(*big.Int).Uint64()) }
	case 32:
		lt.pack = func(v any) any { return uint32(v.(*big.Int).Uint64()) }
	case 64:
		lt.pack = func(v any) any { return v.(*big.Int).Uint64() }
	}
	return lt
}

func intCanon(bits int, signed bool) func(any) (any, error) {
	return func(v any) (any, error) {
		n, err := toBig(v)
		if err != nil {
			return nil, err
		}
		if signed {
			limit := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
			if n.Cmp(limit) >= 0 || n.Cmp(new(big.Int).Neg(limit)) < 0 {
				return nil, fmt.Errorf("%s out of int%d range", n, bits)
			}
			return n, nil
		}
		if n.Sign() < 0 || n.BitLen() > bits {
			return nil, fmt.Errorf("%s out of uint%d range", n, bits)
		}
		return n, nil
	}
}

func toBig(v any) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(x), nil
	case *uint256.Int:
		if x == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return x.ToBig(), nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint:
		return new(big.Int).SetUint64(uint64(x)), nil
	case int64:
		return big.NewInt(x), nil
	case int:
		return big.NewInt(int64(x)), nil
	case json.Number:
		n, ok := new(big.Int).SetString(x.String(), 10)
		if !ok {
			return nil, fmt.Errorf("not an integer: %s", x)
		}
		return n, nil
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(x), 0)
		if !ok {
			return nil, fmt.Errorf("not an integer: %q", x)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported integer type %T", v)
	}
}

func addressCanon(v any) (any, error) {
	switch x := v.(type) {
	case common.Address:
		return x, nil
	case [common.AddressLength]byte:
		return common.Address(x), nil
	case string:
		if !common.IsHexAddress(x) {
			return nil, fmt.Errorf("not an address: %q", x)
		}
		return common.HexToAddress(x), nil
	default:
		return nil, fmt.Errorf("unsupported address type %T", v)
	}
}

func boolCanon(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("unsupported bool type %T", v)
	}
	return b, nil
}

func bytes32Canon(v any) (any, error) {
	switch x := v.(type) {
	case types.Hash:
		return x, nil
	case common.Hash:
		return types.Hash(x), nil
	case [32]byte:
		return types.Hash(x), nil
	case string:
		return types.ParseHash(x)
	default:
		return nil, fmt.Errorf("unsupported bytes32 type %T", v)
	}
}

func bytesCanon(v any) (any, error) {
	switch x := v.(type) {
	case hexutil.Bytes:
		return append(hexutil.Bytes(nil), x...), nil
	case []byte:
		return append(hexutil.Bytes(nil), x...), nil
	case string:
		b, err := hexutil.Decode(x)
		if err != nil {
			return nil, err
		}
		return hexutil.Bytes(b), nil
	default:
		return nil, fmt.Errorf("unsupported bytes type %T", v)
	}
}

func stringCanon(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("unsupported string type %T", v)
	}
	return s, nil
}
