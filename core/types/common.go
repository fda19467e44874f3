// Package types defines the value types shared by the reward tree packages.
package types

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HashLength is the size of a Keccak-256 digest.
const HashLength = 32

// Hash represents the 32-byte Keccak256 hash of data.
type Hash [HashLength]byte

// BytesToHash converts bytes to Hash, left-padding if shorter than 32 bytes.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash converts a hex string to Hash. Malformed input yields the zero
// hash; use ParseHash when the input is untrusted.
func HexToHash(s string) Hash {
	h, _ := ParseHash(s)
	return h
}

// ParseHash decodes a 0x-prefixed hex string holding exactly 32 bytes.
func ParseHash(s string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

// Bytes returns the byte representation of the hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the 0x-prefixed lowercase hex representation of the hash.
func (h Hash) Hex() string { return hexutil.Encode(h[:]) }

// SetBytes sets the hash from a byte slice, left-padding if necessary.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// IsZero returns whether the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Cmp compares two hashes by their byte value.
func (h Hash) Cmp(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// MarshalText encodes the hash as 0x-prefixed hex.
func (h Hash) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h[:]).MarshalText()
}

// UnmarshalText decodes 0x-prefixed hex holding exactly 32 bytes.
func (h *Hash) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("Hash", input, h[:])
}
