// Package crypto provides the Keccak-256 primitives used by the reward tree.
package crypto

import (
	"hash"
	"sync"

	"github.com/lidofinance/csm-rewards/core/types"
	"golang.org/x/crypto/sha3"
)

var hasherPool = sync.Pool{
	New: func() any { return sha3.NewLegacyKeccak256() },
}

// Keccak256 calculates the Keccak-256 hash of the given data.
func Keccak256(data ...[]byte) []byte {
	h := Keccak256Hash(data...)
	return h[:]
}

// Keccak256Hash calculates Keccak-256 and returns it as a types.Hash.
func Keccak256Hash(data ...[]byte) types.Hash {
	d := hasherPool.Get().(hash.Hash)
	defer hasherPool.Put(d)
	d.Reset()
	for _, b := range data {
		d.Write(b)
	}
	var out types.Hash
	d.Sum(out[:0])
	return out
}
