package crypto

import (
	"encoding/hex"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidofinance/csm-rewards/core/types"
)

func TestKeccak256EmptyString(t *testing.T) {
	got := hex.EncodeToString(Keccak256([]byte{}))
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", got)
}

func TestKeccak256Hello(t *testing.T) {
	got := hex.EncodeToString(Keccak256([]byte("hello")))
	assert.Equal(t, "1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8", got)
}

func TestKeccak256MultipleInputs(t *testing.T) {
	assert.Equal(t, Keccak256([]byte("helloworld")), Keccak256([]byte("hello"), []byte("world")))
}

func TestKeccak256HashReturnsCorrectType(t *testing.T) {
	want, err := types.ParseHash("0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")
	require.NoError(t, err)
	assert.Equal(t, want, Keccak256Hash())
}

func TestKeccak256Concurrent(t *testing.T) {
	want := Keccak256Hash([]byte("concurrent"))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if Keccak256Hash([]byte("concurrent")) != want {
					t.Error("hash mismatch under concurrency")
					return
				}
			}
		}()
	}
	wg.Wait()
}
