package kdf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDeriveMessageKeysDeterministic: a chain-key seed of 0xAB
// repeated 32 times at counter 42 must always expand to the same
// cipher key, mac key, and IV.
func TestDeriveMessageKeysDeterministic(t *testing.T) {
	var seed [32]byte
	for i := range seed {
		seed[i] = 0xAB
	}

	mk1 := DeriveMessageKeys(seed, 42)
	mk2 := DeriveMessageKeys(seed, 42)

	require.Equal(t, mk1, mk2)
	require.Equal(t, uint32(42), mk1.Counter)
	require.False(t, bytes.Equal(mk1.CipherKey[:], mk1.MacKey[:]), "cipher and mac keys must differ")
}

func TestChainKeyAdvanceIsOneWay(t *testing.T) {
	ck := ChainKey{Index: 0}
	for i := range ck.Key {
		ck.Key[i] = byte(i)
	}

	next, seed := ck.Advance()
	require.Equal(t, uint32(1), next.Index)
	require.NotEqual(t, ck.Key, next.Key)
	require.NotEqual(t, ck.Key[:], seed[:])

	again, seedAgain := ck.Advance()
	require.Equal(t, next, again)
	require.Equal(t, seed, seedAgain, "advancing the same chain key must be deterministic")
}

func TestRootKeyStepProducesFreshChain(t *testing.T) {
	var rk RootKey
	for i := range rk {
		rk[i] = 0x42
	}
	dh := bytes.Repeat([]byte{0x07}, 32)

	nextRK, ck := rk.Step(dh)
	require.NotEqual(t, rk, nextRK)
	require.Equal(t, uint32(0), ck.Index)

	nextRK2, ck2 := rk.Step(dh)
	require.Equal(t, nextRK, nextRK2, "Step must be deterministic given the same inputs")
	require.Equal(t, ck, ck2)
}
