package spqr

import (
	"testing"

	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/stretchr/testify/require"
)

func sharedSecret(b byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func TestChainDirectionsAgreeOnBootstrap(t *testing.T) {
	secret := sharedSecret(0x11)
	a, err := NewChain(A2B, secret)
	require.NoError(t, err)
	b, err := NewChain(B2A, secret)
	require.NoError(t, err)

	sendKey, err := a.SendKey(1)
	require.NoError(t, err)
	recvKey, err := b.RecvKey(1, 0)
	require.NoError(t, err)
	require.Equal(t, sendKey, recvKey, "A's send chain must match B's recv chain for epoch 1")
}

func TestSendKeyRejectsDecreasedEpoch(t *testing.T) {
	c, err := NewChain(A2B, sharedSecret(0x22))
	require.NoError(t, err)
	c.AdvanceSendEpoch(1)

	require.NoError(t, c.AddEpoch(2, sharedSecret(0x33)))
	c.AdvanceSendEpoch(2)

	_, err = c.SendKey(1)
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.EpochOutOfRange, kind)
}

func TestRecvKeyOutOfOrderThenReplay(t *testing.T) {
	c, err := NewChain(B2A, sharedSecret(0x44))
	require.NoError(t, err)

	k2, err := c.RecvKey(1, 2)
	require.NoError(t, err)
	k0, err := c.RecvKey(1, 0)
	require.NoError(t, err)
	k1, err := c.RecvKey(1, 1)
	require.NoError(t, err)
	require.NotEqual(t, k0, k1)
	require.NotEqual(t, k1, k2)

	// Replaying an already-consumed out-of-order index must fail.
	_, err = c.RecvKey(1, 0)
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.KeyAlreadyRequested, kind)
}

func TestRecvKeyRejectsExcessiveJump(t *testing.T) {
	c, err := NewChain(A2B, sharedSecret(0x55))
	require.NoError(t, err)

	_, err = c.RecvKey(1, MaxJump+1)
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.KeyJump, kind)
}

func TestAddEpochRequiresExactSuccessor(t *testing.T) {
	c, err := NewChain(A2B, sharedSecret(0x66))
	require.NoError(t, err)

	err = c.AddEpoch(3, sharedSecret(0x77))
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.EpochOutOfRange, kind)

	require.NoError(t, c.AddEpoch(2, sharedSecret(0x77)))
	require.Equal(t, uint64(2), c.CurrentEpoch())
}

func TestChainCloneDoesNotAliasCommittedState(t *testing.T) {
	c, err := NewChain(A2B, sharedSecret(0x88))
	require.NoError(t, err)
	clone := c.Clone()

	_, err = clone.RecvKey(1, 5)
	require.NoError(t, err)
	require.NoError(t, clone.AddEpoch(2, sharedSecret(0x99)))

	require.Equal(t, uint64(1), c.CurrentEpoch(), "mutating the clone must not affect the original")
	require.Equal(t, uint64(2), clone.CurrentEpoch())
}
