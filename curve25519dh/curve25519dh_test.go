package curve25519dh

import (
	"crypto/rand"
	"testing"

	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/stretchr/testify/require"
)

func TestDHAgreement(t *testing.T) {
	alice, err := Generate(rand.Reader)
	require.NoError(t, err)
	bob, err := Generate(rand.Reader)
	require.NoError(t, err)

	aliceShared, err := DH(alice.Private, bob.Public)
	require.NoError(t, err)
	bobShared, err := DH(bob.Private, alice.Public)
	require.NoError(t, err)

	require.Equal(t, aliceShared, bobShared)
}

// TestDHRejectsLowOrderPoints: every known low-order point must be
// rejected with InvalidKey rather than silently producing a fixed,
// predictable shared secret.
func TestDHRejectsLowOrderPoints(t *testing.T) {
	kp, err := Generate(rand.Reader)
	require.NoError(t, err)

	for _, pub := range knownLowOrderPoints {
		_, err := DH(kp.Private, pub)
		require.Error(t, err)
		kind, ok := errkind.Of(err)
		require.True(t, ok)
		require.Equal(t, errkind.InvalidKey, kind)
	}
}

func TestGenerateClampsScalar(t *testing.T) {
	kp, err := Generate(rand.Reader)
	require.NoError(t, err)
	require.Zero(t, kp.Private[0]&0x07)
	require.Zero(t, kp.Private[31]&0x80)
	require.NotZero(t, kp.Private[31]&0x40)
}
