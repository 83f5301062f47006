package session

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/arcanumlabs/ratchet/curve25519dh"
	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/arcanumlabs/ratchet/identity"
	"github.com/arcanumlabs/ratchet/kdf"
	"github.com/arcanumlabs/ratchet/protocol"
	"github.com/stretchr/testify/require"
)

// pairedRecords builds two Records in exactly the post-handshake shape
// InitFromBundle/ProcessPreKeyMessage leave behind (a shared root key,
// and bob's signed-prekey keypair installed as both alice's first
// receiver chain and bob's own sender chain) — standing in for the
// X3DH handshake so these tests exercise the ratchet/cipher machinery
// directly without needing a signed pre-key bundle.
func pairedRecords(t *testing.T) (alice *Record, bob *Record) {
	t.Helper()

	aliceIdentity, err := identity.Generate()
	require.NoError(t, err)
	bobIdentity, err := identity.Generate()
	require.NoError(t, err)

	var rootKey0 kdf.RootKey
	for i := range rootKey0 {
		rootKey0[i] = 0x24
	}
	var x3dhChainKey kdf.ChainKey
	for i := range x3dhChainKey.Key {
		x3dhChainKey.Key[i] = 0x42
	}

	bobSigned, err := curve25519dh.Generate(rand.Reader)
	require.NoError(t, err)

	aliceRatchet, err := curve25519dh.Generate(rand.Reader)
	require.NoError(t, err)
	dh, err := curve25519dh.DH(aliceRatchet.Private, bobSigned.Public)
	require.NoError(t, err)
	rootKey1, aliceSendChainKey := rootKey0.Step(dh)

	alice = NewRecord()
	alice.Current.Version = CurrentVersion
	alice.Current.LocalIdentity = aliceIdentity.Public
	alice.Current.RemoteIdentity = bobIdentity.Public
	alice.Current.RootKey = rootKey1
	alice.Current.addReceiverChain(ReceiverChain{SenderRatchetPublic: bobSigned.Public, ChainKey: x3dhChainKey})
	alice.Current.Sender = SenderChain{RatchetKeyPair: aliceRatchet, ChainKey: aliceSendChainKey}
	alice.Current.HasSenderChain = true

	bob = NewRecord()
	bob.Current.Version = CurrentVersion
	bob.Current.LocalIdentity = bobIdentity.Public
	bob.Current.RemoteIdentity = aliceIdentity.Public
	bob.Current.RootKey = rootKey0
	bob.Current.Sender = SenderChain{RatchetKeyPair: bobSigned, ChainKey: x3dhChainKey}
	bob.Current.HasSenderChain = true

	return alice, bob
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice, bob := pairedRecords(t)
	now := time.Now()

	env, err := alice.Encrypt([]byte("hello bob"), now)
	require.NoError(t, err)

	plaintext, err := bob.Decrypt(env, identity.KeyPair{}, 0, now, failResolve(t))
	require.NoError(t, err)
	require.Equal(t, "hello bob", string(plaintext))
}

// TestReplayIsRejected: resending the exact same envelope a second
// time must raise DuplicateMessage, not decrypt silently.
func TestReplayIsRejected(t *testing.T) {
	alice, bob := pairedRecords(t)
	now := time.Now()

	env, err := alice.Encrypt([]byte("once only"), now)
	require.NoError(t, err)

	_, err = bob.Decrypt(env, identity.KeyPair{}, 0, now, failResolve(t))
	require.NoError(t, err)

	_, err = bob.Decrypt(env, identity.KeyPair{}, 0, now, failResolve(t))
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.DuplicateMessage, kind)
}

// TestOutOfOrderDeliveryThenReplay: a message delivered after a later
// one still decrypts from the skipped-key cache, but only once.
func TestOutOfOrderDeliveryThenReplay(t *testing.T) {
	alice, bob := pairedRecords(t)
	now := time.Now()

	env1, err := alice.Encrypt([]byte("first"), now)
	require.NoError(t, err)
	env2, err := alice.Encrypt([]byte("second"), now)
	require.NoError(t, err)

	pt2, err := bob.Decrypt(env2, identity.KeyPair{}, 0, now, failResolve(t))
	require.NoError(t, err)
	require.Equal(t, "second", string(pt2))

	pt1, err := bob.Decrypt(env1, identity.KeyPair{}, 0, now, failResolve(t))
	require.NoError(t, err)
	require.Equal(t, "first", string(pt1))

	_, err = bob.Decrypt(env1, identity.KeyPair{}, 0, now, failResolve(t))
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.DuplicateMessage, kind)
}

// TestReplayAcrossRatchetBoundary replays an old envelope after both
// sides have ratcheted past it. The archived states must not be able
// to re-derive the consumed key: the current state answers
// DuplicateMessage and the search stops there.
func TestReplayAcrossRatchetBoundary(t *testing.T) {
	alice, bob := pairedRecords(t)
	now := time.Now()

	env1, err := alice.Encrypt([]byte("first"), now)
	require.NoError(t, err)
	_, err = bob.Decrypt(env1, identity.KeyPair{}, 0, now, failResolve(t))
	require.NoError(t, err)

	reply, err := bob.Encrypt([]byte("reply"), now)
	require.NoError(t, err)
	_, err = alice.Decrypt(reply, identity.KeyPair{}, 0, now, failResolve(t))
	require.NoError(t, err)

	env2, err := alice.Encrypt([]byte("second"), now)
	require.NoError(t, err)
	_, err = bob.Decrypt(env2, identity.KeyPair{}, 0, now, failResolve(t))
	require.NoError(t, err)

	_, err = bob.Decrypt(env1, identity.KeyPair{}, 0, now, failResolve(t))
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.DuplicateMessage, kind)
}

func TestMultiStepRatchetBothDirections(t *testing.T) {
	alice, bob := pairedRecords(t)
	now := time.Now()

	env, err := alice.Encrypt([]byte("alice -> bob"), now)
	require.NoError(t, err)
	_, err = bob.Decrypt(env, identity.KeyPair{}, 0, now, failResolve(t))
	require.NoError(t, err)

	env2, err := bob.Encrypt([]byte("bob -> alice"), now)
	require.NoError(t, err)
	plaintext, err := alice.Decrypt(env2, identity.KeyPair{}, 0, now, failResolve(t))
	require.NoError(t, err)
	require.Equal(t, "bob -> alice", string(plaintext))
}

func failResolve(t *testing.T) PreKeyResolveFunc {
	t.Helper()
	return func(msg protocol.PreKeySignalMessage) (IncomingPreKeyParams, error) {
		t.Fatal("pre-key resolution should not be needed for an established session")
		return IncomingPreKeyParams{}, nil
	}
}
