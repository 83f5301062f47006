package prekey

import (
	"crypto/ed25519"
	"testing"

	"github.com/arcanumlabs/ratchet/curve25519dh"
	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/arcanumlabs/ratchet/identity"
	"github.com/arcanumlabs/ratchet/pqkem"
	"github.com/stretchr/testify/require"
)

// ownerIdentity mints an Ed25519 key pair and wraps its public half as
// an identity.Key, exactly the "one identity key signs and DHs" shape
// prekey.Validate assumes.
func ownerIdentity(t *testing.T) (identity.Key, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var arr [32]byte
	copy(arr[:], pub)
	return identity.FromPublic(arr), priv
}

func TestBundleValidateAcceptsWellSignedKeys(t *testing.T) {
	owner, priv := ownerIdentity(t)

	var spkPub [curve25519dh.PublicKeySize]byte
	for i := range spkPub {
		spkPub[i] = byte(i + 1)
	}
	spkSig := ed25519.Sign(priv, spkPub[:])

	kyberPub, _, err := pqkem.GenerateKeyPair()
	require.NoError(t, err)
	kyberEncoded, err := kyberPub.Marshal()
	require.NoError(t, err)
	kyberTagged := append([]byte{kyberType}, kyberEncoded...)
	kyberSig := ed25519.Sign(priv, kyberTagged)

	bundle := Bundle{
		RegistrationID:        7,
		IdentityKey:           owner,
		SignedPreKeyID:        1,
		SignedPreKeyPublic:    spkPub,
		SignedPreKeySignature: spkSig,
		HasKyberPreKey:        true,
		KyberPreKeyID:         2,
		KyberPreKeyPublic:     kyberPub,
		KyberPreKeySignature:  kyberSig,
	}
	require.NoError(t, bundle.Validate())
}

func TestBundleValidateRejectsTamperedSignedPreKey(t *testing.T) {
	owner, priv := ownerIdentity(t)

	var spkPub [curve25519dh.PublicKeySize]byte
	for i := range spkPub {
		spkPub[i] = byte(i + 1)
	}
	spkSig := ed25519.Sign(priv, spkPub[:])
	spkPub[0] ^= 0xFF // tamper after signing

	bundle := Bundle{
		IdentityKey:           owner,
		SignedPreKeyPublic:    spkPub,
		SignedPreKeySignature: spkSig,
	}
	err := bundle.Validate()
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.InvalidKey, kind)
}

func TestBundleValidateRejectsMissingKyberSignature(t *testing.T) {
	owner, priv := ownerIdentity(t)

	var spkPub [curve25519dh.PublicKeySize]byte
	spkSig := ed25519.Sign(priv, spkPub[:])

	kyberPub, _, err := pqkem.GenerateKeyPair()
	require.NoError(t, err)

	bundle := Bundle{
		IdentityKey:           owner,
		SignedPreKeyPublic:    spkPub,
		SignedPreKeySignature: spkSig,
		HasKyberPreKey:        true,
		KyberPreKeyPublic:     kyberPub,
		KyberPreKeySignature:  []byte("not a signature"),
	}
	err = bundle.Validate()
	require.Error(t, err)
}
