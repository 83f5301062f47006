// Package prekey models the pre-key records and bundles:
// PreKeyRecord, SignedPreKeyRecord, KyberPreKeyRecord, and the
// PreKeyBundle an initiator consumes to start a session.
package prekey

import (
	"crypto/ed25519"

	"github.com/arcanumlabs/ratchet/curve25519dh"
	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/arcanumlabs/ratchet/identity"
	"github.com/arcanumlabs/ratchet/pqkem"
)

// verifyEd25519 checks sig over msg under a 32-byte Ed25519 public
// key. Identity keys in this module default to Ed25519 for signing
// pre-keys; the same 32 bytes double as the Curve25519 DH public key,
// matching how Signal's reference clients reuse one identity key for
// both signing and agreement.
func verifyEd25519(pub, msg, sig []byte) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, errkind.Newf(errkind.InvalidKey, "identity key: wrong length for verification %d", len(pub))
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig), nil
}

// kyberType is the leading type-tag byte for a serialized ML-KEM
// public key
const kyberType = 0x08

// ID names a pre-key within a store.
type ID uint32

// Record is a one-time X25519 pre-key. It is removed from its store on
// first successful consumption.
type Record struct {
	ID      ID
	KeyPair curve25519dh.KeyPair
}

// SignedRecord is a medium-lived X25519 pre-key signed by the owner's
// identity key. It is rotated on a policy clock, not consumed.
type SignedRecord struct {
	ID        ID
	KeyPair   curve25519dh.KeyPair
	Signature []byte
	Timestamp int64 // unix millis
}

// Verify checks the signature over the signed pre-key's public half
// under the given identity key.
func (s SignedRecord) Verify(owner identity.Key) error {
	pub := owner.Bytes()
	ok, err := verifyEd25519(pub[:], s.KeyPair.Public[:], s.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return errkind.New(errkind.InvalidKey, "signed pre-key: bad signature")
	}
	return nil
}

// KyberRecord is a one-time ML-KEM pre-key. Like Record, it is removed
// from its store on first consumption; unlike Record, its serialized
// form is prefixed by kyberType.
type KyberRecord struct {
	ID        ID
	Public    pqkem.PublicKey
	Private   pqkem.PrivateKey
	Signature []byte
	Timestamp int64
}

// Verify checks the signature over the kyber pre-key's encoded public
// key under the given identity key.
func (k KyberRecord) Verify(owner identity.Key) error {
	pub := owner.Bytes()
	encoded, err := k.Public.Marshal()
	if err != nil {
		return errkind.Wrap(errkind.InvalidKey, "kyber pre-key: marshal", err)
	}
	tagged := append([]byte{kyberType}, encoded...)
	ok, err := verifyEd25519(pub[:], tagged, k.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return errkind.New(errkind.InvalidKey, "kyber pre-key: bad signature")
	}
	return nil
}

// Bundle is the ephemeral, once-consumed set of keys an initiator
// fetches to start a session.
type Bundle struct {
	RegistrationID uint32
	DeviceID       uint32
	IdentityKey    identity.Key

	// PreKeyID/PreKeyPublic describe the optional one-time X25519
	// pre-key.
	HasPreKey    bool
	PreKeyID     ID
	PreKeyPublic [curve25519dh.PublicKeySize]byte

	SignedPreKeyID        ID
	SignedPreKeyPublic    [curve25519dh.PublicKeySize]byte
	SignedPreKeySignature []byte

	// HasKyberPreKey, KyberPreKeyID/KyberPreKeyPublic/
	// KyberPreKeySignature describe the optional ML-KEM pre-key; the
	// ID and public key must be present together.
	HasKyberPreKey       bool
	KyberPreKeyID        ID
	KyberPreKeyPublic    pqkem.PublicKey
	KyberPreKeySignature []byte
}

// Validate checks the bundle's signatures: the signed pre-key
// signature must verify, and when HasKyberPreKey is set the kyber
// pre-key signature must verify over the kyberType-tagged public key.
// It does not check separately that a kyber id and public key were
// supplied; HasKyberPreKey alone marks them as present.
func (b Bundle) Validate() error {
	signed := SignedRecord{
		ID: b.SignedPreKeyID,
		KeyPair: curve25519dh.KeyPair{
			Public: b.SignedPreKeyPublic,
		},
		Signature: b.SignedPreKeySignature,
	}
	if err := signed.Verify(b.IdentityKey); err != nil {
		return err
	}
	if b.HasKyberPreKey {
		kr := KyberRecord{
			ID:        b.KyberPreKeyID,
			Public:    b.KyberPreKeyPublic,
			Signature: b.KyberPreKeySignature,
		}
		if err := kr.Verify(b.IdentityKey); err != nil {
			return err
		}
	}
	return nil
}
