// Package identity models IdentityKey and IdentityKeyPair:
// the long-term Curve25519 identity used to sign pre-keys and to trust
// a peer across sessions.
package identity

import (
	"bytes"
	"crypto/rand"

	"github.com/arcanumlabs/ratchet/curve25519dh"
	"github.com/arcanumlabs/ratchet/errkind"
)

// djbType is the leading type-tag byte that marks a serialized public
// key as a Curve25519 ("DJB") key.
const djbType = 0x05

// Key is a 32-byte Curve25519 public identity key. Equality is by
// bytes; once created it is never mutated.
type Key struct {
	pub [curve25519dh.PublicKeySize]byte
}

// FromPublic wraps a raw 32-byte X25519 public key as an identity Key.
func FromPublic(pub [curve25519dh.PublicKeySize]byte) Key {
	return Key{pub: pub}
}

// Bytes returns the raw 32-byte public key.
func (k Key) Bytes() [curve25519dh.PublicKeySize]byte { return k.pub }

// Serialize returns the 33-byte DJB-prefixed wire form: 0x05 || pub.
func (k Key) Serialize() []byte {
	out := make([]byte, 1+curve25519dh.PublicKeySize)
	out[0] = djbType
	copy(out[1:], k.pub[:])
	return out
}

// Parse decodes a 33-byte DJB-prefixed identity key.
func Parse(b []byte) (Key, error) {
	if len(b) != 1+curve25519dh.PublicKeySize {
		return Key{}, errkind.Newf(errkind.InvalidKey, "identity key: wrong length %d", len(b))
	}
	if b[0] != djbType {
		return Key{}, errkind.Newf(errkind.InvalidKey, "identity key: unrecognized type tag 0x%02x", b[0])
	}
	var k Key
	copy(k.pub[:], b[1:])
	return k, nil
}

// Equal reports whether two identity keys are byte-identical.
func (k Key) Equal(other Key) bool {
	return bytes.Equal(k.pub[:], other.pub[:])
}

// MarshalBinary implements encoding.BinaryMarshaler over the same
// 33-byte DJB-prefixed form as Serialize, so Key can be persisted by
// generic codecs (gob, redis) without exposing its unexported field.
func (k Key) MarshalBinary() ([]byte, error) {
	return k.Serialize(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (k *Key) UnmarshalBinary(b []byte) error {
	parsed, err := Parse(b)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// KeyPair is an identity key plus its private scalar. The private
// half never leaves the trust boundary that created it (it is not
// serialized by this package).
type KeyPair struct {
	Public  Key
	private [curve25519dh.PrivateKeySize]byte
}

// Generate creates a fresh identity key pair.
func Generate() (KeyPair, error) {
	kp, err := curve25519dh.Generate(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: FromPublic(kp.Public), private: kp.Private}, nil
}

// Private returns the 32-byte private scalar for use in a DH
// agreement. Callers must not retain or log this value.
func (kp KeyPair) Private() [curve25519dh.PrivateKeySize]byte { return kp.private }
