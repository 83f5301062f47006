// Package pqkem is the ML-KEM contract used by kyber pre-keys and by
// the SPQR chunked KEM state machine.
//
// It wraps github.com/cloudflare/circl's ML-KEM-768 implementation,
// presenting the three operations the rest of the module needs:
// key-gen, encapsulate, decapsulate.
package pqkem

import (
	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

const (
	// PublicKeySize is the encoded ML-KEM-768 public key length.
	PublicKeySize = mlkem768.PublicKeySize
	// PrivateKeySize is the encoded ML-KEM-768 decapsulation key
	// length.
	PrivateKeySize = mlkem768.PrivateKeySize
	// CiphertextSize is the encapsulated ciphertext length.
	CiphertextSize = mlkem768.CiphertextSize
	// SharedKeySize is the length of the derived shared secret.
	SharedKeySize = mlkem768.SharedKeySize
)

// scheme is the circl kem.Scheme backing this package; obtained once
// so every call goes through the same generic Scheme interface circl
// uses across its HPKE and KEM packages.
var scheme = mlkem768.Scheme()

// PublicKey is an encapsulation key.
type PublicKey struct{ inner kem.PublicKey }

// PrivateKey is a decapsulation key.
type PrivateKey struct{ inner kem.PrivateKey }

// GenerateKeyPair samples a fresh ML-KEM-768 key pair.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	pub, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		return PublicKey{}, PrivateKey{}, errkind.Wrap(errkind.InvalidKey, "mlkem keygen", err)
	}
	return PublicKey{pub}, PrivateKey{priv}, nil
}

// Marshal encodes pub to its wire form.
func (pub PublicKey) Marshal() ([]byte, error) {
	return pub.inner.MarshalBinary()
}

// MarshalBinary implements encoding.BinaryMarshaler, the same wire
// form as Marshal, so PublicKey can be persisted by generic codecs
// (gob, redis) despite its unexported circl kem.PublicKey field.
func (pub PublicKey) MarshalBinary() ([]byte, error) {
	return pub.Marshal()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (pub *PublicKey) UnmarshalBinary(b []byte) error {
	parsed, err := ParsePublicKey(b)
	if err != nil {
		return err
	}
	*pub = parsed
	return nil
}

// ParsePublicKey decodes a wire-form ML-KEM-768 public key.
func ParsePublicKey(b []byte) (PublicKey, error) {
	pub, err := scheme.UnmarshalBinaryPublicKey(b)
	if err != nil {
		return PublicKey{}, errkind.Wrap(errkind.InvalidKey, "parse mlkem public key", err)
	}
	return PublicKey{pub}, nil
}

// Marshal encodes priv to its wire form.
func (priv PrivateKey) Marshal() ([]byte, error) {
	return priv.inner.MarshalBinary()
}

// MarshalBinary implements encoding.BinaryMarshaler, mirroring
// PublicKey.MarshalBinary.
func (priv PrivateKey) MarshalBinary() ([]byte, error) {
	return priv.Marshal()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (priv *PrivateKey) UnmarshalBinary(b []byte) error {
	parsed, err := ParsePrivateKey(b)
	if err != nil {
		return err
	}
	*priv = parsed
	return nil
}

// ParsePrivateKey decodes a wire-form ML-KEM-768 decapsulation key.
func ParsePrivateKey(b []byte) (PrivateKey, error) {
	priv, err := scheme.UnmarshalBinaryPrivateKey(b)
	if err != nil {
		return PrivateKey{}, errkind.Wrap(errkind.InvalidKey, "parse mlkem private key", err)
	}
	return PrivateKey{priv}, nil
}

// Encapsulate generates a ciphertext and shared secret against pub.
func Encapsulate(pub PublicKey) (ciphertext, sharedSecret []byte, err error) {
	ct, ss, err := scheme.Encapsulate(pub.inner)
	if err != nil {
		return nil, nil, errkind.Wrap(errkind.InvalidKey, "mlkem encapsulate", err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret from ciphertext using priv.
func Decapsulate(priv PrivateKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != CiphertextSize {
		return nil, errkind.New(errkind.InvalidMessage, "mlkem: wrong ciphertext length")
	}
	ss, err := scheme.Decapsulate(priv.inner, ciphertext)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidKey, "mlkem decapsulate", err)
	}
	return ss, nil
}
