// Package curve25519dh is the Diffie-Hellman contract: X25519 key
// generation and agreement with low-order point rejection. It stands
// alone since the rest of this module needs raw DH independent of the
// ratchet's KDF wiring.
package curve25519dh

import (
	"crypto/subtle"
	"io"

	"github.com/arcanumlabs/ratchet/errkind"
	"golang.org/x/crypto/curve25519"
)

const (
	// PrivateKeySize is the size in bytes of an X25519 scalar.
	PrivateKeySize = curve25519.ScalarSize
	// PublicKeySize is the size in bytes of an X25519 point.
	PublicKeySize = curve25519.PointSize
)

// KeyPair is an ephemeral or long-term X25519 key pair.
type KeyPair struct {
	Private [PrivateKeySize]byte
	Public  [PublicKeySize]byte
}

// knownLowOrderPoints lists the small-order points on Curve25519's
// twist and curve that a malicious peer could offer as a public key to
// force a fixed, predictable shared secret. Signal's reference
// implementations reject these outright rather than relying solely on
// the all-zero-output check.
var knownLowOrderPoints = [][PublicKeySize]byte{
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	{0xe0, 0xeb, 0x7a, 0x7c, 0x3b, 0x41, 0xb8, 0xae, 0x16, 0x56, 0xe3, 0xfa, 0xf1, 0x9f, 0xc4, 0x6a, 0xda, 0x09, 0x8d, 0xeb, 0x9c, 0x32, 0xb1, 0xfd, 0x86, 0x62, 0x05, 0x16, 0x5f, 0x49, 0xb8, 0x00},
	{0x5f, 0x9c, 0x95, 0xbc, 0xa3, 0x50, 0x8c, 0x24, 0xb1, 0xd0, 0xb1, 0x55, 0x9c, 0x83, 0xef, 0x5b, 0x04, 0x44, 0x5c, 0xc4, 0x58, 0x1c, 0x8e, 0x86, 0xd8, 0x22, 0x4e, 0xdd, 0xd0, 0x9f, 0x11, 0x57},
}

func isLowOrder(pub [PublicKeySize]byte) bool {
	for _, p := range knownLowOrderPoints {
		if subtle.ConstantTimeCompare(pub[:], p[:]) == 1 {
			return true
		}
	}
	return false
}

func isAllZero(b []byte) bool {
	var acc byte
	for _, c := range b {
		acc |= c
	}
	return acc == 0
}

// Generate samples a fresh key pair using entropy from r.
func Generate(r io.Reader) (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(r, kp.Private[:]); err != nil {
		return KeyPair{}, errkind.Wrap(errkind.InvalidKey, "generate: short read", err)
	}
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, errkind.Wrap(errkind.InvalidKey, "generate: basepoint mult", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// DH computes the shared secret between priv and pub, rejecting
// low-order public keys and all-zero outputs.
func DH(priv [PrivateKeySize]byte, pub [PublicKeySize]byte) ([]byte, error) {
	if isLowOrder(pub) {
		return nil, errkind.New(errkind.InvalidKey, "low-order public key")
	}
	out, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidKey, "low-order public key", err)
	}
	if isAllZero(out) {
		return nil, errkind.New(errkind.InvalidKey, "low-order DH output")
	}
	return out, nil
}
