// Package signing models signature schemes as a tagged sum: a single
// key type whose backing material varies by scheme, rather than a
// struct with one maybe-nil field per scheme.
//
// Four schemes are backed by real implementations: Ed25519 from the
// standard library, secp256k1 ECDSA and Schnorr from
// github.com/decred/dcrd/dcrec/secp256k1/v4, and ML-DSA-65 from
// github.com/cloudflare/circl. SR25519 is modeled as a recognized,
// inert tag until a vetted Go implementation exists.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"

	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Scheme tags which backing key material a PrivateKey/PublicKey holds.
//
// The discriminator byte values below correspond to the CBOR tag-40021
// sum-type encoding: a single leading byte naming the scheme, followed
// by the raw key bytes. CBOR encode/decode itself is
// out of this module's scope; only the discriminator contract is kept.
type Scheme byte

const (
	SchemeEd25519 Scheme = iota + 1
	SchemeSecp256k1ECDSA
	SchemeSecp256k1Schnorr
	SchemeMLDSA65
	SchemeSR25519
)

// ErrUnsupportedScheme is returned by Sign/Verify for a recognized but
// unimplemented scheme (currently only SchemeSR25519).
var ErrUnsupportedScheme = errkind.New(errkind.InvalidKey, "unsupported signature scheme")

// PrivateKey is a tagged sum over the signing schemes this module
// supports. Exactly one of the unexported fields is populated,
// selected by Scheme.
type PrivateKey struct {
	scheme  Scheme
	ed      ed25519.PrivateKey
	secp    *secp256k1.PrivateKey
	mldsa   *mldsa65.PrivateKey
	srBytes []byte
}

// PublicKey is the public counterpart of PrivateKey, tagged the same
// way.
type PublicKey struct {
	scheme  Scheme
	ed      ed25519.PublicKey
	secp    *secp256k1.PublicKey
	mldsa   *mldsa65.PublicKey
	srBytes []byte
}

func (k PrivateKey) Scheme() Scheme { return k.scheme }
func (k PublicKey) Scheme() Scheme  { return k.scheme }

// GenerateEd25519 creates a fresh Ed25519 key pair.
func GenerateEd25519() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, PublicKey{}, err
	}
	return PrivateKey{scheme: SchemeEd25519, ed: priv}, PublicKey{scheme: SchemeEd25519, ed: pub}, nil
}

// GenerateSecp256k1 creates a fresh secp256k1 key pair usable for both
// ECDSA and Schnorr signing.
func GenerateSecp256k1() (PrivateKey, PublicKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return PrivateKey{}, PublicKey{}, err
	}
	return PrivateKey{scheme: SchemeSecp256k1ECDSA, secp: priv},
		PublicKey{scheme: SchemeSecp256k1ECDSA, secp: priv.PubKey()}, nil
}

// AsSchnorr reinterprets a secp256k1 key pair's scheme tag as Schnorr
// without changing the underlying key material; ECDSA and BIP-340
// Schnorr share a key space on secp256k1.
func (k PrivateKey) AsSchnorr() PrivateKey {
	k.scheme = SchemeSecp256k1Schnorr
	return k
}

func (k PublicKey) AsSchnorr() PublicKey {
	k.scheme = SchemeSecp256k1Schnorr
	return k
}

// GenerateMLDSA65 creates a fresh ML-DSA-65 key pair.
func GenerateMLDSA65() (PrivateKey, PublicKey, error) {
	pub, priv, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, PublicKey{}, err
	}
	return PrivateKey{scheme: SchemeMLDSA65, mldsa: priv}, PublicKey{scheme: SchemeMLDSA65, mldsa: pub}, nil
}

// Sign produces a signature over msg using the key's scheme.
func (k PrivateKey) Sign(msg []byte) ([]byte, error) {
	switch k.scheme {
	case SchemeEd25519:
		return ed25519.Sign(k.ed, msg), nil
	case SchemeSecp256k1ECDSA:
		sum := sha256Sum(msg)
		sig := ecdsa.Sign(k.secp, sum[:])
		return sig.Serialize(), nil
	case SchemeSecp256k1Schnorr:
		sum := sha256Sum(msg)
		sig, err := schnorr.Sign(k.secp, sum[:])
		if err != nil {
			return nil, err
		}
		return sig.Serialize(), nil
	case SchemeMLDSA65:
		sig := make([]byte, mldsa65.SignatureSize)
		if err := mldsa65.SignTo(k.mldsa, msg, nil, false, sig); err != nil {
			return nil, err
		}
		return sig, nil
	default:
		return nil, ErrUnsupportedScheme
	}
}

// Verify reports whether sig is a valid signature over msg under pub.
func Verify(pub PublicKey, msg, sig []byte) (bool, error) {
	switch pub.scheme {
	case SchemeEd25519:
		return ed25519.Verify(pub.ed, msg, sig), nil
	case SchemeSecp256k1ECDSA:
		s, err := ecdsa.ParseDERSignature(sig)
		if err != nil {
			return false, nil
		}
		sum := sha256Sum(msg)
		return s.Verify(sum[:], pub.secp), nil
	case SchemeSecp256k1Schnorr:
		s, err := schnorr.ParseSignature(sig)
		if err != nil {
			return false, nil
		}
		sum := sha256Sum(msg)
		return s.Verify(sum[:], pub.secp), nil
	case SchemeMLDSA65:
		return mldsa65.Verify(pub.mldsa, msg, nil, sig), nil
	default:
		return false, ErrUnsupportedScheme
	}
}

func sha256Sum(msg []byte) [32]byte {
	return sha256.Sum256(msg)
}
