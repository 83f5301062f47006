package spqr

import (
	"crypto/sha256"
	"io"

	"github.com/arcanumlabs/ratchet/errkind"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const epochKeysInfo = "Signal PQ Ratchet V1 Epoch Keys"

// authTagLen is the length of the tag Seal emits; it rides inside a
// Ct2 chunk, which is wide enough to hold it.
const authTagLen = chacha20poly1305.Overhead

// DeriveEpochKeys splits an epoch secret into the rootKey half mixed
// into the outer Triple Ratchet and the macKey half used
// by Authenticator to protect the chunked KEM header against
// tampering across the several messages it spans.
func DeriveEpochKeys(epochSecret [32]byte) (rootKey, macKey [32]byte, err error) {
	var zeroSalt [32]byte
	var buf [64]byte
	r := hkdf.New(sha256.New, epochSecret[:], zeroSalt[:], []byte(epochKeysInfo))
	if _, ioErr := io.ReadFull(r, buf[:]); ioErr != nil {
		return rootKey, macKey, errkind.Wrap(errkind.InvalidKey, "spqr: derive epoch keys", ioErr)
	}
	copy(rootKey[:], buf[:32])
	copy(macKey[:], buf[32:])
	return rootKey, macKey, nil
}

// MixIntoRootKey is the outer-ratchet side of epoch-secret mixing:
// rootKey' = HKDF(ikm = epochSecret, salt = rootKey, info =
// "WhisperText", len = 32), run whenever SPQR yields a fresh epoch
// secret, before the next DH-ratchet step.
func MixIntoRootKey(epochSecret, rootKey [32]byte) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, epochSecret[:], rootKey[:], []byte("WhisperText"))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, errkind.Wrap(errkind.InvalidKey, "spqr: mix epoch secret into root key", err)
	}
	return out, nil
}

// Authenticator seals and opens the chunked KEM header against
// tampering, using ChaCha20-Poly1305 keyed by an epoch's macKey.
type Authenticator struct {
	aead cipherAEAD
}

// cipherAEAD is the narrow subset of cipher.AEAD this package needs;
// declared locally so Authenticator's zero value doesn't require
// importing crypto/cipher just for the type name.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NewAuthenticator builds an Authenticator from a 32-byte macKey.
func NewAuthenticator(macKey [32]byte) (*Authenticator, error) {
	aead, err := chacha20poly1305.New(macKey[:])
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidKey, "spqr: authenticator key", err)
	}
	return &Authenticator{aead: aead}, nil
}

// nonceForEpoch derives a 12-byte nonce from the epoch number; each
// epoch's Authenticator instance is used to seal exactly one header,
// so a nonce keyed only by epoch never repeats under one macKey.
func nonceForEpoch(epoch uint64) [12]byte {
	var n [12]byte
	for i := 0; i < 8; i++ {
		n[11-i] = byte(epoch >> (8 * i))
	}
	return n
}

// Seal authenticates (and, incidentally, encrypts — unused here since
// the header bytes are already committed plaintext on the wire;
// headerBytes is passed as associated data, not as the sealed
// plaintext) the committed header bytes for epoch.
func (a *Authenticator) Seal(epoch uint64, headerBytes []byte) []byte {
	nonce := nonceForEpoch(epoch)
	return a.aead.Seal(nil, nonce[:], nil, headerBytes)
}

// Open verifies tag against headerBytes for epoch.
func (a *Authenticator) Open(epoch uint64, headerBytes []byte, tag []byte) error {
	nonce := nonceForEpoch(epoch)
	_, err := a.aead.Open(nil, nonce[:], tag, headerBytes)
	if err != nil {
		return errkind.Wrap(errkind.InvalidMac, "spqr: header authentication failed", err)
	}
	return nil
}
