// Package kdf implements the key schedule: RootKey, ChainKey, and
// MessageKeys derivations with their fixed info-strings. HKDF-SHA256
// steps the root key, HMAC-SHA256 with the 0x01/0x02 constants
// advances a chain, and message-key derivation expands a chain seed
// into the cipher key, mac key, and IV triple.
package kdf

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	rootInfo    = "WhisperRatchet"
	messageInfo = "WhisperMessageKeys"
)

// RootKey is the 32-byte root key material.
type RootKey [32]byte

// ChainKey is a 32-byte chain key plus its monotonically advancing
// index.
type ChainKey struct {
	Key   [32]byte
	Index uint32
}

// MessageKeys are the one-shot keys derived from a single ChainKey
// advance: a 32-byte AES key, a 32-byte HMAC key, and a 16-byte IV.
type MessageKeys struct {
	CipherKey [32]byte
	MacKey    [32]byte
	IV        [16]byte
	Counter   uint32
}

// Step derives (RootKey', ChainKey) from the current root key and a
// 32-byte DH output: a single HKDF-SHA256 extraction keyed
// by RootKey (salt = RootKey, input key material = dh) with info =
// "WhisperRatchet", 64-byte output split into the new root key and a
// fresh ChainKey@0.
func (rk RootKey) Step(dh []byte) (RootKey, ChainKey) {
	var buf [64]byte
	r := hkdf.New(sha256.New, dh, rk[:], []byte(rootInfo))
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		panic(err)
	}
	var next RootKey
	copy(next[:], buf[:32])
	var ck ChainKey
	copy(ck.Key[:], buf[32:64])
	ck.Index = 0
	return next, ck
}

// Advance derives the next ChainKey and the MessageKeys seed for the
// current index,: next = HMAC(ck, 0x02), seed = HMAC(ck,
// 0x01), index increments by one.
func (ck ChainKey) Advance() (next ChainKey, seed [32]byte) {
	h := hmac.New(sha256.New, ck.Key[:])
	h.Write([]byte{0x02})
	var nextKey [32]byte
	copy(nextKey[:], h.Sum(nil))

	h.Reset()
	h.Write([]byte{0x01})
	copy(seed[:], h.Sum(nil))

	next = ChainKey{Key: nextKey, Index: ck.Index + 1}
	return next, seed
}

// DeriveMessageKeys expands a 32-byte chain-key seed into
// MessageKeys: HKDF-SHA256(seed,
// zero-salt-32, "WhisperMessageKeys", 80), sliced into
// cipherKey(0..32), macKey(32..64), iv(64..80). Deterministic: the
// same (seed, counter) always yields the same keys.
func DeriveMessageKeys(seed [32]byte, counter uint32) MessageKeys {
	var zeroSalt [32]byte
	var buf [80]byte
	r := hkdf.New(sha256.New, seed[:], zeroSalt[:], []byte(messageInfo))
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		panic(err)
	}
	var mk MessageKeys
	copy(mk.CipherKey[:], buf[0:32])
	copy(mk.MacKey[:], buf[32:64])
	copy(mk.IV[:], buf[64:80])
	mk.Counter = counter
	return mk
}
