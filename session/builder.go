// This file implements the X3DH/PQXDH session builder: InitFromBundle
// is the initiator's processPreKeyBundle, and ProcessPreKeyMessage is
// the responder's reverse derivation.
//
// The derivation, a discriminator-prefixed concatenation of DH outputs
// (plus an optional KEM shared secret) fed through one HKDF
// extraction, is inlined directly against the kdf/curve25519dh/pqkem
// packages rather than a separate ratchet-parameters struct, since
// there is only one call site in either direction.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"time"

	"github.com/arcanumlabs/ratchet/curve25519dh"
	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/arcanumlabs/ratchet/identity"
	"github.com/arcanumlabs/ratchet/kdf"
	"github.com/arcanumlabs/ratchet/pqkem"
	"github.com/arcanumlabs/ratchet/prekey"
	"golang.org/x/crypto/hkdf"
)

const (
	x3dhInfo = "WhisperText"

	// pqBootstrapInfo derives the SPQR chain's initial 32-byte shared
	// secret from the X3DH root key, keeping the symmetric epoch chain
	// cryptographically separate from the classical root
	// key it feeds back into.
	pqBootstrapInfo = "Signal PQ Ratchet V1 Bootstrap"
)

// pqBootstrapSecret derives the seed NewPQRatchetInitiator/Responder
// bootstrap their Chain from, out of the session's freshly established
// root key.
func pqBootstrapSecret(rootKey kdf.RootKey) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, rootKey[:], nil, []byte(pqBootstrapInfo))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, errkind.Wrap(errkind.InvalidKey, "derive spqr bootstrap secret", err)
	}
	return out, nil
}

// x3dhSecret runs the fixed discriminator-prefix HKDF extraction over
// an arbitrary list of DH/KEM outputs.
func x3dhSecret(parts ...[]byte) (kdf.RootKey, kdf.ChainKey) {
	discriminator := make([]byte, 32)
	for i := range discriminator {
		discriminator[i] = 0xFF
	}
	ikm := discriminator
	for _, p := range parts {
		ikm = append(ikm, p...)
	}
	var zeroSalt [32]byte
	var buf [64]byte
	r := hkdf.New(sha256.New, ikm, zeroSalt[:], []byte(x3dhInfo))
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		panic(err)
	}
	var rk kdf.RootKey
	copy(rk[:], buf[:32])
	var ck kdf.ChainKey
	copy(ck.Key[:], buf[32:64])
	return rk, ck
}

// InitFromBundle is the initiator side of the handshake: it validates the bundle's signatures, runs the X3DH/PQXDH DH+KEM
// chain, installs the session's root key and sender chain, and records
// a PendingPreKey so the session is recognized as unacknowledged until
// the first reply arrives.
func InitFromBundle(record *Record, local identity.KeyPair, localRegistrationID uint32, bundle prekey.Bundle, now time.Time) error {
	if err := bundle.Validate(); err != nil {
		return err
	}

	base, err := curve25519dh.Generate(rand.Reader)
	if err != nil {
		return err
	}

	localPriv := local.Private()
	dh1, err := curve25519dh.DH(localPriv, bundle.SignedPreKeyPublic)
	if err != nil {
		return err
	}
	remoteIdentityXPub := bundle.IdentityKey.Bytes()
	dh2, err := curve25519dh.DH(base.Private, remoteIdentityXPub)
	if err != nil {
		return err
	}
	dh3, err := curve25519dh.DH(base.Private, bundle.SignedPreKeyPublic)
	if err != nil {
		return err
	}

	parts := [][]byte{dh1, dh2, dh3}
	if bundle.HasPreKey {
		dh4, err := curve25519dh.DH(base.Private, bundle.PreKeyPublic)
		if err != nil {
			return err
		}
		parts = append(parts, dh4)
	}
	var kyberCiphertext []byte
	if bundle.HasKyberPreKey {
		ct, ss, err := pqkem.Encapsulate(bundle.KyberPreKeyPublic)
		if err != nil {
			return err
		}
		kyberCiphertext = ct
		parts = append(parts, ss)
	}

	rootKey0, chainKey0 := x3dhSecret(parts...)

	if !record.IsFresh() {
		record.ArchiveCurrentState()
	}
	state := record.Current
	state.Version = CurrentVersion
	state.LocalIdentity = local.Public
	state.RemoteIdentity = bundle.IdentityKey
	state.LocalRegistrationID = localRegistrationID
	state.RemoteRegistrationID = bundle.RegistrationID
	state.HasAliceBaseKey = true
	state.AliceBaseKey = base.Public

	state.addReceiverChain(ReceiverChain{
		SenderRatchetPublic: bundle.SignedPreKeyPublic,
		ChainKey:            chainKey0,
	})
	state.RootKey = rootKey0
	state.HasSenderChain = false // the first ratchet step below installs it

	if bundle.HasKyberPreKey {
		bootstrap, err := pqBootstrapSecret(rootKey0)
		if err != nil {
			return err
		}
		pq, err := NewPQRatchetInitiator(bootstrap)
		if err != nil {
			return err
		}
		state.HasPQRatchet = true
		state.PQ = pq
	}

	ratchetKP, err := curve25519dh.Generate(rand.Reader)
	if err != nil {
		return err
	}
	dh, err := curve25519dh.DH(ratchetKP.Private, bundle.SignedPreKeyPublic)
	if err != nil {
		return err
	}
	rootKey1, sendChainKey := kdf.RootKey(state.RootKey).Step(dh)
	state.RootKey = rootKey1
	state.Sender = SenderChain{RatchetKeyPair: ratchetKP, ChainKey: sendChainKey}
	state.HasSenderChain = true

	state.HasPendingPreKey = true
	state.PendingPreKey = PendingPreKey{
		HasPreKeyID:     bundle.HasPreKey,
		PreKeyID:        uint32(bundle.PreKeyID),
		SignedPreKeyID:  uint32(bundle.SignedPreKeyID),
		BaseKey:         base.Public,
		TimestampMS:     now.UnixMilli(),
		HasKyberPreKey:  bundle.HasKyberPreKey,
		KyberPreKeyID:   uint32(bundle.KyberPreKeyID),
		KyberCiphertext: kyberCiphertext,
	}
	return nil
}

// IncomingPreKeyParams bundles what ProcessPreKeyMessage needs from
// the local identity and local store lookups for the pre-key ids the
// inbound PreKeySignalMessage references.
type IncomingPreKeyParams struct {
	RegistrationID  uint32
	BaseKey         [curve25519dh.PublicKeySize]byte
	RemoteIdentity  identity.Key
	SignedPreKey    curve25519dh.KeyPair
	OneTimePreKey   *curve25519dh.KeyPair
	KyberPreKey     *pqkem.PrivateKey
	KyberCiphertext []byte
	SessionVersion  uint8
}

// ProcessPreKeyMessage is the responder side of the handshake: it
// reverses
// the initiator's DH/KEM chain using the local signed/one-time/kyber
// pre-key material the message selects, and installs a sender chain
// keyed by the local signed pre-key (mirroring how the initiator's
// receiver chain was keyed to it).
func ProcessPreKeyMessage(record *Record, local identity.KeyPair, localRegistrationID uint32, p IncomingPreKeyParams) error {
	if record.HasSessionState(p.SessionVersion, p.BaseKey) {
		// Already built for this base key: the pre-key short-circuit
		// handles re-delivery, this function is a no-op.
		return nil
	}

	localPriv := local.Private()
	dh1, err := curve25519dh.DH(p.SignedPreKey.Private, p.RemoteIdentity.Bytes())
	if err != nil {
		return err
	}
	dh2, err := curve25519dh.DH(localPriv, p.BaseKey)
	if err != nil {
		return err
	}
	dh3, err := curve25519dh.DH(p.SignedPreKey.Private, p.BaseKey)
	if err != nil {
		return err
	}
	parts := [][]byte{dh1, dh2, dh3}
	if p.OneTimePreKey != nil {
		dh4, err := curve25519dh.DH(p.OneTimePreKey.Private, p.BaseKey)
		if err != nil {
			return err
		}
		parts = append(parts, dh4)
	}
	if p.KyberPreKey != nil {
		if len(p.KyberCiphertext) == 0 {
			return errkind.New(errkind.InvalidMessage, "kyber pre-key selected but no ciphertext present")
		}
		ss, err := pqkem.Decapsulate(*p.KyberPreKey, p.KyberCiphertext)
		if err != nil {
			return err
		}
		parts = append(parts, ss)
	}

	rootKey0, chainKey0 := x3dhSecret(parts...)

	if !record.IsFresh() {
		record.ArchiveCurrentState()
	}
	state := record.Current
	state.Version = p.SessionVersion
	state.LocalIdentity = local.Public
	state.RemoteIdentity = p.RemoteIdentity
	state.LocalRegistrationID = localRegistrationID
	state.RemoteRegistrationID = p.RegistrationID
	state.HasAliceBaseKey = true
	state.AliceBaseKey = p.BaseKey
	state.RootKey = rootKey0
	state.Sender = SenderChain{RatchetKeyPair: p.SignedPreKey, ChainKey: chainKey0}
	state.HasSenderChain = true
	state.HasPendingPreKey = false

	if p.KyberPreKey != nil {
		bootstrap, err := pqBootstrapSecret(rootKey0)
		if err != nil {
			return err
		}
		pq, err := NewPQRatchetResponder(bootstrap)
		if err != nil {
			return err
		}
		state.HasPQRatchet = true
		state.PQ = pq
	}
	return nil
}
