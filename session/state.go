// Package session implements the session state, the session cipher,
// and the X3DH/PQXDH session builder: a state struct holding one
// sender chain plus a bounded history of receiver chains, a
// trial-clone-then-commit cipher, and a ratchet step that archives old
// state. The symmetric ratchet itself lives in the kdf package.
package session

import (
	"time"

	"github.com/arcanumlabs/ratchet/curve25519dh"
	"github.com/arcanumlabs/ratchet/identity"
	"github.com/arcanumlabs/ratchet/kdf"
)

// Policy knobs bounding chain history, key caching, and session age.
const (
	// MaxReceiverChains bounds how many historical receiver chains a
	// session keeps; the oldest is evicted first.
	MaxReceiverChains = 5
	// MaxMessageKeys bounds how many skipped message keys a single
	// receiver chain caches.
	MaxMessageKeys = 2000
	// MaxJump bounds how far a message counter may skip ahead of a
	// chain's current index before KeyJump is raised.
	MaxJump = 25000
	// MaxUnacknowledgedSessionAge is how long a Pending session may
	// go without an inbound message before it is considered stale.
	MaxUnacknowledgedSessionAge = 30 * 24 * time.Hour
	// CurrentVersion is the wire version this module emits.
	CurrentVersion = 4
	// LegacyVersion is recognized for identification but always
	// rejected on decode.
	LegacyVersion = 3
)

// SenderChain is the session's single active sending chain.
type SenderChain struct {
	RatchetKeyPair curve25519dh.KeyPair
	ChainKey       kdf.ChainKey
}

// StoredMessageKey is a cached out-of-order key, kept fully derived
// rather than as a seed+counter pair.
type StoredMessageKey struct {
	Counter   uint32
	CipherKey [32]byte
	MacKey    [32]byte
	IV        [16]byte
}

// ReceiverChain is one peer ratchet public key's receiving chain,
// plus its bounded out-of-order key cache.
type ReceiverChain struct {
	SenderRatchetPublic [curve25519dh.PublicKeySize]byte
	ChainKey            kdf.ChainKey
	MessageKeys         []StoredMessageKey // bounded by MaxMessageKeys, oldest evicted first
}

// PendingPreKey records the pre-key selectors an initiator used, so
// the session can be identified as "Pending" until the first inbound
// message arrives.
type PendingPreKey struct {
	HasPreKeyID    bool
	PreKeyID       uint32
	SignedPreKeyID uint32
	BaseKey        [curve25519dh.PublicKeySize]byte
	TimestampMS    int64

	HasKyberPreKey  bool
	KyberPreKeyID   uint32
	KyberCiphertext []byte
}

// State is one immutable-in-spirit session snapshot: local/remote
// identities, the root key, the one active sender chain, a bounded
// list of receiver chains, and pending-pre-key bookkeeping.
//
// Decrypt never mutates a State in place: it derives a Clone, mutates
// the clone, and only commits it back into a Record on success.
// Encrypt, by contrast, advances the current State's sender chain (and,
// with the Triple Ratchet engaged, its PQ engine and root key) in place.
type State struct {
	Version uint8

	LocalIdentity  identity.Key
	RemoteIdentity identity.Key

	RootKey kdf.RootKey

	HasSenderChain  bool
	Sender          SenderChain
	PreviousCounter uint32

	Receivers []ReceiverChain

	HasPendingPreKey bool
	PendingPreKey    PendingPreKey

	LocalRegistrationID  uint32
	RemoteRegistrationID uint32

	HasAliceBaseKey bool
	AliceBaseKey    [curve25519dh.PublicKeySize]byte

	// HasPQRatchet and PQ carry the Triple Ratchet augmentation:
	// when present, every Encrypt/Decrypt consults PQ for a
	// fresh epoch secret to mix into RootKey ahead of the next
	// DH-ratchet step. Sessions that never negotiated it leave this
	// unset and behave exactly like the plain Double Ratchet.
	HasPQRatchet bool
	PQ           *PQRatchetState
}

// Phase classifies a State's sender-chain usability.
type Phase int

const (
	PhaseFresh Phase = iota
	PhasePending
	PhaseEstablished
)

// PhaseAt returns the state's phase as of now.
func (s *State) PhaseAt(now time.Time) Phase {
	if !s.HasSenderChain {
		return PhaseFresh
	}
	if s.HasPendingPreKey {
		return PhasePending
	}
	return PhaseEstablished
}

// IsStale reports whether a Pending state has gone unacknowledged past
// MaxUnacknowledgedSessionAge.
func (s *State) IsStale(now time.Time) bool {
	if !s.HasPendingPreKey {
		return false
	}
	deadline := time.UnixMilli(s.PendingPreKey.TimestampMS).Add(MaxUnacknowledgedSessionAge)
	return now.After(deadline)
}

// Clone performs a deep copy of the state so a trial decrypt/ratchet
// can be attempted without mutating the committed state on failure.
func (s *State) Clone() *State {
	c := *s
	c.Receivers = make([]ReceiverChain, len(s.Receivers))
	for i, rc := range s.Receivers {
		c.Receivers[i] = ReceiverChain{
			SenderRatchetPublic: rc.SenderRatchetPublic,
			ChainKey:            rc.ChainKey,
			MessageKeys:         append([]StoredMessageKey(nil), rc.MessageKeys...),
		}
	}
	if s.HasPQRatchet {
		c.PQ = s.PQ.Clone()
	}
	return &c
}

// findReceiverChain locates the receiver chain for a sender ratchet
// public key, returning its index or -1.
func (s *State) findReceiverChain(pub [curve25519dh.PublicKeySize]byte) int {
	for i := range s.Receivers {
		if s.Receivers[i].SenderRatchetPublic == pub {
			return i
		}
	}
	return -1
}

// addReceiverChain installs a new receiver chain, evicting the oldest
// if the bound is exceeded.
func (s *State) addReceiverChain(rc ReceiverChain) {
	s.Receivers = append(s.Receivers, rc)
	if len(s.Receivers) > MaxReceiverChains {
		s.Receivers = s.Receivers[len(s.Receivers)-MaxReceiverChains:]
	}
}
