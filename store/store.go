// Package store defines the capability contracts: IdentityKeyStore,
// SessionStore, PreKeyStore, SignedPreKeyStore, KyberPreKeyStore, and
// SenderKeyStore. Every method takes a context.Context since store I/O
// may block; cryptographic derivation elsewhere in this module never
// suspends.
package store

import (
	"context"

	"github.com/arcanumlabs/ratchet/address"
	"github.com/arcanumlabs/ratchet/identity"
	"github.com/arcanumlabs/ratchet/prekey"
	"github.com/arcanumlabs/ratchet/session"
)

// TrustDirection tells IsTrustedIdentity whether the identity is being
// checked for an outbound (Sending) or inbound (Receiving) operation.
type TrustDirection int

const (
	Sending TrustDirection = iota
	Receiving
)

// IdentityKeyStore owns the local identity key pair, the local
// registration id, and the trust-on-first-use table of remote identity
// keys.
type IdentityKeyStore interface {
	GetIdentityKeyPair(ctx context.Context) (identity.KeyPair, error)
	GetLocalRegistrationID(ctx context.Context) (uint32, error)
	// SaveIdentity stores key as addr's trusted identity, returning
	// changed=true if this replaced a different previously-trusted
	// key.
	SaveIdentity(ctx context.Context, addr address.ProtocolAddress, key identity.Key) (changed bool, err error)
	IsTrustedIdentity(ctx context.Context, addr address.ProtocolAddress, key identity.Key, dir TrustDirection) (bool, error)
}

// SessionStore loads and stores the one SessionRecord per
// ProtocolAddress. Reads must observe the latest
// successful store — stores are single-writer per address.
type SessionStore interface {
	LoadSession(ctx context.Context, addr address.ProtocolAddress) (*session.Record, error)
	StoreSession(ctx context.Context, addr address.ProtocolAddress, record *session.Record) error
}

// PreKeyStore owns one-time X25519 pre-keys. LoadPreKey raises
// InvalidKey if id is missing; RemovePreKey is effectful and
// observable by subsequent loads.
type PreKeyStore interface {
	LoadPreKey(ctx context.Context, id prekey.ID) (prekey.Record, error)
	StorePreKey(ctx context.Context, id prekey.ID, rec prekey.Record) error
	RemovePreKey(ctx context.Context, id prekey.ID) error
}

// SignedPreKeyStore owns medium-lived signed pre-keys; there is no
// removal in steady state.
type SignedPreKeyStore interface {
	LoadSignedPreKey(ctx context.Context, id prekey.ID) (prekey.SignedRecord, error)
	StoreSignedPreKey(ctx context.Context, id prekey.ID, rec prekey.SignedRecord) error
}

// KyberPreKeyStore owns one-time ML-KEM pre-keys. MarkKyberPreKeyUsed
// removes the record.
type KyberPreKeyStore interface {
	LoadKyberPreKey(ctx context.Context, id prekey.ID) (prekey.KyberRecord, error)
	StoreKyberPreKey(ctx context.Context, id prekey.ID, rec prekey.KyberRecord) error
	MarkKyberPreKeyUsed(ctx context.Context, id prekey.ID) error
}

// SenderKeyStore is the group-messaging (sender-key) capability;
// declared for completeness, group sessions are not elaborated here.
type SenderKeyStore interface {
	StoreSenderKey(ctx context.Context, sender address.ProtocolAddress, distributionID [16]byte, record []byte) error
	LoadSenderKey(ctx context.Context, sender address.ProtocolAddress, distributionID [16]byte) ([]byte, error)
}
