// Package memstore is an in-memory reference implementation of every
// store/ capability contract: maps keyed by address or id, a mutex per
// store for reentrancy safety.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/arcanumlabs/ratchet/address"
	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/arcanumlabs/ratchet/identity"
	"github.com/arcanumlabs/ratchet/prekey"
	"github.com/arcanumlabs/ratchet/session"
	"github.com/arcanumlabs/ratchet/store"
	"go.uber.org/zap"
)

// IdentityStore is an in-memory IdentityKeyStore with trust-on-first-use.
type IdentityStore struct {
	mu         sync.Mutex
	log        *zap.Logger
	self       identity.KeyPair
	regID      uint32
	identities map[string]identity.Key
}

var _ store.IdentityKeyStore = (*IdentityStore)(nil)

// NewIdentityStore seeds the store with the local identity and
// registration id it will report via GetIdentityKeyPair /
// GetLocalRegistrationID.
func NewIdentityStore(log *zap.Logger, self identity.KeyPair, regID uint32) *IdentityStore {
	return &IdentityStore{log: log, self: self, regID: regID, identities: make(map[string]identity.Key)}
}

func (s *IdentityStore) GetIdentityKeyPair(ctx context.Context) (identity.KeyPair, error) {
	return s.self, nil
}

func (s *IdentityStore) GetLocalRegistrationID(ctx context.Context) (uint32, error) {
	return s.regID, nil
}

func (s *IdentityStore) SaveIdentity(ctx context.Context, addr address.ProtocolAddress, key identity.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, existed := s.identities[addr.String()]
	changed := existed && !prior.Equal(key)
	s.identities[addr.String()] = key
	if changed {
		s.log.Info("identity changed", zap.String("address", addr.String()))
	}
	return changed, nil
}

func (s *IdentityStore) IsTrustedIdentity(ctx context.Context, addr address.ProtocolAddress, key identity.Key, dir store.TrustDirection) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known, ok := s.identities[addr.String()]
	if !ok {
		return true, nil // trust-on-first-use
	}
	return known.Equal(key), nil
}

// SessionStore is an in-memory SessionStore keyed by ProtocolAddress.
type SessionStore struct {
	mu       sync.Mutex
	log      *zap.Logger
	sessions map[string]*session.Record
}

var _ store.SessionStore = (*SessionStore)(nil)

func NewSessionStore(log *zap.Logger) *SessionStore {
	return &SessionStore{log: log, sessions: make(map[string]*session.Record)}
}

func (s *SessionStore) LoadSession(ctx context.Context, addr address.ProtocolAddress) (*session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[addr.String()]; ok {
		return rec, nil
	}
	return session.NewRecord(), nil
}

func (s *SessionStore) StoreSession(ctx context.Context, addr address.ProtocolAddress, rec *session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[addr.String()] = rec
	return nil
}

// PreKeyStore is an in-memory PreKeyStore.
type PreKeyStore struct {
	mu   sync.Mutex
	log  *zap.Logger
	keys map[prekey.ID]prekey.Record
}

var _ store.PreKeyStore = (*PreKeyStore)(nil)

func NewPreKeyStore(log *zap.Logger) *PreKeyStore {
	return &PreKeyStore{log: log, keys: make(map[prekey.ID]prekey.Record)}
}

func (s *PreKeyStore) LoadPreKey(ctx context.Context, id prekey.ID) (prekey.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[id]
	if !ok {
		return prekey.Record{}, errkind.Newf(errkind.InvalidKey, "pre-key %d not found", id)
	}
	return rec, nil
}

func (s *PreKeyStore) StorePreKey(ctx context.Context, id prekey.ID, rec prekey.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = rec
	return nil
}

func (s *PreKeyStore) RemovePreKey(ctx context.Context, id prekey.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	s.log.Debug("pre-key consumed", zap.Uint32("id", uint32(id)))
	return nil
}

// SignedPreKeyStore is an in-memory SignedPreKeyStore.
type SignedPreKeyStore struct {
	mu   sync.Mutex
	keys map[prekey.ID]prekey.SignedRecord
}

var _ store.SignedPreKeyStore = (*SignedPreKeyStore)(nil)

func NewSignedPreKeyStore() *SignedPreKeyStore {
	return &SignedPreKeyStore{keys: make(map[prekey.ID]prekey.SignedRecord)}
}

func (s *SignedPreKeyStore) LoadSignedPreKey(ctx context.Context, id prekey.ID) (prekey.SignedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[id]
	if !ok {
		return prekey.SignedRecord{}, errkind.Newf(errkind.InvalidKey, "signed pre-key %d not found", id)
	}
	return rec, nil
}

func (s *SignedPreKeyStore) StoreSignedPreKey(ctx context.Context, id prekey.ID, rec prekey.SignedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = rec
	return nil
}

// KyberPreKeyStore is an in-memory KyberPreKeyStore.
type KyberPreKeyStore struct {
	mu   sync.Mutex
	log  *zap.Logger
	keys map[prekey.ID]prekey.KyberRecord
}

var _ store.KyberPreKeyStore = (*KyberPreKeyStore)(nil)

func NewKyberPreKeyStore(log *zap.Logger) *KyberPreKeyStore {
	return &KyberPreKeyStore{log: log, keys: make(map[prekey.ID]prekey.KyberRecord)}
}

func (s *KyberPreKeyStore) LoadKyberPreKey(ctx context.Context, id prekey.ID) (prekey.KyberRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[id]
	if !ok {
		return prekey.KyberRecord{}, errkind.Newf(errkind.InvalidKey, "kyber pre-key %d not found", id)
	}
	return rec, nil
}

func (s *KyberPreKeyStore) StoreKyberPreKey(ctx context.Context, id prekey.ID, rec prekey.KyberRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = rec
	return nil
}

func (s *KyberPreKeyStore) MarkKyberPreKeyUsed(ctx context.Context, id prekey.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	s.log.Debug("kyber pre-key consumed", zap.Uint32("id", uint32(id)))
	return nil
}

// SenderKeyStore is an in-memory SenderKeyStore.
type SenderKeyStore struct {
	mu   sync.Mutex
	keys map[string][]byte
}

var _ store.SenderKeyStore = (*SenderKeyStore)(nil)

func NewSenderKeyStore() *SenderKeyStore {
	return &SenderKeyStore{keys: make(map[string][]byte)}
}

func (s *SenderKeyStore) key(sender address.ProtocolAddress, distributionID [16]byte) string {
	return fmt.Sprintf("%s:%x", sender.String(), distributionID)
}

func (s *SenderKeyStore) StoreSenderKey(ctx context.Context, sender address.ProtocolAddress, distributionID [16]byte, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[s.key(sender, distributionID)] = record
	return nil
}

func (s *SenderKeyStore) LoadSenderKey(ctx context.Context, sender address.ProtocolAddress, distributionID [16]byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[s.key(sender, distributionID)]
	if !ok {
		return nil, nil
	}
	return rec, nil
}
