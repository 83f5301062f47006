// Package redisstore backs every store/ capability contract with
// Redis via github.com/redis/go-redis/v9. Records are gob-encoded;
// the persisted encoding is internal to this module and carries no
// wire compatibility promise.
package redisstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/arcanumlabs/ratchet/address"
	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/arcanumlabs/ratchet/identity"
	"github.com/arcanumlabs/ratchet/prekey"
	"github.com/arcanumlabs/ratchet/session"
	"github.com/arcanumlabs/ratchet/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errkind.Wrap(errkind.InvalidMessage, "redisstore: encode", err)
	}
	return buf.Bytes(), nil
}

func decode(b []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		return errkind.Wrap(errkind.InvalidMessage, "redisstore: decode", err)
	}
	return nil
}

// IdentityStore is a Redis-backed IdentityKeyStore. The local identity
// key pair and registration id are supplied at construction since they
// are install-time configuration, not something another process
// writes concurrently.
type IdentityStore struct {
	rdb   *redis.Client
	log   *zap.Logger
	self  identity.KeyPair
	regID uint32
	keyNS string
}

var _ store.IdentityKeyStore = (*IdentityStore)(nil)

func NewIdentityStore(rdb *redis.Client, log *zap.Logger, self identity.KeyPair, regID uint32, namespace string) *IdentityStore {
	return &IdentityStore{rdb: rdb, log: log, self: self, regID: regID, keyNS: namespace + ":identity:"}
}

func (s *IdentityStore) GetIdentityKeyPair(ctx context.Context) (identity.KeyPair, error) {
	return s.self, nil
}

func (s *IdentityStore) GetLocalRegistrationID(ctx context.Context) (uint32, error) {
	return s.regID, nil
}

func (s *IdentityStore) SaveIdentity(ctx context.Context, addr address.ProtocolAddress, key identity.Key) (bool, error) {
	raw, err := s.rdb.Get(ctx, s.keyNS+addr.String()).Bytes()
	changed := false
	if err == nil {
		var prior identity.Key
		if decErr := prior.UnmarshalBinary(raw); decErr == nil {
			changed = !prior.Equal(key)
		}
	} else if err != redis.Nil {
		return false, errkind.Wrap(errkind.InvalidSession, "redisstore: load identity", err)
	}
	encoded, err := key.MarshalBinary()
	if err != nil {
		return false, err
	}
	if err := s.rdb.Set(ctx, s.keyNS+addr.String(), encoded, 0).Err(); err != nil {
		return false, errkind.Wrap(errkind.InvalidSession, "redisstore: save identity", err)
	}
	if changed {
		s.log.Info("identity changed", zap.String("address", addr.String()))
	}
	return changed, nil
}

func (s *IdentityStore) IsTrustedIdentity(ctx context.Context, addr address.ProtocolAddress, key identity.Key, dir store.TrustDirection) (bool, error) {
	raw, err := s.rdb.Get(ctx, s.keyNS+addr.String()).Bytes()
	if err == redis.Nil {
		return true, nil // trust-on-first-use
	}
	if err != nil {
		return false, errkind.Wrap(errkind.InvalidSession, "redisstore: load identity", err)
	}
	var known identity.Key
	if err := known.UnmarshalBinary(raw); err != nil {
		return false, err
	}
	return known.Equal(key), nil
}

// SessionStore is a Redis-backed SessionStore.
type SessionStore struct {
	rdb *redis.Client
	ns  string
}

var _ store.SessionStore = (*SessionStore)(nil)

func NewSessionStore(rdb *redis.Client, namespace string) *SessionStore {
	return &SessionStore{rdb: rdb, ns: namespace + ":session:"}
}

func (s *SessionStore) LoadSession(ctx context.Context, addr address.ProtocolAddress) (*session.Record, error) {
	raw, err := s.rdb.Get(ctx, s.ns+addr.String()).Bytes()
	if err == redis.Nil {
		return session.NewRecord(), nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidSession, "redisstore: load session", err)
	}
	var rec session.Record
	if err := decode(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SessionStore) StoreSession(ctx context.Context, addr address.ProtocolAddress, rec *session.Record) error {
	encoded, err := encode(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.ns+addr.String(), encoded, 0).Err(); err != nil {
		return errkind.Wrap(errkind.InvalidSession, "redisstore: store session", err)
	}
	return nil
}

// PreKeyStore is a Redis-backed PreKeyStore.
type PreKeyStore struct {
	rdb *redis.Client
	log *zap.Logger
	ns  string
}

var _ store.PreKeyStore = (*PreKeyStore)(nil)

func NewPreKeyStore(rdb *redis.Client, log *zap.Logger, namespace string) *PreKeyStore {
	return &PreKeyStore{rdb: rdb, log: log, ns: namespace + ":prekey:"}
}

func (s *PreKeyStore) key(id prekey.ID) string { return fmt.Sprintf("%s%d", s.ns, id) }

func (s *PreKeyStore) LoadPreKey(ctx context.Context, id prekey.ID) (prekey.Record, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return prekey.Record{}, errkind.Newf(errkind.InvalidKey, "pre-key %d not found", id)
	}
	if err != nil {
		return prekey.Record{}, errkind.Wrap(errkind.InvalidKey, "redisstore: load pre-key", err)
	}
	var rec prekey.Record
	if err := decode(raw, &rec); err != nil {
		return prekey.Record{}, err
	}
	return rec, nil
}

func (s *PreKeyStore) StorePreKey(ctx context.Context, id prekey.ID, rec prekey.Record) error {
	encoded, err := encode(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(id), encoded, 0).Err()
}

func (s *PreKeyStore) RemovePreKey(ctx context.Context, id prekey.ID) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return errkind.Wrap(errkind.InvalidKey, "redisstore: remove pre-key", err)
	}
	s.log.Debug("pre-key consumed", zap.Uint32("id", uint32(id)))
	return nil
}

// SignedPreKeyStore is a Redis-backed SignedPreKeyStore.
type SignedPreKeyStore struct {
	rdb *redis.Client
	ns  string
}

var _ store.SignedPreKeyStore = (*SignedPreKeyStore)(nil)

func NewSignedPreKeyStore(rdb *redis.Client, namespace string) *SignedPreKeyStore {
	return &SignedPreKeyStore{rdb: rdb, ns: namespace + ":signedprekey:"}
}

func (s *SignedPreKeyStore) key(id prekey.ID) string { return fmt.Sprintf("%s%d", s.ns, id) }

func (s *SignedPreKeyStore) LoadSignedPreKey(ctx context.Context, id prekey.ID) (prekey.SignedRecord, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return prekey.SignedRecord{}, errkind.Newf(errkind.InvalidKey, "signed pre-key %d not found", id)
	}
	if err != nil {
		return prekey.SignedRecord{}, errkind.Wrap(errkind.InvalidKey, "redisstore: load signed pre-key", err)
	}
	var rec prekey.SignedRecord
	if err := decode(raw, &rec); err != nil {
		return prekey.SignedRecord{}, err
	}
	return rec, nil
}

func (s *SignedPreKeyStore) StoreSignedPreKey(ctx context.Context, id prekey.ID, rec prekey.SignedRecord) error {
	encoded, err := encode(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(id), encoded, 0).Err()
}

// KyberPreKeyStore is a Redis-backed KyberPreKeyStore.
type KyberPreKeyStore struct {
	rdb *redis.Client
	log *zap.Logger
	ns  string
}

var _ store.KyberPreKeyStore = (*KyberPreKeyStore)(nil)

func NewKyberPreKeyStore(rdb *redis.Client, log *zap.Logger, namespace string) *KyberPreKeyStore {
	return &KyberPreKeyStore{rdb: rdb, log: log, ns: namespace + ":kyberprekey:"}
}

func (s *KyberPreKeyStore) key(id prekey.ID) string { return fmt.Sprintf("%s%d", s.ns, id) }

func (s *KyberPreKeyStore) LoadKyberPreKey(ctx context.Context, id prekey.ID) (prekey.KyberRecord, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return prekey.KyberRecord{}, errkind.Newf(errkind.InvalidKey, "kyber pre-key %d not found", id)
	}
	if err != nil {
		return prekey.KyberRecord{}, errkind.Wrap(errkind.InvalidKey, "redisstore: load kyber pre-key", err)
	}
	var rec prekey.KyberRecord
	if err := decode(raw, &rec); err != nil {
		return prekey.KyberRecord{}, err
	}
	return rec, nil
}

func (s *KyberPreKeyStore) StoreKyberPreKey(ctx context.Context, id prekey.ID, rec prekey.KyberRecord) error {
	encoded, err := encode(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(id), encoded, 0).Err()
}

func (s *KyberPreKeyStore) MarkKyberPreKeyUsed(ctx context.Context, id prekey.ID) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return errkind.Wrap(errkind.InvalidKey, "redisstore: mark kyber pre-key used", err)
	}
	s.log.Debug("kyber pre-key consumed", zap.Uint32("id", uint32(id)))
	return nil
}

// SenderKeyStore is a Redis-backed SenderKeyStore.
type SenderKeyStore struct {
	rdb *redis.Client
	ns  string
}

var _ store.SenderKeyStore = (*SenderKeyStore)(nil)

func NewSenderKeyStore(rdb *redis.Client, namespace string) *SenderKeyStore {
	return &SenderKeyStore{rdb: rdb, ns: namespace + ":senderkey:"}
}

func (s *SenderKeyStore) key(sender address.ProtocolAddress, distributionID [16]byte) string {
	return fmt.Sprintf("%s%s:%x", s.ns, sender.String(), distributionID)
}

func (s *SenderKeyStore) StoreSenderKey(ctx context.Context, sender address.ProtocolAddress, distributionID [16]byte, record []byte) error {
	return s.rdb.Set(ctx, s.key(sender, distributionID), record, 0).Err()
}

func (s *SenderKeyStore) LoadSenderKey(ctx context.Context, sender address.ProtocolAddress, distributionID [16]byte) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, s.key(sender, distributionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidSession, "redisstore: load sender key", err)
	}
	return raw, nil
}
