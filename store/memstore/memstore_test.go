package memstore

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/arcanumlabs/ratchet/address"
	"github.com/arcanumlabs/ratchet/curve25519dh"
	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/arcanumlabs/ratchet/identity"
	"github.com/arcanumlabs/ratchet/prekey"
	"github.com/arcanumlabs/ratchet/session"
	"github.com/arcanumlabs/ratchet/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIdentityStoreTrustOnFirstUse(t *testing.T) {
	ctx := context.Background()
	self, err := identity.Generate()
	require.NoError(t, err)
	s := NewIdentityStore(zap.NewNop(), self, 42)

	got, err := s.GetIdentityKeyPair(ctx)
	require.NoError(t, err)
	require.True(t, got.Public.Equal(self.Public))

	regID, err := s.GetLocalRegistrationID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(42), regID)

	addr := address.New("alice", 1)
	remote, err := identity.Generate()
	require.NoError(t, err)

	trusted, err := s.IsTrustedIdentity(ctx, addr, remote.Public, store.Receiving)
	require.NoError(t, err)
	require.True(t, trusted, "an address with no recorded identity is trusted on first use")

	changed, err := s.SaveIdentity(ctx, addr, remote.Public)
	require.NoError(t, err)
	require.False(t, changed, "first save is never a change")

	other, err := identity.Generate()
	require.NoError(t, err)
	trusted, err = s.IsTrustedIdentity(ctx, addr, other.Public, store.Receiving)
	require.NoError(t, err)
	require.False(t, trusted, "a different key for an already-known address is untrusted")

	changed, err = s.SaveIdentity(ctx, addr, other.Public)
	require.NoError(t, err)
	require.True(t, changed)
}

func TestSessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore(zap.NewNop())
	addr := address.New("bob", 1)

	fresh, err := s.LoadSession(ctx, addr)
	require.NoError(t, err)
	require.True(t, fresh.IsFresh())

	rec := session.NewRecord()
	rec.Current.Version = session.CurrentVersion
	require.NoError(t, s.StoreSession(ctx, addr, rec))

	loaded, err := s.LoadSession(ctx, addr)
	require.NoError(t, err)
	require.Same(t, rec, loaded)
}

func TestPreKeyStoreLoadStoreRemove(t *testing.T) {
	ctx := context.Background()
	s := NewPreKeyStore(zap.NewNop())

	_, err := s.LoadPreKey(ctx, 1)
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.InvalidKey, kind)

	kp, err := curve25519dh.Generate(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, s.StorePreKey(ctx, 1, prekey.Record{ID: 1, KeyPair: kp}))

	loaded, err := s.LoadPreKey(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, kp, loaded.KeyPair)

	require.NoError(t, s.RemovePreKey(ctx, 1))
	_, err = s.LoadPreKey(ctx, 1)
	require.Error(t, err)
}

func TestSignedPreKeyStoreLoadStore(t *testing.T) {
	ctx := context.Background()
	s := NewSignedPreKeyStore()

	_, err := s.LoadSignedPreKey(ctx, 9)
	require.Error(t, err)

	kp, err := curve25519dh.Generate(rand.Reader)
	require.NoError(t, err)
	rec := prekey.SignedRecord{ID: 9, KeyPair: kp, Timestamp: 123}
	require.NoError(t, s.StoreSignedPreKey(ctx, 9, rec))

	loaded, err := s.LoadSignedPreKey(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, rec, loaded)
}

func TestKyberPreKeyStoreMarkUsedRemoves(t *testing.T) {
	ctx := context.Background()
	s := NewKyberPreKeyStore(zap.NewNop())

	rec := prekey.KyberRecord{ID: 4, Timestamp: 1}
	require.NoError(t, s.StoreKyberPreKey(ctx, 4, rec))

	loaded, err := s.LoadKyberPreKey(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, rec, loaded)

	require.NoError(t, s.MarkKyberPreKeyUsed(ctx, 4))
	_, err = s.LoadKyberPreKey(ctx, 4)
	require.Error(t, err)
}

func TestSenderKeyStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSenderKeyStore()
	addr := address.New("group-member", 1)
	var dist [16]byte
	dist[0] = 0x01

	missing, err := s.LoadSenderKey(ctx, addr, dist)
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, s.StoreSenderKey(ctx, addr, dist, []byte("sender-key-state")))
	loaded, err := s.LoadSenderKey(ctx, addr, dist)
	require.NoError(t, err)
	require.Equal(t, []byte("sender-key-state"), loaded)
}
