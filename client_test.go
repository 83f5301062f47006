package ratchet

import (
	"context"
	"testing"

	"github.com/arcanumlabs/ratchet/address"
	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/arcanumlabs/ratchet/identity"
	"github.com/arcanumlabs/ratchet/prekey"
	"github.com/arcanumlabs/ratchet/store/memstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T) (*Client, *memstore.IdentityStore) {
	t.Helper()
	self, err := identity.Generate()
	require.NoError(t, err)
	log := zap.NewNop()
	ids := memstore.NewIdentityStore(log, self, 1)
	return New(
		ids,
		memstore.NewSessionStore(log),
		memstore.NewPreKeyStore(log),
		memstore.NewSignedPreKeyStore(),
		memstore.NewKyberPreKeyStore(log),
		log,
	), ids
}

func TestEncryptWithoutSession(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Encrypt(context.Background(), address.New("nobody", 1), []byte("hi"))
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.InvalidSession, kind)
}

func TestEstablishOutboundRejectsChangedIdentity(t *testing.T) {
	c, ids := newTestClient(t)
	ctx := context.Background()
	addr := address.New("bob", 1)

	known, err := identity.Generate()
	require.NoError(t, err)
	_, err = ids.SaveIdentity(ctx, addr, known.Public)
	require.NoError(t, err)

	imposter, err := identity.Generate()
	require.NoError(t, err)
	err = c.EstablishOutbound(ctx, addr, prekey.Bundle{IdentityKey: imposter.Public})
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.UntrustedIdentity, kind)
}
