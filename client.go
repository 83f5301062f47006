// Package ratchet is the top-level glue: a Client wires the store
// contracts to the session builder and session cipher behind an
// address-keyed Encrypt/Decrypt pair.
//
// Store-mutating side effects triggered by a decrypt — removing a
// consumed one-time pre-key, marking a kyber pre-key used, persisting
// the advanced session — run only after Decrypt itself has returned
// successfully, preserving the trial-clone-then-commit discipline
// session.Record.Decrypt already applies internally.
package ratchet

import (
	"context"
	"sync"
	"time"

	"github.com/arcanumlabs/ratchet/address"
	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/arcanumlabs/ratchet/prekey"
	"github.com/arcanumlabs/ratchet/protocol"
	"github.com/arcanumlabs/ratchet/session"
	"github.com/arcanumlabs/ratchet/store"
	"go.uber.org/zap"
)

// Client is the caller-facing handle a process holds onto its own
// identity and its stores. It is safe for concurrent use: per-address
// operations are serialized against each other, while operations against
// different addresses proceed independently.
type Client struct {
	identity store.IdentityKeyStore
	sessions store.SessionStore
	preKeys  store.PreKeyStore
	signed   store.SignedPreKeyStore
	kyber    store.KyberPreKeyStore
	log      *zap.Logger

	now func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a Client over the given store contracts. kyber may be
// nil for a deployment that never provisions kyber pre-keys; any
// inbound message that references one then fails pre-key resolution
// with errkind.InvalidKey. log may be nil, in which case a no-op
// logger is used.
func New(identity store.IdentityKeyStore, sessions store.SessionStore, preKeys store.PreKeyStore, signed store.SignedPreKeyStore, kyber store.KyberPreKeyStore, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		identity: identity,
		sessions: sessions,
		preKeys:  preKeys,
		signed:   signed,
		kyber:    kyber,
		log:      log,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-address mutex serializing Establish/Encrypt/
// Decrypt against addr's session record, creating it on first use.
func (c *Client) lockFor(addr address.ProtocolAddress) *sync.Mutex {
	key := addr.String()
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	mu, ok := c.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[key] = mu
	}
	return mu
}

// EstablishOutbound runs the initiator side of the X3DH/PQXDH
// handshake against a freshly fetched bundle for addr,
// checking the bundle's identity key against the trust-on-first-use
// table before installing the new session state.
func (c *Client) EstablishOutbound(ctx context.Context, addr address.ProtocolAddress, bundle prekey.Bundle) error {
	mu := c.lockFor(addr)
	mu.Lock()
	defer mu.Unlock()

	cid := address.NewCorrelationID()
	c.log.Debug("establishing outbound session", zap.String("address", addr.String()), zap.String("correlation_id", string(cid)))

	trusted, err := c.identity.IsTrustedIdentity(ctx, addr, bundle.IdentityKey, store.Sending)
	if err != nil {
		return err
	}
	if !trusted {
		return errkind.Newf(errkind.UntrustedIdentity, "pre-key bundle for %s carries an untrusted identity key", addr)
	}

	local, err := c.identity.GetIdentityKeyPair(ctx)
	if err != nil {
		return err
	}
	regID, err := c.identity.GetLocalRegistrationID(ctx)
	if err != nil {
		return err
	}

	rec, err := c.sessions.LoadSession(ctx, addr)
	if err != nil {
		return err
	}
	if err := session.InitFromBundle(rec, local, regID, bundle, c.now()); err != nil {
		return err
	}
	if _, err := c.identity.SaveIdentity(ctx, addr, bundle.IdentityKey); err != nil {
		return err
	}
	return c.sessions.StoreSession(ctx, addr, rec)
}

// Encrypt frames plaintext for addr under its current session,
// persisting the advanced sender chain before returning.
func (c *Client) Encrypt(ctx context.Context, addr address.ProtocolAddress, plaintext []byte) (protocol.Envelope, error) {
	mu := c.lockFor(addr)
	mu.Lock()
	defer mu.Unlock()

	cid := address.NewCorrelationID()
	c.log.Debug("encrypting", zap.String("address", addr.String()), zap.String("correlation_id", string(cid)))

	rec, err := c.sessions.LoadSession(ctx, addr)
	if err != nil {
		return protocol.Envelope{}, err
	}
	env, err := rec.Encrypt(plaintext, c.now())
	if err != nil {
		return protocol.Envelope{}, err
	}
	if err := c.sessions.StoreSession(ctx, addr, rec); err != nil {
		return protocol.Envelope{}, err
	}
	return env, nil
}

// Decrypt opens an inbound envelope from addr. If env carries a
// PreKeySignalMessage whose base key hasn't already built a session,
// the referenced signed/one-time/kyber pre-keys are loaded from the
// configured stores on demand; once session.Record.Decrypt succeeds,
// any one-time pre-key or kyber pre-key it consumed is removed from
// its store and the advanced record is persisted. A failed decrypt
// leaves every store untouched.
func (c *Client) Decrypt(ctx context.Context, addr address.ProtocolAddress, env protocol.Envelope) ([]byte, error) {
	mu := c.lockFor(addr)
	mu.Lock()
	defer mu.Unlock()

	local, err := c.identity.GetIdentityKeyPair(ctx)
	if err != nil {
		return nil, err
	}
	regID, err := c.identity.GetLocalRegistrationID(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := c.sessions.LoadSession(ctx, addr)
	if err != nil {
		return nil, err
	}

	var consumed consumedPreKeys
	resolve := c.resolver(ctx, &consumed)

	plaintext, err := rec.Decrypt(env, local, regID, c.now(), resolve)
	if err != nil {
		return nil, err
	}

	if consumed.hasOneTime {
		if err := c.preKeys.RemovePreKey(ctx, consumed.oneTimeID); err != nil {
			return nil, err
		}
	}
	if consumed.hasKyber {
		if c.kyber == nil {
			return nil, errkind.New(errkind.InvalidKey, "decrypt consumed a kyber pre-key but no kyber store is configured")
		}
		if err := c.kyber.MarkKyberPreKeyUsed(ctx, consumed.kyberID); err != nil {
			return nil, err
		}
	}
	if err := c.sessions.StoreSession(ctx, addr, rec); err != nil {
		return nil, err
	}
	return plaintext, nil
}

// consumedPreKeys records which pre-key ids a resolver call selected,
// so Decrypt can remove/mark-used them only once the surrounding
// session.Record.Decrypt has fully succeeded.
type consumedPreKeys struct {
	hasOneTime bool
	oneTimeID  prekey.ID
	hasKyber   bool
	kyberID    prekey.ID
}

// resolver builds a session.PreKeyResolveFunc backed by this Client's
// stores, recording into consumed which one-time/kyber pre-keys were
// selected for later, post-success removal.
func (c *Client) resolver(ctx context.Context, consumed *consumedPreKeys) session.PreKeyResolveFunc {
	return func(msg protocol.PreKeySignalMessage) (session.IncomingPreKeyParams, error) {
		signedRec, err := c.signed.LoadSignedPreKey(ctx, prekey.ID(msg.SignedPreKeyID))
		if err != nil {
			return session.IncomingPreKeyParams{}, err
		}
		params := session.IncomingPreKeyParams{
			RegistrationID: msg.RegistrationID,
			SignedPreKey:   signedRec.KeyPair,
		}

		if msg.HasPreKeyID {
			oneTimeRec, err := c.preKeys.LoadPreKey(ctx, prekey.ID(msg.PreKeyID))
			if err != nil {
				return session.IncomingPreKeyParams{}, err
			}
			kp := oneTimeRec.KeyPair
			params.OneTimePreKey = &kp
			consumed.hasOneTime = true
			consumed.oneTimeID = prekey.ID(msg.PreKeyID)
		}

		if msg.HasKyberPreKey {
			if c.kyber == nil {
				return session.IncomingPreKeyParams{}, errkind.New(errkind.InvalidKey, "message references a kyber pre-key but no kyber store is configured")
			}
			kyberRec, err := c.kyber.LoadKyberPreKey(ctx, prekey.ID(msg.KyberPreKeyID))
			if err != nil {
				return session.IncomingPreKeyParams{}, err
			}
			priv := kyberRec.Private
			params.KyberPreKey = &priv
			params.KyberCiphertext = msg.KyberCiphertext
			consumed.hasKyber = true
			consumed.kyberID = prekey.ID(msg.KyberPreKeyID)
		}

		return params, nil
	}
}
