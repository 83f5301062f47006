package session

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"testing"
	"time"

	"github.com/arcanumlabs/ratchet/identity"
	"github.com/arcanumlabs/ratchet/protocol"
	mrand "github.com/ericlagergren/saferand"
	"github.com/stretchr/testify/require"
)

// pairedPQRecords is pairedRecords with the Triple Ratchet engaged:
// both sides bootstrap their SPQR chains from the same shared secret,
// the initiator holding the send_ek role and the responder send_ct,
// exactly as InitFromBundle/ProcessPreKeyMessage wire them.
func pairedPQRecords(t *testing.T) (alice *Record, bob *Record) {
	t.Helper()
	alice, bob = pairedRecords(t)

	var bootstrap [32]byte
	for i := range bootstrap {
		bootstrap[i] = 0x5A
	}
	alicePQ, err := NewPQRatchetInitiator(bootstrap)
	require.NoError(t, err)
	bobPQ, err := NewPQRatchetResponder(bootstrap)
	require.NoError(t, err)

	alice.Current.HasPQRatchet = true
	alice.Current.PQ = alicePQ
	bob.Current.HasPQRatchet = true
	bob.Current.PQ = bobPQ
	return alice, bob
}

// TestTripleRatchetCompletesEpoch ping-pongs enough messages for the
// chunked ML-KEM handshake to ship a full public key and ciphertext,
// complete an epoch, and mix the epoch secret into both root keys —
// after which messaging must keep working, proving the mixes landed at
// the same point in both sides' root-key sequences.
func TestTripleRatchetCompletesEpoch(t *testing.T) {
	alice, bob := pairedPQRecords(t)
	now := time.Now()

	const rounds = 100
	for i := 0; i < rounds; i++ {
		outA := fmt.Sprintf("alice #%d", i)
		env, err := alice.Encrypt([]byte(outA), now)
		require.NoError(t, err, "round %d", i)
		got, err := bob.Decrypt(env, identity.KeyPair{}, 0, now, failResolve(t))
		require.NoError(t, err, "round %d", i)
		require.Equal(t, outA, string(got))

		outB := fmt.Sprintf("bob #%d", i)
		env, err = bob.Encrypt([]byte(outB), now)
		require.NoError(t, err, "round %d", i)
		got, err = alice.Decrypt(env, identity.KeyPair{}, 0, now, failResolve(t))
		require.NoError(t, err, "round %d", i)
		require.Equal(t, outB, string(got))
	}

	require.GreaterOrEqual(t, alice.Current.PQ.Chain.CurrentEpoch(), uint64(2),
		"alice must have completed at least one post-quantum epoch")
	require.GreaterOrEqual(t, bob.Current.PQ.Chain.CurrentEpoch(), uint64(2),
		"bob must have completed at least one post-quantum epoch")
}

// TestPQSessionGobRoundTrip persists both records mid-epoch — with
// header chunks in flight — and resumes the conversation from the
// decoded copies, the path a redisstore-backed deployment exercises on
// every message.
func TestPQSessionGobRoundTrip(t *testing.T) {
	alice, bob := pairedPQRecords(t)
	now := time.Now()

	for i := 0; i < 10; i++ {
		env, err := alice.Encrypt([]byte("ping"), now)
		require.NoError(t, err)
		_, err = bob.Decrypt(env, identity.KeyPair{}, 0, now, failResolve(t))
		require.NoError(t, err)

		env, err = bob.Encrypt([]byte("pong"), now)
		require.NoError(t, err)
		_, err = alice.Decrypt(env, identity.KeyPair{}, 0, now, failResolve(t))
		require.NoError(t, err)
	}

	reload := func(r *Record) *Record {
		var buf bytes.Buffer
		require.NoError(t, gob.NewEncoder(&buf).Encode(r))
		var out Record
		require.NoError(t, gob.NewDecoder(&buf).Decode(&out))
		return &out
	}
	alice2, bob2 := reload(alice), reload(bob)

	for i := 0; i < 5; i++ {
		env, err := alice2.Encrypt([]byte("restored ping"), now)
		require.NoError(t, err)
		got, err := bob2.Decrypt(env, identity.KeyPair{}, 0, now, failResolve(t))
		require.NoError(t, err)
		require.Equal(t, "restored ping", string(got))

		env, err = bob2.Encrypt([]byte("restored pong"), now)
		require.NoError(t, err)
		got, err = alice2.Decrypt(env, identity.KeyPair{}, 0, now, failResolve(t))
		require.NoError(t, err)
		require.Equal(t, "restored pong", string(got))
	}
}

// TestOutOfOrderBurst delivers a burst of messages in a shuffled order
// and expects every one to decrypt exactly once.
func TestOutOfOrderBurst(t *testing.T) {
	alice, bob := pairedRecords(t)
	now := time.Now()

	const n = 20
	type delivery struct {
		env  protocol.Envelope
		body string
	}
	envs := make([]delivery, n)
	for i := 0; i < n; i++ {
		body := fmt.Sprintf("burst #%d", i)
		env, err := alice.Encrypt([]byte(body), now)
		require.NoError(t, err)
		envs[i] = delivery{env: env, body: body}
	}

	mrand.Shuffle(len(envs), func(i, j int) {
		envs[i], envs[j] = envs[j], envs[i]
	})

	for _, e := range envs {
		got, err := bob.Decrypt(e.env, identity.KeyPair{}, 0, now, failResolve(t))
		require.NoError(t, err)
		require.Equal(t, e.body, string(got))
	}
}
