// This file implements the session cipher: Encrypt
// advances the sender chain and frames a SignalMessage, optionally
// wrapping it in a PreKeySignalMessage while the session is Pending;
// Decrypt is the full receive path, including the pre-key
// short-circuit, on-demand DH ratchet, and bounded out-of-order key
// cache.
//
// Decrypt never calls into a store directly: SessionStore already
// imports session.Record (store/store.go), so session cannot import
// store back without a cycle. Callers resolve the pre-key material an
// inbound PreKeySignalMessage references through PreKeyResolveFunc and
// are responsible for any store-mutating follow-up (removing a
// consumed one-time pre-key, marking a kyber pre-key used) once
// Decrypt returns successfully.
package session

import (
	"time"

	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/arcanumlabs/ratchet/identity"
	"github.com/arcanumlabs/ratchet/kdf"
	"github.com/arcanumlabs/ratchet/protocol"
	"github.com/arcanumlabs/ratchet/spqr"
)

// PreKeyResolveFunc looks up the local pre-key material an inbound
// PreKeySignalMessage selects and reports it back as
// IncomingPreKeyParams. It must not mutate any store; Decrypt only
// calls it when the message's base key hasn't already built a session
// (the pre-key short-circuit).
type PreKeyResolveFunc func(msg protocol.PreKeySignalMessage) (IncomingPreKeyParams, error)

// Encrypt advances the current state's sender chain by one step and
// frames the result as a SignalMessage, wrapping it in a
// PreKeySignalMessage while the session is Pending.
func (r *Record) Encrypt(plaintext []byte, now time.Time) (protocol.Envelope, error) {
	state := r.Current
	if state == nil || !state.HasSenderChain {
		return protocol.Envelope{}, errkind.New(errkind.InvalidSession, "no sender chain")
	}
	if state.IsStale(now) {
		return protocol.Envelope{}, errkind.New(errkind.InvalidSession, "unacknowledged session is too old to send on")
	}

	ck := state.Sender.ChainKey
	nextCK, seed := ck.Advance()
	mk := kdf.DeriveMessageKeys(seed, ck.Index)

	ciphertext, err := aesCBCEncrypt(mk.CipherKey[:], mk.IV[:], plaintext)
	if err != nil {
		return protocol.Envelope{}, err
	}

	sm := protocol.SignalMessage{
		RatchetKey:      serialize33FromRaw(state.Sender.RatchetKeyPair.Public),
		Counter:         mk.Counter,
		PreviousCounter: state.PreviousCounter,
		Ciphertext:      ciphertext,
	}

	if state.HasPQRatchet {
		out, secret, err := state.PQ.Emit()
		if err != nil {
			return protocol.Envelope{}, err
		}
		sm.PQRatchet = out
		if secret != nil {
			mixed, err := spqr.MixIntoRootKey(*secret, [32]byte(state.RootKey))
			if err != nil {
				return protocol.Envelope{}, err
			}
			state.RootKey = kdf.RootKey(mixed)
		}
	}

	body := sm.Encode(state.Version)

	senderID := serialize33(state.LocalIdentity)
	receiverID := serialize33(state.RemoteIdentity)
	mac := protocol.ComputeMAC(mk.MacKey[:], senderID, receiverID, body)
	wire := append(body, mac[:]...)

	state.Sender.ChainKey = nextCK

	if !state.HasPendingPreKey {
		return protocol.Envelope{Type: protocol.TypeSignal, Bytes: wire}, nil
	}

	ppk := state.PendingPreKey
	pkm := protocol.PreKeySignalMessage{
		SessionVersion:  state.Version,
		RegistrationID:  state.LocalRegistrationID,
		HasPreKeyID:     ppk.HasPreKeyID,
		PreKeyID:        ppk.PreKeyID,
		SignedPreKeyID:  ppk.SignedPreKeyID,
		BaseKey:         serialize33FromRaw(ppk.BaseKey),
		IdentityKey:     senderID,
		Message:         wire,
		HasKyberPreKey:  ppk.HasKyberPreKey,
		KyberPreKeyID:   ppk.KyberPreKeyID,
		KyberCiphertext: ppk.KyberCiphertext,
	}
	out, err := pkm.Encode()
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Envelope{Type: protocol.TypePreKeySignal, Bytes: out}, nil
}

// serialize33 returns the DJB-prefixed wire form of an identity Key.
func serialize33(k identity.Key) [33]byte {
	var out [33]byte
	copy(out[:], k.Serialize())
	return out
}

// serialize33FromRaw wraps a raw 32-byte Curve25519 public key in the
// DJB-prefixed wire form used by message framing.
func serialize33FromRaw(pub [32]byte) [33]byte {
	return serialize33(identity.FromPublic(pub))
}

// advanceOrFetch returns the MessageKeys for counter against rc,
// either from the bounded skipped-key cache (counter behind the
// chain's current index) or by advancing the chain up to counter and
// caching any intermediate keys skipped along the way.
func advanceOrFetch(rc *ReceiverChain, counter uint32) (kdf.MessageKeys, error) {
	if counter < rc.ChainKey.Index {
		for i, sk := range rc.MessageKeys {
			if sk.Counter == counter {
				rc.MessageKeys = append(rc.MessageKeys[:i], rc.MessageKeys[i+1:]...)
				return kdf.MessageKeys{CipherKey: sk.CipherKey, MacKey: sk.MacKey, IV: sk.IV, Counter: counter}, nil
			}
		}
		return kdf.MessageKeys{}, errkind.New(errkind.DuplicateMessage, "message key already consumed")
	}
	if uint64(counter)-uint64(rc.ChainKey.Index) > MaxJump {
		return kdf.MessageKeys{}, errkind.Newf(errkind.KeyJump, "counter %d skips past chain index %d by more than %d", counter, rc.ChainKey.Index, MaxJump)
	}

	var mk kdf.MessageKeys
	for rc.ChainKey.Index <= counter {
		idx := rc.ChainKey.Index
		next, seed := rc.ChainKey.Advance()
		derived := kdf.DeriveMessageKeys(seed, idx)
		if idx == counter {
			mk = derived
		} else {
			rc.MessageKeys = append(rc.MessageKeys, StoredMessageKey{
				Counter:   idx,
				CipherKey: derived.CipherKey,
				MacKey:    derived.MacKey,
				IV:        derived.IV,
			})
			if len(rc.MessageKeys) > MaxMessageKeys {
				rc.MessageKeys = rc.MessageKeys[1:]
			}
		}
		rc.ChainKey = next
	}
	return mk, nil
}

// Decrypt is the full receive path: for a PreKeySignalMessage it runs the pre-key short-circuit and, if
// needed, resolves and installs a fresh session via
// ProcessPreKeyMessage; it then tries the embedded (or bare)
// SignalMessage against each SessionState in order (current first,
// then history), ratcheting on demand, verifying the MAC, and
// decrypting — committing the winning clone back into the Record only
// once everything has succeeded, and retiring the snapshot the clone
// descends from so no pre-advance copy survives a consumed key.
func (r *Record) Decrypt(env protocol.Envelope, local identity.KeyPair, localRegistrationID uint32, now time.Time, resolve PreKeyResolveFunc) ([]byte, error) {
	var smBytes []byte

	switch env.Type {
	case protocol.TypePreKeySignal:
		pkm, err := protocol.ParsePreKeySignalMessage(env.Bytes)
		if err != nil {
			return nil, err
		}
		remoteIdentity, err := identity.Parse(pkm.IdentityKey[:])
		if err != nil {
			return nil, err
		}
		if !r.HasSessionState(pkm.SessionVersion, stripDJB(pkm.BaseKey)) {
			params, err := resolve(pkm)
			if err != nil {
				return nil, err
			}
			params.RemoteIdentity = remoteIdentity
			params.SessionVersion = pkm.SessionVersion
			params.BaseKey = stripDJB(pkm.BaseKey)
			if err := ProcessPreKeyMessage(r, local, localRegistrationID, params); err != nil {
				return nil, err
			}
		}
		smBytes = pkm.Message
	case protocol.TypeSignal:
		smBytes = env.Bytes
	default:
		return nil, errkind.New(errkind.InvalidMessage, "unrecognized envelope type")
	}

	sm, macTrailer, err := protocol.ParseSignalMessage(smBytes)
	if err != nil {
		return nil, err
	}
	senderPub := stripDJB(sm.RatchetKey)

	var lastErr error = errkind.New(errkind.InvalidSession, "no session state matches this message")
	for i, st := range r.States() {
		isCurrent := r.Current != nil && st == r.Current

		clone := st.Clone()
		idx := clone.findReceiverChain(senderPub)
		ratcheted := false
		if idx == -1 {
			if !clone.HasSenderChain {
				lastErr = errkind.New(errkind.InvalidSession, "no sender chain to ratchet from")
				continue
			}

			if err := dhRatchetRecvStep(clone, senderPub); err != nil {
				lastErr = err
				continue
			}

			// A fresh epoch secret lands between the two root-key
			// steps: the peer's sending chain for this message
			// predates the mix, while every chain derived from here on
			// follows it.
			if clone.HasPQRatchet {
				if err := receivePQ(clone, sm.PQRatchet); err != nil {
					lastErr = err
					continue
				}
			}

			if err := dhRatchetSendStep(clone, senderPub); err != nil {
				lastErr = err
				continue
			}
			idx = clone.findReceiverChain(senderPub)
			ratcheted = true
		}

		rc := &clone.Receivers[idx]
		mk, err := advanceOrFetch(rc, sm.Counter)
		if err != nil {
			// A consumed counter is authoritative: the message was
			// already decrypted by this state's lineage, so replay must
			// not fall through to an older state that could re-derive
			// the key.
			if kind, ok := errkind.Of(err); ok && kind == errkind.DuplicateMessage {
				return nil, err
			}
			lastErr = err
			continue
		}

		senderID := serialize33(clone.RemoteIdentity)
		receiverID := serialize33(clone.LocalIdentity)
		if !protocol.VerifyMAC(mk.MacKey[:], senderID, receiverID, sm.MACScope(), macTrailer) {
			lastErr = errkind.New(errkind.InvalidMac, "mac mismatch")
			continue
		}

		plaintext, err := aesCBCDecrypt(mk.CipherKey[:], mk.IV[:], sm.Ciphertext)
		if err != nil {
			lastErr = err
			continue
		}

		// With no ratchet step pending, the pq_ratchet payload is
		// dispatched only after the message has authenticated, so a
		// forged chunk can't perturb the epoch machine.
		if clone.HasPQRatchet && !ratcheted {
			if err := receivePQ(clone, sm.PQRatchet); err != nil {
				lastErr = err
				continue
			}
		}

		// First inbound message acknowledges the session: Pending ->
		// Established, so later sends stop wrapping in a
		// PreKeySignalMessage.
		clone.HasPendingPreKey = false
		clone.PendingPreKey = PendingPreKey{}

		// Commit the clone, retiring the snapshot it descends from: a
		// superseded snapshot could re-derive the message key consumed
		// above, so it is replaced, never kept. The current state is
		// archived only on a genuine DH-ratchet step or when a
		// historical state is promoted in its place.
		if isCurrent {
			r.CommitCurrent(clone, ratcheted)
		} else {
			histIdx := i
			if r.Current != nil {
				histIdx = i - 1
			}
			r.PromoteFromHistory(histIdx, clone)
		}
		return plaintext, nil
	}
	return nil, lastErr
}

// receivePQ dispatches an inbound pq_ratchet payload into the state's
// SPQR engine and, when that completes an epoch, mixes the fresh epoch
// secret into the root key.
func receivePQ(s *State, payload []byte) error {
	secret, err := s.PQ.Receive(payload)
	if err != nil {
		return err
	}
	if secret != nil {
		mixed, err := spqr.MixIntoRootKey(*secret, [32]byte(s.RootKey))
		if err != nil {
			return err
		}
		s.RootKey = kdf.RootKey(mixed)
	}
	return nil
}

func stripDJB(b [33]byte) [32]byte {
	var out [32]byte
	copy(out[:], b[1:])
	return out
}
