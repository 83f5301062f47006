package session

import (
	"crypto/rand"

	"github.com/arcanumlabs/ratchet/curve25519dh"
	"github.com/arcanumlabs/ratchet/kdf"
)

// The DH ratchet is split into its two root-key steps so the cipher
// can slot an SPQR epoch-secret mix between them: the receiving chain
// must be derived from the root key as the peer's sending chain was
// (pre-mix), while the fresh sending chain picks up the mixed root.
//
// Both halves mutate s in place; callers operating through the cipher
// always run them on a Clone so failures don't touch committed state.

// dhRatchetRecvStep consumes the new sender ratchet public key,
// deriving a fresh receiving chain from the old local ratchet key
// pair.
func dhRatchetRecvStep(s *State, newSenderRatchetPublic [curve25519dh.PublicKeySize]byte) error {
	dh, err := curve25519dh.DH(s.Sender.RatchetKeyPair.Private, newSenderRatchetPublic)
	if err != nil {
		return err
	}
	rk, recvCK := kdf.RootKey(s.RootKey).Step(dh)
	s.RootKey = rk
	s.addReceiverChain(ReceiverChain{
		SenderRatchetPublic: newSenderRatchetPublic,
		ChainKey:            recvCK,
	})
	return nil
}

// dhRatchetSendStep generates a new local ratchet key pair, derives a
// fresh sending chain from it, and records the previous sender chain's
// counter for the next outbound message's PreviousCounter field.
func dhRatchetSendStep(s *State, newSenderRatchetPublic [curve25519dh.PublicKeySize]byte) error {
	newRatchet, err := curve25519dh.Generate(rand.Reader)
	if err != nil {
		return err
	}

	dh, err := curve25519dh.DH(newRatchet.Private, newSenderRatchetPublic)
	if err != nil {
		return err
	}
	rk, sendCK := kdf.RootKey(s.RootKey).Step(dh)
	s.RootKey = rk

	if s.HasSenderChain {
		s.PreviousCounter = s.Sender.ChainKey.Index
	}
	s.Sender = SenderChain{RatchetKeyPair: newRatchet, ChainKey: sendCK}
	s.HasSenderChain = true
	return nil
}
