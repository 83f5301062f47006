// This file wires the SPQR epoch engine (package spqr) into the
// session as the "Triple Ratchet" augmentation: a PQRatchetState rides
// on State, one per session, and is consulted by Encrypt/Decrypt every
// message so a freshly produced epoch secret gets mixed into the root
// key before the next DH-ratchet step.
//
// Receive and Emit are deliberately separate: an inbound message's
// pq_ratchet payload is dispatched during Decrypt (Receive), while
// outbound chunks are minted only during Encrypt (Emit). A single
// combined entry point would consume outbound chunks inside Decrypt
// and throw them away, starving the peer of the chunks it is waiting
// on.
package session

import (
	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/arcanumlabs/ratchet/pqkem"
	"github.com/arcanumlabs/ratchet/spqr"
)

// PQRatchetState drives one session's Triple Ratchet augmentation: the
// symmetric epoch Chain plus whichever chunked-KEM role
// this side currently holds for the epoch in flight.
// Exactly one of EK/CT is non-nil; the role swaps every epoch.
type PQRatchetState struct {
	Chain *spqr.Chain

	EK        *spqr.EKSide
	ekCt1Dec  *spqr.PolyDecoder
	ekAckSent bool

	CT     *spqr.CTSide
	ctEnc  *spqr.PolyEncoder
	ctSent uint32

	// pendingMix holds the CT side's epoch secret between encapsulation
	// and the Ct2 send. The secret is handed to the session for
	// root-key mixing only once Ct2 actually goes out, so both peers
	// mix at the same position in the message stream: the CT side when
	// it emits the Ct2-carrying message, the EK side when it receives
	// it. Mixing at encapsulation instead would advance this side's
	// root key several messages before the peer's.
	pendingMix *[32]byte

	// msgIndex numbers this side's outbound SPQR messages within the
	// current epoch, carried as the wire format's index field.
	msgIndex uint32
}

func ct1DecoderChunks() int {
	return (4 + pqkem.CiphertextSize + spqr.ChunkSize - 1) / spqr.ChunkSize
}

// NewPQRatchetInitiator starts this session's SPQR engine as the A2B
// direction, holding the send_ek role for epoch 1 — used by the X3DH
// initiator once it has derived the shared secret the Chain
// bootstraps from.
func NewPQRatchetInitiator(sharedSecret [32]byte) (*PQRatchetState, error) {
	chain, err := spqr.NewChain(spqr.A2B, sharedSecret)
	if err != nil {
		return nil, err
	}
	ek, err := spqr.NewEKSide(1)
	if err != nil {
		return nil, err
	}
	if err := ek.Start(); err != nil {
		return nil, err
	}
	return &PQRatchetState{Chain: chain, EK: ek, ekCt1Dec: spqr.NewPolyDecoder(ct1DecoderChunks())}, nil
}

// NewPQRatchetResponder starts this session's SPQR engine as the B2A
// direction, holding the send_ct role for epoch 1.
func NewPQRatchetResponder(sharedSecret [32]byte) (*PQRatchetState, error) {
	chain, err := spqr.NewChain(spqr.B2A, sharedSecret)
	if err != nil {
		return nil, err
	}
	return &PQRatchetState{Chain: chain, CT: spqr.NewCTSide(1)}, nil
}

// Clone deep-copies p for the trial-clone-then-commit discipline a
// Decrypt attempt applies to the surrounding State.
func (p *PQRatchetState) Clone() *PQRatchetState {
	if p == nil {
		return nil
	}
	cp := &PQRatchetState{Chain: p.Chain.Clone(), ekAckSent: p.ekAckSent, ctSent: p.ctSent, msgIndex: p.msgIndex}
	if p.pendingMix != nil {
		mix := *p.pendingMix
		cp.pendingMix = &mix
	}
	if p.EK != nil {
		cp.EK = p.EK.Clone()
	}
	if p.ekCt1Dec != nil {
		cp.ekCt1Dec = p.ekCt1Dec.Clone()
	}
	if p.CT != nil {
		cp.CT = p.CT.Clone()
	}
	if p.ctEnc != nil {
		cp.ctEnc = p.ctEnc.Clone()
	}
	return cp
}

// roleEpoch is the epoch the active chunked-KEM role is driving, the
// state epoch the epoch-validation rules compare against.
func (p *PQRatchetState) roleEpoch() uint64 {
	if p.EK != nil {
		return p.EK.Epoch()
	}
	if p.CT != nil {
		return p.CT.Epoch()
	}
	return p.Chain.CurrentEpoch()
}

// Receive feeds one inbound SPQR wire message into whichever role is
// active and returns a freshly produced epoch secret when this step
// completed one — which happens only on the EK side's Ct2 receipt; the
// CT side's secret surfaces through Emit when its Ct2 goes out.
// Replays from prior epochs are dropped silently.
func (p *PQRatchetState) Receive(inbound []byte) (*[32]byte, error) {
	if len(inbound) == 0 {
		return nil, nil
	}
	msg, err := spqr.Decode(inbound)
	if err != nil {
		return nil, err
	}
	action, err := spqr.ValidateEpoch(p.roleEpoch(), msg.Epoch, p.atTerminal())
	if err != nil {
		return nil, err
	}
	switch action {
	case spqr.ActionDrop:
		return nil, nil
	case spqr.ActionAdvance:
		if err := p.rollEpoch(); err != nil {
			return nil, err
		}
	}
	secret, err := p.dispatch(msg)
	if err != nil {
		return nil, err
	}
	if secret != nil {
		if err := p.Chain.AddEpoch(p.Chain.CurrentEpoch()+1, *secret); err != nil {
			return nil, err
		}
	}
	return secret, nil
}

// Emit mints the next outbound chunk to attach to an outgoing
// SignalMessage's pq_ratchet field, or nil when this side has nothing
// to send for the epoch in flight. freshSecret is non-nil exactly when
// this emission is the Ct2 send that closes an epoch; the caller mixes
// it into the root key before the next DH-ratchet step.
func (p *PQRatchetState) Emit() (outbound []byte, freshSecret *[32]byte, err error) {
	if p.EK != nil {
		out, err := p.ekNextOutbound()
		return out, nil, err
	}
	if p.CT != nil {
		return p.ctNextOutbound()
	}
	return nil, nil, nil
}

func (p *PQRatchetState) atTerminal() bool {
	return p.CT != nil && p.CT.State() == spqr.CTCt2Sampled
}

// rollEpoch handles the ActionAdvance case of epoch validation: an
// inbound message already names epoch+1 while this side
// is idle at the CT-terminal state, so the CT role rolls forward to
// EK for the new epoch before the message is redispatched.
func (p *PQRatchetState) rollEpoch() error {
	if p.CT == nil || p.CT.State() != spqr.CTCt2Sampled {
		return errkind.New(errkind.InvalidSession, "spqr: epoch roll requested outside the ct2-terminal state")
	}
	next, err := p.CT.NextEpoch()
	if err != nil {
		return err
	}
	if err := next.Start(); err != nil {
		return err
	}
	p.CT = nil
	p.EK = next
	p.ekCt1Dec = spqr.NewPolyDecoder(ct1DecoderChunks())
	p.ekAckSent = false
	p.msgIndex = 0
	return nil
}

func (p *PQRatchetState) dispatch(msg spqr.Message) (*[32]byte, error) {
	if p.EK != nil {
		return p.ekDispatch(msg)
	}
	if p.CT != nil {
		return p.ctDispatch(msg)
	}
	return nil, errkind.New(errkind.InvalidSession, "spqr: no active role")
}

func (p *PQRatchetState) ekDispatch(msg spqr.Message) (*[32]byte, error) {
	switch msg.Type {
	case spqr.MsgCt1:
		if st := p.EK.State(); st == spqr.EKCt1Received || st == spqr.EKSentCt1Received {
			return nil, nil // ciphertext already reconstructed; redundancy chunk
		}
		p.ekCt1Dec.Add(msg.ChunkIndex, msg.ChunkData)
		if !p.ekCt1Dec.Ready() {
			return nil, nil
		}
		ct, err := p.ekCt1Dec.Decode()
		if err != nil {
			return nil, err
		}
		if err := p.EK.HandleCt1(ct); err != nil {
			return nil, err
		}
		return nil, nil
	case spqr.MsgCt2:
		secret, err := p.EK.HandleCt2(msg.ChunkData)
		if err != nil {
			return nil, err
		}
		next, err := p.EK.NextEpoch()
		if err != nil {
			return nil, err
		}
		p.EK = nil
		p.CT = next
		p.ctEnc = nil
		p.ctSent = 0
		p.msgIndex = 0
		return &secret, nil
	default:
		return nil, nil
	}
}

func (p *PQRatchetState) ctDispatch(msg spqr.Message) (*[32]byte, error) {
	switch msg.Type {
	case spqr.MsgHdr:
		if err := p.CT.AddHeaderChunk(msg.ChunkIndex, msg.ChunkData); err != nil {
			return nil, err
		}
		if p.CT.State() != spqr.CTHeaderReceived {
			return nil, nil
		}
		return p.ctEncapsulate()
	case spqr.MsgEk:
		if err := p.CT.AddHeaderChunk(msg.ChunkIndex, msg.ChunkData); err != nil {
			return nil, err
		}
		if p.CT.State() == spqr.CTHeaderReceived {
			return p.ctEncapsulate()
		}
		if err := p.CT.HandleEk(); err != nil {
			return nil, err
		}
		return nil, nil
	case spqr.MsgEkCt1Ack:
		// An Ek chunk piggybacking the peer's Ct1 acknowledgement.
		if err := p.CT.AddHeaderChunk(msg.ChunkIndex, msg.ChunkData); err != nil {
			return nil, err
		}
		if err := p.CT.HandleCt1Ack(); err != nil {
			return nil, err
		}
		return nil, nil
	case spqr.MsgCt1Ack:
		if err := p.CT.HandleCt1Ack(); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// ctEncapsulate runs the HeaderReceived -> Ct1Sampled transition: the
// epoch secret materializes here for the send_ct side. It advances the symmetric chain right away
// but defers the root-key mix to the Ct2 send (see pendingMix).
func (p *PQRatchetState) ctEncapsulate() (*[32]byte, error) {
	secret, err := p.CT.Encapsulate()
	if err != nil {
		return nil, err
	}
	enc, err := p.CT.CiphertextEncoder()
	if err != nil {
		return nil, err
	}
	if err := p.Chain.AddEpoch(p.Chain.CurrentEpoch()+1, secret); err != nil {
		return nil, err
	}
	p.pendingMix = &secret
	p.ctEnc = enc
	p.ctSent = 0
	return nil, nil
}

func (p *PQRatchetState) nextIndex() uint32 {
	idx := p.msgIndex
	p.msgIndex++
	return idx
}

func (p *PQRatchetState) ekNextOutbound() ([]byte, error) {
	ek := p.EK
	switch ek.State() {
	case spqr.EKKeysSampled:
		msg, err := ek.NextChunk()
		if err != nil {
			return nil, err
		}
		if ek.State() == spqr.EKHeaderSent {
			if err := ek.MarkEkSent(); err != nil {
				return nil, err
			}
		}
		msg.Index = p.nextIndex()
		return msg.Encode()
	case spqr.EKCt1Received:
		if err := ek.MarkEkSent(); err != nil {
			return nil, err
		}
		fallthrough
	case spqr.EKSentCt1Received:
		if p.ekAckSent {
			return nil, nil
		}
		p.ekAckSent = true
		return spqr.Message{Epoch: ek.Epoch(), Index: p.nextIndex(), Type: spqr.MsgCt1Ack}.Encode()
	default:
		return nil, nil
	}
}

func (p *PQRatchetState) ctNextOutbound() ([]byte, *[32]byte, error) {
	ct := p.CT
	switch ct.State() {
	case spqr.CTCt1Sampled, spqr.CTEkReceivedCt1Sampled:
		if p.ctEnc == nil {
			return nil, nil, nil
		}
		// Indices past NumDataChunks are erasure-coded redundancy; keep
		// emitting until the peer's Ct1Ack arrives so chunk loss never
		// wedges the epoch.
		msg := ct.NextCt1Chunk(p.ctEnc, p.ctSent)
		p.ctSent++
		msg.Index = p.nextIndex()
		out, err := msg.Encode()
		return out, nil, err
	case spqr.CTCt1Acknowledged:
		msg, err := ct.SendCt2()
		if err != nil {
			return nil, nil, err
		}
		next, err := ct.NextEpoch()
		if err != nil {
			return nil, nil, err
		}
		if err := next.Start(); err != nil {
			return nil, nil, err
		}
		msg.Index = p.nextIndex()
		out, err := msg.Encode()
		if err != nil {
			return nil, nil, err
		}
		secret := p.pendingMix
		p.pendingMix = nil
		p.CT = nil
		p.EK = next
		p.ekCt1Dec = spqr.NewPolyDecoder(ct1DecoderChunks())
		p.ekAckSent = false
		p.msgIndex = 0
		return out, secret, nil
	default:
		return nil, nil, nil
	}
}
