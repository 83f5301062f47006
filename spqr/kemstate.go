package spqr

import (
	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/arcanumlabs/ratchet/pqkem"
)

// EKState is the state of the side of an epoch that ships the ML-KEM
// public key.
type EKState int

const (
	EKKeysUnsampled EKState = iota
	EKKeysSampled
	EKHeaderSent
	EKCt1Received
	EKSent
	EKSentCt1Received
)

// CTState is the state of the side of an epoch that ships the ML-KEM
// ciphertext.
type CTState int

const (
	CTNoHeaderReceived CTState = iota
	CTHeaderReceived
	CTCt1Sampled
	CTEkReceivedCt1Sampled
	CTCt1Acknowledged
	CTCt2Sampled
)

// EKSide drives the send_ek role for one epoch: it samples an ML-KEM
// key pair, ships it as erasure-coded header chunks, and waits for the
// peer's ciphertext chunks (Ct1) before acknowledging.
//
// An EKSide yields its epoch secret exactly once, at the Ct2
// completion that ends the epoch.
// After that it has nothing further to do for this epoch; the next
// epoch's NextEpoch call hands the opposite role (send_ct) to the
// caller, matching "two peers alternate roles per epoch."
type EKSide struct {
	epoch uint64
	state EKState

	priv pqkem.PrivateKey

	header        []byte // marshaled public key, the bytes the peer's tag commits to
	headerEncoder *PolyEncoder
	headerSent    uint32

	ct1          []byte
	ct2Confirmed bool
	epochSecret  [32]byte
	epochYielded bool
}

// Epoch reports the epoch this side is driving.
func (s *EKSide) Epoch() uint64 { return s.epoch }

// State reports the current EKState, letting a driver decide which
// transition to attempt next without reaching into unexported fields.
func (s *EKSide) State() EKState { return s.state }

// NewEKSide starts the send_ek role at KeysUnsampled for epoch.
func NewEKSide(epoch uint64) (*EKSide, error) {
	if epoch == 0 {
		return nil, errkind.New(errkind.InvalidMessage, "spqr: epoch 0 is reserved")
	}
	return &EKSide{epoch: epoch, state: EKKeysUnsampled}, nil
}

// Start samples the ML-KEM key pair (KeysUnsampled -> KeysSampled) and
// prepares the header's chunk encoder.
func (s *EKSide) Start() error {
	if s.state != EKKeysUnsampled {
		return errkind.New(errkind.InvalidSession, "spqr: send_ek already started")
	}
	pub, priv, err := pqkem.GenerateKeyPair()
	if err != nil {
		return err
	}
	marshaled, err := pub.Marshal()
	if err != nil {
		return err
	}
	s.priv = priv
	s.header = marshaled
	s.headerEncoder = NewPolyEncoder(marshaled)
	s.state = EKKeysSampled
	return nil
}

// NextChunk returns the next Hdr (or, once fully sent once, Ek)
// chunk message to emit. Redundancy chunks may keep flowing after the
// first full pass if the peer reports missing chunks; this driver
// always emits sequential indices, relying on the caller to stop once
// the peer acknowledges completion.
func (s *EKSide) NextChunk() (Message, error) {
	if s.state != EKKeysSampled && s.state != EKHeaderSent {
		return Message{}, errkind.New(errkind.InvalidSession, "spqr: send_ek not ready to emit header chunks")
	}
	idx := s.headerSent
	chunk := s.headerEncoder.Chunk(idx)
	s.headerSent++
	msgType := MsgHdr
	if s.state == EKKeysSampled && int(s.headerSent) >= s.headerEncoder.NumDataChunks() {
		s.state = EKHeaderSent
		msgType = MsgEk
	} else if s.state == EKHeaderSent {
		msgType = MsgEk
	}
	return Message{Epoch: s.epoch, Type: msgType, ChunkIndex: idx, ChunkData: chunk}, nil
}

// HandleCt1 processes an inbound Ct1 chunk stream's completion: it
// stores the peer's reconstructed ciphertext, which HandleCt2 later
// decapsulates (HeaderSent -> Ct1Received, or EkSent ->
// EkSentCt1Received if we'd already finished sending Ek chunks).
func (s *EKSide) HandleCt1(ciphertext []byte) error {
	if s.state != EKHeaderSent && s.state != EKSent {
		return errkind.New(errkind.InvalidSession, "spqr: unexpected ct1 in send_ek state")
	}
	s.ct1 = ciphertext
	if s.state == EKHeaderSent {
		s.state = EKCt1Received
	} else {
		s.state = EKSentCt1Received
	}
	return nil
}

// MarkEkSent records that every Ek chunk has gone out at least once
// (HeaderSent -> EkSent, or Ct1Received -> EkSentCt1Received).
func (s *EKSide) MarkEkSent() error {
	switch s.state {
	case EKHeaderSent:
		s.state = EKSent
	case EKCt1Received:
		s.state = EKSentCt1Received
	default:
		return errkind.New(errkind.InvalidSession, "spqr: send_ek not ready to mark ek sent")
	}
	return nil
}

// HandleCt2 completes the epoch: Ct2 carries the peer's confirmation
// tag over the committed header bytes; the epoch secret is yielded
// here, exactly once, derived by decapsulating ct1 against our private
// key. The tag is verified before
// the secret is released, so a header chunk tampered with in transit
// fails closed with InvalidMac rather than desynchronizing the chains.
func (s *EKSide) HandleCt2(tag [ChunkSize]byte) ([32]byte, error) {
	if s.state != EKSentCt1Received {
		return [32]byte{}, errkind.New(errkind.InvalidSession, "spqr: ct2 received out of order")
	}
	if s.epochYielded {
		return s.epochSecret, nil
	}
	ss, err := pqkem.Decapsulate(s.priv, s.ct1)
	if err != nil {
		return [32]byte{}, err
	}
	var shared [32]byte
	copy(shared[:], ss)
	root, mac, err := DeriveEpochKeys(shared)
	if err != nil {
		return [32]byte{}, err
	}
	auth, err := NewAuthenticator(mac)
	if err != nil {
		return [32]byte{}, err
	}
	if err := auth.Open(s.epoch, s.header, tag[:authTagLen]); err != nil {
		return [32]byte{}, err
	}
	s.epochSecret = root
	s.epochYielded = true
	s.ct2Confirmed = true
	return s.epochSecret, nil
}

// Clone deep-copies s so a trial ratchet/decrypt attempt can drive the
// chunked KEM state machine forward without mutating the committed
// side on failure.
func (s *EKSide) Clone() *EKSide {
	cp := *s
	if s.headerEncoder != nil {
		cp.headerEncoder = s.headerEncoder.Clone()
	}
	cp.header = append([]byte(nil), s.header...)
	cp.ct1 = append([]byte(nil), s.ct1...)
	return &cp
}

// NextEpoch hands the opposite role (send_ct) to the caller for
// epoch+1, per "two peers alternate roles per epoch."
func (s *EKSide) NextEpoch() (*CTSide, error) {
	if !s.ct2Confirmed {
		return nil, errkind.New(errkind.InvalidSession, "spqr: epoch not complete")
	}
	return NewCTSide(s.epoch + 1), nil
}

// CTSide drives the send_ct role for one epoch: it reassembles the
// peer's ML-KEM public key from header chunks, encapsulates against
// it, and ships the ciphertext.
//
// Unlike EKSide, CTSide yields its epoch secret early — at
// HeaderReceived -> Ct1Sampled, as soon as it has encapsulated — since
// it alone determines the shared secret at that point.
type CTSide struct {
	epoch uint64
	state CTState

	headerDecoder *PolyDecoder
	headerK       int
	header        []byte // reconstructed marshaled public key, committed to by the Ct2 tag
	peerPub       pqkem.PublicKey

	ciphertext  []byte
	epochSecret [32]byte
	macKey      [32]byte
}

// Epoch reports the epoch this side is driving.
func (s *CTSide) Epoch() uint64 { return s.epoch }

// State reports the current CTState.
func (s *CTSide) State() CTState { return s.state }

// NewCTSide starts the send_ct role at NoHeaderReceived for epoch.
// headerK, the number of data chunks the peer's PolyEncoder framed
// its public key into, is fixed by pqkem.PublicKeySize and known in
// advance.
func NewCTSide(epoch uint64) *CTSide {
	k := (4 + pqkem.PublicKeySize + ChunkSize - 1) / ChunkSize
	return &CTSide{epoch: epoch, state: CTNoHeaderReceived, headerK: k, headerDecoder: NewPolyDecoder(k)}
}

// AddHeaderChunk feeds one Hdr/Ek chunk into the header decoder,
// transitioning NoHeaderReceived -> HeaderReceived once enough chunks
// have arrived to reconstruct the peer's public key.
func (s *CTSide) AddHeaderChunk(chunkIndex uint32, data [ChunkSize]byte) error {
	if s.state != CTNoHeaderReceived {
		return nil // already reconstructed; extra redundancy chunks are ignored
	}
	s.headerDecoder.Add(chunkIndex, data)
	if !s.headerDecoder.Ready() {
		return nil
	}
	marshaled, err := s.headerDecoder.Decode()
	if err != nil {
		return err
	}
	pub, err := pqkem.ParsePublicKey(marshaled)
	if err != nil {
		return err
	}
	s.header = marshaled
	s.peerPub = pub
	s.state = CTHeaderReceived
	return nil
}

// Encapsulate runs the KEM against the reconstructed public key,
// yielding the epoch secret immediately (HeaderReceived ->
// Ct1Sampled). The KEM shared secret is split
// into the epoch secret proper and the macKey the Ct2 confirmation tag
// is keyed by.
func (s *CTSide) Encapsulate() ([32]byte, error) {
	if s.state != CTHeaderReceived {
		return [32]byte{}, errkind.New(errkind.InvalidSession, "spqr: header not yet reassembled")
	}
	ct, ss, err := pqkem.Encapsulate(s.peerPub)
	if err != nil {
		return [32]byte{}, err
	}
	var shared [32]byte
	copy(shared[:], ss)
	root, mac, err := DeriveEpochKeys(shared)
	if err != nil {
		return [32]byte{}, err
	}
	s.ciphertext = ct
	s.epochSecret = root
	s.macKey = mac
	s.state = CTCt1Sampled
	return s.epochSecret, nil
}

// NextCt1Chunk returns the next Ct1 chunk message to emit.
func (s *CTSide) NextCt1Chunk(encoder *PolyEncoder, index uint32) Message {
	return Message{Epoch: s.epoch, Type: MsgCt1, ChunkIndex: index, ChunkData: encoder.Chunk(index)}
}

// CiphertextEncoder builds the PolyEncoder for this side's ciphertext,
// once Encapsulate has run.
func (s *CTSide) CiphertextEncoder() (*PolyEncoder, error) {
	if s.ciphertext == nil {
		return nil, errkind.New(errkind.InvalidSession, "spqr: ciphertext not yet sampled")
	}
	return NewPolyEncoder(s.ciphertext), nil
}

// HandleEk records that the peer's Ek chunks (redundant copies of the
// header it already sent as Hdr) were observed; harmless once the
// header has already been reconstructed (Ct1Sampled ->
// EkReceivedCt1Sampled).
func (s *CTSide) HandleEk() error {
	if s.state == CTCt1Sampled {
		s.state = CTEkReceivedCt1Sampled
	}
	return nil
}

// HandleCt1Ack records the peer's acknowledgement of our ciphertext
// (Ct1Sampled or EkReceivedCt1Sampled -> Ct1Acknowledged).
func (s *CTSide) HandleCt1Ack() error {
	switch s.state {
	case CTCt1Sampled, CTEkReceivedCt1Sampled:
		s.state = CTCt1Acknowledged
	default:
		return errkind.New(errkind.InvalidSession, "spqr: ct1_ack out of order")
	}
	return nil
}

// SendCt2 completes the epoch by confirming Ct1Acknowledged ->
// Ct2Sampled. The Ct2 chunk carries the authentication tag over the
// header bytes this side reconstructed, so the peer can detect a
// header tampered with across message boundaries before releasing its
// epoch secret.
func (s *CTSide) SendCt2() (Message, error) {
	if s.state != CTCt1Acknowledged {
		return Message{}, errkind.New(errkind.InvalidSession, "spqr: ct2 sent out of order")
	}
	auth, err := NewAuthenticator(s.macKey)
	if err != nil {
		return Message{}, err
	}
	var chunk [ChunkSize]byte
	copy(chunk[:], auth.Seal(s.epoch, s.header))
	s.state = CTCt2Sampled
	return Message{Epoch: s.epoch, Type: MsgCt2, ChunkIndex: 0, ChunkData: chunk}, nil
}

// Clone deep-copies s, mirroring EKSide.Clone.
func (s *CTSide) Clone() *CTSide {
	cp := *s
	if s.headerDecoder != nil {
		cp.headerDecoder = s.headerDecoder.Clone()
	}
	cp.header = append([]byte(nil), s.header...)
	cp.ciphertext = append([]byte(nil), s.ciphertext...)
	return &cp
}

// NextEpoch hands the opposite role (send_ek) to the caller for
// epoch+1.
func (s *CTSide) NextEpoch() (*EKSide, error) {
	if s.state != CTCt2Sampled {
		return nil, errkind.New(errkind.InvalidSession, "spqr: epoch not complete")
	}
	return NewEKSide(s.epoch + 1)
}
