// Gob round-tripping for the epoch engine's unexported state, so a
// SessionStore backed by a generic codec (store/redisstore) can
// persist a session mid-epoch. Each type snapshots itself into an
// exported-field shadow struct; key histories are packed as
// [u32-BE index | key32] entries, their wire layout.
package spqr

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/arcanumlabs/ratchet/pqkem"
)

type directionalChainGob struct {
	Key     [32]byte
	Counter uint32
	History [][]byte
}

type epochChainsGob struct {
	Epoch uint64
	Send  directionalChainGob
	Recv  directionalChainGob
}

type chainGob struct {
	Direction    int
	CurrentEpoch uint64
	SendEpoch    uint64
	NextRoot     [32]byte
	Epochs       []epochChainsGob
}

func (h *KeyHistory) pack() [][]byte {
	out := make([][]byte, 0, len(h.entries))
	for _, e := range h.entries {
		buf := make([]byte, 4+32)
		binary.BigEndian.PutUint32(buf, e.index)
		copy(buf[4:], e.key[:])
		out = append(out, buf)
	}
	return out
}

func (h *KeyHistory) unpack(packed [][]byte) error {
	h.entries = make([]historyEntry, 0, len(packed))
	for _, buf := range packed {
		if len(buf) != 4+32 {
			return errkind.New(errkind.InvalidMessage, "spqr: malformed key history entry")
		}
		var e historyEntry
		e.index = binary.BigEndian.Uint32(buf)
		copy(e.key[:], buf[4:])
		h.entries = append(h.entries, e)
	}
	return nil
}

func (dc *directionalChain) snapshot() directionalChainGob {
	return directionalChainGob{Key: dc.key, Counter: dc.counter, History: dc.history.pack()}
}

func (dc *directionalChain) restore(g directionalChainGob) error {
	dc.key = g.Key
	dc.counter = g.Counter
	return dc.history.unpack(g.History)
}

// GobEncode implements gob.GobEncoder.
func (c *Chain) GobEncode() ([]byte, error) {
	g := chainGob{
		Direction:    int(c.direction),
		CurrentEpoch: c.currentEpoch,
		SendEpoch:    c.sendEpoch,
		NextRoot:     c.nextRoot,
	}
	for _, ec := range c.epochs {
		g.Epochs = append(g.Epochs, epochChainsGob{
			Epoch: ec.epoch,
			Send:  ec.send.snapshot(),
			Recv:  ec.recv.snapshot(),
		})
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (c *Chain) GobDecode(b []byte) error {
	var g chainGob
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&g); err != nil {
		return err
	}
	c.direction = Direction(g.Direction)
	c.currentEpoch = g.CurrentEpoch
	c.sendEpoch = g.SendEpoch
	c.nextRoot = g.NextRoot
	c.epochs = nil
	for _, eg := range g.Epochs {
		ec := &epochChains{epoch: eg.Epoch}
		if err := ec.send.restore(eg.Send); err != nil {
			return err
		}
		if err := ec.recv.restore(eg.Recv); err != nil {
			return err
		}
		c.epochs = append(c.epochs, ec)
	}
	return nil
}

type ekSideGob struct {
	Epoch        uint64
	State        int
	Priv         []byte
	Header       []byte
	HeaderSent   uint32
	Ct1          []byte
	Ct2Confirmed bool
	EpochSecret  [32]byte
	EpochYielded bool
}

// GobEncode implements gob.GobEncoder.
func (s *EKSide) GobEncode() ([]byte, error) {
	g := ekSideGob{
		Epoch:        s.epoch,
		State:        int(s.state),
		Header:       s.header,
		HeaderSent:   s.headerSent,
		Ct1:          s.ct1,
		Ct2Confirmed: s.ct2Confirmed,
		EpochSecret:  s.epochSecret,
		EpochYielded: s.epochYielded,
	}
	if s.state != EKKeysUnsampled {
		priv, err := s.priv.Marshal()
		if err != nil {
			return nil, err
		}
		g.Priv = priv
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (s *EKSide) GobDecode(b []byte) error {
	var g ekSideGob
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&g); err != nil {
		return err
	}
	s.epoch = g.Epoch
	s.state = EKState(g.State)
	s.header = g.Header
	s.headerSent = g.HeaderSent
	s.ct1 = g.Ct1
	s.ct2Confirmed = g.Ct2Confirmed
	s.epochSecret = g.EpochSecret
	s.epochYielded = g.EpochYielded
	if len(g.Priv) > 0 {
		priv, err := pqkem.ParsePrivateKey(g.Priv)
		if err != nil {
			return err
		}
		s.priv = priv
	}
	if len(s.header) > 0 {
		s.headerEncoder = NewPolyEncoder(s.header)
	}
	return nil
}

type ctSideGob struct {
	Epoch       uint64
	State       int
	HeaderK     int
	Header      []byte
	Decoder     *PolyDecoder
	Ciphertext  []byte
	EpochSecret [32]byte
	MacKey      [32]byte
}

// GobEncode implements gob.GobEncoder.
func (s *CTSide) GobEncode() ([]byte, error) {
	g := ctSideGob{
		Epoch:       s.epoch,
		State:       int(s.state),
		HeaderK:     s.headerK,
		Header:      s.header,
		Decoder:     s.headerDecoder,
		Ciphertext:  s.ciphertext,
		EpochSecret: s.epochSecret,
		MacKey:      s.macKey,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (s *CTSide) GobDecode(b []byte) error {
	var g ctSideGob
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&g); err != nil {
		return err
	}
	s.epoch = g.Epoch
	s.state = CTState(g.State)
	s.headerK = g.HeaderK
	s.header = g.Header
	s.headerDecoder = g.Decoder
	if s.headerDecoder == nil {
		s.headerDecoder = NewPolyDecoder(s.headerK)
	}
	s.ciphertext = g.Ciphertext
	s.epochSecret = g.EpochSecret
	s.macKey = g.MacKey
	if len(s.header) > 0 {
		pub, err := pqkem.ParsePublicKey(s.header)
		if err != nil {
			return err
		}
		s.peerPub = pub
	}
	return nil
}

type polyDecoderGob struct {
	K        int
	Received map[uint32][ChunkSize]byte
}

// GobEncode implements gob.GobEncoder.
func (d *PolyDecoder) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(polyDecoderGob{K: d.k, Received: d.received}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (d *PolyDecoder) GobDecode(b []byte) error {
	var g polyDecoderGob
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&g); err != nil {
		return err
	}
	d.k = g.K
	d.received = g.Received
	if d.received == nil {
		d.received = make(map[uint32][ChunkSize]byte)
	}
	return nil
}
