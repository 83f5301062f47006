package spqr

import (
	"encoding/binary"

	"github.com/arcanumlabs/ratchet/errkind"
)

// MsgType is the SPQR V1 message discriminator.
type MsgType byte

const (
	MsgNone     MsgType = 0x00
	MsgHdr      MsgType = 0x01
	MsgEk       MsgType = 0x02
	MsgEkCt1Ack MsgType = 0x03
	MsgCt1Ack   MsgType = 0x04
	MsgCt1      MsgType = 0x05
	MsgCt2      MsgType = 0x06
)

// chunkCarrying reports whether a MsgType carries a [chunk_index]
// [chunk_data] payload; Ct1Ack and None do not.
func chunkCarrying(t MsgType) bool {
	switch t {
	case MsgHdr, MsgEk, MsgEkCt1Ack, MsgCt1, MsgCt2:
		return true
	default:
		return false
	}
}

// ChunkSize is the fixed erasure-coded chunk payload length.
const ChunkSize = 32

// Message is a decoded SPQR V1 wire message.
type Message struct {
	Epoch      uint64
	Index      uint32
	Type       MsgType
	ChunkIndex uint32
	ChunkData  [ChunkSize]byte
}

// wireVersion is the only version this package emits or accepts.
// epoch = 0 is rejected on both encode and decode.
const wireVersion = 1

// Encode serializes m as
// [version:u8][epoch:varint][index:varint][msg_type:u8][chunk?].
func (m Message) Encode() ([]byte, error) {
	if m.Epoch == 0 {
		return nil, errkind.New(errkind.InvalidMessage, "spqr: epoch 0 is reserved")
	}
	buf := []byte{wireVersion}
	buf = binary.AppendUvarint(buf, m.Epoch)
	buf = binary.AppendUvarint(buf, uint64(m.Index))
	buf = append(buf, byte(m.Type))
	if chunkCarrying(m.Type) {
		buf = binary.AppendUvarint(buf, uint64(m.ChunkIndex))
		buf = append(buf, m.ChunkData[:]...)
	}
	return buf, nil
}

// Decode parses a SPQR V1 wire message.
func Decode(wire []byte) (Message, error) {
	if len(wire) < 1 || wire[0] != wireVersion {
		return Message{}, errkind.New(errkind.InvalidMessage, "spqr: unrecognized wire version")
	}
	rest := wire[1:]

	epoch, n := binary.Uvarint(rest)
	if n <= 0 {
		return Message{}, errkind.New(errkind.InvalidMessage, "spqr: truncated epoch")
	}
	rest = rest[n:]
	if epoch == 0 {
		return Message{}, errkind.New(errkind.InvalidMessage, "spqr: epoch 0 is reserved")
	}

	index, n := binary.Uvarint(rest)
	if n <= 0 {
		return Message{}, errkind.New(errkind.InvalidMessage, "spqr: truncated index")
	}
	rest = rest[n:]

	if len(rest) < 1 {
		return Message{}, errkind.New(errkind.InvalidMessage, "spqr: missing msg_type")
	}
	mt := MsgType(rest[0])
	rest = rest[1:]

	m := Message{Epoch: epoch, Index: uint32(index), Type: mt}
	if !chunkCarrying(mt) {
		return m, nil
	}

	chunkIndex, n := binary.Uvarint(rest)
	if n <= 0 {
		return Message{}, errkind.New(errkind.InvalidMessage, "spqr: truncated chunk_index")
	}
	rest = rest[n:]
	if len(rest) != ChunkSize {
		return Message{}, errkind.New(errkind.InvalidMessage, "spqr: wrong chunk_data length")
	}
	m.ChunkIndex = uint32(chunkIndex)
	copy(m.ChunkData[:], rest)
	return m, nil
}
