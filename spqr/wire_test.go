package spqr

import (
	"testing"

	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/stretchr/testify/require"
)

// TestEncodeCt1AckVector pins the non-chunk-carrying Ct1Ack wire
// vector: epoch=1, index=0 encodes as 01 01 00 04 (version, epoch
// varint, index varint, msg_type byte, no trailing chunk).
func TestEncodeCt1AckVector(t *testing.T) {
	msg := Message{Epoch: 1, Index: 0, Type: MsgCt1Ack}
	wire, err := msg.Encode()
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x01, 0x00, 0x04}, wire)
}

func TestMessageRoundTripWithChunk(t *testing.T) {
	var chunk [ChunkSize]byte
	for i := range chunk {
		chunk[i] = byte(i)
	}
	msg := Message{Epoch: 3, Index: 2, Type: MsgCt1, ChunkIndex: 9, ChunkData: chunk}

	wire, err := msg.Encode()
	require.NoError(t, err)

	parsed, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, msg, parsed)
}

// TestEpochZeroRejected: epoch 0 is reserved and must never appear on
// the wire in either direction.
func TestEpochZeroRejected(t *testing.T) {
	_, err := Message{Epoch: 0, Type: MsgCt1Ack}.Encode()
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.InvalidMessage, kind)

	_, err = Decode([]byte{0x01, 0x00, 0x00, 0x04})
	require.Error(t, err)
}

func TestDecodeRejectsUnrecognizedVersion(t *testing.T) {
	_, err := Decode([]byte{0x02, 0x01, 0x00, 0x04})
	require.Error(t, err)
}
