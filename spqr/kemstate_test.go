package spqr

import (
	"testing"

	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/stretchr/testify/require"
)

// TestEKCTEpochHandshake drives one full epoch of the chunked ML-KEM
// state machine end to end between an EKSide and a CTSide, checking
// both sides land on the same epoch secret.
func TestEKCTEpochHandshake(t *testing.T) {
	ek, err := NewEKSide(1)
	require.NoError(t, err)
	require.NoError(t, ek.Start())

	ct := NewCTSide(1)

	for i := 0; i < ek.headerEncoder.NumDataChunks(); i++ {
		msg, err := ek.NextChunk()
		require.NoError(t, err)
		require.NoError(t, ct.AddHeaderChunk(msg.ChunkIndex, msg.ChunkData))
	}
	require.NoError(t, ek.MarkEkSent())
	require.Equal(t, CTHeaderReceived, ct.State())

	ctSecret, err := ct.Encapsulate()
	require.NoError(t, err)
	ctEnc, err := ct.CiphertextEncoder()
	require.NoError(t, err)

	ct1Dec := NewPolyDecoder(ctEnc.NumDataChunks())
	for i := 0; i < ctEnc.NumDataChunks(); i++ {
		msg := ct.NextCt1Chunk(ctEnc, uint32(i))
		ct1Dec.Add(msg.ChunkIndex, msg.ChunkData)
	}
	reconstructedCt, err := ct1Dec.Decode()
	require.NoError(t, err)
	require.NoError(t, ek.HandleCt1(reconstructedCt))
	require.Equal(t, EKSentCt1Received, ek.State())

	require.NoError(t, ct.HandleCt1Ack())

	ctMsg, err := ct.SendCt2()
	require.NoError(t, err)
	require.Equal(t, MsgCt2, ctMsg.Type)

	ekSecret, err := ek.HandleCt2(ctMsg.ChunkData)
	require.NoError(t, err)
	require.Equal(t, ctSecret, ekSecret)

	next, err := ek.NextEpoch()
	require.NoError(t, err)
	require.Equal(t, uint64(2), next.Epoch())

	nextEK, err := ct.NextEpoch()
	require.NoError(t, err)
	require.Equal(t, uint64(2), nextEK.Epoch())
}

// TestHandleCt2RejectsTamperedTag drives an epoch to the Ct2 exchange
// and flips a bit in the confirmation tag: the EK side must refuse to
// release its epoch secret.
func TestHandleCt2RejectsTamperedTag(t *testing.T) {
	ek, err := NewEKSide(1)
	require.NoError(t, err)
	require.NoError(t, ek.Start())
	ct := NewCTSide(1)

	for i := 0; i < ek.headerEncoder.NumDataChunks(); i++ {
		msg, err := ek.NextChunk()
		require.NoError(t, err)
		require.NoError(t, ct.AddHeaderChunk(msg.ChunkIndex, msg.ChunkData))
	}
	require.NoError(t, ek.MarkEkSent())

	_, err = ct.Encapsulate()
	require.NoError(t, err)
	ctEnc, err := ct.CiphertextEncoder()
	require.NoError(t, err)

	ct1Dec := NewPolyDecoder(ctEnc.NumDataChunks())
	for i := 0; i < ctEnc.NumDataChunks(); i++ {
		msg := ct.NextCt1Chunk(ctEnc, uint32(i))
		ct1Dec.Add(msg.ChunkIndex, msg.ChunkData)
	}
	reconstructedCt, err := ct1Dec.Decode()
	require.NoError(t, err)
	require.NoError(t, ek.HandleCt1(reconstructedCt))
	require.NoError(t, ct.HandleCt1Ack())

	ctMsg, err := ct.SendCt2()
	require.NoError(t, err)

	ctMsg.ChunkData[0] ^= 0xFF
	_, err = ek.HandleCt2(ctMsg.ChunkData)
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.InvalidMac, kind)
}

func TestEKSideCloneIndependence(t *testing.T) {
	ek, err := NewEKSide(1)
	require.NoError(t, err)
	require.NoError(t, ek.Start())

	clone := ek.Clone()
	_, err = clone.NextChunk()
	require.NoError(t, err)

	require.Equal(t, uint32(0), ek.headerSent, "advancing the clone must not mutate the original")
	require.Equal(t, uint32(1), clone.headerSent)
}

func TestCTSideIgnoresHeaderChunksOnceReconstructed(t *testing.T) {
	ek, err := NewEKSide(1)
	require.NoError(t, err)
	require.NoError(t, ek.Start())
	ct := NewCTSide(1)

	for i := 0; i < ek.headerEncoder.NumDataChunks(); i++ {
		msg, err := ek.NextChunk()
		require.NoError(t, err)
		require.NoError(t, ct.AddHeaderChunk(msg.ChunkIndex, msg.ChunkData))
	}
	require.Equal(t, CTHeaderReceived, ct.State())

	// A stray extra chunk after reconstruction is a harmless no-op.
	require.NoError(t, ct.AddHeaderChunk(0, [ChunkSize]byte{}))
	require.Equal(t, CTHeaderReceived, ct.State())
}
