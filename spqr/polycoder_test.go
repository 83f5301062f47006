package spqr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolyEncoderDecoderRoundTrip(t *testing.T) {
	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	enc := NewPolyEncoder(payload)
	k := enc.NumDataChunks()

	// Reconstruct from redundancy chunks only (indices k..2k-1), proving
	// the erasure coding tolerates losing every original data chunk.
	dec := NewPolyDecoder(k)
	for i := 0; i < k; i++ {
		dec.Add(uint32(k+i), enc.Chunk(uint32(k+i)))
	}
	require.True(t, dec.Ready())

	got, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPolyDecoderNotReadyBeforeKChunks(t *testing.T) {
	enc := NewPolyEncoder(make([]byte, 40)) // framed length forces k=2 data chunks
	require.GreaterOrEqual(t, enc.NumDataChunks(), 2)
	dec := NewPolyDecoder(enc.NumDataChunks())
	dec.Add(0, enc.Chunk(0))
	require.False(t, dec.Ready())
}

func TestPolyCloneIsIndependent(t *testing.T) {
	enc := NewPolyEncoder([]byte("clone me: enough bytes to span two chunks"))
	encClone := enc.Clone()
	require.Equal(t, enc.Chunk(0), encClone.Chunk(0))

	dec := NewPolyDecoder(enc.NumDataChunks())
	dec.Add(0, enc.Chunk(0))
	decClone := dec.Clone()
	dec.Add(1, enc.Chunk(1))
	require.False(t, decClone.Ready(), "adding to the original must not affect the clone")
}
