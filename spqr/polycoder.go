package spqr

import (
	"encoding/binary"

	"github.com/arcanumlabs/ratchet/errkind"
)

// PolyEncoder frames a payload (a ML-KEM public key or ciphertext,
// typically) as a 4-byte big-endian length prefix followed by the
// payload, zero-padded to a multiple of ChunkSize, and splits it into
// k data chunks indexed 0..k-1. Chunks at index >= k are erasure-coded
// redundancy: the unique degree-(k-1) polynomial each chunk's symbol
// column defines (data points at x=1..k) evaluated at x=index+1.
type PolyEncoder struct {
	dataChunks [][ChunkSize]byte
}

// NewPolyEncoder frames and chunks payload.
func NewPolyEncoder(payload []byte) *PolyEncoder {
	framed := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(framed, uint32(len(payload)))
	copy(framed[4:], payload)
	for len(framed)%ChunkSize != 0 {
		framed = append(framed, 0)
	}

	k := len(framed) / ChunkSize
	chunks := make([][ChunkSize]byte, k)
	for i := range chunks {
		copy(chunks[i][:], framed[i*ChunkSize:(i+1)*ChunkSize])
	}
	return &PolyEncoder{dataChunks: chunks}
}

// NumDataChunks is k: the caller (the chunked KEM state machine) must
// communicate this to the receiver out of band so PolyDecoder knows
// how many distinct chunks to wait for; in practice it is fixed by
// the known wire size of an ML-KEM-768 public key or ciphertext.
func (e *PolyEncoder) NumDataChunks() int { return len(e.dataChunks) }

// Chunk returns the chunk at index, deriving a redundancy chunk via
// Lagrange evaluation for index >= NumDataChunks().
func (e *PolyEncoder) Chunk(index uint32) [ChunkSize]byte {
	k := len(e.dataChunks)
	if int(index) < k {
		return e.dataChunks[index]
	}

	xs := make([]uint16, k)
	for i := range xs {
		xs[i] = uint16(i + 1)
	}
	x0 := uint16(index + 1)

	var out [ChunkSize]byte
	ys := make([]uint16, k)
	for sym := 0; sym < ChunkSize/2; sym++ {
		for i, c := range e.dataChunks {
			ys[i] = binary.BigEndian.Uint16(c[sym*2:])
		}
		binary.BigEndian.PutUint16(out[sym*2:], lagrangeEval(xs, ys, x0))
	}
	return out
}

// Clone deep-copies e's chunk buffer.
func (e *PolyEncoder) Clone() *PolyEncoder {
	cp := &PolyEncoder{dataChunks: append([][ChunkSize]byte(nil), e.dataChunks...)}
	return cp
}

// PolyDecoder accumulates chunks (data or redundancy, any k distinct
// indices suffice) and reconstructs the original payload once it has
// k of them.
type PolyDecoder struct {
	k        int
	received map[uint32][ChunkSize]byte
}

// NewPolyDecoder prepares a decoder expecting k data chunks worth of
// erasure-coded material.
func NewPolyDecoder(k int) *PolyDecoder {
	return &PolyDecoder{k: k, received: make(map[uint32][ChunkSize]byte)}
}

// Add records a received chunk at its wire index.
func (d *PolyDecoder) Add(index uint32, chunk [ChunkSize]byte) {
	d.received[index] = chunk
}

// Clone deep-copies d's received-chunk map.
func (d *PolyDecoder) Clone() *PolyDecoder {
	cp := &PolyDecoder{k: d.k, received: make(map[uint32][ChunkSize]byte, len(d.received))}
	for k, v := range d.received {
		cp.received[k] = v
	}
	return cp
}

// Ready reports whether enough distinct chunks have arrived to
// reconstruct the payload.
func (d *PolyDecoder) Ready() bool { return len(d.received) >= d.k }

// Decode reconstructs the framed payload from any k received chunks
// and strips the length prefix.
func (d *PolyDecoder) Decode() ([]byte, error) {
	if !d.Ready() {
		return nil, errkind.Newf(errkind.InvalidMessage, "spqr: have %d of %d chunks needed to reconstruct", len(d.received), d.k)
	}

	xs := make([]uint16, 0, d.k)
	chunks := make([][ChunkSize]byte, 0, d.k)
	for idx, c := range d.received {
		xs = append(xs, uint16(idx+1))
		chunks = append(chunks, c)
		if len(xs) == d.k {
			break
		}
	}

	out := make([]byte, d.k*ChunkSize)
	ys := make([]uint16, d.k)
	for dataIdx := 0; dataIdx < d.k; dataIdx++ {
		x0 := uint16(dataIdx + 1)
		var reconstructed [ChunkSize]byte
		for sym := 0; sym < ChunkSize/2; sym++ {
			for i, c := range chunks {
				ys[i] = binary.BigEndian.Uint16(c[sym*2:])
			}
			binary.BigEndian.PutUint16(reconstructed[sym*2:], lagrangeEval(xs, ys, x0))
		}
		copy(out[dataIdx*ChunkSize:], reconstructed[:])
	}

	if len(out) < 4 {
		return nil, errkind.New(errkind.InvalidMessage, "spqr: reconstructed payload too short")
	}
	length := binary.BigEndian.Uint32(out[:4])
	if int(4+length) > len(out) {
		return nil, errkind.New(errkind.InvalidMessage, "spqr: corrupt length prefix")
	}
	return out[4 : 4+length], nil
}
