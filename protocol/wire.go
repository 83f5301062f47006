// Package protocol implements the wire framing: SignalMessage /
// PreKeySignalMessage and their Triple-Ratchet (SPQR-augmented)
// variants, version handling, and the MAC scope.
//
// The envelopes are protobuf-shaped but carry no generated code; this
// package hand-rolls a length-tagged field encoding that preserves
// protobuf's field-tag/varint/length-delimited layout so the pinned
// byte format (field numbers, varint counters, raw length-prefixed
// bytes) round-trips bit-exactly.
package protocol

import (
	"encoding/binary"

	"github.com/arcanumlabs/ratchet/errkind"
)

// wireType mirrors protobuf's two wire types this format needs.
type wireType byte

const (
	wireVarint wireType = 0
	wireBytes  wireType = 2
)

func putTag(buf []byte, field int, wt wireType) []byte {
	return binary.AppendUvarint(buf, uint64(field)<<3|uint64(wt))
}

func putVarint(buf []byte, v uint64) []byte {
	return binary.AppendUvarint(buf, v)
}

func putBytesField(buf []byte, field int, b []byte) []byte {
	buf = putTag(buf, field, wireBytes)
	buf = putVarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func putVarintField(buf []byte, field int, v uint64) []byte {
	buf = putTag(buf, field, wireVarint)
	return putVarint(buf, v)
}

// fieldReader walks a hand-rolled proto-style buffer.
type fieldReader struct {
	buf []byte
}

type fieldValue struct {
	field int
	wt    wireType
	u     uint64
	b     []byte
}

func (r *fieldReader) next() (fieldValue, bool, error) {
	if len(r.buf) == 0 {
		return fieldValue{}, false, nil
	}
	tag, n := binary.Uvarint(r.buf)
	if n <= 0 {
		return fieldValue{}, false, errkind.New(errkind.InvalidMessage, "proto: bad tag varint")
	}
	r.buf = r.buf[n:]
	field := int(tag >> 3)
	wt := wireType(tag & 0x7)
	switch wt {
	case wireVarint:
		v, n := binary.Uvarint(r.buf)
		if n <= 0 {
			return fieldValue{}, false, errkind.New(errkind.InvalidMessage, "proto: bad varint field")
		}
		r.buf = r.buf[n:]
		return fieldValue{field: field, wt: wt, u: v}, true, nil
	case wireBytes:
		l, n := binary.Uvarint(r.buf)
		if n <= 0 {
			return fieldValue{}, false, errkind.New(errkind.InvalidMessage, "proto: bad length varint")
		}
		r.buf = r.buf[n:]
		if uint64(len(r.buf)) < l {
			return fieldValue{}, false, errkind.New(errkind.InvalidMessage, "proto: truncated bytes field")
		}
		b := r.buf[:l]
		r.buf = r.buf[l:]
		return fieldValue{field: field, wt: wt, b: b}, true, nil
	default:
		return fieldValue{}, false, errkind.New(errkind.InvalidMessage, "proto: unsupported wire type")
	}
}
