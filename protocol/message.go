package protocol

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/arcanumlabs/ratchet/errkind"
)

// CurrentVersion is the protocol version this package emits: the low nibble of every version byte.
const CurrentVersion = 4

const djbType = 0x05

const (
	macLen = 8

	fieldRatchetKey      = 1
	fieldCounter         = 2
	fieldPreviousCounter = 3
	fieldCiphertext      = 4
	fieldPQRatchet       = 5

	fieldRegistrationID  = 1
	fieldPreKeyID        = 2
	fieldSignedPreKeyID  = 3
	fieldBaseKey         = 4
	fieldIdentityKey     = 5
	fieldMessage         = 6
	fieldKyberPreKeyID   = 7
	fieldKyberCiphertext = 8
)

// SignalMessage is a parsed TripleRatchetSignalMessage: the
// regular per-message envelope carrying the sender's ratchet public
// key, counters, ciphertext, and — when SPQR is engaged — an opaque
// pq_ratchet payload.
type SignalMessage struct {
	MessageVersion  uint8 // session version carried in the high nibble
	RatchetKey      [33]byte
	Counter         uint32
	PreviousCounter uint32
	Ciphertext      []byte
	PQRatchet       []byte // omitted from the wire if empty

	// raw holds version_byte||proto_body exactly as received, the
	// bit-exact span the MAC is computed over.
	// It is populated by ParseSignalMessage and read through MACScope
	// for VerifyMAC; callers building
	// a message to send use Encode's return value directly instead.
	raw []byte
}

func versionByte(sessionVersion uint8) byte {
	return (sessionVersion << 4) | CurrentVersion
}

// encodeBody serializes the proto_body fields only (no version byte,
// no MAC), in field order.
func (m SignalMessage) encodeBody() []byte {
	var buf []byte
	buf = putBytesField(buf, fieldRatchetKey, m.RatchetKey[:])
	buf = putVarintField(buf, fieldCounter, uint64(m.Counter))
	buf = putVarintField(buf, fieldPreviousCounter, uint64(m.PreviousCounter))
	buf = putBytesField(buf, fieldCiphertext, m.Ciphertext)
	if len(m.PQRatchet) > 0 {
		buf = putBytesField(buf, fieldPQRatchet, m.PQRatchet)
	}
	return buf
}

// Encode serializes m as version_byte||proto_body (without the MAC
// trailer, which the caller appends once macKey is available — see
// session.Record.Encrypt).
func (m SignalMessage) Encode(sessionVersion uint8) []byte {
	body := m.encodeBody()
	out := make([]byte, 0, 1+len(body))
	out = append(out, versionByte(sessionVersion))
	out = append(out, body...)
	return out
}

// ParseSignalMessage validates the version byte and decodes the
// envelope. The MAC trailer is stripped and returned separately; the
// caller verifies it with VerifyMAC once it has derived macKey.
func ParseSignalMessage(wire []byte) (SignalMessage, []byte, error) {
	if len(wire) < 1+macLen {
		return SignalMessage{}, nil, errkind.New(errkind.InvalidMessage, "short buffer")
	}
	vb := wire[0]
	hi := vb >> 4
	if hi < 4 {
		return SignalMessage{}, nil, errkind.New(errkind.InvalidMessage, "legacy ciphertext version")
	}
	if hi > 4 {
		return SignalMessage{}, nil, errkind.New(errkind.InvalidMessage, "unrecognized ciphertext version")
	}

	body := wire[1 : len(wire)-macLen]
	mac := wire[len(wire)-macLen:]

	m := SignalMessage{MessageVersion: hi, raw: wire[:len(wire)-macLen]}
	r := fieldReader{buf: body}
	for {
		fv, ok, err := r.next()
		if err != nil {
			return SignalMessage{}, nil, err
		}
		if !ok {
			break
		}
		switch fv.field {
		case fieldRatchetKey:
			if len(fv.b) != 33 || fv.b[0] != djbType {
				return SignalMessage{}, nil, errkind.New(errkind.InvalidMessage, "bad ratchet key encoding")
			}
			copy(m.RatchetKey[:], fv.b)
		case fieldCounter:
			m.Counter = uint32(fv.u)
		case fieldPreviousCounter:
			m.PreviousCounter = uint32(fv.u)
		case fieldCiphertext:
			m.Ciphertext = append([]byte(nil), fv.b...)
		case fieldPQRatchet:
			m.PQRatchet = append([]byte(nil), fv.b...)
		}
	}
	return m, mac, nil
}

// MACScope returns the exact version_byte||proto_body span this
// message's MAC trailer covers, as received. Only populated on parsed
// messages.
func (m SignalMessage) MACScope() []byte { return m.raw }

// ComputeMAC derives the 8-byte MAC trailer: the first 8
// bytes of HMAC-SHA256(macKey, senderIdentity(33) || receiverIdentity(33)
// || version || proto_body).
func ComputeMAC(macKey []byte, senderIdentity, receiverIdentity [33]byte, versionAndBody []byte) [macLen]byte {
	h := hmac.New(sha256.New, macKey)
	h.Write(senderIdentity[:])
	h.Write(receiverIdentity[:])
	h.Write(versionAndBody)
	full := h.Sum(nil)
	var out [macLen]byte
	copy(out[:], full[:macLen])
	return out
}

// VerifyMAC checks a received MAC trailer in constant time.
func VerifyMAC(macKey []byte, senderIdentity, receiverIdentity [33]byte, versionAndBody []byte, mac []byte) bool {
	want := ComputeMAC(macKey, senderIdentity, receiverIdentity, versionAndBody)
	return hmac.Equal(want[:], mac)
}

// PreKeySignalMessage is the handshake-carrying envelope: no
// MAC of its own — the embedded SignalMessage carries that.
type PreKeySignalMessage struct {
	SessionVersion  uint8
	RegistrationID  uint32
	HasPreKeyID     bool
	PreKeyID        uint32
	SignedPreKeyID  uint32
	BaseKey         [33]byte
	IdentityKey     [33]byte
	Message         []byte // embedded, fully encoded SignalMessage (body + mac)
	HasKyberPreKey  bool
	KyberPreKeyID   uint32
	KyberCiphertext []byte
}

// Encode serializes the PreKeySignalMessage
func (m PreKeySignalMessage) Encode() ([]byte, error) {
	if m.HasKyberPreKey != (len(m.KyberCiphertext) > 0) {
		return nil, errkind.New(errkind.InvalidMessage, "kyber pre-key id present iff ciphertext non-empty")
	}
	var buf []byte
	buf = putVarintField(buf, fieldRegistrationID, uint64(m.RegistrationID))
	if m.HasPreKeyID {
		buf = putVarintField(buf, fieldPreKeyID, uint64(m.PreKeyID))
	}
	buf = putVarintField(buf, fieldSignedPreKeyID, uint64(m.SignedPreKeyID))
	buf = putBytesField(buf, fieldBaseKey, m.BaseKey[:])
	buf = putBytesField(buf, fieldIdentityKey, m.IdentityKey[:])
	buf = putBytesField(buf, fieldMessage, m.Message)
	if m.HasKyberPreKey {
		buf = putVarintField(buf, fieldKyberPreKeyID, uint64(m.KyberPreKeyID))
		buf = putBytesField(buf, fieldKyberCiphertext, m.KyberCiphertext)
	}
	out := make([]byte, 0, 1+len(buf))
	out = append(out, versionByte(m.SessionVersion))
	out = append(out, buf...)
	return out, nil
}

// ParsePreKeySignalMessage validates the version byte and decodes the
// envelope, enforcing the kyber id/ciphertext co-presence invariant.
func ParsePreKeySignalMessage(wire []byte) (PreKeySignalMessage, error) {
	if len(wire) < 1 {
		return PreKeySignalMessage{}, errkind.New(errkind.InvalidMessage, "short buffer")
	}
	vb := wire[0]
	hi := vb >> 4
	if hi < 4 {
		return PreKeySignalMessage{}, errkind.New(errkind.InvalidMessage, "legacy ciphertext version")
	}
	if hi > 4 {
		return PreKeySignalMessage{}, errkind.New(errkind.InvalidMessage, "unrecognized ciphertext version")
	}

	m := PreKeySignalMessage{SessionVersion: hi}
	r := fieldReader{buf: wire[1:]}
	var haveKyberID, haveKyberCT bool
	for {
		fv, ok, err := r.next()
		if err != nil {
			return PreKeySignalMessage{}, err
		}
		if !ok {
			break
		}
		switch fv.field {
		case fieldRegistrationID:
			m.RegistrationID = uint32(fv.u)
		case fieldPreKeyID:
			m.HasPreKeyID = true
			m.PreKeyID = uint32(fv.u)
		case fieldSignedPreKeyID:
			m.SignedPreKeyID = uint32(fv.u)
		case fieldBaseKey:
			if len(fv.b) != 33 || fv.b[0] != djbType {
				return PreKeySignalMessage{}, errkind.New(errkind.InvalidMessage, "bad base key encoding")
			}
			copy(m.BaseKey[:], fv.b)
		case fieldIdentityKey:
			if len(fv.b) != 33 || fv.b[0] != djbType {
				return PreKeySignalMessage{}, errkind.New(errkind.InvalidMessage, "bad identity key encoding")
			}
			copy(m.IdentityKey[:], fv.b)
		case fieldMessage:
			m.Message = append([]byte(nil), fv.b...)
		case fieldKyberPreKeyID:
			haveKyberID = true
			m.HasKyberPreKey = true
			m.KyberPreKeyID = uint32(fv.u)
		case fieldKyberCiphertext:
			haveKyberCT = true
			m.KyberCiphertext = append([]byte(nil), fv.b...)
		}
	}
	if haveKyberID != haveKyberCT {
		return PreKeySignalMessage{}, errkind.New(errkind.InvalidMessage, "kyber pre-key id present iff ciphertext non-empty")
	}
	return m, nil
}
