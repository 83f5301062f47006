package protocol

import (
	"testing"

	"github.com/arcanumlabs/ratchet/errkind"
	"github.com/stretchr/testify/require"
)

func sampleSignalMessage() SignalMessage {
	sm := SignalMessage{Counter: 7, PreviousCounter: 3, Ciphertext: []byte("hello world")}
	sm.RatchetKey[0] = 0x05
	for i := 1; i < 33; i++ {
		sm.RatchetKey[i] = byte(i)
	}
	return sm
}

func TestSignalMessageRoundTrip(t *testing.T) {
	sm := sampleSignalMessage()
	body := sm.Encode(CurrentVersion)

	macKey := make([]byte, 32)
	var senderID, receiverID [33]byte
	senderID[0], receiverID[0] = 0x05, 0x05
	mac := ComputeMAC(macKey, senderID, receiverID, body)
	wire := append(body, mac[:]...)

	parsed, trailer, err := ParseSignalMessage(wire)
	require.NoError(t, err)
	require.Equal(t, sm.RatchetKey, parsed.RatchetKey)
	require.Equal(t, sm.Counter, parsed.Counter)
	require.Equal(t, sm.PreviousCounter, parsed.PreviousCounter)
	require.Equal(t, sm.Ciphertext, parsed.Ciphertext)
	require.True(t, VerifyMAC(macKey, senderID, receiverID, parsed.raw, trailer))
}

func TestSignalMessageCarriesPQRatchetField(t *testing.T) {
	sm := sampleSignalMessage()
	sm.PQRatchet = []byte{0x01, 0x02, 0x03}
	body := sm.Encode(CurrentVersion)

	parsed, _, err := ParseSignalMessage(append(body, make([]byte, macLen)...))
	require.NoError(t, err)
	require.Equal(t, sm.PQRatchet, parsed.PQRatchet)
}

func TestSignalMessageOmitsEmptyPQRatchetField(t *testing.T) {
	sm := sampleSignalMessage()
	body := sm.Encode(CurrentVersion)

	parsed, _, err := ParseSignalMessage(append(body, make([]byte, macLen)...))
	require.NoError(t, err)
	require.Empty(t, parsed.PQRatchet)
}

func TestParseSignalMessageRejectsLegacyVersion(t *testing.T) {
	sm := sampleSignalMessage()
	body := sm.Encode(CurrentVersion)
	body[0] = (3 << 4) | CurrentVersion // legacy session version 3

	_, _, err := ParseSignalMessage(append(body, make([]byte, macLen)...))
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.InvalidMessage, kind)
}

func TestParseSignalMessageRejectsFutureVersion(t *testing.T) {
	sm := sampleSignalMessage()
	body := sm.Encode(CurrentVersion)
	body[0] = (5 << 4) | CurrentVersion // session version 5 is not yet recognized

	_, _, err := ParseSignalMessage(append(body, make([]byte, macLen)...))
	require.Error(t, err)
}

func TestPreKeySignalMessageRoundTrip(t *testing.T) {
	pkm := PreKeySignalMessage{
		SessionVersion: CurrentVersion,
		RegistrationID: 99,
		HasPreKeyID:    true,
		PreKeyID:       5,
		SignedPreKeyID: 6,
		Message:        []byte("embedded signal message"),
	}
	pkm.BaseKey[0] = 0x05
	pkm.IdentityKey[0] = 0x05

	wire, err := pkm.Encode()
	require.NoError(t, err)

	parsed, err := ParsePreKeySignalMessage(wire)
	require.NoError(t, err)
	require.Equal(t, pkm.RegistrationID, parsed.RegistrationID)
	require.True(t, parsed.HasPreKeyID)
	require.Equal(t, pkm.PreKeyID, parsed.PreKeyID)
	require.Equal(t, pkm.Message, parsed.Message)
	require.False(t, parsed.HasKyberPreKey)
}

func TestPreKeySignalMessageRejectsMismatchedKyberFields(t *testing.T) {
	pkm := PreKeySignalMessage{
		SessionVersion: CurrentVersion,
		HasKyberPreKey: true, // no ciphertext set: violates the co-presence invariant
	}
	pkm.BaseKey[0] = 0x05
	pkm.IdentityKey[0] = 0x05

	_, err := pkm.Encode()
	require.Error(t, err)
}
