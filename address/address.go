// Package address identifies the peer a session, store entry, or
// wire message belongs to.
package address

import (
	"fmt"

	"github.com/google/uuid"
)

// DeviceID distinguishes multiple devices registered under the same
// logical identity.
type DeviceID uint32

// ProtocolAddress names one physical device belonging to one logical
// user. Sessions, and every store capability in package store, are
// keyed by ProtocolAddress.
type ProtocolAddress struct {
	Name   string
	Device DeviceID
}

// New builds a ProtocolAddress.
func New(name string, device DeviceID) ProtocolAddress {
	return ProtocolAddress{Name: name, Device: device}
}

// String renders "name.device", used as the store key and in log
// correlation; it is not part of any wire format.
func (a ProtocolAddress) String() string {
	return fmt.Sprintf("%s.%d", a.Name, a.Device)
}

// CorrelationID is an opaque identifier minted for one call against a
// ProtocolAddress, so a store's or glue layer's log lines for that
// call can be grep-correlated. It never appears in a wire message or
// a store key — only in logs.
type CorrelationID string

// NewCorrelationID mints a fresh CorrelationID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}
