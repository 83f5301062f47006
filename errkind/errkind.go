// Package errkind defines the typed error taxonomy shared by the
// session cipher, the X3DH builder, the wire framing, and the SPQR
// epoch engine.
//
// Every error raised by this module carries a Kind so that callers can
// branch on failure class with errors.As/errors.Is without parsing
// strings.
package errkind

import "fmt"

// Kind classifies why an operation failed.
type Kind int

const (
	// InvalidKey covers bad signatures, wrong key lengths, low-order
	// or zero DH output, and references to a pre-key that isn't in
	// the store.
	InvalidKey Kind = iota + 1
	// InvalidMessage covers framing failures: bad version, short
	// buffer, inconsistent kyber fields, truncated encoding.
	InvalidMessage
	// InvalidMac means the received MAC trailer did not match the
	// recomputed HMAC.
	InvalidMac
	// DuplicateMessage means the message counter was already
	// consumed.
	DuplicateMessage
	// InvalidSession means no matching chain exists, or no sender
	// chain exists when one is required.
	InvalidSession
	// KeyJump means the counter skipped further than MAX_JUMP.
	KeyJump
	// KeyTrimmed means a requested out-of-order key fell outside the
	// retained window.
	KeyTrimmed
	// KeyAlreadyRequested means the out-of-order key was already
	// consumed once.
	KeyAlreadyRequested
	// EpochOutOfRange means an SPQR epoch was too far ahead of or
	// behind the local state.
	EpochOutOfRange
	// UntrustedIdentity means the identity store's trust policy
	// rejected an identity change.
	UntrustedIdentity
)

func (k Kind) String() string {
	switch k {
	case InvalidKey:
		return "InvalidKey"
	case InvalidMessage:
		return "InvalidMessage"
	case InvalidMac:
		return "InvalidMac"
	case DuplicateMessage:
		return "DuplicateMessage"
	case InvalidSession:
		return "InvalidSession"
	case KeyJump:
		return "KeyJump"
	case KeyTrimmed:
		return "KeyTrimmed"
	case KeyAlreadyRequested:
		return "KeyAlreadyRequested"
	case EpochOutOfRange:
		return "EpochOutOfRange"
	case UntrustedIdentity:
		return "UntrustedIdentity"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carrying a Kind, a human-readable
// reason, and an optional wrapped cause.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind. This lets
// callers write errors.Is(err, errkind.New(errkind.InvalidMac, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an *Error of the given kind.
func New(k Kind, reason string) error {
	return &Error{Kind: k, Reason: reason}
}

// Newf creates an *Error of the given kind with a formatted reason.
func Newf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Reason: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given kind that wraps cause.
func Wrap(k Kind, reason string, cause error) error {
	return &Error{Kind: k, Reason: reason, Err: cause}
}

// Of reports the Kind of err, if err is (or wraps) an *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if as(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// as is a tiny indirection over errors.As so this file doesn't need to
// import errors solely for one call in two functions.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
