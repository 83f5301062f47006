package spqr

import "github.com/arcanumlabs/ratchet/errkind"

// EpochAction is the outcome of validating an inbound message's epoch
// against this side's current epoch.
type EpochAction int

const (
	// ActionDrop means the message is from a prior epoch (a
	// replay/retransmit) and should be silently discarded.
	ActionDrop EpochAction = iota
	// ActionDispatch means the message matches the current epoch and
	// should be handed to the active state.
	ActionDispatch
	// ActionAdvance means the message is for epoch+1 and the
	// terminal Ct2Sampled state should roll over before redispatch.
	ActionAdvance
)

// ValidateEpoch classifies msgEpoch against stateEpoch. atTerminal
// reports whether the local side is currently in the Ct2Sampled
// terminal state that is allowed to roll forward on an epoch+1
// message.
func ValidateEpoch(stateEpoch, msgEpoch uint64, atTerminal bool) (EpochAction, error) {
	switch {
	case msgEpoch < stateEpoch:
		return ActionDrop, nil
	case msgEpoch == stateEpoch:
		return ActionDispatch, nil
	case msgEpoch == stateEpoch+1 && atTerminal:
		return ActionAdvance, nil
	default:
		return 0, errkind.Newf(errkind.EpochOutOfRange, "spqr: message epoch %d incompatible with local epoch %d", msgEpoch, stateEpoch)
	}
}
