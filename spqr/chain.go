// Package spqr implements the SPQR (Signal Post-Quantum Ratchet)
// epoch engine: a symmetric directional Chain keyed by epoch, evolved
// with HKDF the same way kdf.ChainKey evolves with HMAC, plus the
// chunked ML-KEM state machine that periodically refreshes the epoch
// secret the Chain bootstraps from.
package spqr

import (
	"crypto/sha256"
	"io"

	"github.com/arcanumlabs/ratchet/errkind"
	"golang.org/x/crypto/hkdf"
)

const (
	chainNextInfo  = "Signal PQ Ratchet V1 Chain Next"
	chainStartInfo = "Signal PQ Ratchet V1 Chain  Start" // two spaces before Start, exact match required
	addEpochInfo   = "Signal PQ Ratchet V1 Chain Add Epoch"
)

// Direction is one of the two directional sub-chains an epoch carries.
type Direction int

const (
	A2B Direction = iota
	B2A
)

// Policy knobs.
const (
	MaxOOOKeys                   = 2000
	MaxJump                      = 25000
	EpochsToKeepPriorToSendEpoch = 2
)

// historyEntry is one retained out-of-order key, packed on the wire as
// [u32-BE index][key32].
type historyEntry struct {
	index uint32
	key   [32]byte
}

// KeyHistory is the bounded out-of-order cache for one directional
// chain: skipped keys are derived and stored on demand, then trimmed
// once they fall MaxOOOKeys behind the current counter.
type KeyHistory struct {
	entries []historyEntry
}

func (h *KeyHistory) store(index uint32, key [32]byte) {
	h.entries = append(h.entries, historyEntry{index: index, key: key})
}

func (h *KeyHistory) take(index uint32) ([32]byte, bool) {
	for i, e := range h.entries {
		if e.index == index {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return e.key, true
		}
	}
	return [32]byte{}, false
}

// gc drops entries more than MaxOOOKeys behind currentCtr.
func (h *KeyHistory) gc(currentCtr uint32) {
	kept := h.entries[:0]
	for _, e := range h.entries {
		if uint64(e.index)+MaxOOOKeys >= uint64(currentCtr) {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// directionalChain is one send or recv sub-chain within a single
// epoch: a 32-byte evolving key plus its monotonic counter and
// out-of-order cache.
type directionalChain struct {
	key     [32]byte
	counter uint32
	history KeyHistory
}

// advanceTo evolves key to ctr via repeated HKDF steps, caching every
// intermediate key it skips past, and returns the key at ctr.
func (c *directionalChain) advanceTo(ctr uint32) ([32]byte, error) {
	if ctr < c.counter {
		if key, ok := c.history.take(ctr); ok {
			return key, nil
		}
		return [32]byte{}, errkind.New(errkind.KeyAlreadyRequested, "spqr: chain key already consumed")
	}
	if uint64(ctr)-uint64(c.counter) > MaxJump {
		return [32]byte{}, errkind.Newf(errkind.KeyJump, "spqr: counter %d skips past %d by more than %d", ctr, c.counter, MaxJump)
	}
	var out [32]byte
	for c.counter <= ctr {
		next, err := hkdfStep(c.key[:], chainNextInfo, c.counter, 32)
		if err != nil {
			return [32]byte{}, err
		}
		var derived [32]byte
		copy(derived[:], next)
		if c.counter == ctr {
			out = derived
		} else {
			c.history.store(c.counter, derived)
			c.history.gc(ctr)
		}
		c.counter++
		c.key = derived
	}
	return out, nil
}

// recvKey reports the key for index i, raising KeyTrimmed if i fell
// out of the retained OOO window.
func (c *directionalChain) recvKey(i uint32) ([32]byte, error) {
	if i+MaxOOOKeys < c.counter {
		return [32]byte{}, errkind.New(errkind.KeyTrimmed, "spqr: requested key outside retained window")
	}
	return c.advanceTo(i)
}

// epochChains holds the send/recv directional chains bootstrapped for
// one epoch.
type epochChains struct {
	epoch uint64
	send  directionalChain
	recv  directionalChain
}

// Chain is the per-direction SPQR state: a
// strictly-increasing epoch sequence, each with its own send/recv
// directional chains, plus the rolling nextRoot used to bootstrap the
// next epoch.
type Chain struct {
	direction    Direction
	currentEpoch uint64
	sendEpoch    uint64
	nextRoot     [32]byte
	epochs       []*epochChains // ordered oldest..newest, bounded
}

// NewChain bootstraps epoch 1 from a 32-byte shared secret via
// HKDF-SHA256(salt=zero-32, info=chainStartInfo, len=96), split into
// nextRoot(0..32) | A2B-seed(32..64) | B2A-seed(64..96).
func NewChain(direction Direction, sharedSecret [32]byte) (*Chain, error) {
	var zeroSalt [32]byte
	buf := make([]byte, 96)
	r := hkdf.New(sha256.New, sharedSecret[:], zeroSalt[:], []byte(chainStartInfo))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errkind.Wrap(errkind.InvalidKey, "spqr: chain bootstrap", err)
	}

	c := &Chain{direction: direction, currentEpoch: 1, sendEpoch: 1}
	copy(c.nextRoot[:], buf[0:32])

	var a2bSeed, b2aSeed [32]byte
	copy(a2bSeed[:], buf[32:64])
	copy(b2aSeed[:], buf[64:96])

	ec := &epochChains{epoch: 1}
	if direction == A2B {
		ec.send.key = a2bSeed
		ec.recv.key = b2aSeed
	} else {
		ec.send.key = b2aSeed
		ec.recv.key = a2bSeed
	}
	c.epochs = append(c.epochs, ec)
	return c, nil
}

func (c *Chain) find(epoch uint64) *epochChains {
	for _, ec := range c.epochs {
		if ec.epoch == epoch {
			return ec
		}
	}
	return nil
}

// AddEpoch derives the next epoch's directional seeds from a freshly
// produced epoch secret: HKDF(ikm =
// epochSecret, salt = nextRoot, info = addEpochInfo, len = 96). The
// epoch number must be exactly currentEpoch+1.
func (c *Chain) AddEpoch(epoch uint64, epochSecret [32]byte) error {
	if epoch != c.currentEpoch+1 {
		return errkind.Newf(errkind.EpochOutOfRange, "spqr: epoch %d is not currentEpoch+1 (%d)", epoch, c.currentEpoch+1)
	}
	buf := make([]byte, 96)
	r := hkdf.New(sha256.New, epochSecret[:], c.nextRoot[:], []byte(addEpochInfo))
	if _, err := io.ReadFull(r, buf); err != nil {
		return errkind.Wrap(errkind.InvalidKey, "spqr: add epoch", err)
	}
	var nextRoot, a2bSeed, b2aSeed [32]byte
	copy(nextRoot[:], buf[0:32])
	copy(a2bSeed[:], buf[32:64])
	copy(b2aSeed[:], buf[64:96])

	ec := &epochChains{epoch: epoch}
	if c.direction == A2B {
		ec.send.key = a2bSeed
		ec.recv.key = b2aSeed
	} else {
		ec.send.key = b2aSeed
		ec.recv.key = a2bSeed
	}
	c.epochs = append(c.epochs, ec)
	c.nextRoot = nextRoot
	c.currentEpoch = epoch
	c.pruneEpochs()
	return nil
}

// pruneEpochs retains at most EpochsToKeepPriorToSendEpoch epochs
// older than sendEpoch.
func (c *Chain) pruneEpochs() {
	floor := int64(c.sendEpoch) - EpochsToKeepPriorToSendEpoch
	if floor < 1 {
		return
	}
	kept := c.epochs[:0]
	for _, ec := range c.epochs {
		if int64(ec.epoch) >= floor {
			kept = append(kept, ec)
		}
	}
	c.epochs = kept
}

// AdvanceSendEpoch reports that epoch has been used for an outbound
// message, bumping sendEpoch if it is newer.
func (c *Chain) AdvanceSendEpoch(epoch uint64) {
	if epoch > c.sendEpoch {
		c.sendEpoch = epoch
	}
	c.pruneEpochs()
}

// SendKey derives the next send-direction key for epoch.
func (c *Chain) SendKey(epoch uint64) ([32]byte, error) {
	if epoch < c.sendEpoch {
		return [32]byte{}, errkind.Newf(errkind.EpochOutOfRange, "spqr: send epoch %d decreased below %d", epoch, c.sendEpoch)
	}
	ec := c.find(epoch)
	if ec == nil {
		return [32]byte{}, errkind.Newf(errkind.EpochOutOfRange, "spqr: unknown send epoch %d", epoch)
	}
	return ec.send.advanceTo(ec.send.counter)
}

// RecvKey derives or fetches the receive-direction key at (epoch,
// index).
func (c *Chain) RecvKey(epoch uint64, index uint32) ([32]byte, error) {
	ec := c.find(epoch)
	if ec == nil {
		return [32]byte{}, errkind.Newf(errkind.EpochOutOfRange, "spqr: unknown recv epoch %d", epoch)
	}
	return ec.recv.recvKey(index)
}

// CurrentEpoch reports the highest epoch this chain has bootstrapped.
func (c *Chain) CurrentEpoch() uint64 { return c.currentEpoch }

// SendEpoch reports the epoch currently used for outbound messages.
func (c *Chain) SendEpoch() uint64 { return c.sendEpoch }

// Clone deep-copies c, including every retained epoch's directional
// chains and out-of-order key histories, so a trial ratchet/decrypt
// attempt can advance a copy without mutating the committed chain on
// failure.
func (c *Chain) Clone() *Chain {
	cp := &Chain{direction: c.direction, currentEpoch: c.currentEpoch, sendEpoch: c.sendEpoch, nextRoot: c.nextRoot}
	cp.epochs = make([]*epochChains, len(c.epochs))
	for i, ec := range c.epochs {
		cp.epochs[i] = ec.clone()
	}
	return cp
}

func (h KeyHistory) clone() KeyHistory {
	return KeyHistory{entries: append([]historyEntry(nil), h.entries...)}
}

func (dc directionalChain) clone() directionalChain {
	return directionalChain{key: dc.key, counter: dc.counter, history: dc.history.clone()}
}

func (ec *epochChains) clone() *epochChains {
	return &epochChains{epoch: ec.epoch, send: ec.send.clone(), recv: ec.recv.clone()}
}

// hkdfStep is the one-shot HKDF-SHA256 expansion used by the
// chain-advance derivation (advanceTo), keyed by a label plus a
// big-endian u32 counter folded into info. The epoch-bootstrap
// derivations in NewChain and AddEpoch call hkdf directly.
func hkdfStep(ikm []byte, info string, counter uint32, length int) ([]byte, error) {
	infoBytes := []byte(info)
	infoBytes = append(infoBytes, byte(counter>>24), byte(counter>>16), byte(counter>>8), byte(counter))
	var zeroSalt [32]byte
	out := make([]byte, length)
	r := hkdf.New(sha256.New, ikm, zeroSalt[:], infoBytes)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errkind.Wrap(errkind.InvalidKey, "spqr: chain advance", err)
	}
	return out, nil
}
