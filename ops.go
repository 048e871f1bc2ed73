// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package offheap

import (
	"bytes"
	"fmt"

	"github.com/dgryski/go-farm"
)

// The protocol below is optimistic: no operation blocks, and any operation
// that loses a race reports Retry and leaves the caller to refresh its
// Context and reattempt.  Write exclusivity is a CAS of the slice's header
// word from its observed value to the same version in statePending; whoever
// wins that CAS owns the payload bytes until it republishes a bumped
// header.  Readers never take the lock: they load the header word before
// and after touching the payload and discard anything observed across a
// change.
//
// Decoders run directly over the shared byte window to avoid a copy, so a
// decoder must tolerate arbitrary bytes (a torn read is detected only
// after it returns) and must not retain the window.

func checksum(payload []byte) uint32 {
	return uint32(farm.Hash64(payload))
}

// corrupted reports a checksum mismatch that survived the version fence:
// nothing raced the read, the memory itself is wrong.  Programming error or
// stray write; not part of the modeled outcome space.
func corrupted(r ref) {
	panic(fmt.Sprintf("offheap: checksum mismatch at block %d offset %d: memory corrupted", r.blockID(), r.offset()))
}

// mutable is the shared gate for mutating operations: it validates the
// Context's observation against the slot and the live header word.  st is
// Done when the caller may proceed against header h at location r.
func (c *Context) mutable() (r ref, h header, st Status) {
	sr := c.slot.load()
	if sr.frozen() {
		return 0, 0, Retry
	}
	r = sr.location()
	if r.isNil() {
		return 0, 0, Rejected
	}
	if r != c.ref {
		return 0, 0, Retry
	}
	h = header(c.a.header(r).Load())
	switch h.state() {
	case stateDeleted:
		return 0, 0, Rejected
	case stateMoved, statePending:
		return 0, 0, Retry
	}
	if h.version() != c.hdr.version() {
		return 0, 0, Retry
	}
	return r, h, Done
}

// Read decodes the value at the Context's slice.  It never observes a torn
// write: the header word is loaded before and after dec runs, and any
// change in between discards the result with Retry.  Rejected means the
// value is absent or deleted.  Reads serve frozen slots.
func Read[V any](ctx *Context, dec func([]byte) V) (V, Status) {
	var zero V
	r := ctx.ref
	if r.isNil() {
		return zero, Rejected
	}
	hp := ctx.a.header(r)
	h0 := header(hp.Load())
	switch h0.state() {
	case stateDeleted:
		return zero, Rejected
	case stateMoved, statePending:
		return zero, Retry
	}
	if h0.version() != ctx.hdr.version() {
		return zero, Retry
	}
	win := ctx.a.window(r, sliceOverhead+h0.length())
	pay := win[sliceOverhead:]
	sum := checksum(pay)
	v := dec(pay)
	if header(hp.Load()) != h0 {
		return zero, Retry
	}
	if sum != storedChecksum(win) {
		corrupted(r)
	}
	return v, Done
}

// Put writes v into the slot only if the slot has never held a value:
// first-write semantics, cheaper than Exchange because the prior value is
// neither decoded nor returned.  Rejected means the slot is occupied.  A
// non-nil error (allocation failure, value too large) makes the Status
// meaningless.
func Put[V any](ctx *Context, v V, enc func(V) []byte) (Status, error) {
	sr := ctx.slot.load()
	if sr.frozen() {
		return Retry, nil
	}
	if !sr.isNil() {
		return Rejected, nil
	}
	buf := enc(v)
	r, win, err := ctx.a.allocate(len(buf))
	if err != nil {
		return Rejected, err
	}
	pay := win[sliceOverhead : sliceOverhead+len(buf)]
	copy(pay, buf)
	setChecksum(win, checksum(pay))
	h := packHeader(stateValid, 1, uint32(len(buf)))
	headerWord(win).Store(uint64(h))

	if !ctx.slot.ref.CompareAndSwap(uint64(sr), uint64(r)) {
		// lost the first-write race (or a freeze landed): the fresh
		// slice was never visible, tombstone it and report what we
		// found
		headerWord(win).Store(uint64(h.bump(stateDeleted, uint32(len(buf)))))
		if cur := ctx.slot.load(); cur.frozen() {
			return Retry, nil
		}
		return Rejected, nil
	}
	ctx.observe(r, h)
	return Done, nil
}

// replaceLocked overwrites the slice at r, held in statePending with prior
// header h0, with buf -- in place when the new payload fits the slice's
// allocation, otherwise by relocating to a fresh slice, republishing the
// slot and stamping the old slice moved with a forwarding reference.  On
// error the prior header is restored and nothing has changed.
func replaceLocked(a *Arena, s *Slot, r ref, h0 header, buf []byte) (ref, header, error) {
	hp := a.header(r)
	oldLen := h0.length()
	newLen := uint32(len(buf))

	if fitsInPlace(oldLen, newLen) {
		win := a.window(r, sliceOverhead+newLen)
		pay := win[sliceOverhead:]
		copy(pay, buf)
		setChecksum(win, checksum(pay))
		h := h0.bump(stateValid, newLen)
		hp.Store(uint64(h))
		return r, h, nil
	}

	r2, win2, err := a.allocate(len(buf))
	if err != nil {
		hp.Store(uint64(h0))
		return 0, 0, err
	}
	pay2 := win2[sliceOverhead : sliceOverhead+newLen]
	copy(pay2, buf)
	setChecksum(win2, checksum(pay2))
	h2 := h0.bump(stateValid, newLen)
	headerWord(win2).Store(uint64(h2))

	s.publish(r, r2)

	// the old bytes are dead from here: leave a forwarding reference and
	// the terminal moved state so stale readers go back to the slot
	old := a.window(r, sliceOverhead+minPayload)
	forwardTo(old, r2)
	hp.Store(uint64(h0.bump(stateMoved, oldLen)))
	return r2, h2, nil
}

// Exchange unconditionally replaces the stored value and returns the prior
// one, decoded with dec.  Rejected means the slot is absent or deleted; a
// deleted slice is never resurrected.  A non-nil error (allocation failure
// during relocation, value too large) makes the Status meaningless; the
// stored value is unchanged.
func Exchange[V any](ctx *Context, v V, dec func([]byte) V, enc func(V) []byte) (V, Status, error) {
	var zero V
	r, h0, st := ctx.mutable()
	if st != Done {
		return zero, st, nil
	}
	hp := ctx.a.header(r)
	win := ctx.a.window(r, sliceOverhead+h0.length())
	pay := win[sliceOverhead:]
	oldSum := checksum(pay)
	var old V
	if dec != nil {
		old = dec(pay)
	}
	if !hp.CompareAndSwap(uint64(h0), uint64(h0.withState(statePending))) {
		return zero, Retry, nil
	}
	// the CAS proved no writer ran between our load and now, so the
	// decoded prior value is consistent
	if oldSum != storedChecksum(win) {
		corrupted(r)
	}
	r2, h2, err := replaceLocked(ctx.a, ctx.slot, r, h0, enc(v))
	if err != nil {
		return zero, Rejected, err
	}
	ctx.observe(r2, h2)
	return old, Done, nil
}

// CompareExchange behaves as Exchange but only proceeds when the live
// payload equals the canonical encoding of expected; inequality is Rejected
// with nothing mutated.  Of two threads racing it against the same version,
// exactly one wins; the loser observes Retry.  It does not return the prior
// value (the caller already knows it).
func CompareExchange[V any](ctx *Context, expected, v V, enc func(V) []byte) (Status, error) {
	r, h0, st := ctx.mutable()
	if st != Done {
		return st, nil
	}
	hp := ctx.a.header(r)
	win := ctx.a.window(r, sliceOverhead+h0.length())
	pay := win[sliceOverhead:]
	if !bytes.Equal(pay, enc(expected)) {
		if header(hp.Load()) != h0 {
			// the comparison may have raced a writer; don't report
			// a definitive mismatch off torn bytes
			return Retry, nil
		}
		return Rejected, nil
	}
	if !hp.CompareAndSwap(uint64(h0), uint64(h0.withState(statePending))) {
		return Retry, nil
	}
	r2, h2, err := replaceLocked(ctx.a, ctx.slot, r, h0, enc(v))
	if err != nil {
		return Rejected, err
	}
	ctx.observe(r2, h2)
	return Done, nil
}

// Remove marks the slot's slice deleted, a terminal state, and returns the
// removed value decoded with dec (dec may be nil if the caller doesn't want
// it).  Rejected means the value was already deleted or never written.  The
// slice's bytes become eligible for reclamation when the owning arena's
// blocks are recycled; the index decides when to prune the slot itself.
func Remove[V any](ctx *Context, dec func([]byte) V) (V, Status) {
	var zero V
	r, h0, st := ctx.mutable()
	if st != Done {
		return zero, st
	}
	hp := ctx.a.header(r)
	win := ctx.a.window(r, sliceOverhead+h0.length())
	pay := win[sliceOverhead:]
	sum := checksum(pay)
	var old V
	if dec != nil {
		old = dec(pay)
	}
	h := h0.bump(stateDeleted, h0.length())
	if !hp.CompareAndSwap(uint64(h0), uint64(h)) {
		return zero, Retry
	}
	if dec != nil && sum != storedChecksum(win) {
		corrupted(r)
	}
	ctx.observe(r, h)
	return old, Done
}

// RemoveIf removes only when the live payload equals the canonical encoding
// of expected; inequality (or an already-deleted value) is Rejected with
// nothing mutated.
func RemoveIf[V any](ctx *Context, expected V, enc func(V) []byte) Status {
	r, h0, st := ctx.mutable()
	if st != Done {
		return st
	}
	hp := ctx.a.header(r)
	win := ctx.a.window(r, sliceOverhead+h0.length())
	pay := win[sliceOverhead:]
	if !bytes.Equal(pay, enc(expected)) {
		if header(hp.Load()) != h0 {
			return Retry
		}
		return Rejected
	}
	h := h0.bump(stateDeleted, h0.length())
	if !hp.CompareAndSwap(uint64(h0), uint64(h)) {
		return Retry
	}
	ctx.observe(r, h)
	return Done
}

// Compute applies mutate directly over the slice's writable payload window,
// avoiding a decode/encode round trip.  The window is only valid for the
// duration of the call and must not be retained or resized.  Rejected means
// the value is absent or deleted.  On Retry the payload was not touched:
// exclusivity is won before mutate runs.
func Compute(ctx *Context, mutate func([]byte)) Status {
	r, h0, st := ctx.mutable()
	if st != Done {
		return st
	}
	hp := ctx.a.header(r)
	if !hp.CompareAndSwap(uint64(h0), uint64(h0.withState(statePending))) {
		return Retry
	}
	win := ctx.a.window(r, sliceOverhead+h0.length())
	pay := win[sliceOverhead:]
	mutate(pay)
	setChecksum(win, checksum(pay))
	h := h0.bump(stateValid, h0.length())
	hp.Store(uint64(h))
	ctx.observe(r, h)
	return Done
}
