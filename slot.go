// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package offheap

import "sync/atomic"

// Slot is one logical value slot, owned by the index structure that maps
// keys to values.  It holds the published location of the slot's current
// slice plus a frozen flag; the zero Slot is unallocated and ready for a
// first Put.
//
// The index structure must keep a Slot at a stable address for as long as
// any Context is bound to it.
type Slot struct {
	ref atomic.Uint64
}

func (s *Slot) load() ref {
	return ref(s.ref.Load())
}

// publish CASes the slot's location while preserving the frozen flag.  It
// only fails if a concurrent Freeze/Unfreeze raced the update, so it just
// retries; locations themselves change only under the slice write lock.
func (s *Slot) publish(old, new ref) {
	for {
		cur := s.load()
		if cur.location() != old.location() {
			panic("offheap: slot republished outside the slice write lock")
		}
		next := new.location() | cur&refFrozen
		if s.ref.CompareAndSwap(uint64(cur), uint64(next)) {
			return
		}
	}
}

// Freeze marks the slot frozen: every subsequent mutation returns Retry
// until Unfreeze.  Reads still serve.  Used by the owning index while it
// reorganizes the structure around the slot.
func (s *Slot) Freeze() {
	for {
		cur := s.load()
		if s.ref.CompareAndSwap(uint64(cur), uint64(cur|refFrozen)) {
			return
		}
	}
}

// Unfreeze lifts a Freeze.
func (s *Slot) Unfreeze() {
	for {
		cur := s.load()
		if s.ref.CompareAndSwap(uint64(cur), uint64(cur&^refFrozen)) {
			return
		}
	}
}

// Frozen reports whether the slot currently rejects mutation.
func (s *Slot) Frozen() bool {
	return s.load().frozen()
}

// Context is caller-owned scratch state naming a logical slot and the last
// slice/version the caller observed for it.  It is mutated by every
// protocol operation: updated to the new observation on Done, left stale on
// Retry so the caller decides when to Refresh.  A Context belongs to one
// goroutine and is meant to be reused across calls and slots.
type Context struct {
	a    *Arena
	slot *Slot
	ref  ref    // last observed location
	hdr  header // last observed header word
}

// NewContext returns a reusable Context for operations against a's memory.
func (a *Arena) NewContext() *Context {
	return &Context{a: a}
}

// Bind points the Context at a slot and takes a fresh observation.
func (c *Context) Bind(s *Slot) *Context {
	c.slot = s
	c.Refresh()
	return c
}

// Refresh re-reads the slot's published location and that slice's header
// word.  Callers invoke it after a Retry before reattempting.
func (c *Context) Refresh() {
	c.ref = c.slot.load().location()
	if c.ref.isNil() {
		c.hdr = 0
		return
	}
	c.hdr = header(c.a.header(c.ref).Load())
}

// observe records a successful operation's view.
func (c *Context) observe(r ref, h header) {
	c.ref = r
	c.hdr = h
}
