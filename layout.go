// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package offheap

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Every stored value sits inside a block as
//
//	[ header word (8) | checksum (4) | payload ... ]
//
// The header word carries state, version and payload length packed into a
// single uint64 so one atomic load observes all three together:
//
//	bits 0..1   state (pending / valid / moved / deleted)
//	bits 2..35  version, monotonic per logical slot
//	bits 36..63 payload length in bytes
//
// Freshly claimed block memory can contain stale bytes from a previous
// lease, so a slice is only reachable (via its slot) after the header word
// has been stored in full.  Zeroed memory decodes as statePending, which
// readers treat as retry.
const (
	stateBits   = 2
	versionBits = 34
	lengthBits  = 28

	versionShift = stateBits
	lengthShift  = stateBits + versionBits

	stateMask   = 1<<stateBits - 1
	versionMask = 1<<versionBits - 1
	lengthMask  = 1<<lengthBits - 1

	headerWordSize = 8
	checksumSize   = 4
	sliceOverhead  = headerWordSize + checksumSize

	// minPayload keeps every slice large enough to hold a forwarding
	// reference once it is marked moved.
	minPayload = 8
)

type sliceState uint64

const (
	statePending sliceState = iota // write in progress, or not yet published
	stateValid
	stateMoved   // terminal: relocated, first payload word forwards
	stateDeleted // terminal: tombstone
)

// header is the packed header word.
type header uint64

func packHeader(st sliceState, version uint64, length uint32) header {
	return header(uint64(st) | (version&versionMask)<<versionShift | uint64(length)<<lengthShift)
}

func (h header) state() sliceState {
	return sliceState(h & stateMask)
}

func (h header) version() uint64 {
	return uint64(h) >> versionShift & versionMask
}

func (h header) length() uint32 {
	return uint32(uint64(h) >> lengthShift & lengthMask)
}

// withState keeps version and length, replacing only the state tag.
func (h header) withState(st sliceState) header {
	return h&^stateMask | header(st)
}

// bump produces the successor header: version+1, the given state and length.
func (h header) bump(st sliceState, length uint32) header {
	return packHeader(st, h.version()+1, length)
}

// ref packs a slice location as published in a Slot:
//
//	bits 0..31   byte offset within the block
//	bits 32..47  block id (ids start at 1; 0 means no slice)
//	bit  63      frozen flag
//
// A zero ref is an unallocated slot.
type ref uint64

const refFrozen ref = 1 << 63

func packRef(blockID uint16, off uint32) ref {
	return ref(uint64(blockID)<<32 | uint64(off))
}

func (r ref) blockID() uint16 {
	return uint16(r >> 32)
}

func (r ref) offset() uint32 {
	return uint32(r)
}

func (r ref) frozen() bool {
	return r&refFrozen != 0
}

// location strips the frozen flag, leaving just where the slice lives.
func (r ref) location() ref {
	return r &^ refFrozen
}

func (r ref) isNil() bool {
	return r.location() == 0
}

// headerWord returns the slice's header word for atomic access.  b must be
// the start of the slice window; block allocation guarantees the required
// 8-byte alignment.
func headerWord(b []byte) *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&b[0]))
}

func storedChecksum(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[headerWordSize:sliceOverhead])
}

func setChecksum(b []byte, sum uint32) {
	binary.LittleEndian.PutUint32(b[headerWordSize:sliceOverhead], sum)
}

// forwardTo records the replacement slice's location in the first payload
// word of a slice about to be marked moved.
func forwardTo(b []byte, next ref) {
	binary.LittleEndian.PutUint64(b[sliceOverhead:sliceOverhead+8], uint64(next))
}

// forwardedFrom reads the forwarding reference out of a moved slice.
func forwardedFrom(b []byte) ref {
	return ref(binary.LittleEndian.Uint64(b[sliceOverhead : sliceOverhead+8]))
}

// align8 rounds n up to the block allocation granule.
func align8(n uint32) uint32 {
	return (n + 7) &^ 7
}

// fitsInPlace reports whether a newLen-byte payload can overwrite a slice
// that currently holds oldLen bytes without outgrowing its allocation.
func fitsInPlace(oldLen, newLen uint32) bool {
	if oldLen < minPayload {
		oldLen = minPayload
	}
	return align8(sliceOverhead+newLen) <= align8(sliceOverhead+oldLen)
}
