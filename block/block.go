// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package block manages fixed-capacity off-heap memory regions backed by
// anonymous mmap.  A Block is the unit leased out of the free pool: it hands
// out byte ranges with a bump cursor and only ever returns memory to the
// operating system whole, via Free.
package block

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/bpowers/offheap/internal/zero"
)

// NoID marks a Block that is sitting in the free pool.  Real ids are
// assigned by the leasing allocator and start at 1.
const NoID = uint16(0)

const (
	// granule is the allocation alignment: every offset a Block hands out
	// is 8-byte aligned so that a header word at the start of a slice can
	// be accessed with 64-bit atomics.
	granule = 8

	// MaxCapacity is the largest supported Block: offsets within a Block
	// are packed into 32 bits elsewhere.
	MaxCapacity = 1 << 32
)

// Block is a contiguous off-heap region.  A Block is owned by either the
// free pool or exactly one allocator at any time, never both; the owner is
// responsible for Reset and Free.  Allocate is safe for concurrent use,
// everything else assumes a single owner.
type Block struct {
	data []byte
	pos  atomic.Uint32 // bytes already claimed
	id   uint16        // NoID unless leased
}

// New maps capacity bytes of anonymous memory.  The region is not backed by
// the Go heap and must be released with Free.
func New(capacity int) (*Block, error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, fmt.Errorf("block capacity %d out of range", capacity)
	}
	data, err := unix.Mmap(-1, 0, capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("unix.Mmap(%d bytes): %w", capacity, err)
	}
	return &Block{data: data}, nil
}

// Allocate claims n bytes and returns their offset.  The offset is 8-byte
// aligned.  ok is false if the Block doesn't have room; the cursor is left
// untouched in that case.
func (b *Block) Allocate(n uint32) (off uint32, ok bool) {
	n = (n + granule - 1) &^ (granule - 1)
	for {
		pos := b.pos.Load()
		if uint64(pos)+uint64(n) > uint64(len(b.data)) {
			return 0, false
		}
		if b.pos.CompareAndSwap(pos, pos+n) {
			return pos, true
		}
	}
}

// Bytes returns the n-byte range starting at off.  The returned slice
// aliases the off-heap region; it must not be retained past the owner's
// Reset or Free.
func (b *Block) Bytes(off, n uint32) []byte {
	end := uint64(off) + uint64(n)
	if end > uint64(len(b.data)) {
		panic(fmt.Sprintf("block: range [%d:%d) beyond capacity %d", off, end, len(b.data)))
	}
	return b.data[off:end:end]
}

// Capacity is the fixed size of the region in bytes.
func (b *Block) Capacity() int {
	return len(b.data)
}

// Allocated is the number of bytes claimed so far.
func (b *Block) Allocated() uint32 {
	return b.pos.Load()
}

// ID returns the lease identity, or NoID if the Block is pooled.
func (b *Block) ID() uint16 {
	return b.id
}

// SetID assigns the lease identity.  Called by the allocator taking
// ownership; never while the Block is in the free pool.
func (b *Block) SetID(id uint16) {
	b.id = id
}

// Reset forgets the lease identity and rewinds the cursor so the full
// capacity can be claimed again.  The caller must guarantee no live
// references into the region remain.
func (b *Block) Reset() {
	b.id = NoID
	b.pos.Store(0)
}

// Scrub zeroes the claimed prefix of the region.  Used by the pool's
// scrub-on-return debug mode to turn use-after-free bugs into loud,
// deterministic failures.
func (b *Block) Scrub() {
	zero.Bytes(b.data[:b.pos.Load()])
}

// Free unmaps the region.  The Block must not be used afterwards.
func (b *Block) Free() error {
	data := b.data
	b.data = nil
	if data == nil {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("unix.Munmap: %w", err)
	}
	return nil
}
