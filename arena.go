// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package offheap

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gholt/brimtext"

	"github.com/bpowers/offheap/block"
	"github.com/bpowers/offheap/blockpool"
)

var (
	// ErrValueTooLarge rejects values whose encoding (plus the slice
	// header) exceeds a single block; they are unsupported by design and
	// refused before any allocation is attempted.
	ErrValueTooLarge = errors.New("encoded value exceeds block capacity")

	// ErrArenaClosed rejects allocation from a closed arena.
	ErrArenaClosed = errors.New("arena is closed")

	errTooManyBlocks = errors.New("arena exceeded 65535 leased blocks")
)

// Arena carves value slices out of Blocks leased from the block pool.  It
// never hands memory back at slice granularity: moved and deleted slices
// stay dead until the arena closes and its blocks are returned whole.
//
// Allocation is a lock-free bump on the current block; the mutex is taken
// only to lease the next block when the current one fills.
type Arena struct {
	pool   *blockpool.Pool
	mu     sync.Mutex // guards leasing and Close
	blocks atomic.Pointer[[]*block.Block]
	cur    atomic.Pointer[block.Block]
	closed bool
}

// NewArena builds an arena over the process-wide block pool, initializing
// the pool with its default configuration if this is the first use.
func NewArena() (*Arena, error) {
	p, err := blockpool.Instance()
	if err != nil {
		return nil, fmt.Errorf("blockpool.Instance: %w", err)
	}
	return NewArenaWithPool(p), nil
}

// NewArenaWithPool builds an arena over an explicit pool.  Useful for tests
// that must not share the process-wide pool.
func NewArenaWithPool(p *blockpool.Pool) *Arena {
	a := &Arena{pool: p}
	empty := make([]*block.Block, 0)
	a.blocks.Store(&empty)
	return a
}

// MaxValueLen is the largest encoded value this arena can store.
func (a *Arena) MaxValueLen() int {
	max := a.pool.BlockSize() - sliceOverhead
	if max > lengthMask {
		max = lengthMask
	}
	return max
}

// allocate claims room for an n-byte payload and returns the slice's
// location plus its full window (header included).  The window's header
// word is whatever the block held before; the caller must store a complete
// header before publishing the location anywhere a reader can see it.
func (a *Arena) allocate(n int) (ref, []byte, error) {
	if n < minPayload {
		n = minPayload
	}
	if n > a.MaxValueLen() {
		return 0, nil, fmt.Errorf("%w: %d > %d", ErrValueTooLarge, n, a.MaxValueLen())
	}
	need := uint32(sliceOverhead + n)
	for {
		cur := a.cur.Load()
		if cur != nil {
			if off, ok := cur.Allocate(need); ok {
				return packRef(cur.ID(), off), cur.Bytes(off, need), nil
			}
		}
		if err := a.lease(cur); err != nil {
			return 0, nil, err
		}
	}
}

// lease swaps in a fresh block from the pool.  prev is the current block
// the caller saw fill up (nil before the first lease); if another thread
// already swapped, lease does nothing and the caller re-tries the bump.
func (a *Arena) lease(prev *block.Block) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrArenaClosed
	}
	if a.cur.Load() != prev {
		return nil
	}
	bs := *a.blocks.Load()
	if len(bs) >= 1<<16-1 {
		return errTooManyBlocks
	}
	b, err := a.pool.Get()
	if err != nil {
		return fmt.Errorf("leasing block: %w", err)
	}
	// ids are assigned at lease time only; pooled blocks have none
	b.SetID(uint16(len(bs) + 1))

	next := make([]*block.Block, len(bs)+1)
	copy(next, bs)
	next[len(bs)] = b
	a.blocks.Store(&next)
	a.cur.Store(b)
	return nil
}

func (a *Arena) blockByID(id uint16) *block.Block {
	bs := *a.blocks.Load()
	return bs[id-1]
}

// window returns n bytes of a slice starting at its header.
func (a *Arena) window(r ref, n uint32) []byte {
	return a.blockByID(r.blockID()).Bytes(r.offset(), n)
}

// header returns the slice's header word for atomic access.
func (a *Arena) header(r ref) *atomic.Uint64 {
	return headerWord(a.window(r, sliceOverhead))
}

// Close returns every leased block to the pool.  The caller must guarantee
// no operation is in flight and no Context bound to this arena's slots is
// used again: the blocks' bytes are recycled from here on.
func (a *Arena) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.cur.Store(nil)
	bs := *a.blocks.Load()
	for _, b := range bs {
		a.pool.Put(b)
	}
	empty := make([]*block.Block, 0)
	a.blocks.Store(&empty)
}

// ArenaStats is a point-in-time snapshot of an arena's accounting.
type ArenaStats struct {
	// Blocks is the number of blocks currently leased.
	Blocks int
	// Reserved is the total capacity of those blocks, in bytes.
	Reserved uint64
	// Allocated is how many of those bytes have been claimed by slices,
	// live or dead.
	Allocated uint64
}

// Stats snapshots the arena's accounting.
func (a *Arena) Stats() ArenaStats {
	bs := *a.blocks.Load()
	s := ArenaStats{Blocks: len(bs)}
	for _, b := range bs {
		s.Reserved += uint64(b.Capacity())
		s.Allocated += uint64(b.Allocated())
	}
	return s
}

func (s ArenaStats) String() string {
	report := [][]string{
		{"Blocks", fmt.Sprintf("%d", s.Blocks)},
		{"Reserved", fmt.Sprintf("%d", s.Reserved)},
		{"Allocated", fmt.Sprintf("%d", s.Allocated)},
	}
	return brimtext.Align(report, nil)
}
