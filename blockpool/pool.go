// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package pool owns the process-wide reservoir of off-heap Blocks.  The big
// mappings are expensive, so they are pre-allocated in batches, leased out
// whole, and recycled: a returned Block is rewound and queued for the next
// allocator rather than unmapped.  The pool only gives memory back to the
// operating system when the free queue grows well past its target size.
package blockpool

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bpowers/offheap/block"
)

const (
	// DefaultBlockSize is 256 MiB: big enough that leasing is rare, small
	// enough that holding a handful of spare blocks is tolerable.
	DefaultBlockSize = 256 * 1024 * 1024

	// DefaultInitialCount pre-allocates 2.5 GiB of address space at the
	// default block size.
	DefaultInitialCount = 10

	// DefaultExcessRatio triggers a shrink once the free queue holds more
	// than this multiple of the initial count.
	DefaultExcessRatio = 3
)

var ErrClosed = errors.New("block pool is closed")

// Config fixes the pool's shape.  It is set once, at first use; changing it
// afterwards requires an explicit Reset and is intended for test harnesses.
type Config struct {
	// BlockSize is the fixed capacity of every Block, in bytes.
	BlockSize int
	// InitialCount is the number of Blocks pre-allocated up front.
	InitialCount int
	// GrowthCount is how many Blocks are mapped when the queue runs dry.
	// Defaults to half of InitialCount.
	GrowthCount int
	// ExcessRatio: a free queue longer than ExcessRatio*InitialCount is
	// considered bloated and triggers a shrink.
	ExcessRatio int
	// ShrinkBatch is how many Blocks one shrink event unmaps.  Defaults to
	// InitialCount, which leaves the queue comfortably under the threshold
	// so a single crossing can't cascade.
	ShrinkBatch int
	// Scrub zeroes each Block's claimed bytes when it is returned, so
	// use-after-free bugs read zeros instead of stale values.  Debug aid;
	// too slow for production block sizes.
	Scrub bool
	// Logger receives grow/shrink/close events at Debug level.  Defaults
	// to a discarding logger.
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.InitialCount <= 0 {
		c.InitialCount = DefaultInitialCount
	}
	if c.GrowthCount <= 0 {
		c.GrowthCount = c.InitialCount / 2
		if c.GrowthCount == 0 {
			c.GrowthCount = 1
		}
	}
	if c.ExcessRatio <= 0 {
		c.ExcessRatio = DefaultExcessRatio
	}
	if c.ShrinkBatch <= 0 {
		c.ShrinkBatch = c.InitialCount
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Pool is a reservoir of equally-sized Blocks.  All methods are safe for
// concurrent use.  The critical sections are short: a queue operation plus,
// rarely, a batch map or unmap.
type Pool struct {
	mu       sync.Mutex
	free     []*block.Block
	cfg      Config
	created  uint64 // blocks mapped over the pool's lifetime
	released uint64 // blocks unmapped over the pool's lifetime
	shrinks  uint64
	closed   bool
}

// New builds a standalone pool and pre-allocates cfg.InitialCount Blocks.
// Most callers want the process-wide Instance instead; standalone pools are
// for tests that must not share state.
func New(cfg Config) (*Pool, error) {
	cfg.setDefaults()
	p := &Pool{cfg: cfg}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.grow(cfg.InitialCount); err != nil {
		_ = p.drain()
		return nil, err
	}
	return p, nil
}

// BlockSize is the fixed capacity of every Block this pool hands out.
func (p *Pool) BlockSize() int {
	return p.cfg.BlockSize
}

// Get removes and returns a Block from the free queue, mapping a fresh
// batch first if the queue is dry.  It never returns a nil Block on a nil
// error and never parks waiting on another thread's return; the only wait
// is the bounded critical section of a concurrent grow.
func (p *Pool) Get() (*block.Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if len(p.free) == 0 {
		// we won the lock and still see an empty queue, so growing is
		// on us; contenders are held at the lock above until the batch
		// is mapped
		if err := p.grow(p.cfg.GrowthCount); err != nil {
			return nil, err
		}
	}
	n := len(p.free) - 1
	b := p.free[n]
	p.free[n] = nil
	p.free = p.free[:n]
	return b, nil
}

// Put rewinds b and returns it to the free queue.  b must not be referenced
// by any thread once handed back.  If the queue is now bloated past
// ExcessRatio times the initial count, one shrink batch is unmapped;
// the batch size keeps the queue far enough below the threshold that a
// single crossing fires exactly one shrink.
func (p *Pool) Put(b *block.Block) {
	if p.cfg.Scrub {
		b.Scrub()
	}
	b.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		// the pool no longer tracks this block; release it outright
		if err := b.Free(); err != nil {
			p.cfg.Logger.Debug("freeing block returned after close", "err", err)
		}
		p.released++
		return
	}
	p.free = append(p.free, b)
	if len(p.free) > p.cfg.ExcessRatio*p.cfg.InitialCount {
		p.shrink(p.cfg.ShrinkBatch)
	}
}

// Close unmaps every Block in the free queue.  Blocks currently leased to
// allocators are not tracked here: releasing them is the leasing
// allocator's job, and a Put after Close unmaps immediately.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.drain()
	p.cfg.Logger.Debug("block pool closed", "created", p.created, "released", p.released)
	return err
}

// grow maps n fresh Blocks into the free queue.  Caller holds p.mu.  A
// mapping failure is resource exhaustion and is reported, not retried.
func (p *Pool) grow(n int) error {
	for i := 0; i < n; i++ {
		b, err := block.New(p.cfg.BlockSize)
		if err != nil {
			return fmt.Errorf("growing block pool: %w", err)
		}
		p.free = append(p.free, b)
		p.created++
	}
	p.cfg.Logger.Debug("block pool grew", "blocks", n, "free", len(p.free))
	return nil
}

// shrink unmaps n Blocks from the free queue.  Caller holds p.mu.
func (p *Pool) shrink(n int) {
	for i := 0; i < n && len(p.free) > 0; i++ {
		last := len(p.free) - 1
		b := p.free[last]
		p.free[last] = nil
		p.free = p.free[:last]
		if err := b.Free(); err != nil {
			p.cfg.Logger.Debug("freeing excess block", "err", err)
		}
		p.released++
	}
	p.shrinks++
	p.cfg.Logger.Debug("block pool shrank", "free", len(p.free))
}

// drain unmaps everything in the free queue.  Caller holds p.mu.
func (p *Pool) drain() error {
	var firstErr error
	for _, b := range p.free {
		if err := b.Free(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.released++
	}
	p.free = nil
	return firstErr
}
