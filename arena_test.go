// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package offheap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpowers/offheap/blockpool"
)

func newTestPool(t testing.TB, cfg blockpool.Config) *blockpool.Pool {
	t.Helper()
	if cfg.BlockSize == 0 {
		cfg.BlockSize = 1 << 16
	}
	if cfg.InitialCount == 0 {
		cfg.InitialCount = 2
	}
	p, err := blockpool.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newTestArena(t testing.TB) *Arena {
	t.Helper()
	a := NewArenaWithPool(newTestPool(t, blockpool.Config{}))
	t.Cleanup(a.Close)
	return a
}

func TestArenaAllocate(t *testing.T) {
	a := newTestArena(t)

	r, win, err := a.allocate(100)
	require.NoError(t, err)
	require.Equal(t, uint16(1), r.blockID())
	require.Zero(t, r.offset())
	require.Len(t, win, sliceOverhead+100)

	r2, _, err := a.allocate(1)
	require.NoError(t, err)
	require.Equal(t, uint16(1), r2.blockID())
	require.Zero(t, r2.offset()%8)
	require.Greater(t, r2.offset(), r.offset())

	require.Equal(t, 1, a.Stats().Blocks)
}

func TestArenaLeasesOnDemand(t *testing.T) {
	a := newTestArena(t)

	// a block is 64 KiB here; chew through several of them
	for i := 0; i < 20; i++ {
		_, _, err := a.allocate(16 * 1024)
		require.NoError(t, err)
	}
	st := a.Stats()
	require.Greater(t, st.Blocks, 1)
	require.Equal(t, uint64(st.Blocks*(1<<16)), st.Reserved)
}

func TestArenaValueTooLarge(t *testing.T) {
	a := newTestArena(t)

	require.Equal(t, 1<<16-sliceOverhead, a.MaxValueLen())
	_, _, err := a.allocate(a.MaxValueLen() + 1)
	require.ErrorIs(t, err, ErrValueTooLarge)

	// the limit itself is fine
	_, _, err = a.allocate(a.MaxValueLen())
	require.NoError(t, err)
}

func TestArenaClosed(t *testing.T) {
	p := newTestPool(t, blockpool.Config{})
	a := NewArenaWithPool(p)

	_, _, err := a.allocate(8)
	require.NoError(t, err)
	require.Equal(t, 1, p.Stats().Free)

	a.Close()
	_, _, err = a.allocate(8)
	require.ErrorIs(t, err, ErrArenaClosed)

	// closing returned the leased block to the pool
	require.Equal(t, 2, p.Stats().Free)
	a.Close() // idempotent
}

func TestArenaRecyclesThroughPool(t *testing.T) {
	p := newTestPool(t, blockpool.Config{})

	a := NewArenaWithPool(p)
	_, win, err := a.allocate(64)
	require.NoError(t, err)
	for i := range win {
		win[i] = 0xbb
	}
	a.Close()

	// a new arena over the same pool starts each block from a zero cursor
	a2 := NewArenaWithPool(p)
	defer a2.Close()
	r, _, err := a2.allocate(64)
	require.NoError(t, err)
	require.Zero(t, r.offset())
	require.Equal(t, uint16(1), r.blockID())
}

func TestArenaStatsString(t *testing.T) {
	a := newTestArena(t)
	_, _, err := a.allocate(100)
	require.NoError(t, err)

	s := a.Stats().String()
	require.Contains(t, s, "Blocks")
	require.Contains(t, s, "Reserved")
}
