// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package offheap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderPacking(t *testing.T) {
	h := packHeader(stateValid, 12345, 678)
	require.Equal(t, stateValid, h.state())
	require.Equal(t, uint64(12345), h.version())
	require.Equal(t, uint32(678), h.length())

	// the extremes survive a round trip
	h = packHeader(stateDeleted, versionMask, lengthMask)
	require.Equal(t, stateDeleted, h.state())
	require.Equal(t, uint64(versionMask), h.version())
	require.Equal(t, uint32(lengthMask), h.length())

	// a zeroed header word reads as pending, which readers retry
	require.Equal(t, statePending, header(0).state())
}

func TestHeaderBump(t *testing.T) {
	h := packHeader(stateValid, 7, 100)
	b := h.bump(stateValid, 200)
	require.Equal(t, uint64(8), b.version())
	require.Equal(t, uint32(200), b.length())
	require.Equal(t, stateValid, b.state())

	d := h.bump(stateDeleted, 100)
	require.Equal(t, stateDeleted, d.state())
	require.Equal(t, uint64(8), d.version())

	p := h.withState(statePending)
	require.Equal(t, statePending, p.state())
	require.Equal(t, h.version(), p.version())
	require.Equal(t, h.length(), p.length())
}

func TestRefPacking(t *testing.T) {
	r := packRef(42, 1<<20)
	require.Equal(t, uint16(42), r.blockID())
	require.Equal(t, uint32(1<<20), r.offset())
	require.False(t, r.frozen())
	require.False(t, r.isNil())

	require.True(t, ref(0).isNil())

	f := r | refFrozen
	require.True(t, f.frozen())
	require.False(t, f.isNil())
	require.Equal(t, r, f.location())

	// a frozen empty slot is still empty
	require.True(t, refFrozen.isNil())
}

func TestFitsInPlace(t *testing.T) {
	// same granule: fits
	require.True(t, fitsInPlace(100, 100))
	require.True(t, fitsInPlace(100, 95))
	// growing past the allocated granule forces a move
	require.False(t, fitsInPlace(100, 108))
	// shrinking always fits
	require.True(t, fitsInPlace(1000, 1))
	// tiny slices have a minimum capacity worth of room
	require.True(t, fitsInPlace(1, minPayload))
}
