// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package offheap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytesCodec(t *testing.T) {
	in := []byte{1, 2, 3}
	require.Equal(t, in, EncodeBytes(in))

	window := []byte{4, 5, 6}
	out := DecodeBytes(window)
	require.Equal(t, window, out)
	// the decode copied: mutating the window must not alias the result
	window[0] = 0xff
	require.Equal(t, byte(4), out[0])
}

func TestStringCodec(t *testing.T) {
	require.Nil(t, EncodeString(""))
	require.Equal(t, []byte("abc"), EncodeString("abc"))
	require.Equal(t, "abc", DecodeString([]byte("abc")))

	window := []byte("xyz")
	s := DecodeString(window)
	window[0] = 'q'
	require.Equal(t, "xyz", s)
}

func TestUint64Codec(t *testing.T) {
	for _, v := range []uint64{0, 1, 1 << 40, ^uint64(0)} {
		require.Equal(t, v, DecodeUint64(EncodeUint64(v)))
	}
	// a decoder can be handed anything; short windows read as zero-padded
	require.Equal(t, uint64(0x02_01), DecodeUint64([]byte{1, 2}))
	require.Zero(t, DecodeUint64(nil))
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "done", Done.String())
	require.Equal(t, "rejected", Rejected.String())
	require.Equal(t, "retry", Retry.String())
	require.Equal(t, "unknown", Status(9).String())
}
