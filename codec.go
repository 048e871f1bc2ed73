// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package offheap

import (
	"encoding/binary"

	"github.com/bpowers/offheap/internal/unsafestring"
)

// Ready-made encoder/decoder pairs for common value shapes.  An encoder's
// output is copied into off-heap memory before the operation returns, so
// the zero-copy string view below is safe; a decoder's input window must
// not be retained, so the decoders here always copy.

// EncodeBytes passes a byte slice through as its own encoding.
func EncodeBytes(b []byte) []byte { return b }

// DecodeBytes copies the window into a fresh heap slice.
func DecodeBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// EncodeString views a string's bytes without copying.
func EncodeString(s string) []byte { return unsafestring.ToBytes(s) }

// DecodeString copies the window into a fresh string.
func DecodeString(b []byte) string { return string(b) }

// EncodeUint64 encodes little-endian into a fresh 8-byte slice.
func EncodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:]
}

// DecodeUint64 tolerates short windows (a torn read can hand it anything)
// by treating missing bytes as zero.
func DecodeUint64(b []byte) uint64 {
	if len(b) < 8 {
		var buf [8]byte
		copy(buf[:], b)
		return binary.LittleEndian.Uint64(buf[:])
	}
	return binary.LittleEndian.Uint64(b)
}
