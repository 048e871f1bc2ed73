// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package zero provides explicit zeroing of memory the Go runtime doesn't
// manage for us, like off-heap regions handed back to the block pool.
package zero

// Bytes overwrites b with zeros.  The loop shape compiles to a memclr.
func Bytes(b []byte) {
	for i := 0; i < len(b); i++ {
		b[i] = 0
	}
}
