// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package unsafestring converts between strings and byte slices without
// copying.  It exists for encoders that immediately copy the bytes into
// off-heap memory and never hold on to the view.
package unsafestring

import "unsafe"

// ToBytes returns a byte slice referring to the contents of the input
// string.  SAFETY: the returned slice must never be written to, only read.
func ToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// ToString returns a string referring to the contents of b.  SAFETY: b must
// never be mutated after the call.
func ToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
