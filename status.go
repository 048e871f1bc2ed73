// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package offheap

// Status is the three-way outcome of a value operation.  Retry is not an
// error: it means the observation the Context carries went stale (the slice
// moved, its version advanced, or its slot is frozen) and the caller must
// Refresh and reattempt.  This package never loops internally; retry bounds
// and abort policy belong to the caller.
type Status uint8

const (
	// Done: the operation was applied (or, for Read, observed) atomically.
	Done Status = iota
	// Rejected: the operation was refused on logical grounds -- the value
	// is absent or deleted, a first-write found the slot occupied, or an
	// equality gate failed.  Nothing was mutated.
	Rejected
	// Retry: the state observed is stale; refresh the Context and try the
	// whole operation again.
	Retry
)

func (s Status) String() string {
	switch s {
	case Done:
		return "done"
	case Rejected:
		return "rejected"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}
