// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package offheap is the memory core of a concurrent key-value store: a
// block allocator over anonymous mmap regions plus an optimistic, lock-free
// protocol for reading, writing, relocating and deleting variable-length
// values inside those regions without a tracing collector.
//
// An Arena leases fixed-size Blocks from the process-wide pool (package
// blockpool) and bump-allocates slices out of them.  Each slice starts with
// a packed header word -- state, version and length read with a single
// atomic load -- and that word is the sole authority for liveness: every
// access validates it before and after touching payload bytes, so stale
// references observe Retry instead of reinterpreting reclaimed memory.
//
// The owning index structure maps keys to Slots, binds a reusable Context
// to the slot it is operating on, and calls Read, Put, Exchange,
// CompareExchange, Remove, RemoveIf or Compute.  Every operation returns a
// Status; on Retry the caller refreshes the Context and loops.  Retry
// bounds are deliberately the caller's policy.
package offheap
