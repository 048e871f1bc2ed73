// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package blockpool

import (
	"fmt"

	"github.com/gholt/brimtext"
)

// Stats is a point-in-time snapshot of the pool's accounting.
type Stats struct {
	// BlockSize is the fixed capacity of each Block, in bytes.
	BlockSize int
	// Free is the number of Blocks in the free queue right now.
	Free int
	// Created counts Blocks mapped over the pool's lifetime.
	Created uint64
	// Released counts Blocks unmapped over the pool's lifetime.
	Released uint64
	// Shrinks counts shrink events.
	Shrinks uint64
}

// Stats snapshots the pool's accounting.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		BlockSize: p.cfg.BlockSize,
		Free:      len(p.free),
		Created:   p.created,
		Released:  p.released,
		Shrinks:   p.shrinks,
	}
}

func (s Stats) String() string {
	report := [][]string{
		{"BlockSize", fmt.Sprintf("%d", s.BlockSize)},
		{"Free", fmt.Sprintf("%d", s.Free)},
		{"Created", fmt.Sprintf("%d", s.Created)},
		{"Released", fmt.Sprintf("%d", s.Released)},
		{"Shrinks", fmt.Sprintf("%d", s.Shrinks)},
	}
	return brimtext.Align(report, nil)
}
