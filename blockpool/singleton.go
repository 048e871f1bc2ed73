// Copyright 2023 The offheap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package blockpool

import "sync"

// The process-wide pool is lazily initialized so the big mappings only
// happen once something actually allocates.  Initialization is guarded by a
// plain mutex rather than sync.Once because Reset has to be able to tear
// the instance down and install a new one.
var (
	instMu   sync.Mutex
	instance *Pool
)

// Instance returns the process-wide pool, creating it with the default
// Config on first use.  Thread safe.
func Instance() (*Pool, error) {
	instMu.Lock()
	defer instMu.Unlock()
	if instance == nil {
		p, err := New(Config{})
		if err != nil {
			return nil, err
		}
		instance = p
	}
	return instance, nil
}

// Reset closes the current process-wide pool (if any) and installs a fresh
// one built from cfg.  Blocks leased out of the old pool are unaffected;
// they unmap immediately when returned.  Intended for test harnesses: the
// pool's configuration is otherwise fixed at first use.
func Reset(cfg Config) error {
	instMu.Lock()
	defer instMu.Unlock()
	if instance != nil {
		if err := instance.Close(); err != nil {
			return err
		}
	}
	p, err := New(cfg)
	if err != nil {
		instance = nil
		return err
	}
	instance = p
	return nil
}

// CloseInstance tears down the process-wide pool.  A later Instance call
// starts over with the default Config.
func CloseInstance() error {
	instMu.Lock()
	defer instMu.Unlock()
	if instance == nil {
		return nil
	}
	err := instance.Close()
	instance = nil
	return err
}
