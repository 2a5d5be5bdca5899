// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap implements the in-place memory-mapped write discipline
// spec.md §9 describes: mutations to a mapped firmware image or kernel
// partition are persisted by syncing and unmapping, never by a staged
// copy. Built on golang.org/x/sys/unix, the idiomatic replacement for a
// raw syscall.Mmap call (grounded additionally on the gokvm reference's
// direct syscall.Mmap use in _examples/other_examples, upgraded here to
// the x/sys/unix wrapper already present in the teacher's dependency
// closure).
package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mapping is a memory-mapped view of a file. Signers hold borrowed,
// sized slices into Bytes(); the mapping, not the signer, owns the
// underlying memory.
type Mapping struct {
	data     []byte
	writable bool
}

// Map maps the whole of f into memory. writable selects PROT_READ or
// PROT_READ|PROT_WRITE; a read-only mapping is used for the
// fresh-output signing modes, a writable one for in-place edits
// (spec.md §4.9 step 3).
func Map(f *os.File, writable bool) (*Mapping, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mmap: stat: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil, fmt.Errorf("mmap: refusing to map an empty file")
	}

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &Mapping{data: data, writable: writable}, nil
}

// Bytes returns the mapped region. Writes through this slice are only
// persisted once Close is called, and only if the mapping was opened
// writable.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Close flushes any mutations and unmaps. Per spec.md §9's design note,
// "unmap flushes" is not guaranteed on every platform, so a writable
// mapping is explicitly synced (MS_SYNC) before being unmapped rather
// than relying on unmap-implies-flush.
func (m *Mapping) Close() error {
	if m.data == nil {
		return nil
	}
	var syncErr error
	if m.writable {
		syncErr = unix.Msync(m.data, unix.MS_SYNC)
	}
	unmapErr := unix.Munmap(m.data)
	m.data = nil
	if syncErr != nil {
		return fmt.Errorf("mmap: sync: %w", syncErr)
	}
	if unmapErr != nil {
		return fmt.Errorf("mmap: unmap: %w", unmapErr)
	}
	return nil
}
