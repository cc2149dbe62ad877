// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// MmapMirror mirrors the store into a memory-mapped file that other
// processes can map read-only.
//
// Layout, repeated for coils, discrete inputs, holding registers and
// input registers (in that order):
// - Flags: 65536 bytes, 1 when the address has been read
// - Values: 65536 * 2 bytes, big-endian
// Total Size: 786432 bytes
type MmapMirror struct {
	path string
	file *os.File

	mu   sync.Mutex
	data mmap.MMap
}

// OpenMmapMirror creates or truncates the mirror file and maps it. The
// mirror starts empty, like the store it follows.
func OpenMmapMirror(path string) (*MmapMirror, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open mmap file: %w", err)
	}

	// Drop stale content, then size the file.
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to reset mmap file: %w", err)
	}
	if err := f.Truncate(int64(totalSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to resize mmap file: %w", err)
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return &MmapMirror{path: path, file: f, data: data}, nil
}

// OnUpdate writes values into the mapping and flushes it.
func (m *MmapMirror) OnUpdate(table Table, address uint16, values []uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return
	}
	for i, v := range values {
		addr := address + uint16(i)
		m.data[flagOffset(table, addr)] = 1
		binary.BigEndian.PutUint16(m.data[valueOffset(table, addr):], v)
	}
	if err := m.data.Flush(); err != nil {
		slog.Error("Failed to flush mmap", "path", m.path, "err", err)
	}
}

// Value reads an address back from the mapping.
func (m *MmapMirror) Value(table Table, address uint16) (uint16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil || !table.valid() || m.data[flagOffset(table, address)] == 0 {
		return 0, false
	}
	return binary.BigEndian.Uint16(m.data[valueOffset(table, address):]), true
}

// Reset zeroes the mapping.
func (m *MmapMirror) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return fmt.Errorf("mmap data is nil")
	}
	for i := range m.data {
		m.data[i] = 0
	}
	return m.data.Flush()
}

// Close unmaps and closes the file.
func (m *MmapMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.data != nil {
		if e := m.data.Unmap(); e != nil {
			err = e
		}
		m.data = nil
	}
	if m.file != nil {
		if e := m.file.Close(); e != nil {
			err = e
		}
		m.file = nil
	}
	return err
}
