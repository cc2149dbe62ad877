// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

// Mirror receives every change of the store so that it can be observed
// outside the process.
type Mirror interface {
	// OnUpdate is called after values were recorded.
	OnUpdate(table Table, address uint16, values []uint16)

	// Reset forgets every value.
	Reset() error

	Close() error
}

// MemoryMirror is a no-op mirror.
type MemoryMirror struct{}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{}
}

func (m *MemoryMirror) OnUpdate(table Table, address uint16, values []uint16) {
	// No-op
}

func (m *MemoryMirror) Reset() error {
	return nil
}

func (m *MemoryMirror) Close() error {
	return nil
}
