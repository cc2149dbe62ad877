// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package store keeps the last value read from each coil and register.
package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	MaxAddress = 65535
)

// Table represents the type of Modbus data table.
type Table int

const (
	TableCoils Table = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters

	numTables
)

func (t Table) String() string {
	switch t {
	case TableCoils:
		return "coils"
	case TableDiscreteInputs:
		return "discrete inputs"
	case TableHoldingRegisters:
		return "holding registers"
	case TableInputRegisters:
		return "input registers"
	}
	return fmt.Sprintf("table(%d)", int(t))
}

// Entry is the last value read at an address. Coils are stored as 0 or 1.
type Entry struct {
	Value   uint16
	Updated time.Time
}

// Store maps addresses to the values last read from the device. It is
// written only from validated read replies and read by anyone.
type Store struct {
	mu     sync.RWMutex
	tables [numTables]map[uint16]Entry
	mirror Mirror
}

// New creates an empty store. A nil mirror means no mirroring.
func New(mirror Mirror) *Store {
	if mirror == nil {
		mirror = NewMemoryMirror()
	}
	s := &Store{mirror: mirror}
	for i := range s.tables {
		s.tables[i] = make(map[uint16]Entry)
	}
	return s
}

// Update records a single value.
func (s *Store) Update(table Table, address, value uint16) {
	s.UpdateRange(table, address, []uint16{value}, time.Now())
}

// UpdateRange records consecutive values starting at address, all with
// the same timestamp.
func (s *Store) UpdateRange(table Table, address uint16, values []uint16, at time.Time) {
	if !table.valid() || len(values) == 0 {
		return
	}
	if int(address)+len(values) > MaxAddress+1 {
		values = values[:MaxAddress+1-int(address)]
	}

	s.mu.Lock()
	entries := s.tables[table]
	for i, v := range values {
		entries[address+uint16(i)] = Entry{Value: v, Updated: at}
	}
	s.mu.Unlock()

	s.mirror.OnUpdate(table, address, values)
}

// Get returns the entry at address, if one was ever read.
func (s *Store) Get(table Table, address uint16) (Entry, bool) {
	if !table.valid() {
		return Entry{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tables[table][address]
	return e, ok
}

// Snapshot returns a copy of a table.
func (s *Store) Snapshot(table Table) map[uint16]Entry {
	if !table.valid() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint16]Entry, len(s.tables[table]))
	for addr, e := range s.tables[table] {
		out[addr] = e
	}
	return out
}

// Len returns the number of known addresses in a table.
func (s *Store) Len(table Table) int {
	if !table.valid() {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

// Clear forgets every value.
func (s *Store) Clear() {
	s.mu.Lock()
	for i := range s.tables {
		s.tables[i] = make(map[uint16]Entry)
	}
	s.mu.Unlock()

	if err := s.mirror.Reset(); err != nil {
		slog.Error("Failed to reset register mirror", "err", err)
	}
}

// Close releases the mirror.
func (s *Store) Close() error {
	return s.mirror.Close()
}

func (t Table) valid() bool {
	return t >= 0 && t < numTables
}
