// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestStore_UpdateAndGet(t *testing.T) {
	s := New(nil)

	if _, ok := s.Get(TableHoldingRegisters, 0); ok {
		t.Fatal("expected empty store")
	}

	at := time.Now()
	s.UpdateRange(TableHoldingRegisters, 0, []uint16{0x0011, 0x0022}, at)

	for addr, want := range map[uint16]uint16{0: 0x0011, 1: 0x0022} {
		e, ok := s.Get(TableHoldingRegisters, addr)
		if !ok {
			t.Fatalf("address %d missing", addr)
		}
		if e.Value != want {
			t.Errorf("address %d: want %04X, got %04X", addr, want, e.Value)
		}
		if !e.Updated.Equal(at) {
			t.Errorf("address %d: timestamp not recorded", addr)
		}
	}

	// Tables are independent.
	if _, ok := s.Get(TableInputRegisters, 0); ok {
		t.Error("input registers should not see holding register updates")
	}
}

func TestStore_UpdateOverwrites(t *testing.T) {
	s := New(nil)
	s.Update(TableCoils, 7, 1)
	s.Update(TableCoils, 7, 0)

	e, ok := s.Get(TableCoils, 7)
	if !ok || e.Value != 0 {
		t.Fatalf("want 0, got %v (ok=%v)", e.Value, ok)
	}
	if n := s.Len(TableCoils); n != 1 {
		t.Errorf("want 1 entry, got %d", n)
	}
}

func TestStore_UpdateRangeClipsAtAddressSpace(t *testing.T) {
	s := New(nil)
	s.UpdateRange(TableInputRegisters, 65534, []uint16{1, 2, 3, 4}, time.Now())

	if n := s.Len(TableInputRegisters); n != 2 {
		t.Fatalf("want 2 entries, got %d", n)
	}
	if e, _ := s.Get(TableInputRegisters, 65535); e.Value != 2 {
		t.Errorf("want 2 at 65535, got %d", e.Value)
	}
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := New(nil)
	s.Update(TableHoldingRegisters, 1, 10)

	snap := s.Snapshot(TableHoldingRegisters)
	snap[1] = Entry{Value: 99}
	snap[2] = Entry{Value: 98}

	if e, _ := s.Get(TableHoldingRegisters, 1); e.Value != 10 {
		t.Errorf("snapshot mutation leaked into store: %d", e.Value)
	}
	if _, ok := s.Get(TableHoldingRegisters, 2); ok {
		t.Error("snapshot insert leaked into store")
	}
}

func TestStore_Clear(t *testing.T) {
	s := New(nil)
	s.Update(TableCoils, 0, 1)
	s.Update(TableHoldingRegisters, 0, 1)
	s.Clear()

	for table := TableCoils; table < numTables; table++ {
		if n := s.Len(table); n != 0 {
			t.Errorf("%v: want empty, got %d", table, n)
		}
	}
}

func TestStore_InvalidTable(t *testing.T) {
	s := New(nil)
	s.Update(Table(42), 0, 1)
	if _, ok := s.Get(Table(42), 0); ok {
		t.Error("invalid table should never hold values")
	}
	if s.Snapshot(Table(-1)) != nil {
		t.Error("invalid table snapshot should be nil")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Update(TableHoldingRegisters, uint16(j), uint16(i))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Get(TableHoldingRegisters, uint16(j))
				s.Snapshot(TableHoldingRegisters)
			}
		}()
	}
	wg.Wait()

	if n := s.Len(TableHoldingRegisters); n != 100 {
		t.Errorf("want 100 entries, got %d", n)
	}
}

func TestMmapMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.bin")
	m, err := OpenMmapMirror(path)
	if err != nil {
		t.Fatalf("Failed to open mmap mirror: %v", err)
	}
	s := New(m)
	defer s.Close()

	s.UpdateRange(TableHoldingRegisters, 100, []uint16{0xBEEF, 0x0102}, time.Now())
	s.Update(TableCoils, 3, 1)

	if v, ok := m.Value(TableHoldingRegisters, 101); !ok || v != 0x0102 {
		t.Errorf("holding 101: want 0102, got %04X (ok=%v)", v, ok)
	}
	if v, ok := m.Value(TableCoils, 3); !ok || v != 1 {
		t.Errorf("coil 3: want 1, got %d (ok=%v)", v, ok)
	}
	if _, ok := m.Value(TableInputRegisters, 100); ok {
		t.Error("input register 100 should be unknown")
	}

	s.Clear()
	if _, ok := m.Value(TableHoldingRegisters, 100); ok {
		t.Error("mirror should be empty after clear")
	}
}

func TestMmapMirror_StartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.bin")
	m, err := OpenMmapMirror(path)
	if err != nil {
		t.Fatalf("Failed to open mmap mirror: %v", err)
	}
	m.OnUpdate(TableInputRegisters, 5, []uint16{42})
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	m, err = OpenMmapMirror(path)
	if err != nil {
		t.Fatalf("Failed to reopen mmap mirror: %v", err)
	}
	defer m.Close()
	if _, ok := m.Value(TableInputRegisters, 5); ok {
		t.Error("reopened mirror should not carry stale values")
	}
}

func BenchmarkMmapMirror_OnUpdate(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_mmap.bin")
	m, err := OpenMmapMirror(path)
	if err != nil {
		b.Fatalf("Failed to open mmap mirror: %v", err)
	}
	defer m.Close()

	values := []uint16{0}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		values[0] = uint16(i)
		m.OnUpdate(TableHoldingRegisters, 10, values)
	}
}
