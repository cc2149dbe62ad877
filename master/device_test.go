// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/JackLamWC/mb-rtu-master/internal/config"
	"github.com/JackLamWC/mb-rtu-master/internal/testutil"
	"github.com/JackLamWC/mb-rtu-master/modbus"
	"github.com/JackLamWC/mb-rtu-master/store"
	"github.com/JackLamWC/mb-rtu-master/transport"
	"github.com/JackLamWC/mb-rtu-master/transport/rtu"
)

func exercise(t *testing.T, e *Engine, dev *testutil.Device) {
	t.Helper()
	ctx := context.Background()

	dev.SetHolding(0, 0x0011, 0x0022)
	dev.SetInput(50, 7)
	dev.SetCoils(0, true, false, true)

	steps := []struct {
		cmd  modbus.Command
		kind Kind
	}{
		{modbus.ReadHoldingRegisters(1, 0, 2), KindSuccess},
		{modbus.ReadInputRegisters(1, 50, 1), KindSuccess},
		{modbus.ReadCoils(1, 0, 3), KindSuccess},
		{modbus.WriteSingleRegister(1, 10, 0xCAFE), KindSuccess},
		{modbus.WriteMultipleCoils(1, 100, []bool{true, true}), KindSuccess},
		{modbus.ReadHoldingRegisters(1, 65500, 100), KindInvalidParameter},
		{modbus.ReadHoldingRegisters(2, 0, 1), KindTimedOut},
		{modbus.RawCommand([]byte{0x01, 0x2B, 0x0E, 0x01, 0x00, 0x00}), KindDeviceException},
	}
	for _, s := range steps {
		if out := e.Dispatch(ctx, s.cmd); out.Kind != s.kind {
			t.Fatalf("%v: want %v, got %v (%v)", s.cmd, s.kind, out.Kind, out.Err)
		}
	}

	if v, ok := e.HoldingRegister(1); !ok || v != 0x0022 {
		t.Errorf("HoldingRegister(1): %04X (ok=%v)", v, ok)
	}
	if entry, ok := e.Register(store.TableInputRegisters, 50); !ok || entry.Value != 7 {
		t.Errorf("input 50: %v (ok=%v)", entry.Value, ok)
	}
	if entry, _ := e.Register(store.TableCoils, 1); entry.Value != 0 {
		t.Errorf("coil 1: want off")
	}
	if dev.Holding(10) != 0xCAFE || !dev.Coil(101) {
		t.Error("writes did not reach the device")
	}
	if _, ok := e.HoldingRegister(10); ok {
		t.Error("write updated the store")
	}
	if n := len(e.History()); n != len(steps) {
		t.Errorf("History: want %d, got %d", len(steps), n)
	}
}

func TestEngine_AgainstDevice(t *testing.T) {
	dev := testutil.NewDevice(1)
	e := New(testutil.NewLoopback(dev), nil, Options{Timeout: 100 * time.Millisecond})
	defer e.Close()

	exercise(t, e, dev)
}

func TestEngine_DeviceCorruptCRC(t *testing.T) {
	dev := testutil.NewDevice(1)
	dev.CorruptCRC = true
	e := New(testutil.NewLoopback(dev), nil, Options{})
	defer e.Close()

	out := e.Dispatch(context.Background(), modbus.ReadHoldingRegisters(1, 0, 1))
	if out.Kind != KindMalformedResponse || out.Reason() != modbus.ReasonCRC {
		t.Fatalf("want malformed crc, got %v %q", out.Kind, out.Reason())
	}
}

func TestEngine_MmapMirror(t *testing.T) {
	m, err := store.OpenMmapMirror(filepath.Join(t.TempDir(), "registers.bin"))
	if err != nil {
		t.Fatalf("OpenMmapMirror: %v", err)
	}
	dev := testutil.NewDevice(1)
	dev.SetHolding(3, 0x0102)
	e := New(testutil.NewLoopback(dev), store.New(m), Options{})
	defer e.Close()

	if out := e.Dispatch(context.Background(), modbus.ReadHoldingRegisters(1, 3, 1)); !out.Success() {
		t.Fatalf("Dispatch: %v", out.Err)
	}
	if v, ok := m.Value(store.TableHoldingRegisters, 3); !ok || v != 0x0102 {
		t.Errorf("mirror: %04X (ok=%v)", v, ok)
	}
	if err := e.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if _, ok := m.Value(store.TableHoldingRegisters, 3); ok {
		t.Error("mirror not cleared on disconnect")
	}
}

func TestEngine_OverPty(t *testing.T) {
	pair, err := testutil.CreatePtyPair()
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer pair.Close()

	dev := testutil.NewDevice(1)
	go dev.Serve(pair.Device)

	port, err := rtu.Open(config.SerialConfig{
		Device:       pair.SerialPath,
		BaudRate:     19200,
		DataBits:     8,
		Parity:       "N",
		StopBits:     1,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Skipf("cannot open pty as serial port: %v", err)
	}

	var p transport.Port = port
	e := New(p, nil, Options{Timeout: 500 * time.Millisecond, BaudRate: 19200})
	defer e.Close()

	exercise(t, e, dev)
}
