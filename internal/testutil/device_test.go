// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package testutil

import (
	"bytes"
	"io"
	"testing"

	"github.com/JackLamWC/mb-rtu-master/modbus"
	"github.com/JackLamWC/mb-rtu-master/modbus/crc"
	"github.com/JackLamWC/mb-rtu-master/modbus/rtu"
)

func encode(t *testing.T, cmd modbus.Command) []byte {
	t.Helper()
	adu, err := rtu.Encode(cmd)
	if err != nil {
		t.Fatalf("Encode(%v): %v", cmd, err)
	}
	return adu
}

func TestDevice_ReadHoldingRegisters(t *testing.T) {
	d := NewDevice(1)
	d.SetHolding(0, 0x0011, 0x0022)

	got := d.Reply(encode(t, modbus.ReadHoldingRegisters(1, 0, 2)))
	want := crc.Append([]byte{0x01, 0x03, 0x04, 0x00, 0x11, 0x00, 0x22})
	if !bytes.Equal(got, want) {
		t.Errorf("Reply mismatch.\nWant: %X\nGot:  %X", want, got)
	}
}

func TestDevice_WritesUpdateModel(t *testing.T) {
	d := NewDevice(3)

	req := encode(t, modbus.WriteMultipleCoils(3, 10, []bool{true, false, true}))
	if reply := d.Reply(req); !bytes.Equal(reply, crc.Append(append([]byte(nil), req[:6]...))) {
		t.Errorf("write multiple coils reply: %X", reply)
	}
	if !d.Coil(10) || d.Coil(11) || !d.Coil(12) {
		t.Error("coils not written")
	}

	req = encode(t, modbus.WriteSingleRegister(3, 7, 0xBEEF))
	if reply := d.Reply(req); !bytes.Equal(reply, req) {
		t.Errorf("write single register reply: %X", reply)
	}
	if d.Holding(7) != 0xBEEF {
		t.Errorf("holding 7: %04X", d.Holding(7))
	}

	d.Reply(encode(t, modbus.WriteMultipleRegisters(3, 100, []uint16{1, 2})))
	if d.Holding(100) != 1 || d.Holding(101) != 2 {
		t.Error("registers not written")
	}
	if d.Requests != 3 {
		t.Errorf("Requests: want 3, got %d", d.Requests)
	}
}

func TestDevice_Exceptions(t *testing.T) {
	d := NewDevice(1)

	reply := d.Reply(crc.Append([]byte{0x01, 0x04, 0xFF, 0xFF, 0x00, 0x02}))
	if want := crc.Append([]byte{0x01, 0x84, 0x02}); !bytes.Equal(reply, want) {
		t.Errorf("out of range read: want %X, got %X", want, reply)
	}

	reply = d.Reply(crc.Append([]byte{0x01, 0x2B, 0x0E, 0x01, 0x00}))
	if want := crc.Append([]byte{0x01, 0xAB, 0x01}); !bytes.Equal(reply, want) {
		t.Errorf("unknown function: want %X, got %X", want, reply)
	}
}

func TestDevice_Ignores(t *testing.T) {
	d := NewDevice(1)
	req := encode(t, modbus.ReadHoldingRegisters(2, 0, 1))
	if reply := d.Reply(req); reply != nil {
		t.Errorf("answered another slave: %X", reply)
	}

	req = encode(t, modbus.ReadHoldingRegisters(1, 0, 1))
	req[len(req)-1] ^= 0xFF
	if reply := d.Reply(req); reply != nil {
		t.Errorf("answered a corrupt frame: %X", reply)
	}

	d.Silent = true
	if reply := d.Reply(encode(t, modbus.ReadHoldingRegisters(1, 0, 1))); reply != nil {
		t.Errorf("silent device answered: %X", reply)
	}
}

func TestDevice_Serve(t *testing.T) {
	d := NewDevice(1)
	d.SetInput(4, 0x1234)

	req := encode(t, modbus.ReadInputRegisters(1, 4, 1))
	var out bytes.Buffer
	rw := struct {
		io.Reader
		io.Writer
	}{bytes.NewReader(req), &out}

	if err := d.Serve(rw); err != io.EOF {
		t.Fatalf("Serve: want EOF at end of input, got %v", err)
	}
	want := crc.Append([]byte{0x01, 0x04, 0x02, 0x12, 0x34})
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("Serve reply mismatch.\nWant: %X\nGot:  %X", want, out.Bytes())
	}
}
