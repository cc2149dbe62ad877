// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/grid-x/serial"

	"github.com/JackLamWC/mb-rtu-master/internal/config"
	"github.com/JackLamWC/mb-rtu-master/internal/testutil"
	"github.com/JackLamWC/mb-rtu-master/modbus"
	"github.com/JackLamWC/mb-rtu-master/modbus/crc"
	mbrtu "github.com/JackLamWC/mb-rtu-master/modbus/rtu"
	"github.com/JackLamWC/mb-rtu-master/transport"
)

type mockStream struct {
	io.Reader
	io.Writer
	closed bool
}

func (m *mockStream) Close() error {
	m.closed = true
	return nil
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

type errWriter struct{ err error }

func (w errWriter) Write([]byte) (int, error) { return 0, w.err }

func TestPort_WriteAndRead(t *testing.T) {
	req := crc.Append([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	resp := crc.Append([]byte{0x01, 0x03, 0x02, 0xAA, 0xBB})

	writer := &bytes.Buffer{}
	mock := &mockStream{Reader: bytes.NewReader(resp), Writer: writer}
	p := newPort(mock, 10*time.Millisecond)

	if n, err := p.Write(req); err != nil || n != len(req) {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	if !bytes.Equal(writer.Bytes(), req) {
		t.Errorf("Request mismatch.\nWant: %X\nGot:  %X", req, writer.Bytes())
	}

	got, err := p.ReadAvailable(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ReadAvailable: %v", err)
	}
	if !bytes.Equal(got, resp) {
		t.Errorf("Response mismatch.\nWant: %X\nGot:  %X", resp, got)
	}
}

func TestPort_ReadTimeoutIsSilence(t *testing.T) {
	mock := &mockStream{Reader: errReader{serial.ErrTimeout}, Writer: io.Discard}
	p := newPort(mock, 10*time.Millisecond)

	got, err := p.ReadAvailable(time.Now().Add(time.Second))
	if err != nil || got != nil {
		t.Fatalf("want silence, got %X, %v", got, err)
	}
	if mock.closed {
		t.Error("port closed on read timeout")
	}
}

func TestPort_PassedDeadline(t *testing.T) {
	mock := &mockStream{Reader: errReader{io.EOF}, Writer: io.Discard}
	p := newPort(mock, 10*time.Millisecond)

	if got, err := p.ReadAvailable(time.Now().Add(-time.Millisecond)); err != nil || got != nil {
		t.Fatalf("want no read after deadline, got %X, %v", got, err)
	}
}

func TestPort_ReadErrorCloses(t *testing.T) {
	mock := &mockStream{Reader: errReader{io.ErrUnexpectedEOF}, Writer: io.Discard}
	p := newPort(mock, 10*time.Millisecond)

	if _, err := p.ReadAvailable(time.Now().Add(time.Second)); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("want read error, got %v", err)
	}
	if !mock.closed {
		t.Error("port left open after read error")
	}
	if _, err := p.Write([]byte{0x01}); !errors.Is(err, transport.ErrNotOpen) {
		t.Errorf("write after close: want ErrNotOpen, got %v", err)
	}
}

func TestPort_WriteErrorCloses(t *testing.T) {
	mock := &mockStream{Reader: bytes.NewReader(nil), Writer: errWriter{errors.New("device gone")}}
	p := newPort(mock, 10*time.Millisecond)

	if _, err := p.Write([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected write error")
	}
	if !mock.closed {
		t.Error("port left open after write error")
	}
	if _, err := p.ReadAvailable(time.Now().Add(time.Second)); !errors.Is(err, transport.ErrNotOpen) {
		t.Errorf("read after close: want ErrNotOpen, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close after failure: %v", err)
	}
}

func TestPort_OverPty(t *testing.T) {
	pair, err := testutil.CreatePtyPair()
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer pair.Close()

	dev := testutil.NewDevice(1)
	dev.SetHolding(0, 0x0011, 0x0022)
	go dev.Serve(pair.Device)

	p, err := Open(config.SerialConfig{
		Device:       pair.SerialPath,
		BaudRate:     9600,
		DataBits:     8,
		Parity:       "N",
		StopBits:     1,
		PollInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Skipf("cannot open pty as serial port: %v", err)
	}
	defer p.Close()

	req, err := mbrtu.Encode(modbus.ReadHoldingRegisters(1, 0, 2))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := p.Write(req); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := crc.Append([]byte{0x01, 0x03, 0x04, 0x00, 0x11, 0x00, 0x22})
	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < len(want) && time.Now().Before(deadline) {
		chunk, err := p.ReadAvailable(deadline)
		if err != nil {
			t.Fatalf("ReadAvailable: %v", err)
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Response mismatch.\nWant: %X\nGot:  %X", want, got)
	}
}
