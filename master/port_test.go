// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"sync"
	"testing"
	"time"

	"github.com/JackLamWC/mb-rtu-master/modbus/crc"
)

// mockPort answers every written frame through reply. Bytes are handed
// out chunk at a time; an empty line sleeps until the read deadline.
type mockPort struct {
	mu       sync.Mutex
	reply    func(n int, req []byte) []byte
	chunk    int
	pending  []byte
	written  [][]byte
	writeErr error
	short    int
	closed   bool
}

func (p *mockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.written = append(p.written, append([]byte(nil), b...))
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.short > 0 {
		p.short--
		return len(b) - 1, nil
	}
	if p.reply != nil {
		p.pending = append(p.pending, p.reply(len(p.written), b)...)
	}
	return len(b), nil
}

func (p *mockPort) ReadAvailable(deadline time.Time) ([]byte, error) {
	p.mu.Lock()
	if n := len(p.pending); n > 0 {
		if p.chunk > 0 && p.chunk < n {
			n = p.chunk
		}
		out := append([]byte(nil), p.pending[:n]...)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return out, nil
	}
	p.mu.Unlock()

	time.Sleep(time.Until(deadline))
	return nil, nil
}

func (p *mockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// inject puts bytes on the line as if they arrived late.
func (p *mockPort) inject(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, b...)
}

func (p *mockPort) writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.written...)
}

func (p *mockPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// always answers every request with the same frame, CRC appended.
func always(frame ...byte) func(int, []byte) []byte {
	adu := crc.Append(frame)
	return func(int, []byte) []byte {
		return adu
	}
}

// echoRequest answers a write request with its first six bytes.
func echoRequest(_ int, req []byte) []byte {
	return crc.Append(append([]byte(nil), req[:6]...))
}

func waitForState(t *testing.T, e *Engine, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state: want %v, got %v", want, e.State())
		}
		time.Sleep(time.Millisecond)
	}
}
