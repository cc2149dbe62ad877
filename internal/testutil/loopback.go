// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package testutil

import (
	"sync"
	"time"

	"github.com/JackLamWC/mb-rtu-master/transport"
)

// Loopback is a transport.Port wired straight to a Device.
type Loopback struct {
	dev *Device

	mu      sync.Mutex
	pending []byte
	closed  bool
}

func NewLoopback(dev *Device) *Loopback {
	return &Loopback{dev: dev}
}

func (l *Loopback) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, transport.ErrNotOpen
	}
	l.pending = append(l.pending, l.dev.Reply(b)...)
	return len(b), nil
}

// ReadAvailable hands out everything pending, or waits for the deadline
// on a silent line.
func (l *Loopback) ReadAvailable(deadline time.Time) ([]byte, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, transport.ErrNotOpen
	}
	if len(l.pending) > 0 {
		out := l.pending
		l.pending = nil
		l.mu.Unlock()
		return out, nil
	}
	l.mu.Unlock()

	time.Sleep(time.Until(deadline))
	return nil, nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
