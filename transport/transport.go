// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"errors"
	"time"
)

// ErrNotOpen is returned by a Port that was closed, either explicitly or
// after a fatal I/O error. A closed Port is never reopened; the caller
// opens a new one.
var ErrNotOpen = errors.New("transport: port is not open")

// Port is the physical byte channel to the bus. It knows nothing about
// Modbus framing.
type Port interface {
	// Write transmits b and returns the number of bytes written.
	Write(b []byte) (int, error)
	// ReadAvailable returns whatever bytes arrive before the deadline, or
	// before the port's poll interval elapses, whichever comes first. An
	// empty result with a nil error means the line was silent.
	ReadAvailable(deadline time.Time) ([]byte, error)
	// Close releases the port.
	Close() error
}
