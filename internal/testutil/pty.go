// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package testutil

import (
	"fmt"
	"os"

	"github.com/creack/pty"
)

// PtyPair represents a pseudo-terminal pair. The device side is served
// by a simulated slave; SerialPath is opened by the serial transport.
type PtyPair struct {
	Device     *os.File
	Serial     *os.File
	SerialPath string
}

// Close closes both file descriptors.
func (p *PtyPair) Close() error {
	var err error
	if p.Device != nil {
		if e := p.Device.Close(); e != nil && err == nil {
			err = e
		}
		p.Device = nil
	}
	if p.Serial != nil {
		if e := p.Serial.Close(); e != nil && err == nil {
			err = e
		}
		p.Serial = nil
	}
	return err
}

// CreatePtyPair opens a new pseudo-terminal pair.
func CreatePtyPair() (*PtyPair, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open pty: %w", err)
	}
	return &PtyPair{
		Device:     master,
		Serial:     slave,
		SerialPath: slave.Name(),
	}, nil
}
