// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"

	"github.com/JackLamWC/mb-rtu-master/internal/config"
	"github.com/JackLamWC/mb-rtu-master/transport"
)

const (
	rtuMaxSize = 256

	// Default poll interval for a single read on the line.
	serialPollInterval = 20 * time.Millisecond
)

// Port implements transport.Port on a serial device.
type Port struct {
	// Serial port configuration. Timeout bounds one ReadAvailable call.
	serial.Config

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port io.ReadWriteCloser
	buf  [rtuMaxSize]byte
}

// Open opens the serial device described by cfg.
func Open(cfg config.SerialConfig) (*Port, error) {
	p := &Port{}
	p.Config.Address = cfg.Device
	p.Config.BaudRate = cfg.BaudRate
	p.Config.DataBits = cfg.DataBits
	p.Config.StopBits = cfg.StopBits
	p.Config.Parity = cfg.Parity
	p.Config.Timeout = cfg.PollInterval
	if p.Config.Timeout <= 0 {
		p.Config.Timeout = serialPollInterval
	}
	if cfg.RS485 {
		p.Config.RS485.Enabled = true
		p.Config.RS485.DelayRtsBeforeSend = cfg.DelayRtsBeforeSend
		p.Config.RS485.DelayRtsAfterSend = cfg.DelayRtsAfterSend
		p.Config.RS485.RtsHighDuringSend = cfg.RtsHighDuringSend
		p.Config.RS485.RtsHighAfterSend = cfg.RtsHighAfterSend
		p.Config.RS485.RxDuringTx = cfg.RxDuringTx
	}

	port, err := serial.Open(&p.Config)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", p.Config.Address, err)
	}
	p.port = port
	slog.Info("serial port opened", "device", p.Config.Address, "baudRate", p.Config.BaudRate, "dataBits", p.Config.DataBits, "parity", p.Config.Parity, "stopBits", p.Config.StopBits)
	return p, nil
}

// newPort wraps an already open stream. Used by tests.
func newPort(rwc io.ReadWriteCloser, pollInterval time.Duration) *Port {
	p := &Port{port: rwc}
	p.Config.Timeout = pollInterval
	return p
}

// Write sends b. Any write error is fatal: the port is closed.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil {
		return 0, transport.ErrNotOpen
	}
	n, err := p.port.Write(b)
	if err != nil {
		p.closeAfter(err)
		return n, fmt.Errorf("writing request: %w", err)
	}
	return n, nil
}

// ReadAvailable performs one read on the line. A read timeout of the
// underlying device is reported as silence.
func (p *Port) ReadAvailable(deadline time.Time) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil {
		return nil, transport.ErrNotOpen
	}
	if !time.Now().Before(deadline) {
		return nil, nil
	}
	n, err := p.port.Read(p.buf[:])
	if err != nil {
		if errors.Is(err, serial.ErrTimeout) {
			return nil, nil
		}
		p.closeAfter(err)
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	data := make([]byte, n)
	copy(data, p.buf[:n])
	return data, nil
}

// Close closes the serial port if it is connected.
func (p *Port) Close() (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port != nil {
		err = p.port.Close()
		p.port = nil
		slog.Info("serial port closed", "device", p.Config.Address)
	}
	return
}

// closeAfter closes the port after a fatal I/O error. Caller must hold the mutex.
func (p *Port) closeAfter(cause error) {
	slog.Error("closing serial port after I/O error", "device", p.Config.Address, "err", cause)
	p.port.Close()
	p.port = nil
}
