// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JackLamWC/mb-rtu-master/modbus"
	"github.com/JackLamWC/mb-rtu-master/modbus/crc"
	"github.com/JackLamWC/mb-rtu-master/modbus/rtu"
	"github.com/JackLamWC/mb-rtu-master/transport"
)

const (
	DefaultTimeout       = time.Second
	DefaultQuietInterval = 10 * time.Millisecond
	DefaultPollInterval  = 20 * time.Millisecond
)

// errShortWrite marks the only transport failure that leaves the port open.
var errShortWrite = errors.New("short write")

// Options tune the transaction manager.
type Options struct {
	// Timeout bounds the wait for a reply, measured from the end of the write.
	Timeout time.Duration
	// QuietInterval of line silence ends a frame whose length cannot be
	// derived from its header.
	QuietInterval time.Duration
	// PollInterval bounds a single read on the port.
	PollInterval time.Duration
	// Retries is the number of extra attempts after a timeout or short write.
	Retries int
	// BaudRate is used to derive the inter-frame gap.
	BaudRate int
}

func (o *Options) fixup() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.QuietInterval <= 0 {
		o.QuietInterval = DefaultQuietInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
}

// Manager owns the line. It admits one transaction at a time and drives
// it through Sending, AwaitingResponse and Validating to a terminal state.
type Manager struct {
	opts  Options
	state stateMachine

	// gen identifies the admitted transaction; cancelGen is the generation
	// a Cancel was aimed at.
	gen       atomic.Uint64
	cancelGen atomic.Uint64

	mu   sync.Mutex
	port transport.Port

	// Only touched by the goroutine running the transaction.
	lastActivity time.Time
	dirty        bool
}

// NewManager creates an idle manager on port, which may be nil.
func NewManager(port transport.Port, opts Options) *Manager {
	opts.fixup()
	return &Manager{opts: opts, port: port}
}

// Options returns the effective options.
func (m *Manager) Options() Options {
	return m.opts
}

// State returns the current state.
func (m *Manager) State() State {
	return m.state.load()
}

// Acquire admits a new transaction. It fails with ErrBusy while another
// transaction has not reached a terminal state.
func (m *Manager) Acquire() error {
	if !m.state.acquire() {
		return fmt.Errorf("%w: line is %v", modbus.ErrBusy, m.state.load())
	}
	m.gen.Add(1)
	return nil
}

// Cancel aborts the transaction currently awaiting a response and reports
// whether there was one.
func (m *Manager) Cancel() bool {
	if m.state.load() != StateAwaitingResponse {
		return false
	}
	gen := m.gen.Load()
	m.cancelGen.Store(gen)
	// A newer transaction may have been admitted since the state check.
	return m.gen.Load() == gen && m.state.load() == StateAwaitingResponse
}

// SetPort replaces the port and closes the previous one.
func (m *Manager) SetPort(port transport.Port) error {
	m.mu.Lock()
	old := m.port
	m.port = port
	m.mu.Unlock()

	if old != nil && old != port {
		return old.Close()
	}
	return nil
}

func (m *Manager) currentPort() transport.Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port
}

// Run drives an acquired transaction to a terminal state. tx.Request must
// hold the encoded frame. On return tx carries the attempts, timing,
// reply frame and final state.
func (m *Manager) Run(ctx context.Context, tx *Transaction) (*rtu.Response, error) {
	gen := m.gen.Load()
	timeout := m.opts.Timeout
	if tx.Command.Timeout > 0 {
		timeout = tx.Command.Timeout
	}

	for {
		tx.Attempts++
		resp, from, err := m.attempt(ctx, tx, timeout, gen)
		if err != nil && retryable(err) && ctx.Err() == nil && tx.Attempts <= m.opts.Retries {
			slog.Warn("retrying modbus request", "seq", tx.Seq, "session", tx.Session, "slave", tx.Command.SlaveID, "attempt", tx.Attempts+1, "err", err)
			m.state.mustTransition(from, StateSending)
			continue
		}
		tx.State = terminal(err)
		m.state.mustTransition(from, tx.State)
		return resp, err
	}
}

// attempt performs one write and wait. It leaves the machine in the state
// it failed or finished in and returns that state.
func (m *Manager) attempt(ctx context.Context, tx *Transaction, timeout time.Duration, gen uint64) (*rtu.Response, State, error) {
	port := m.currentPort()
	if port == nil {
		return nil, StateSending, fmt.Errorf("%w: %w", modbus.ErrTransport, transport.ErrNotOpen)
	}
	if m.dirty {
		m.drain(port)
	}
	m.waitFrameGap()

	slog.Debug("send to modbus slave", "seq", tx.Seq, "request", hex.EncodeToString(tx.Request))
	n, err := port.Write(tx.Request)
	sent := time.Now()
	m.lastActivity = sent
	if err != nil {
		return nil, StateSending, fmt.Errorf("%w: %w", modbus.ErrTransport, err)
	}
	if n != len(tx.Request) {
		m.dirty = true
		return nil, StateSending, fmt.Errorf("%w: %w, %d of %d bytes", modbus.ErrTransport, errShortWrite, n, len(tx.Request))
	}

	tx.Deadline = sent.Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(tx.Deadline) {
		tx.Deadline = d
	}
	m.state.mustTransition(StateSending, StateAwaitingResponse)

	frame, err := m.await(ctx, port, tx, gen)
	tx.Elapsed = time.Since(sent)
	if err != nil {
		return nil, StateAwaitingResponse, err
	}
	tx.Response = frame
	slog.Debug("recv from modbus slave", "seq", tx.Seq, "response", hex.EncodeToString(frame))

	m.state.mustTransition(StateAwaitingResponse, StateValidating)
	resp, err := rtu.Decode(frame, tx.Command)
	if err == nil {
		err = Validate(tx.Command, resp)
	}
	if err != nil {
		return nil, StateValidating, err
	}
	return resp, StateValidating, nil
}

// await collects reply bytes until the frame is complete, the deadline
// passes or the wait is cancelled. A frame is complete when it reaches the
// length announced by its header and that prefix carries a valid CRC.
// Otherwise at least MinSize bytes followed by a quiet interval end it when
// the length is unknown, the announced length was reached, or the bytes
// received so far close with a valid CRC. A partial frame with no valid
// CRC is still waited for until the deadline.
func (m *Manager) await(ctx context.Context, port transport.Port, tx *Transaction, gen uint64) ([]byte, error) {
	var (
		buf      []byte
		lastByte time.Time
	)
	function := tx.Command.WireFunction()

	for {
		if err := m.interrupted(ctx, gen); err != nil {
			m.dirty = true
			return nil, err
		}
		now := time.Now()
		if !now.Before(tx.Deadline) {
			m.dirty = true
			return nil, fmt.Errorf("%w: no complete response by %v, %d bytes received",
				modbus.ErrTimedOut, tx.Deadline.Format(time.StampMilli), len(buf))
		}

		until := now.Add(m.opts.PollInterval)
		if len(buf) >= rtu.MinSize {
			if quiet := lastByte.Add(m.opts.QuietInterval); quiet.After(now) && quiet.Before(until) {
				until = quiet
			}
		}
		if until.After(tx.Deadline) {
			until = tx.Deadline
		}

		chunk, err := port.ReadAvailable(until)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", modbus.ErrTransport, err)
		}
		if len(chunk) > 0 {
			lastByte = time.Now()
			m.lastActivity = lastByte
			buf = append(buf, chunk...)
		}

		length := rtu.ResponseLength(function, buf)
		if length > 0 && len(buf) >= length && crc.Verify(buf[:length]) {
			if len(buf) > length {
				slog.Debug("discarding bytes after frame", "seq", tx.Seq, "bytes", hex.EncodeToString(buf[length:]))
				m.dirty = true
				buf = buf[:length]
			}
			return buf, nil
		}
		if len(buf) >= rtu.MaxSize {
			return buf, nil
		}
		if len(buf) < rtu.MinSize || time.Since(lastByte) < m.opts.QuietInterval {
			continue
		}
		// The line went quiet. Hand the decoder anything it can classify.
		if length == 0 || len(buf) >= length || crc.Verify(buf) {
			return buf, nil
		}
	}
}

// interrupted reports a cancelled context or Cancel call. A context whose
// deadline expired counts as a timeout.
func (m *Manager) interrupted(ctx context.Context, gen uint64) error {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", modbus.ErrTimedOut, ctx.Err())
		}
		return fmt.Errorf("%w: %w", modbus.ErrCancelled, ctx.Err())
	default:
	}
	if m.cancelGen.Load() == gen {
		return fmt.Errorf("%w: cancelled while awaiting response", modbus.ErrCancelled)
	}
	return nil
}

// drain discards bytes left on the line by an abandoned transaction.
func (m *Manager) drain(port transport.Port) {
	m.dirty = false
	limit := time.Now().Add(m.opts.Timeout)
	for time.Now().Before(limit) {
		chunk, err := port.ReadAvailable(time.Now().Add(m.opts.QuietInterval))
		if err != nil || len(chunk) == 0 {
			return
		}
		m.lastActivity = time.Now()
		slog.Debug("discarding late bytes", "bytes", hex.EncodeToString(chunk))
	}
}

// waitFrameGap keeps t3.5 of silence between the last line activity and
// the next write.
func (m *Manager) waitFrameGap() {
	if m.lastActivity.IsZero() {
		return
	}
	if d := calculateDelay(m.opts.BaudRate, 0) - time.Since(m.lastActivity); d > 0 {
		time.Sleep(d)
	}
}

// calculateDelay calculates the needed delay to separate frames.
func calculateDelay(baudRate, chars int) time.Duration {
	var characterDelay, frameDelay int

	if baudRate <= 0 || baudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / baudRate
		frameDelay = 35000000 / baudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}

func retryable(err error) bool {
	return errors.Is(err, modbus.ErrTimedOut) || errors.Is(err, errShortWrite)
}

// terminal maps the result of the last attempt onto a final state.
func terminal(err error) State {
	switch {
	case err == nil:
		return StateCompleted
	case errors.Is(err, modbus.ErrCancelled):
		return StateCancelled
	case errors.Is(err, modbus.ErrTimedOut):
		return StateTimedOut
	}
	return StateFailed
}
