// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package master runs Modbus RTU transactions against a single serial
// line: one request on the wire at a time, each reply correlated,
// validated and classified, read values kept in a register store.
package master

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"

	"github.com/JackLamWC/mb-rtu-master/modbus"
	"github.com/JackLamWC/mb-rtu-master/modbus/rtu"
	"github.com/JackLamWC/mb-rtu-master/store"
	"github.com/JackLamWC/mb-rtu-master/transport"
)

// Engine dispatches commands to the transaction manager from a single
// worker goroutine and records their results.
type Engine struct {
	session uuid.UUID
	manager *Manager
	store   *store.Store
	history History
	seq     atomic.Uint64

	jobsMu sync.RWMutex
	jobs   chan *job
	closed bool
	done   chan struct{}

	errMu   sync.RWMutex
	lastErr error
}

type job struct {
	ctx    context.Context
	tx     *Transaction
	result chan Outcome
}

// New starts an engine on port. A nil store gets an unmirrored one.
func New(port transport.Port, st *store.Store, opts Options) *Engine {
	if st == nil {
		st = store.New(nil)
	}
	e := &Engine{
		session: uuid.Must(uuid.NewV4()),
		manager: NewManager(port, opts),
		store:   st,
		jobs:    make(chan *job, 1),
		done:    make(chan struct{}),
	}
	go e.worker()

	o := e.manager.Options()
	slog.Info("modbus master started", "session", e.session, "timeout", o.Timeout, "quietInterval", o.QuietInterval, "retries", o.Retries)
	return e
}

// Session identifies this engine in logs and history.
func (e *Engine) Session() uuid.UUID {
	return e.session
}

// Submit queues cmd and returns a channel that receives exactly one
// Outcome. Parameter errors and a busy line are reported without any
// I/O.
func (e *Engine) Submit(ctx context.Context, cmd modbus.Command) <-chan Outcome {
	result := make(chan Outcome, 1)
	tx := &Transaction{
		Seq:     e.seq.Add(1),
		Session: e.session,
		Command: cloneCommand(cmd),
		Started: time.Now(),
		State:   StateFailed,
	}

	frame, err := rtu.Encode(tx.Command)
	if err != nil {
		result <- e.finish(tx, nil, err)
		return result
	}
	tx.Request = frame

	e.jobsMu.RLock()
	defer e.jobsMu.RUnlock()

	if e.closed {
		result <- e.finish(tx, nil, fmt.Errorf("%w: engine closed", modbus.ErrTransport))
		return result
	}
	if err := e.manager.Acquire(); err != nil {
		result <- e.finish(tx, nil, err)
		return result
	}
	// Never blocks: the previous job left the channel before the line
	// became free again.
	e.jobs <- &job{ctx: ctx, tx: tx, result: result}
	return result
}

// Dispatch runs cmd and waits for its outcome.
func (e *Engine) Dispatch(ctx context.Context, cmd modbus.Command) Outcome {
	return <-e.Submit(ctx, cmd)
}

func (e *Engine) worker() {
	defer close(e.done)
	for j := range e.jobs {
		resp, err := e.manager.Run(j.ctx, j.tx)
		j.result <- e.finish(j.tx, resp, err)
	}
}

// finish archives tx and builds the caller's outcome.
func (e *Engine) finish(tx *Transaction, resp *rtu.Response, err error) Outcome {
	tx.Finished = time.Now()
	out := Outcome{
		Kind:    classify(err),
		Seq:     tx.Seq,
		Elapsed: tx.Elapsed,
		Err:     err,
	}
	if err == nil && resp != nil {
		out.Registers = resp.Registers
		out.Coils = resp.Coils
		out.Address = resp.Address
		out.Value = resp.Value
		out.Response = resp.Frame
		e.updateStore(tx.Command, resp, tx.Finished)
	}
	tx.Outcome = out
	e.history.append(*tx)

	if err != nil {
		e.errMu.Lock()
		e.lastErr = err
		e.errMu.Unlock()
		slog.Warn("modbus transaction failed", "seq", tx.Seq, "session", e.session, "slave", tx.Command.SlaveID, "func", modbus.FunctionName(tx.Command.FunctionCode), "kind", out.Kind, "attempts", tx.Attempts, "err", err)
	} else {
		slog.Debug("modbus transaction completed", "seq", tx.Seq, "session", e.session, "slave", tx.Command.SlaveID, "func", modbus.FunctionName(tx.Command.FunctionCode), "elapsed", tx.Elapsed)
	}
	return out
}

// updateStore records the values of a validated read reply.
func (e *Engine) updateStore(cmd modbus.Command, resp *rtu.Response, at time.Time) {
	switch cmd.FunctionCode {
	case modbus.FuncCodeReadCoils:
		values := make([]uint16, len(resp.Coils))
		for i, on := range resp.Coils {
			if on {
				values[i] = 1
			}
		}
		e.store.UpdateRange(store.TableCoils, cmd.Address, values, at)
	case modbus.FuncCodeReadHoldingRegisters:
		e.store.UpdateRange(store.TableHoldingRegisters, cmd.Address, resp.Registers, at)
	case modbus.FuncCodeReadInputRegisters:
		e.store.UpdateRange(store.TableInputRegisters, cmd.Address, resp.Registers, at)
	}
}

// Register returns the last value read at address.
func (e *Engine) Register(table store.Table, address uint16) (store.Entry, bool) {
	return e.store.Get(table, address)
}

// HoldingRegister returns the last value read from a holding register.
func (e *Engine) HoldingRegister(address uint16) (uint16, bool) {
	entry, ok := e.store.Get(store.TableHoldingRegisters, address)
	return entry.Value, ok
}

// History returns copies of all finished transactions, oldest first.
func (e *Engine) History() []Transaction {
	return e.history.All()
}

// LastError returns the error of the most recent failed transaction.
func (e *Engine) LastError() error {
	e.errMu.RLock()
	defer e.errMu.RUnlock()
	return e.lastErr
}

func (e *Engine) State() State {
	return e.manager.State()
}

// Cancel aborts a transaction that is awaiting its response.
func (e *Engine) Cancel() bool {
	return e.manager.Cancel()
}

// Disconnect closes the port and forgets every stored value. Commands
// dispatched afterwards fail with a transport error until Reconnect.
func (e *Engine) Disconnect() error {
	err := e.manager.SetPort(nil)
	e.store.Clear()
	slog.Info("modbus master disconnected", "session", e.session)
	return err
}

// Reconnect replaces the port, closing the previous one. Values read over
// the old port are forgotten.
func (e *Engine) Reconnect(port transport.Port) error {
	err := e.manager.SetPort(port)
	e.store.Clear()
	slog.Info("modbus master connected", "session", e.session)
	return err
}

// Close disconnects, stops the worker and releases the store.
func (e *Engine) Close() error {
	e.jobsMu.Lock()
	if e.closed {
		e.jobsMu.Unlock()
		return nil
	}
	e.closed = true
	close(e.jobs)
	e.jobsMu.Unlock()

	<-e.done
	err := e.Disconnect()
	if cerr := e.store.Close(); err == nil {
		err = cerr
	}
	return err
}
