// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/JackLamWC/mb-rtu-master/modbus"
	"github.com/JackLamWC/mb-rtu-master/modbus/rtu"
)

// Transaction is the record of one dispatched command.
type Transaction struct {
	Seq     uint64
	Session uuid.UUID
	Command modbus.Command

	// Request is the encoded frame, nil when encoding failed.
	Request  []byte
	Response []byte

	Started  time.Time
	Deadline time.Time
	Finished time.Time
	// Elapsed runs from the last write to the end of the reply.
	Elapsed time.Duration

	Attempts int
	State    State
	Outcome  Outcome
}

// Success reports whether the transaction completed.
func (t Transaction) Success() bool {
	return t.Outcome.Success()
}

// ResponseTime returns Elapsed in whole milliseconds.
func (t Transaction) ResponseTime() int64 {
	return t.Elapsed.Milliseconds()
}

func (t Transaction) RequestHex() string {
	return rtu.FormatHex(t.Request)
}

func (t Transaction) ResponseHex() string {
	return rtu.FormatHex(t.Response)
}

func (t Transaction) clone() Transaction {
	if t.Request != nil {
		t.Request = append([]byte(nil), t.Request...)
	}
	if t.Response != nil {
		t.Response = append([]byte(nil), t.Response...)
	}
	t.Command = cloneCommand(t.Command)
	t.Outcome = t.Outcome.clone()
	return t
}

func cloneCommand(c modbus.Command) modbus.Command {
	if c.Values != nil {
		c.Values = append([]uint16(nil), c.Values...)
	}
	if c.Coils != nil {
		c.Coils = append([]bool(nil), c.Coils...)
	}
	if c.Raw != nil {
		c.Raw = append([]byte(nil), c.Raw...)
	}
	return c
}

// History is an append-only log of finished transactions.
type History struct {
	mu    sync.RWMutex
	items []Transaction
}

func (h *History) append(t Transaction) {
	h.mu.Lock()
	h.items = append(h.items, t.clone())
	h.mu.Unlock()
}

// All returns copies of every transaction, oldest first.
func (h *History) All() []Transaction {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Transaction, len(h.items))
	for i, t := range h.items {
		out[i] = t.clone()
	}
	return out
}
