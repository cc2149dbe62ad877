// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"fmt"
	"sync/atomic"
)

// State is the phase of the transaction occupying the line.
type State int32

const (
	StateIdle State = iota
	StateSending
	StateAwaitingResponse
	StateValidating
	StateCompleted
	StateTimedOut
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting response"
	case StateValidating:
		return "validating"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed out"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether a transaction in this state is finished. A
// terminal state admits the next transaction just like Idle.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateFailed, StateCancelled:
		return true
	}
	return false
}

// stateMachine is the single owner of the line. Every transition is a
// compare-and-swap from the expected predecessor.
type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() State {
	return State(m.v.Load())
}

// transition moves from -> to and reports whether the machine was in from.
func (m *stateMachine) transition(from, to State) bool {
	return m.v.CompareAndSwap(int32(from), int32(to))
}

// acquire moves an idle or finished machine to Sending.
func (m *stateMachine) acquire() bool {
	for {
		cur := m.load()
		if cur != StateIdle && !cur.Terminal() {
			return false
		}
		if m.transition(cur, StateSending) {
			return true
		}
	}
}

// mustTransition is used where no other goroutine may move the machine.
func (m *stateMachine) mustTransition(from, to State) {
	if !m.transition(from, to) {
		panic(fmt.Sprintf("master: invalid transition %v -> %v (state is %v)", from, to, m.load()))
	}
}
