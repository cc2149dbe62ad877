// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter rejects a command before any byte reaches the wire.
	ErrInvalidParameter = errors.New("modbus: invalid parameter")
	// ErrTransport covers an unavailable port, failed writes and disconnects.
	ErrTransport = errors.New("modbus: transport error")
	// ErrTimedOut means no complete reply arrived before the deadline.
	ErrTimedOut = errors.New("modbus: request timed out")
	// ErrMalformedResponse means a reply arrived but cannot be trusted.
	ErrMalformedResponse = errors.New("modbus: malformed response")
	// ErrBusy means another transaction already occupies the line.
	ErrBusy = errors.New("modbus: transaction in flight")
	// ErrCancelled means the caller aborted the wait for a reply.
	ErrCancelled = errors.New("modbus: transaction cancelled")
)

// Reasons carried by MalformedError.
const (
	ReasonCRC      = "crc"
	ReasonLength   = "length"
	ReasonSlaveID  = "slave_id"
	ReasonFunction = "function"
	ReasonEcho     = "echo"
	ReasonCount    = "count"
)

// MalformedError classifies a reply that was received but rejected.
type MalformedError struct {
	Reason string
	Detail string
}

func (e *MalformedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (%s)", ErrMalformedResponse, e.Reason)
	}
	return fmt.Sprintf("%v (%s): %s", ErrMalformedResponse, e.Reason, e.Detail)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedResponse
}

// Malformed builds a MalformedError with a formatted detail message.
func Malformed(reason, format string, v ...interface{}) error {
	return &MalformedError{Reason: reason, Detail: fmt.Sprintf(format, v...)}
}

// ExceptionError is a well-formed exception reply. The code is passed
// through numerically and never mapped to engine categories.
type ExceptionError struct {
	FunctionCode byte
	Code         byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.Code, ExceptionName(e.Code), e.FunctionCode&^ExceptionFlag)
}

// ExceptionName returns the standard name of an exception code.
func ExceptionName(code byte) string {
	switch code {
	case ExceptionCodeIllegalFunction:
		return "illegal function"
	case ExceptionCodeIllegalDataAddress:
		return "illegal data address"
	case ExceptionCodeIllegalDataValue:
		return "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		return "server device failure"
	case ExceptionCodeAcknowledge:
		return "acknowledge"
	case ExceptionCodeServerDeviceBusy:
		return "server device busy"
	case ExceptionCodeMemoryParityError:
		return "memory parity error"
	case ExceptionCodeGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionCodeGatewayTargetDeviceFailedToRespond:
		return "gateway target device failed to respond"
	}
	return "unknown"
}
