// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"errors"
	"fmt"
	"time"

	"github.com/JackLamWC/mb-rtu-master/modbus"
)

// Kind classifies the result of a dispatched command.
type Kind int

const (
	KindSuccess Kind = iota
	KindTimedOut
	KindMalformedResponse
	KindDeviceException
	KindTransportError
	KindInvalidParameter
	KindBusy
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTimedOut:
		return "timed out"
	case KindMalformedResponse:
		return "malformed response"
	case KindDeviceException:
		return "device exception"
	case KindTransportError:
		return "transport error"
	case KindInvalidParameter:
		return "invalid parameter"
	case KindBusy:
		return "busy"
	case KindCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is what a caller gets back for one command. Decoded values are
// set only for KindSuccess; Err is set for everything else.
type Outcome struct {
	Kind Kind
	Seq  uint64

	// Registers of a 03/04 reply.
	Registers []uint16
	// Coils of a 01 reply, trimmed to the requested quantity.
	Coils []bool
	// Address and Value echoed by a write reply. Value is the quantity
	// for 15/16.
	Address uint16
	Value   uint16
	// Response is the raw reply frame including CRC.
	Response []byte
	Elapsed  time.Duration

	Err error
}

// Success reports whether the command completed.
func (o Outcome) Success() bool {
	return o.Kind == KindSuccess
}

// Reason returns the classification of a malformed reply.
func (o Outcome) Reason() string {
	var me *modbus.MalformedError
	if errors.As(o.Err, &me) {
		return me.Reason
	}
	return ""
}

// ExceptionCode returns the code of a device exception.
func (o Outcome) ExceptionCode() (byte, bool) {
	var ee *modbus.ExceptionError
	if errors.As(o.Err, &ee) {
		return ee.Code, true
	}
	return 0, false
}

// classify maps an error onto the outcome taxonomy.
func classify(err error) Kind {
	var ee *modbus.ExceptionError
	switch {
	case err == nil:
		return KindSuccess
	case errors.As(err, &ee):
		return KindDeviceException
	case errors.Is(err, modbus.ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, modbus.ErrInvalidParameter):
		return KindInvalidParameter
	case errors.Is(err, modbus.ErrBusy):
		return KindBusy
	case errors.Is(err, modbus.ErrCancelled):
		return KindCancelled
	case errors.Is(err, modbus.ErrTimedOut):
		return KindTimedOut
	}
	return KindTransportError
}

// clone returns a copy sharing no slices with o.
func (o Outcome) clone() Outcome {
	if o.Registers != nil {
		o.Registers = append([]uint16(nil), o.Registers...)
	}
	if o.Coils != nil {
		o.Coils = append([]bool(nil), o.Coils...)
	}
	if o.Response != nil {
		o.Response = append([]byte(nil), o.Response...)
	}
	return o
}
