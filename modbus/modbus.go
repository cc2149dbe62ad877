// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the protocol vocabulary shared by the codec, the
// transaction engine and its callers: function codes, exception codes,
// commands and the error taxonomy.
package modbus

import "fmt"

// Function Codes
const (
	// FuncCodeRaw marks a pass-through command. Zero is never a valid
	// function code on the wire.
	FuncCodeRaw = 0x00

	FuncCodeReadCoils            = 0x01
	FuncCodeReadHoldingRegisters = 0x03
	FuncCodeReadInputRegisters   = 0x04

	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10

	// ExceptionFlag is OR-ed into the function code of an exception reply.
	ExceptionFlag = 0x80
)

// Exception Codes
const (
	ExceptionCodeIllegalFunction                    = 1
	ExceptionCodeIllegalDataAddress                 = 2
	ExceptionCodeIllegalDataValue                   = 3
	ExceptionCodeServerDeviceFailure                = 4
	ExceptionCodeAcknowledge                        = 5
	ExceptionCodeServerDeviceBusy                   = 6
	ExceptionCodeMemoryParityError                  = 8
	ExceptionCodeGatewayPathUnavailable             = 10
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 11
)

// Quantity limits per function.
const (
	MaxReadCoils      = 2000
	MaxReadRegisters  = 125
	MaxWriteCoils     = 1968
	MaxWriteRegisters = 123
	MaxRawLength      = 254
	// MaxUnicastSlaveID is the highest slave id a raw frame may address;
	// 248-255 are reserved.
	MaxUnicastSlaveID = 247
)

// Single coil states as encoded on the wire.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// FunctionName returns a human readable name for logs.
func FunctionName(code byte) string {
	switch code {
	case FuncCodeRaw:
		return "raw"
	case FuncCodeReadCoils:
		return "read coils"
	case FuncCodeReadHoldingRegisters:
		return "read holding registers"
	case FuncCodeReadInputRegisters:
		return "read input registers"
	case FuncCodeWriteSingleCoil:
		return "write single coil"
	case FuncCodeWriteSingleRegister:
		return "write single register"
	case FuncCodeWriteMultipleCoils:
		return "write multiple coils"
	case FuncCodeWriteMultipleRegisters:
		return "write multiple registers"
	}
	return fmt.Sprintf("function 0x%02X", code)
}

// IsRead reports whether the function returns a byte-count prefixed data block.
func IsRead(code byte) bool {
	switch code {
	case FuncCodeReadCoils, FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		return true
	}
	return false
}

// IsWrite reports whether the function is answered with an address/value echo.
func IsWrite(code byte) bool {
	switch code {
	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		return true
	}
	return false
}
