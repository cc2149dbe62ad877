// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"fmt"
	"time"
)

// Command describes one request to a slave. The fields used depend on
// FunctionCode; the constructors below fill them consistently.
type Command struct {
	SlaveID      byte
	FunctionCode byte
	Address      uint16
	// Quantity of coils or registers. Derived from Values/Coils for write
	// multiple commands when zero.
	Quantity uint16
	// Values holds register words for 06/16 and the wire word (0xFF00 or
	// 0x0000) for 05.
	Values []uint16
	// Coils holds the states written by 15.
	Coils []bool
	// ByteCount optionally pins the byte count of 15/16. Zero means derive.
	ByteCount int
	// Raw holds slave id, function code and payload of a pass-through
	// frame, without CRC.
	Raw []byte
	// Timeout overrides the engine's response timeout when positive.
	Timeout time.Duration
}

// Request:
//
//	Function code         : 1 byte (0x01)
//	Starting address      : 2 bytes
//	Quantity of coils     : 2 bytes
func ReadCoils(slaveID byte, address, quantity uint16) Command {
	return Command{SlaveID: slaveID, FunctionCode: FuncCodeReadCoils, Address: address, Quantity: quantity}
}

// ReadHoldingRegisters builds a 0x03 request.
func ReadHoldingRegisters(slaveID byte, address, quantity uint16) Command {
	return Command{SlaveID: slaveID, FunctionCode: FuncCodeReadHoldingRegisters, Address: address, Quantity: quantity}
}

// ReadInputRegisters builds a 0x04 request.
func ReadInputRegisters(slaveID byte, address, quantity uint16) Command {
	return Command{SlaveID: slaveID, FunctionCode: FuncCodeReadInputRegisters, Address: address, Quantity: quantity}
}

// WriteSingleCoil builds a 0x05 request.
func WriteSingleCoil(slaveID byte, address uint16, on bool) Command {
	value := CoilOff
	if on {
		value = CoilOn
	}
	return Command{SlaveID: slaveID, FunctionCode: FuncCodeWriteSingleCoil, Address: address, Quantity: 1, Values: []uint16{value}}
}

// WriteSingleRegister builds a 0x06 request.
func WriteSingleRegister(slaveID byte, address, value uint16) Command {
	return Command{SlaveID: slaveID, FunctionCode: FuncCodeWriteSingleRegister, Address: address, Quantity: 1, Values: []uint16{value}}
}

// WriteMultipleCoils builds a 0x0F request.
func WriteMultipleCoils(slaveID byte, address uint16, coils []bool) Command {
	return Command{SlaveID: slaveID, FunctionCode: FuncCodeWriteMultipleCoils, Address: address, Quantity: uint16(len(coils)), Coils: coils}
}

// WriteMultipleRegisters builds a 0x10 request.
func WriteMultipleRegisters(slaveID byte, address uint16, values []uint16) Command {
	return Command{SlaveID: slaveID, FunctionCode: FuncCodeWriteMultipleRegisters, Address: address, Quantity: uint16(len(values)), Values: values}
}

// RawCommand wraps caller supplied bytes (slave id, function code and
// payload). The slave id is taken from the first byte for correlation.
func RawCommand(frame []byte) Command {
	cmd := Command{FunctionCode: FuncCodeRaw, Raw: frame}
	if len(frame) > 0 {
		cmd.SlaveID = frame[0]
	}
	return cmd
}

// WireFunction returns the function code byte that goes on the wire.
func (c Command) WireFunction() byte {
	if c.FunctionCode == FuncCodeRaw {
		if len(c.Raw) > 1 {
			return c.Raw[1]
		}
		return 0
	}
	return c.FunctionCode
}

func (c Command) String() string {
	if c.FunctionCode == FuncCodeRaw {
		return fmt.Sprintf("raw % X", c.Raw)
	}
	return fmt.Sprintf("slave %d %s address %d quantity %d", c.SlaveID, FunctionName(c.FunctionCode), c.Address, c.Quantity)
}
