// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"github.com/JackLamWC/mb-rtu-master/modbus"
	"github.com/JackLamWC/mb-rtu-master/modbus/rtu"
)

// Validate checks a decoded reply against the request it answers. Checks
// run in order: slave id, function code, exception, then the echo of a
// write or the value count of a read. A valid coil reply has its Coils
// trimmed to the requested quantity.
func Validate(req modbus.Command, resp *rtu.Response) error {
	if resp.SlaveID != req.SlaveID {
		return modbus.Malformed(modbus.ReasonSlaveID, "response slave id '%v' does not match request '%v'", resp.SlaveID, req.SlaveID)
	}

	function := req.WireFunction()
	if resp.FunctionCode != function && resp.FunctionCode != function|modbus.ExceptionFlag {
		return modbus.Malformed(modbus.ReasonFunction, "response function '0x%02X' does not match request '0x%02X'", resp.FunctionCode, function)
	}
	if resp.Exception {
		return &modbus.ExceptionError{FunctionCode: resp.FunctionCode, Code: resp.ExceptionCode}
	}

	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		quantity := int(req.Quantity)
		expected := (quantity + 7) / 8
		if resp.ByteCount != expected {
			return modbus.Malformed(modbus.ReasonCount, "response byte count '%v' does not match expected '%v' for %v coils", resp.ByteCount, expected, quantity)
		}
		resp.Coils = resp.Coils[:quantity]
	case modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		if len(resp.Registers) != int(req.Quantity) {
			return modbus.Malformed(modbus.ReasonCount, "response register count '%v' does not match quantity '%v'", len(resp.Registers), req.Quantity)
		}
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		if resp.Address != req.Address {
			return modbus.Malformed(modbus.ReasonEcho, "response address '%v' does not match request '%v'", resp.Address, req.Address)
		}
		if resp.Value != req.Values[0] {
			return modbus.Malformed(modbus.ReasonEcho, "response value '0x%04X' does not match request '0x%04X'", resp.Value, req.Values[0])
		}
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		if resp.Address != req.Address {
			return modbus.Malformed(modbus.ReasonEcho, "response address '%v' does not match request '%v'", resp.Address, req.Address)
		}
		if quantity := writeQuantity(req); resp.Value != quantity {
			return modbus.Malformed(modbus.ReasonEcho, "response quantity '%v' does not match request '%v'", resp.Value, quantity)
		}
	case modbus.FuncCodeRaw:
		// Nothing is known about the payload.
	}
	return nil
}

// writeQuantity is the quantity a 15/16 request put on the wire.
func writeQuantity(req modbus.Command) uint16 {
	if req.FunctionCode == modbus.FuncCodeWriteMultipleCoils {
		return uint16(len(req.Coils))
	}
	return uint16(len(req.Values))
}
