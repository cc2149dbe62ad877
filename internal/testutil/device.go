// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package testutil provides a simulated Modbus RTU slave for tests: as an
// in-process transport.Port and as a responder on a pseudo-terminal.
package testutil

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/JackLamWC/mb-rtu-master/modbus"
	"github.com/JackLamWC/mb-rtu-master/modbus/crc"
)

const maxAddress = 65535

// Device implements the slave side of the supported function codes on a
// flat memory model covering the full 16-bit address space.
type Device struct {
	SlaveID byte

	mu      sync.Mutex
	coils   []byte
	holding []uint16
	input   []uint16

	// Silent drops every request.
	Silent bool
	// CorruptCRC flips a bit in the CRC of every reply.
	CorruptCRC bool
	// Requests counts the frames addressed to this device.
	Requests int
}

// NewDevice creates a device initialized to zero.
func NewDevice(slaveID byte) *Device {
	return &Device{
		SlaveID: slaveID,
		coils:   make([]byte, maxAddress+1),
		holding: make([]uint16, maxAddress+1),
		input:   make([]uint16, maxAddress+1),
	}
}

// SetHolding stores consecutive holding registers.
func (d *Device) SetHolding(address uint16, values ...uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.holding[address:], values)
}

// SetInput stores consecutive input registers.
func (d *Device) SetInput(address uint16, values ...uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.input[address:], values)
}

// SetCoils stores consecutive coils.
func (d *Device) SetCoils(address uint16, states ...bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, on := range states {
		d.coils[int(address)+i] = boolByte(on)
	}
}

func (d *Device) Holding(address uint16) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holding[address]
}

func (d *Device) Coil(address uint16) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.coils[address] != 0
}

// Reply answers a complete request frame. It returns nil when the frame
// is not for this device, fails its CRC or the device is silent.
func (d *Device) Reply(frame []byte) []byte {
	if len(frame) < 4 || !crc.Verify(frame) {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame[0] != d.SlaveID || d.Silent {
		return nil
	}
	d.Requests++

	resp := d.process(modbus.ProtocolDataUnit{
		FunctionCode: frame[1],
		Data:         frame[2 : len(frame)-2],
	})
	adu := make([]byte, 0, 2+len(resp.Data)+2)
	adu = append(adu, d.SlaveID, resp.FunctionCode)
	adu = append(adu, resp.Data...)
	adu = crc.Append(adu)
	if d.CorruptCRC {
		adu[len(adu)-1] ^= 0x01
	}
	return adu
}

// Serve answers requests read from rw until a read fails.
func (d *Device) Serve(rw io.ReadWriter) error {
	buf := make([]byte, 260) // Max RTU size
	for {
		// Every supported request is at least 8 bytes; 7 cover the byte
		// count of 15/16.
		if _, err := io.ReadFull(rw, buf[:7]); err != nil {
			return err
		}
		expectedLen := requestLength(buf[:7])
		if expectedLen > len(buf) {
			continue
		}
		if _, err := io.ReadFull(rw, buf[7:expectedLen]); err != nil {
			return err
		}
		if reply := d.Reply(buf[:expectedLen]); reply != nil {
			if _, err := rw.Write(reply); err != nil {
				return err
			}
		}
	}
}

// requestLength returns the expected total length of a request ADU.
func requestLength(header []byte) int {
	switch header[1] {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister:
		return 8
	case modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		return 7 + int(header[6]) + 2
	}
	// Other functions are assumed to carry four data bytes; they are
	// answered with an illegal function exception.
	return 8
}

// process executes a function code against the memory model. The caller
// holds the mutex.
func (d *Device) process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return d.read(req, modbus.MaxReadCoils, func(address, quantity int) []byte {
			result := make([]byte, (quantity+7)/8)
			for i := 0; i < quantity; i++ {
				if d.coils[address+i] != 0 {
					result[i/8] |= 1 << uint(i%8)
				}
			}
			return result
		})
	case modbus.FuncCodeReadHoldingRegisters:
		return d.read(req, modbus.MaxReadRegisters, registers(d.holding))
	case modbus.FuncCodeReadInputRegisters:
		return d.read(req, modbus.MaxReadRegisters, registers(d.input))
	case modbus.FuncCodeWriteSingleCoil:
		if len(req.Data) != 4 {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		address := binary.BigEndian.Uint16(req.Data[0:2])
		switch binary.BigEndian.Uint16(req.Data[2:4]) {
		case modbus.CoilOn:
			d.coils[address] = 1
		case modbus.CoilOff:
			d.coils[address] = 0
		default:
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		return req // Echo request
	case modbus.FuncCodeWriteSingleRegister:
		if len(req.Data) != 4 {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		d.holding[binary.BigEndian.Uint16(req.Data[0:2])] = binary.BigEndian.Uint16(req.Data[2:4])
		return req // Echo request
	case modbus.FuncCodeWriteMultipleCoils:
		return d.writeMultiple(req, modbus.MaxWriteCoils, func(address, quantity int, data []byte) bool {
			if len(data) < (quantity+7)/8 {
				return false
			}
			for i := 0; i < quantity; i++ {
				d.coils[address+i] = (data[i/8] >> uint(i%8)) & 1
			}
			return true
		})
	case modbus.FuncCodeWriteMultipleRegisters:
		return d.writeMultiple(req, modbus.MaxWriteRegisters, func(address, quantity int, data []byte) bool {
			if len(data) < quantity*2 {
				return false
			}
			for i := 0; i < quantity; i++ {
				d.holding[address+i] = binary.BigEndian.Uint16(data[i*2:])
			}
			return true
		})
	}
	return exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
}

func (d *Device) read(req modbus.ProtocolDataUnit, limit int, encode func(address, quantity int) []byte) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := int(binary.BigEndian.Uint16(req.Data[0:2]))
	quantity := int(binary.BigEndian.Uint16(req.Data[2:4]))
	if quantity < 1 || quantity > limit {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if address+quantity > maxAddress+1 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	data := encode(address, quantity)
	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}

func (d *Device) writeMultiple(req modbus.ProtocolDataUnit, limit int, store func(address, quantity int, data []byte) bool) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || int(quantity) > limit || byte(len(req.Data)-5) != byteCount {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(address)+int(quantity) > maxAddress+1 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	if !store(int(address), int(quantity), req.Data[5:]) {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}

func registers(table []uint16) func(address, quantity int) []byte {
	return func(address, quantity int) []byte {
		result := make([]byte, quantity*2)
		for i := 0; i < quantity; i++ {
			binary.BigEndian.PutUint16(result[i*2:], table[address+i])
		}
		return result
	}
}

func exception(funcCode byte, code byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | modbus.ExceptionFlag,
		Data:         []byte{code},
	}
}

func boolByte(on bool) byte {
	if on {
		return 1
	}
	return 0
}
