// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/JackLamWC/mb-rtu-master/modbus"
	"github.com/JackLamWC/mb-rtu-master/modbus/crc"
)

// Response is a decoded reply frame. Which fields are set depends on the
// function of the originating command.
type Response struct {
	SlaveID      byte
	FunctionCode byte

	// Exception is set when the function code carries the 0x80 flag.
	Exception     bool
	ExceptionCode byte

	// ByteCount and Data are the data block of a read reply.
	ByteCount int
	Data      []byte
	Registers []uint16
	// Coils holds every bit of the data block; the validator trims it to
	// the requested quantity.
	Coils []bool

	// Address and Value are the echo of a write reply. For 15/16 Value is
	// the echoed quantity.
	Address uint16
	Value   uint16

	// Payload is everything between the function code and the CRC.
	Payload []byte
	Frame   []byte
}

// Encode builds the RTU frame for a command:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes
//
// Every parameter check happens here so that a rejected command never
// reaches the wire.
func Encode(cmd modbus.Command) ([]byte, error) {
	if cmd.FunctionCode == modbus.FuncCodeRaw {
		return encodeRaw(cmd.Raw)
	}
	if cmd.SlaveID == 0 {
		return nil, fmt.Errorf("%w: slave id '%v' must be between '%v' and '%v'", modbus.ErrInvalidParameter, cmd.SlaveID, 1, 255)
	}

	var data []byte
	switch cmd.FunctionCode {
	case modbus.FuncCodeReadCoils:
		if err := checkRange(cmd.Address, cmd.Quantity, modbus.MaxReadCoils); err != nil {
			return nil, err
		}
		data = dataBlock(cmd.Address, cmd.Quantity)
	case modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		if err := checkRange(cmd.Address, cmd.Quantity, modbus.MaxReadRegisters); err != nil {
			return nil, err
		}
		data = dataBlock(cmd.Address, cmd.Quantity)
	case modbus.FuncCodeWriteSingleCoil:
		value, err := singleValue(cmd)
		if err != nil {
			return nil, err
		}
		// The requested ON/OFF state can only be 0xFF00 and 0x0000
		if value != modbus.CoilOn && value != modbus.CoilOff {
			return nil, fmt.Errorf("%w: state '0x%04X' must be either 0xFF00 (ON) or 0x0000 (OFF)", modbus.ErrInvalidParameter, value)
		}
		data = dataBlock(cmd.Address, value)
	case modbus.FuncCodeWriteSingleRegister:
		value, err := singleValue(cmd)
		if err != nil {
			return nil, err
		}
		data = dataBlock(cmd.Address, value)
	case modbus.FuncCodeWriteMultipleCoils:
		quantity, err := writeQuantity(cmd, len(cmd.Coils), modbus.MaxWriteCoils)
		if err != nil {
			return nil, err
		}
		packed := PackCoils(cmd.Coils)
		if err := checkByteCount(cmd.ByteCount, len(packed)); err != nil {
			return nil, err
		}
		data = dataBlockSuffix(packed, cmd.Address, quantity)
	case modbus.FuncCodeWriteMultipleRegisters:
		quantity, err := writeQuantity(cmd, len(cmd.Values), modbus.MaxWriteRegisters)
		if err != nil {
			return nil, err
		}
		if err := checkByteCount(cmd.ByteCount, 2*len(cmd.Values)); err != nil {
			return nil, err
		}
		data = dataBlockSuffix(dataBlock(cmd.Values...), cmd.Address, quantity)
	default:
		return nil, fmt.Errorf("%w: function code '0x%02X' is not supported", modbus.ErrInvalidParameter, cmd.FunctionCode)
	}

	adu := make([]byte, 0, headerSize+len(data)+crcSize)
	adu = append(adu, cmd.SlaveID, cmd.FunctionCode)
	adu = append(adu, data...)
	return crc.Append(adu), nil
}

// encodeRaw copies the caller's bytes and appends a fresh CRC regardless
// of what they contain.
func encodeRaw(raw []byte) ([]byte, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: raw frame length '%v' must be at least '%v'", modbus.ErrInvalidParameter, len(raw), headerSize)
	}
	if len(raw) > modbus.MaxRawLength {
		return nil, fmt.Errorf("%w: raw frame length '%v' must not be bigger than '%v'", modbus.ErrInvalidParameter, len(raw), modbus.MaxRawLength)
	}
	// Broadcast and reserved addresses never answer; waiting for them
	// would always end in a timeout.
	if raw[0] < 1 || raw[0] > modbus.MaxUnicastSlaveID {
		return nil, fmt.Errorf("%w: raw frame slave id '%v' must be between '%v' and '%v'", modbus.ErrInvalidParameter, raw[0], 1, modbus.MaxUnicastSlaveID)
	}
	if raw[1] == 0 || raw[1]&modbus.ExceptionFlag != 0 {
		return nil, fmt.Errorf("%w: raw frame function code '0x%02X' must be between '0x01' and '0x7F'", modbus.ErrInvalidParameter, raw[1])
	}
	adu := make([]byte, len(raw), len(raw)+crcSize)
	copy(adu, raw)
	return crc.Append(adu), nil
}

// Decode validates length and CRC of a reply and parses it according to
// the originating command. Slave id, function and echo checks are left to
// the response validator.
func Decode(raw []byte, req modbus.Command) (*Response, error) {
	length := len(raw)
	if length < MinSize {
		return nil, modbus.Malformed(modbus.ReasonLength, "response length '%v' does not meet minimum '%v'", length, MinSize)
	}
	if !crc.Verify(raw) {
		return nil, modbus.Malformed(modbus.ReasonCRC, "response crc '0x%04X' does not match expected '0x%04X'",
			uint16(raw[length-1])<<8|uint16(raw[length-2]), crc.Checksum(raw[:length-2]))
	}

	resp := &Response{
		SlaveID:      raw[0],
		FunctionCode: raw[1],
		Payload:      raw[headerSize : length-crcSize],
		Frame:        raw,
	}
	if resp.FunctionCode&modbus.ExceptionFlag != 0 && req.WireFunction()&modbus.ExceptionFlag == 0 {
		resp.Exception = true
		resp.ExceptionCode = raw[2]
		return resp, nil
	}
	if resp.FunctionCode != req.WireFunction() {
		// Leave the mismatch to the validator; there is no schema to apply.
		return resp, nil
	}

	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		count := int(resp.Payload[0])
		data := resp.Payload[1:]
		if count != len(data) {
			return nil, modbus.Malformed(modbus.ReasonLength, "response data size '%v' does not match count '%v'", len(data), count)
		}
		resp.ByteCount = count
		resp.Data = data
		if req.FunctionCode == modbus.FuncCodeReadCoils {
			resp.Coils = UnpackCoils(data, count*8)
			break
		}
		if count%2 != 0 {
			return nil, modbus.Malformed(modbus.ReasonLength, "register byte count '%v' is odd", count)
		}
		resp.Registers = make([]uint16, count/2)
		for i := range resp.Registers {
			resp.Registers[i] = binary.BigEndian.Uint16(data[i*2:])
		}
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		// Fixed response length
		if len(resp.Payload) != 4 {
			return nil, modbus.Malformed(modbus.ReasonLength, "response data size '%v' does not match expected '%v'", len(resp.Payload), 4)
		}
		resp.Address = binary.BigEndian.Uint16(resp.Payload)
		resp.Value = binary.BigEndian.Uint16(resp.Payload[2:])
	case modbus.FuncCodeRaw:
		// Best effort: CRC checked, payload kept as is.
	}
	return resp, nil
}

// PackCoils packs coil states LSB first, eight per byte.
func PackCoils(coils []bool) []byte {
	packed := make([]byte, (len(coils)+7)/8)
	for i, on := range coils {
		if on {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	return packed
}

// UnpackCoils expands up to n bits from packed bytes.
func UnpackCoils(packed []byte, n int) []bool {
	if limit := len(packed) * 8; n > limit {
		n = limit
	}
	coils := make([]bool, n)
	for i := range coils {
		coils[i] = packed[i/8]>>uint(i%8)&1 == 1
	}
	return coils
}

func checkRange(address, quantity uint16, limit int) error {
	if quantity < 1 || int(quantity) > limit {
		return fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", modbus.ErrInvalidParameter, quantity, 1, limit)
	}
	if int(address)+int(quantity) > 0x10000 {
		return fmt.Errorf("%w: address '%v' plus quantity '%v' exceeds the address space", modbus.ErrInvalidParameter, address, quantity)
	}
	return nil
}

func singleValue(cmd modbus.Command) (uint16, error) {
	if len(cmd.Values) != 1 {
		return 0, fmt.Errorf("%w: %s needs exactly one value, got '%v'", modbus.ErrInvalidParameter, modbus.FunctionName(cmd.FunctionCode), len(cmd.Values))
	}
	return cmd.Values[0], nil
}

func writeQuantity(cmd modbus.Command, n, limit int) (uint16, error) {
	if n < 1 || n > limit {
		return 0, fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", modbus.ErrInvalidParameter, n, 1, limit)
	}
	if cmd.Quantity != 0 && int(cmd.Quantity) != n {
		return 0, fmt.Errorf("%w: quantity '%v' does not match '%v' values", modbus.ErrInvalidParameter, cmd.Quantity, n)
	}
	if int(cmd.Address)+n > 0x10000 {
		return 0, fmt.Errorf("%w: address '%v' plus quantity '%v' exceeds the address space", modbus.ErrInvalidParameter, cmd.Address, n)
	}
	return uint16(n), nil
}

func checkByteCount(explicit, derived int) error {
	if explicit != 0 && explicit != derived {
		return fmt.Errorf("%w: byte count '%v' does not match derived length '%v'", modbus.ErrInvalidParameter, explicit, derived)
	}
	return nil
}

// dataBlock creates a sequence of uint16 data.
func dataBlock(value ...uint16) []byte {
	data := make([]byte, 2*len(value))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}

// dataBlockSuffix creates a sequence of uint16 data and append the suffix plus its length.
func dataBlockSuffix(suffix []byte, value ...uint16) []byte {
	length := 2 * len(value)
	data := make([]byte, length+1+len(suffix))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	data[length] = uint8(len(suffix))
	copy(data[length+1:], suffix)
	return data
}
