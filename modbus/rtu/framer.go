// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/JackLamWC/mb-rtu-master/modbus"
)

// CalculateResponseLength returns the expected length of the reply to an
// encoded request ADU, or 0 when it cannot be derived from the request.
func CalculateResponseLength(adu []byte) int {
	if len(adu) < headerSize {
		return 0
	}
	length := headerSize + crcSize
	switch adu[1] {
	case modbus.FuncCodeReadCoils:
		if len(adu) < 6 {
			return 0
		}
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count/8
		if count%8 != 0 {
			length++
		}
	case modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeReadHoldingRegisters:
		if len(adu) < 6 {
			return 0
		}
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count*2
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleRegisters:
		length += 4
	default:
		return 0
	}
	return length
}

// ResponseLength inspects the bytes received so far for a request with the
// given function code and returns the total frame length they announce.
// It returns 0 while the length is still unknown, or when the reply has a
// shape the framer does not recognise; the caller then falls back to the
// quiet interval.
func ResponseLength(function byte, received []byte) int {
	if len(received) < headerSize {
		return 0
	}
	switch received[1] {
	case function | modbus.ExceptionFlag:
		if function&modbus.ExceptionFlag != 0 {
			return 0
		}
		return ExceptionSize
	case function:
		switch {
		case modbus.IsRead(function):
			if len(received) < headerSize+1 {
				return 0
			}
			return headerSize + 1 + int(received[2]) + crcSize
		case modbus.IsWrite(function):
			return EchoSize
		}
	}
	return 0
}

// ParseHex parses the textual form of a raw frame, e.g. "01 03 00 00 00 02".
// Bytes are separated by whitespace and written as exactly two hex digits.
func ParseHex(s string) ([]byte, error) {
	parts := strings.Fields(s)
	if len(parts) < headerSize {
		return nil, fmt.Errorf("%w: raw frame needs at least slave id and function code, got %d bytes", modbus.ErrInvalidParameter, len(parts))
	}
	frame := make([]byte, 0, len(parts))
	for _, part := range parts {
		if len(part) != 2 {
			return nil, fmt.Errorf("%w: invalid hex byte '%s', each byte must be 2 hex digits", modbus.ErrInvalidParameter, part)
		}
		b, err := hex.DecodeString(part)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid hex value '%s'", modbus.ErrInvalidParameter, part)
		}
		frame = append(frame, b[0])
	}
	return frame, nil
}

// FormatHex renders a frame the way ParseHex reads it.
func FormatHex(frame []byte) string {
	return strings.ToUpper(fmt.Sprintf("% x", frame))
}
