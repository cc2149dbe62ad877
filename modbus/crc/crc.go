// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc implements the Modbus RTU CRC16 (reflected polynomial
// 0xA001, initial value 0xFFFF). The checksum is sent low byte first.
package crc

const (
	initial    = 0xFFFF
	polynomial = 0xA001
)

// CRC is an incremental Modbus CRC16 accumulator.
type CRC struct {
	value uint16
}

// Reset restores the initial register value.
func (crc *CRC) Reset() *CRC {
	crc.value = initial
	return crc
}

// PushBytes feeds data into the register bit by bit.
func (crc *CRC) PushBytes(bs []byte) *CRC {
	value := crc.value
	for _, b := range bs {
		value ^= uint16(b)
		for i := 0; i < 8; i++ {
			if value&0x0001 != 0 {
				value = value>>1 ^ polynomial
			} else {
				value >>= 1
			}
		}
	}
	crc.value = value
	return crc
}

// Value returns the current checksum.
func (crc *CRC) Value() uint16 {
	return crc.value
}

// Checksum computes the CRC16 of data. Empty input yields 0xFFFF.
func Checksum(data []byte) uint16 {
	var crc CRC
	return crc.Reset().PushBytes(data).Value()
}

// Append appends the checksum of data to it, low byte first.
func Append(data []byte) []byte {
	sum := Checksum(data)
	return append(data, byte(sum), byte(sum>>8))
}

// Verify checks the trailing two bytes of frame against the checksum of
// everything before them.
func Verify(frame []byte) bool {
	length := len(frame)
	if length < 2 {
		return false
	}
	checksum := uint16(frame[length-1])<<8 | uint16(frame[length-2])
	return checksum == Checksum(frame[:length-2])
}
