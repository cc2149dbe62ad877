// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	// MinSize is the shortest reply worth decoding: an exception frame.
	MinSize = 5
	MaxSize = 256

	ExceptionSize = 5
	// EchoSize is the length of a write reply: slave, function, 4 echo bytes, CRC.
	EchoSize = 8

	headerSize = 2
	crcSize    = 2
)
