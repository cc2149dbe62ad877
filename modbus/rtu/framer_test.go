// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"testing"
)

func TestCalculateResponseLength(t *testing.T) {
	tests := []struct {
		name string
		adu  []byte
		want int
	}{
		{"ReadCoils_19", []byte{0x01, 0x01, 0x00, 0x13, 0x00, 0x13}, 4 + 1 + 3},
		{"ReadCoils_16", []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x10}, 4 + 1 + 2},
		{"ReadHoldingRegisters", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02}, 4 + 1 + 4},
		{"WriteSingleRegister", []byte{0x01, 0x06, 0x00, 0x00, 0xAA, 0xBB}, 8},
		{"WriteMultipleRegisters", []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01, 0x02, 0x00, 0x01}, 8},
		{"UnknownFunction", []byte{0x01, 0x2B, 0x0E}, 0},
		{"Short", []byte{0x01}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateResponseLength(tt.adu); got != tt.want {
				t.Errorf("CalculateResponseLength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResponseLength(t *testing.T) {
	tests := []struct {
		name     string
		function byte
		received []byte
		want     int
	}{
		{"Empty", 0x03, nil, 0},
		{"HeaderOnly", 0x03, []byte{0x01, 0x03}, 0},
		{"ByteCount", 0x03, []byte{0x01, 0x03, 0x04}, 9},
		{"Exception", 0x03, []byte{0x01, 0x83}, 5},
		{"Echo", 0x10, []byte{0x01, 0x10}, 8},
		{"OtherFunction", 0x03, []byte{0x01, 0x04, 0x02}, 0},
		{"Raw", 0x2B, []byte{0x01, 0x2B, 0x0E}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResponseLength(tt.function, tt.received); got != tt.want {
				t.Errorf("ResponseLength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{"Spaced", "01 03 00 00 00 02", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02}, false},
		{"LowerCase", "0a ff", []byte{0x0A, 0xFF}, false},
		{"ExtraWhitespace", "  01\t06  ", []byte{0x01, 0x06}, false},
		{"TooShort", "01", nil, true},
		{"OddDigits", "01 3", nil, true},
		{"NotHex", "01 GG", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHex(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHex() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ParseHex() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestFormatHex(t *testing.T) {
	if got := FormatHex([]byte{0x01, 0xc4, 0x0b}); got != "01 C4 0B" {
		t.Errorf("FormatHex() = %q", got)
	}
}
