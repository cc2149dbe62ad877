// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

const (
	tableEntries = MaxAddress + 1
	sizeFlags    = tableEntries
	sizeValues   = tableEntries * 2
	sizeTable    = sizeFlags + sizeValues
	totalSize    = sizeTable * int(numTables)
)

// flagOffset is the position of the "known" flag byte of an address.
func flagOffset(table Table, address uint16) int {
	return int(table)*sizeTable + int(address)
}

// valueOffset is the position of the big-endian value of an address.
func valueOffset(table Table, address uint16) int {
	return int(table)*sizeTable + sizeFlags + int(address)*2
}
