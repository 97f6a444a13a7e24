package acpi

import "encoding/binary"

// Sum adds up all bytes of b modulo 256.
func Sum(b []byte) uint8 {
	var sum uint8

	for _, v := range b {
		sum += v
	}

	return sum
}

// Valid reports whether b sums to zero.
func Valid(b []byte) bool {
	return Sum(b) == 0
}

// Checksum returns the value that, stored at b[off], makes b sum to zero.
// The current content of b[off] is ignored.
func Checksum(b []byte, off int) uint8 {
	return 0 - (Sum(b) - b[off])
}

// Repair overwrites the header checksum of table. The span is the length
// declared in the header, which must fit in table.
func Repair(table []byte) error {
	if len(table) < HeaderSize {
		return ErrShortBuffer
	}

	length := binary.LittleEndian.Uint32(table[lengthOffset:])
	if length < HeaderSize || uint64(length) > uint64(len(table)) {
		return ErrTableLength
	}

	table[checksumOffset] = Checksum(table[:length], checksumOffset)

	return nil
}
