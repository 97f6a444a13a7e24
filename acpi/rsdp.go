package acpi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// RootPointerV1Size is the size of the ACPI 1.0 root pointer, which
	// is also the span of its checksum.
	RootPointerV1Size = 20
	// RootPointerSize is the size of the ACPI 2.0+ root pointer.
	RootPointerSize = 36

	rootPointerRev2 = 2

	rsdpChecksumOffset    = 8
	rsdpRevisionOffset    = 15
	rsdpExtChecksumOffset = 32
)

// RootPointer is the root system description pointer. It is the
// entry-point for parsing ACPI data.
type RootPointer struct {
	// The signature must contain "RSD PTR " (last byte is a space).
	Signature [8]byte

	// Checksum covers the first 20 bytes only.
	Checksum uint8

	OEMID [6]byte

	// ACPI revision number. It is 0 for ACPI 1.0 and 2 for later versions.
	Revision uint8

	RSDTAddr uint32

	// The fields below are only present when Revision >= 2.
	Length           uint32
	XSDTAddr         uint64
	ExtendedChecksum uint8
	Reserved         [3]byte
}

// HasXSDT reports whether the descriptor carries the 64-bit XSDT fields.
func (r *RootPointer) HasXSDT() bool {
	return r.Revision >= rootPointerRev2
}

// Size is the number of bytes the descriptor occupies in memory.
func (r *RootPointer) Size() int {
	if r.HasXSDT() {
		return RootPointerSize
	}

	return RootPointerV1Size
}

func (r *RootPointer) Bytes() ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, r); err != nil {
		return nil, err
	}

	return buf.Bytes()[:r.Size()], nil
}

// Repair recomputes both checksums.
func (r *RootPointer) Repair() error {
	r.Checksum = 0
	r.ExtendedChecksum = 0

	b, err := r.Bytes()
	if err != nil {
		return err
	}

	r.Checksum = Checksum(b[:RootPointerV1Size], rsdpChecksumOffset)

	if r.HasXSDT() {
		b[rsdpChecksumOffset] = r.Checksum
		r.ExtendedChecksum = Checksum(b, rsdpExtChecksumOffset)
	}

	return nil
}

// SetXSDTAddr points the descriptor at a new extended table and keeps the
// extended checksum valid. The XSDT address is outside the span of the
// legacy checksum, so that byte is left as it is.
func (r *RootPointer) SetXSDTAddr(addr uint64) error {
	r.XSDTAddr = addr
	r.ExtendedChecksum = 0

	b, err := r.Bytes()
	if err != nil {
		return err
	}

	r.ExtendedChecksum = Checksum(b, rsdpExtChecksumOffset)

	return nil
}

// ParseRootPointer decodes b, which holds at least the v1 descriptor, and
// the full v2 descriptor whenever its revision asks for one.
func ParseRootPointer(b []byte) (*RootPointer, error) {
	if len(b) < RootPointerV1Size {
		return nil, ErrShortBuffer
	}

	if string(b[:len(RSDPSignature)]) != RSDPSignature {
		return nil, fmt.Errorf("%q: %w", b[:len(RSDPSignature)], ErrInvalidRootPointer)
	}

	full := make([]byte, RootPointerSize)
	copy(full, b)

	r := &RootPointer{}
	if err := binary.Read(bytes.NewReader(full), binary.LittleEndian, r); err != nil {
		return nil, err
	}

	if r.HasXSDT() && len(b) < RootPointerSize {
		return nil, ErrShortBuffer
	}

	if !r.HasXSDT() {
		r.Length, r.XSDTAddr, r.ExtendedChecksum, r.Reserved = 0, 0, 0, [3]byte{}
	}

	return r, nil
}

// ReadRootPointer reads the descriptor at addr. Only the first 20 bytes are
// touched unless the revision announces the extended layout.
func ReadRootPointer(r io.ReaderAt, addr uint64) (*RootPointer, error) {
	buf := make([]byte, RootPointerSize)

	if _, err := r.ReadAt(buf[:RootPointerV1Size], int64(addr)); err != nil {
		return nil, fmt.Errorf("read root pointer at %#x: %w", addr, err)
	}

	n := RootPointerV1Size
	if string(buf[:len(RSDPSignature)]) == RSDPSignature && buf[rsdpRevisionOffset] >= rootPointerRev2 {
		if _, err := r.ReadAt(buf[RootPointerV1Size:], int64(addr)+RootPointerV1Size); err != nil {
			return nil, fmt.Errorf("read extended root pointer at %#x: %w", addr, err)
		}

		n = RootPointerSize
	}

	return ParseRootPointer(buf[:n])
}
