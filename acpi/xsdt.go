package acpi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// EntrySize is the size of one XSDT pointer.
const EntrySize = 8

type XSDT struct {
	Header
	Entries []uint64

	// tail holds bytes past the last whole entry, if the declared length
	// is not header + n*8.
	tail []byte
}

func NewXSDT(oemid, oemtableid string) XSDT {
	h := NewHeader(SigXSDT, HeaderSize, 1, oemid, oemtableid)

	return XSDT{Header: h}
}

// ParseXSDT decodes a complete extended table. The entry count follows the
// declared length: (length - 36) / 8.
func ParseXSDT(b []byte) (*XSDT, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}

	if err := h.checkLength(); err != nil {
		return nil, err
	}

	if uint64(h.Length) > uint64(len(b)) {
		return nil, ErrShortBuffer
	}

	x := &XSDT{Header: h}
	body := b[HeaderSize:h.Length]

	for len(body) >= EntrySize {
		x.Entries = append(x.Entries, binary.LittleEndian.Uint64(body))
		body = body[EntrySize:]
	}

	if len(body) > 0 {
		x.tail = append([]byte(nil), body...)
	}

	return x, nil
}

// ReadXSDT reads the extended table at addr, validating the declared length
// before the trailing array is touched.
func ReadXSDT(r io.ReaderAt, addr uint64) (*XSDT, error) {
	_, buf, err := ReadTable(r, addr)
	if err != nil {
		return nil, err
	}

	return ParseXSDT(buf)
}

// Valid checks the signature.
func (x *XSDT) Valid() error {
	if !SigXSDT.Equal(x.Signature) {
		return fmt.Errorf("%q: %w", x.Signature[:], ErrInvalidExtendedTable)
	}

	return nil
}

// Aligned reports whether the declared length is exactly header + n*8.
func (x *XSDT) Aligned() bool {
	return len(x.tail) == 0 && x.Length == uint32(HeaderSize+EntrySize*len(x.Entries))
}

func (x *XSDT) ToBytes() ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, x.Header); err != nil {
		return nil, err
	}

	for _, addr := range x.Entries {
		if err := binary.Write(&buf, binary.LittleEndian, addr); err != nil {
			return nil, err
		}
	}

	buf.Write(x.tail)

	return buf.Bytes(), nil
}

// AddEntry appends a sub-table pointer and grows the declared length.
func (x *XSDT) AddEntry(entry uint64) {
	x.Entries = append(x.Entries, entry)
	x.Length += EntrySize
}

// Checksum recomputes the header checksum over the serialized table.
func (x *XSDT) Checksum() error {
	data, err := x.ToBytes()
	if err != nil {
		return err
	}

	if err := Repair(data); err != nil {
		return err
	}

	x.Header.Checksum = data[checksumOffset]

	return nil
}
