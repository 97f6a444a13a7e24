package acpi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// HeaderSize is the size of the system description table header.
	HeaderSize = 36

	// MaxTableLength bounds the declared length of any table read from
	// firmware memory.
	MaxTableLength = 1 << 20

	lengthOffset   = 4
	checksumOffset = 9
)

// Header is the common prefix of all system description tables.
type Header struct {
	Signature  [4]byte
	Length     uint32
	Rev        uint8
	Checksum   uint8
	OEMId      [6]byte
	OEMTableID [8]byte
	OEMRev     uint32
	CreatorID  [4]byte
	CreatorRev uint32
}

func (h *Header) Sig() Signature {
	return Signature(h.Signature[:])
}

func (h *Header) String() string {
	return fmt.Sprintf("%s len=%d rev=%d oem=%q table=%q",
		h.Signature[:], h.Length, h.Rev, h.OEMId[:], h.OEMTableID[:])
}

// checkLength rejects declared lengths that cannot belong to a real table.
func (h *Header) checkLength() error {
	if h.Length < HeaderSize || h.Length > MaxTableLength {
		return fmt.Errorf("%s declares %d bytes: %w", h.Signature[:], h.Length, ErrTableLength)
	}

	return nil
}

func (h *Header) Bytes() ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func ParseHeader(b []byte) (Header, error) {
	var h Header

	if len(b) < HeaderSize {
		return h, ErrShortBuffer
	}

	if err := binary.Read(bytes.NewReader(b[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, err
	}

	return h, nil
}

// ReadHeader reads the header of the table at addr.
func ReadHeader(r io.ReaderAt, addr uint64) (Header, error) {
	buf := make([]byte, HeaderSize)

	if _, err := r.ReadAt(buf, int64(addr)); err != nil {
		return Header{}, fmt.Errorf("read header at %#x: %w", addr, err)
	}

	return ParseHeader(buf)
}

// ReadTable reads the header at addr, validates its length and then reads
// the whole table.
func ReadTable(r io.ReaderAt, addr uint64) (Header, []byte, error) {
	h, err := ReadHeader(r, addr)
	if err != nil {
		return h, nil, err
	}

	if err := h.checkLength(); err != nil {
		return h, nil, err
	}

	buf := make([]byte, h.Length)

	if _, err := r.ReadAt(buf, int64(addr)); err != nil {
		return h, nil, fmt.Errorf("read %s at %#x: %w", h.Signature[:], addr, err)
	}

	return h, buf, nil
}

func convertOEMID(oemID string) [6]byte {
	var id [6]byte

	copy(id[:], oemID)

	return id
}

func convertOEMTableID(oemTableID string) [8]byte {
	var id [8]byte

	copy(id[:], oemTableID)

	return id
}

func convertCreatorID(creatorID string) [4]byte {
	var id [4]byte

	copy(id[:], creatorID)

	return id
}

func NewHeader(sig Signature, length uint32, rev uint8, oemID, oemTableID string) Header {
	creatorID := "GBGR" // Go BGRT.

	return Header{
		Signature:  sig.ToBytes(),
		Length:     length,
		Rev:        rev,
		OEMId:      convertOEMID(oemID),
		OEMTableID: convertOEMTableID(oemTableID),
		CreatorID:  convertCreatorID(creatorID),
		CreatorRev: 1,
	}
}
