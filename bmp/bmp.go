// Package bmp loads the splash bitmap into firmware pool memory.
package bmp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/bobuhiro11/gobgrt/acpi"
	"github.com/bobuhiro11/gobgrt/firmware"
)

const (
	// HeaderSize covers the file header and the part of the DIB header
	// that carries the dimensions.
	HeaderSize = 30

	// MaxFileSize bounds the declared file size.
	MaxFileSize = 64 << 20

	magic = "BM"
)

var ErrInvalidHeader = fmt.Errorf("%w: bitmap header", acpi.ErrValidation)

// Header is the bitmap file header followed by the start of the DIB header.
type Header struct {
	Magic           [2]byte
	FileSize        uint32
	Reserved        [4]byte
	PixelDataOffset uint32
	DIBHeaderSize   uint32
	Width           uint32
	Height          uint32
	Planes          uint16
	BPP             uint16
}

func ParseHeader(b []byte) (Header, error) {
	var h Header

	if len(b) < HeaderSize {
		return h, fmt.Errorf("%d bytes: %w", len(b), ErrInvalidHeader)
	}

	if err := binary.Read(bytes.NewReader(b[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, err
	}

	return h, nil
}

// Image is a bitmap copied into pool memory. The pool buffer is never freed:
// the BGRT keeps its address for the operating system.
type Image struct {
	Header
	Addr uint64
	Size int
}

// Load reads the bitmap at path from device and copies FileSize bytes of it
// into a freshly allocated pool buffer. Pixel data is not inspected.
func Load(fw firmware.Firmware, log *slog.Logger, device firmware.Handle, path string) (*Image, error) {
	data, err := fw.ReadFile(device, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	log.Info("found bitmap", "path", path, "bytes", len(data))

	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	if string(h.Magic[:]) != magic {
		log.Warn("bitmap magic mismatch", "magic", fmt.Sprintf("%q", h.Magic[:]))
	}

	size := int(h.FileSize)
	if size < HeaderSize || size > MaxFileSize {
		return nil, fmt.Errorf("file size %d: %w", h.FileSize, ErrInvalidHeader)
	}

	if size > len(data) {
		log.Warn("bitmap shorter than its declared size", "declared", size, "bytes", len(data))
	}

	addr, err := fw.AllocatePool(firmware.BootServicesData, size)
	if err != nil {
		return nil, fmt.Errorf("allocate %d bytes for bitmap: %w", size, err)
	}

	buf := make([]byte, size)
	copy(buf, data)

	if _, err := fw.WriteAt(buf, int64(addr)); err != nil {
		return nil, fmt.Errorf("copy bitmap to %#x: %w", addr, err)
	}

	return &Image{Header: h, Addr: addr, Size: size}, nil
}

// Encode writes a minimal 24-bit bitmap header for an image of the given
// dimensions followed by zeroed pixel rows.
func Encode(w io.Writer, width, height uint32) error {
	const pixelOffset = 54

	stride := (width*3 + 3) &^ 3
	h := Header{
		Magic:           [2]byte{'B', 'M'},
		FileSize:        pixelOffset + stride*height,
		PixelDataOffset: pixelOffset,
		DIBHeaderSize:   40,
		Width:           width,
		Height:          height,
		Planes:          1,
		BPP:             24,
	}

	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}

	// Rest of BITMAPINFOHEADER: compression, image size, resolution,
	// palette counts.
	rest := make([]byte, pixelOffset-HeaderSize)
	binary.LittleEndian.PutUint32(rest[4:], stride*height)

	if _, err := w.Write(rest); err != nil {
		return err
	}

	_, err := w.Write(make([]byte, stride*height))

	return err
}
