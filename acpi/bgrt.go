package acpi

import (
	"bytes"
	"encoding/binary"
)

const (
	// BGRTSize is the length of a boot graphics resource table.
	BGRTSize     = 56
	BGRTRevision = 1
	BGRTVersion  = 1

	// BGRTStatusNone leaves the displayed bit clear.
	BGRTStatusNone = 0
	// BGRTImageBitmap is the only image type defined.
	BGRTImageBitmap = 0

	// ReferenceScreenWidth is the horizontal resolution the image is
	// centered on.
	ReferenceScreenWidth = 1920
	// ImageOffsetY is the vertical placement of the image.
	ImageOffsetY = 300
)

// BGRT is the boot graphics resource table.
type BGRT struct {
	Header
	Version      uint16
	Status       uint8
	ImageType    uint8
	ImageAddress uint64
	ImageOffsetX uint32
	ImageOffsetY uint32
}

// ImageOffsetX centers an image of the given width on the reference screen.
// Images wider than the screen are placed at the left edge.
func ImageOffsetX(width uint32) uint32 {
	if width >= ReferenceScreenWidth {
		return 0
	}

	return (ReferenceScreenWidth - width) / 2
}

// Patch writes every field that describes the splash image. The OEM and
// creator fields are left as they are.
func (b *BGRT) Patch(imageAddr uint64, width uint32) {
	b.Signature = SigBGRT.ToBytes()
	b.Length = BGRTSize
	b.Rev = BGRTRevision
	b.Version = BGRTVersion
	b.Status = BGRTStatusNone
	b.ImageType = BGRTImageBitmap
	b.ImageAddress = imageAddr
	b.ImageOffsetX = ImageOffsetX(width)
	b.ImageOffsetY = ImageOffsetY
}

// ToBytes serializes the table with a repaired checksum.
func (b *BGRT) ToBytes() ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, b); err != nil {
		return nil, err
	}

	data := buf.Bytes()
	if err := Repair(data); err != nil {
		return nil, err
	}

	b.Header.Checksum = data[checksumOffset]

	return data, nil
}

func ParseBGRT(data []byte) (*BGRT, error) {
	if len(data) < BGRTSize {
		return nil, ErrShortBuffer
	}

	b := &BGRT{}
	if err := binary.Read(bytes.NewReader(data[:BGRTSize]), binary.LittleEndian, b); err != nil {
		return nil, err
	}

	return b, nil
}
