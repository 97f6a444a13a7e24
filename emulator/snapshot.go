package emulator

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/bobuhiro11/gobgrt/acpi"
)

// Report describes the ACPI state of emulated memory.
type Report struct {
	RSDP    RSDPReport     `json:"rsdp"`
	XSDT    *TableReport   `json:"xsdt,omitempty"`
	Tables  []TableReport  `json:"tables"`
	BGRT    *BGRTReport    `json:"bgrt,omitempty"`
	Started []StartedImage `json:"started,omitempty"`
}

type RSDPReport struct {
	Addr             uint64 `json:"addr"`
	Revision         uint8  `json:"revision"`
	OEMID            string `json:"oem_id"`
	XSDTAddr         uint64 `json:"xsdt_addr"`
	ChecksumValid    bool   `json:"checksum_valid"`
	ExtChecksumValid bool   `json:"ext_checksum_valid"`
}

type TableReport struct {
	Signature     string `json:"signature"`
	Addr          uint64 `json:"addr"`
	Length        uint32 `json:"length"`
	Revision      uint8  `json:"revision"`
	OEMID         string `json:"oem_id"`
	ChecksumValid bool   `json:"checksum_valid"`
}

type BGRTReport struct {
	Version      uint16 `json:"version"`
	Status       uint8  `json:"status"`
	ImageType    uint8  `json:"image_type"`
	ImageAddress uint64 `json:"image_address"`
	ImageOffsetX uint32 `json:"image_offset_x"`
	ImageOffsetY uint32 `json:"image_offset_y"`
}

func (f *Firmware) tableReport(addr uint64) (TableReport, []byte, error) {
	h, data, err := acpi.ReadTable(f.mem, addr)
	if err != nil {
		return TableReport{}, nil, err
	}

	return TableReport{
		Signature:     string(h.Signature[:]),
		Addr:          addr,
		Length:        h.Length,
		Revision:      h.Rev,
		OEMID:         string(h.OEMId[:]),
		ChecksumValid: acpi.Valid(data),
	}, data, nil
}

// Snapshot reads the tables reachable from the root pointer at its fixed
// address. Unreadable sub-tables are left out.
func (f *Firmware) Snapshot() (*Report, error) {
	rp, err := acpi.ReadRootPointer(f.mem, rsdpAddr)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, rp.Size())
	if _, err := f.mem.ReadAt(raw, rsdpAddr); err != nil {
		return nil, err
	}

	r := &Report{
		RSDP: RSDPReport{
			Addr:          rsdpAddr,
			Revision:      rp.Revision,
			OEMID:         string(rp.OEMID[:]),
			XSDTAddr:      rp.XSDTAddr,
			ChecksumValid: acpi.Valid(raw[:acpi.RootPointerV1Size]),
		},
		Started: f.started,
	}

	if !rp.HasXSDT() {
		return r, nil
	}

	r.RSDP.ExtChecksumValid = acpi.Valid(raw)

	x, data, err := f.tableReport(rp.XSDTAddr)
	if err != nil {
		return nil, fmt.Errorf("xsdt: %w", err)
	}

	r.XSDT = &x

	parsed, err := acpi.ParseXSDT(data)
	if err != nil {
		return nil, fmt.Errorf("xsdt: %w", err)
	}

	for _, addr := range parsed.Entries {
		t, data, err := f.tableReport(addr)
		if err != nil {
			continue
		}

		r.Tables = append(r.Tables, t)

		if t.Signature != string(acpi.SigBGRT) || r.BGRT != nil {
			continue
		}

		if b, err := acpi.ParseBGRT(data); err == nil {
			r.BGRT = &BGRTReport{
				Version:      b.Version,
				Status:       b.Status,
				ImageType:    b.ImageType,
				ImageAddress: b.ImageAddress,
				ImageOffsetX: b.ImageOffsetX,
				ImageOffsetY: b.ImageOffsetY,
			}
		}
	}

	return r, nil
}

func (r *Report) WriteJSON(w io.Writer) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}

	_, err = w.Write(append(b, '\n'))

	return err
}
