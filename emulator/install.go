package emulator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/bobuhiro11/gobgrt/acpi"
	"github.com/bobuhiro11/gobgrt/memory"
)

const (
	tableAlign      = 16
	defaultBodySize = 16
)

// tableWriter lays out checksummed tables one after another.
type tableWriter struct {
	buf  bytes.Buffer
	base uint64
}

func (w *tableWriter) append(table []byte) (uint64, error) {
	if err := acpi.Repair(table); err != nil {
		return 0, err
	}

	addr := w.base + uint64(w.buf.Len())
	w.buf.Write(table)

	if pad := w.buf.Len() % tableAlign; pad != 0 {
		w.buf.Write(make([]byte, tableAlign-pad))
	}

	return addr, nil
}

func (p *Platform) buildTable(spec TableSpec) ([]byte, error) {
	sig := acpi.Signature(spec.Signature)

	if sig == acpi.SigBGRT {
		b := &acpi.BGRT{Header: acpi.NewHeader(sig, acpi.BGRTSize, 1, p.OEMID, p.OEMTableID)}
		b.Patch(0, acpi.ReferenceScreenWidth)

		return b.ToBytes()
	}

	length := spec.Length
	if length == 0 {
		length = acpi.HeaderSize + defaultBodySize
	}

	h := acpi.NewHeader(sig, uint32(length), spec.Revision, p.OEMID, p.OEMTableID)

	hdr, err := h.Bytes()
	if err != nil {
		return nil, err
	}

	table := make([]byte, length)
	copy(table, hdr)

	return table, nil
}

// install writes the firmware tables and the RSDP into w.
func (p *Platform) install(w io.WriterAt) error {
	tw := &tableWriter{base: tablesBase}

	var entries []uint64

	for _, spec := range p.Tables {
		table, err := p.buildTable(spec)
		if err != nil {
			return fmt.Errorf("build %s: %w", spec.Signature, err)
		}

		addr, err := tw.append(table)
		if err != nil {
			return fmt.Errorf("install %s: %w", spec.Signature, err)
		}

		entries = append(entries, addr)
	}

	rsdt := acpi.NewHeader(acpi.SigRSDT, uint32(acpi.HeaderSize+4*len(entries)), 1, p.OEMID, p.OEMTableID)
	rsdtAddr, err := tw.append(pointerTable(rsdt, entries, 4))
	if err != nil {
		return err
	}

	xsdt := acpi.NewHeader(acpi.Signature(p.XSDTSignature), uint32(acpi.HeaderSize+acpi.EntrySize*len(entries)+p.XSDTPadding), 1, p.OEMID, p.OEMTableID)
	xsdtAddr, err := tw.append(pointerTable(xsdt, entries, acpi.EntrySize))
	if err != nil {
		return err
	}

	if tw.buf.Len() > poolBase-tablesBase {
		return fmt.Errorf("firmware tables need %d bytes, region holds %d", tw.buf.Len(), poolBase-tablesBase)
	}

	if _, err := w.WriteAt(tw.buf.Bytes(), tablesBase); err != nil {
		return fmt.Errorf("write tables: %w", err)
	}

	rp := &acpi.RootPointer{
		Revision: p.RSDPRevision,
		RSDTAddr: uint32(rsdtAddr),
	}
	copy(rp.Signature[:], acpi.RSDPSignature)
	copy(rp.OEMID[:], p.OEMID)

	if rp.HasXSDT() {
		rp.Length = acpi.RootPointerSize
		rp.XSDTAddr = xsdtAddr
	}

	if err := rp.Repair(); err != nil {
		return err
	}

	b, err := rp.Bytes()
	if err != nil {
		return err
	}

	if _, err := w.WriteAt(b, rsdpAddr); err != nil {
		return fmt.Errorf("write RSDP: %w", err)
	}

	return nil
}

func pointerTable(h acpi.Header, entries []uint64, size int) []byte {
	hdr, _ := h.Bytes()
	table := make([]byte, int(h.Length))
	copy(table, hdr)

	for i, e := range entries {
		off := acpi.HeaderSize + i*size
		if size == 4 {
			binary.LittleEndian.PutUint32(table[off:], uint32(e))
		} else {
			binary.LittleEndian.PutUint64(table[off:], e)
		}
	}

	return table
}

// installed reports whether r already holds an RSDP at the fixed address,
// as a memory image from an earlier run does.
func installed(r io.ReaderAt) bool {
	sig := make([]byte, len(acpi.RSDPSignature))

	if _, err := r.ReadAt(sig, rsdpAddr); err != nil {
		return false
	}

	return string(sig) == acpi.RSDPSignature
}

// reserveExisting marks the pool memory used by tables and images of a
// previous run so new allocations do not overwrite them.
func reserveExisting(r io.ReaderAt, pool *memory.AddressSpace, log *slog.Logger) {
	reserve := func(name string, addr, size uint64) {
		region := memory.NewAddressSpace(name, addr, size)
		if !pool.InRange(region) {
			return
		}

		if err := pool.AddAddress(region); err != nil {
			log.Debug("pool reservation skipped", "name", name, "addr", addr, "err", err)
		}
	}

	rp, err := acpi.ReadRootPointer(r, rsdpAddr)
	if err != nil || !rp.HasXSDT() {
		return
	}

	w, err := acpi.NewWalker(r, log, rp)
	if err != nil {
		return
	}

	reserve("XSDT", w.Addr(), uint64(w.XSDT().Length))

	for _, t := range w.Tables() {
		reserve(string(t.Header.Signature[:]), t.Addr, uint64(t.Header.Length))

		if !acpi.SigBGRT.Equal(t.Header.Signature) {
			continue
		}

		_, data, err := acpi.ReadTable(r, t.Addr)
		if err != nil {
			continue
		}

		b, err := acpi.ParseBGRT(data)
		if err != nil || b.ImageAddress == 0 {
			continue
		}

		hdr := make([]byte, 6)
		if _, err := r.ReadAt(hdr, int64(b.ImageAddress)); err == nil {
			reserve("bitmap", b.ImageAddress, uint64(binary.LittleEndian.Uint32(hdr[2:])))
		}
	}
}
