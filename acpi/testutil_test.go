package acpi_test

import (
	"encoding/binary"
	"testing"

	"github.com/bobuhiro11/gobgrt/acpi"
)

// putTable writes a checksummed table with an empty body of bodyLen bytes.
func putTable(t *testing.T, mem []byte, addr uint64, sig acpi.Signature, bodyLen int) {
	t.Helper()

	h := acpi.NewHeader(sig, uint32(acpi.HeaderSize+bodyLen), 1, "GOBGRT", "TESTTBL")

	b, err := h.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	table := mem[addr : addr+uint64(acpi.HeaderSize+bodyLen)]
	copy(table, b)

	if err := acpi.Repair(table); err != nil {
		t.Fatal(err)
	}
}

// putXSDT writes a checksummed extended table holding entries.
func putXSDT(t *testing.T, mem []byte, addr uint64, sig acpi.Signature, entries ...uint64) {
	t.Helper()

	x := acpi.NewXSDT("GOBGRT", "TESTXSDT")
	x.Signature = sig.ToBytes()

	for _, e := range entries {
		x.AddEntry(e)
	}

	if err := x.Checksum(); err != nil {
		t.Fatal(err)
	}

	b, err := x.ToBytes()
	if err != nil {
		t.Fatal(err)
	}

	copy(mem[addr:], b)
}

// putRootPointer writes a revision 2 root pointer.
func putRootPointer(t *testing.T, mem []byte, addr, xsdt uint64) {
	t.Helper()

	rp := &acpi.RootPointer{Revision: 2, Length: acpi.RootPointerSize, XSDTAddr: xsdt}
	copy(rp.Signature[:], acpi.RSDPSignature)
	copy(rp.OEMID[:], "GOBGRT")

	if err := rp.Repair(); err != nil {
		t.Fatal(err)
	}

	b, err := rp.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	copy(mem[addr:], b)
}

func entriesOf(t *testing.T, table []byte) []uint64 {
	t.Helper()

	length := binary.LittleEndian.Uint32(table[4:])
	body := table[acpi.HeaderSize:length]
	out := []uint64{}

	for len(body) >= 8 {
		out = append(out, binary.LittleEndian.Uint64(body))
		body = body[8:]
	}

	return out
}
