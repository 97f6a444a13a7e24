package acpi_test

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/bobuhiro11/gobgrt/acpi"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWalkerFind(t *testing.T) {
	t.Parallel()

	mem := make([]byte, 0x1000)
	putTable(t, mem, 0x400, acpi.SigFACP, 16)
	putTable(t, mem, 0x500, acpi.SigBGRT, acpi.BGRTSize-acpi.HeaderSize)
	putTable(t, mem, 0x600, acpi.SigBGRT, acpi.BGRTSize-acpi.HeaderSize)
	putXSDT(t, mem, 0x100, acpi.SigXSDT, 0x400, 0, 0x500, 0x600)
	putRootPointer(t, mem, 0, 0x100)

	rp, err := acpi.ParseRootPointer(mem)
	if err != nil {
		t.Fatal(err)
	}

	w, err := acpi.NewWalker(bytes.NewReader(mem), discard(), rp)
	if err != nil {
		t.Fatal(err)
	}

	if got := len(w.Tables()); got != 3 {
		t.Fatalf("%d tables, null entry not skipped", got)
	}

	tbl, ok := w.Find(acpi.SigBGRT)
	if !ok || tbl.Addr != 0x500 {
		t.Fatalf("found %v at %#x, want first match at 0x500", ok, tbl.Addr)
	}

	if _, ok := w.Find(acpi.SigHPET); ok {
		t.Fatal("found a table that does not exist")
	}

	// Re-iterable.
	if a, b := w.Tables(), w.Tables(); len(a) != len(b) || a[0] != b[0] {
		t.Fatal("second walk differs")
	}
}

func TestWalkerToleratesBadSignature(t *testing.T) {
	t.Parallel()

	mem := make([]byte, 0x1000)
	putTable(t, mem, 0x400, acpi.SigAPIC, 8)
	putXSDT(t, mem, 0x100, acpi.SigRSDT, 0x400)
	putRootPointer(t, mem, 0, 0x100)

	rp, err := acpi.ParseRootPointer(mem)
	if err != nil {
		t.Fatal(err)
	}

	w, err := acpi.NewWalker(bytes.NewReader(mem), discard(), rp)
	if err != nil {
		t.Fatal(err)
	}

	if !errors.Is(w.XSDT().Valid(), acpi.ErrInvalidExtendedTable) {
		t.Fatal("bad signature not reported")
	}

	if _, ok := w.Find(acpi.SigAPIC); !ok {
		t.Fatal("walk stopped on a bad signature")
	}
}

func TestWalkerMissingXSDT(t *testing.T) {
	t.Parallel()

	for _, rp := range []*acpi.RootPointer{
		{Revision: 2},
		{Revision: 0, RSDTAddr: 0x100},
	} {
		if _, err := acpi.NewWalker(bytes.NewReader(nil), discard(), rp); !errors.Is(err, acpi.ErrMissingExtendedTable) {
			t.Errorf("revision %d: got %v", rp.Revision, err)
		}
	}
}
