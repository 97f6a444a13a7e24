package bgrt_test

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/bobuhiro11/gobgrt/acpi"
	"github.com/bobuhiro11/gobgrt/bgrt"
	"github.com/bobuhiro11/gobgrt/bmp"
	"github.com/bobuhiro11/gobgrt/emulator"
	"github.com/bobuhiro11/gobgrt/firmware"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// failingFirmware fails the allocation with index failAt and records frees.
type failingFirmware struct {
	*emulator.Firmware
	failAt int
	calls  int
	freed  []uint64
}

func (f *failingFirmware) AllocatePool(t firmware.MemoryType, size int) (uint64, error) {
	defer func() { f.calls++ }()

	if f.calls == f.failAt {
		return 0, firmware.ErrOutOfResources
	}

	return f.Firmware.AllocatePool(t, size)
}

func (f *failingFirmware) FreePool(addr uint64) error {
	f.freed = append(f.freed, addr)

	return f.Firmware.FreePool(addr)
}

func newEmulator(t *testing.T, p emulator.Platform) *emulator.Firmware {
	t.Helper()

	fw, err := emulator.New(p, emulator.Options{Log: discard()})
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { fw.Close() })

	return fw
}

type fixture struct {
	fw       firmware.Firmware
	rootAddr uint64
	root     *acpi.RootPointer
	walker   *acpi.Walker
	manager  *bgrt.Manager
}

func newFixture(t *testing.T, fw firmware.Firmware) *fixture {
	t.Helper()

	tables, err := fw.ConfigurationTables()
	if err != nil {
		t.Fatal(err)
	}

	addr, root, err := acpi.Locate(tables, fw)
	if err != nil {
		t.Fatal(err)
	}

	w, err := acpi.NewWalker(fw, discard(), root)
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{
		fw:       fw,
		rootAddr: addr,
		root:     root,
		walker:   w,
		manager:  bgrt.New(fw, discard(), addr, root, w),
	}
}

// pinned returns the bytes of the root pointer and the current XSDT.
func (fx *fixture) pinned(t *testing.T) []byte {
	t.Helper()

	rp := make([]byte, acpi.RootPointerSize)
	if _, err := fx.fw.ReadAt(rp, int64(fx.rootAddr)); err != nil {
		t.Fatal(err)
	}

	_, xsdt, err := acpi.ReadTable(fx.fw, fx.walker.Addr())
	if err != nil {
		t.Fatal(err)
	}

	return append(rp, xsdt...)
}

func image(width uint32) *bmp.Image {
	return &bmp.Image{Header: bmp.Header{Width: width}, Addr: 0x7f0000, Size: 1024}
}

// reread locates the tables from scratch, as the operating system does.
func reread(t *testing.T, fw firmware.Firmware) (*acpi.RootPointer, *acpi.XSDT, []byte) {
	t.Helper()

	fx := newFixture(t, fw)

	rp := make([]byte, acpi.RootPointerSize)
	if _, err := fw.ReadAt(rp, int64(fx.rootAddr)); err != nil {
		t.Fatal(err)
	}

	if !acpi.Valid(rp[:acpi.RootPointerV1Size]) || !acpi.Valid(rp) {
		t.Fatalf("root pointer checksums broken: % x", rp)
	}

	_, xdata, err := acpi.ReadTable(fw, fx.walker.Addr())
	if err != nil {
		t.Fatal(err)
	}

	if !acpi.Valid(xdata) {
		t.Fatal("xsdt checksum broken")
	}

	tbl, ok := fx.walker.Find(acpi.SigBGRT)
	if !ok {
		t.Fatal("no bgrt reachable from the root pointer")
	}

	_, bdata, err := acpi.ReadTable(fw, tbl.Addr)
	if err != nil {
		t.Fatal(err)
	}

	if !acpi.Valid(bdata) {
		t.Fatal("bgrt checksum broken")
	}

	return fx.root, fx.walker.XSDT(), bdata
}

func checkBGRT(t *testing.T, data []byte, img *bmp.Image) *acpi.BGRT {
	t.Helper()

	b, err := acpi.ParseBGRT(data)
	if err != nil {
		t.Fatal(err)
	}

	if string(b.Signature[:]) != "BGRT" || b.Length != acpi.BGRTSize || b.Rev != 1 ||
		b.Version != 1 || b.Status != 0 || b.ImageType != 0 {
		t.Fatalf("bgrt header %+v", b)
	}

	if b.ImageAddress != img.Addr || b.ImageOffsetX != acpi.ImageOffsetX(img.Width) || b.ImageOffsetY != 300 {
		t.Fatalf("bgrt image %+v", b)
	}

	return b
}

func TestStateString(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		s    bgrt.State
		want string
	}{
		{bgrt.Absent, "absent"},
		{bgrt.Found, "found"},
		{bgrt.Created, "created"},
		{bgrt.Patched, "patched"},
		{bgrt.State(9), "State(9)"},
	} {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

func TestInstallCreates(t *testing.T) {
	t.Parallel()

	fw := newEmulator(t, emulator.DefaultPlatform())
	fx := newFixture(t, fw)

	oldAddr := fx.walker.Addr()
	oldEntries := append([]uint64(nil), fx.walker.XSDT().Entries...)
	_, oldXSDT, err := acpi.ReadTable(fw, oldAddr)
	if err != nil {
		t.Fatal(err)
	}

	if s := fx.manager.Find(); s != bgrt.Absent {
		t.Fatalf("state %s", s)
	}

	img := image(800)
	if err := fx.manager.Install(img); err != nil {
		t.Fatal(err)
	}

	if s := fx.manager.State(); s != bgrt.Patched {
		t.Fatalf("state %s", s)
	}

	root, xsdt, data := reread(t, fw)

	if root.XSDTAddr == oldAddr {
		t.Fatal("root pointer still references the old xsdt")
	}

	if len(xsdt.Entries) != len(oldEntries)+1 || xsdt.Length != uint32(acpi.HeaderSize+acpi.EntrySize*len(xsdt.Entries)) {
		t.Fatalf("xsdt length %d with %d entries", xsdt.Length, len(xsdt.Entries))
	}

	for i, e := range oldEntries {
		if xsdt.Entries[i] != e {
			t.Fatalf("entry %d moved: %#x != %#x", i, xsdt.Entries[i], e)
		}
	}

	tbl, _ := fx.manager.Table()
	if xsdt.Entries[len(oldEntries)] != tbl.Addr {
		t.Fatalf("last entry %#x, bgrt at %#x", xsdt.Entries[len(oldEntries)], tbl.Addr)
	}

	b := checkBGRT(t, data, img)
	if b.ImageOffsetX != 560 {
		t.Fatalf("offset x %d", b.ImageOffsetX)
	}

	if b.OEMId != xsdt.OEMId || b.OEMTableID != xsdt.OEMTableID {
		t.Fatalf("oem fields not inherited: %q %q", b.OEMId[:], b.OEMTableID[:])
	}

	_, still, err := acpi.ReadTable(fw, oldAddr)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(still, oldXSDT) {
		t.Fatal("old xsdt modified")
	}
}

func TestInstallGrowth(t *testing.T) {
	t.Parallel()

	for n := 0; n <= 5; n++ {
		p := emulator.DefaultPlatform()
		p.Tables = nil

		for i := 0; i < n; i++ {
			p.Tables = append(p.Tables, emulator.TableSpec{Signature: "SSDT", Length: 40 + i})
		}

		fw := newEmulator(t, p)
		fx := newFixture(t, fw)

		if err := fx.manager.Install(image(100)); err != nil {
			t.Fatalf("%d tables: %v", n, err)
		}

		_, xsdt, _ := reread(t, fw)
		if len(xsdt.Entries) != n+1 || xsdt.Length != uint32(acpi.HeaderSize+acpi.EntrySize*(n+1)) {
			t.Fatalf("%d tables: %d entries, length %d", n, len(xsdt.Entries), xsdt.Length)
		}
	}
}

func TestInstallPatchesExisting(t *testing.T) {
	t.Parallel()

	p := emulator.DefaultPlatform()
	p.Tables = append(p.Tables, emulator.TableSpec{Signature: "BGRT"})

	fw := newEmulator(t, p)
	fx := newFixture(t, fw)
	xsdtAddr := fx.walker.Addr()
	entries := len(fx.walker.XSDT().Entries)

	if s := fx.manager.Find(); s != bgrt.Found {
		t.Fatalf("state %s", s)
	}

	img := image(2000)
	if err := fx.manager.Install(img); err != nil {
		t.Fatal(err)
	}

	root, xsdt, data := reread(t, fw)

	if root.XSDTAddr != xsdtAddr || len(xsdt.Entries) != entries {
		t.Fatalf("xsdt changed: %#x with %d entries", root.XSDTAddr, len(xsdt.Entries))
	}

	if b := checkBGRT(t, data, img); b.ImageOffsetX != 0 {
		t.Fatalf("wide image offset x %d", b.ImageOffsetX)
	}
}

func TestInstallReentry(t *testing.T) {
	t.Parallel()

	fw := newEmulator(t, emulator.DefaultPlatform())
	fx := newFixture(t, fw)

	if err := fx.manager.Install(image(640)); err != nil {
		t.Fatal(err)
	}

	if err := fx.manager.Install(image(640)); !errors.Is(err, bgrt.ErrAlreadyPatched) {
		t.Fatalf("second install: %v", err)
	}

	// A later boot sees the created table and patches it in place.
	again := newFixture(t, fw)
	entries := len(again.walker.XSDT().Entries)
	xsdtAddr := again.walker.Addr()

	if s := again.manager.Find(); s != bgrt.Found {
		t.Fatalf("state %s", s)
	}

	img := image(1024)
	if err := again.manager.Install(img); err != nil {
		t.Fatal(err)
	}

	root, xsdt, data := reread(t, fw)
	if root.XSDTAddr != xsdtAddr || len(xsdt.Entries) != entries {
		t.Fatal("xsdt grew on the second boot")
	}

	checkBGRT(t, data, img)
}

func TestInstallAllocationFailure(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name   string
		failAt int
		freed  int
	}{
		{name: "bgrt", failAt: 0, freed: 0},
		{name: "xsdt", failAt: 1, freed: 1},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fw := &failingFirmware{Firmware: newEmulator(t, emulator.DefaultPlatform()), failAt: tt.failAt}
			fx := newFixture(t, fw)
			before := fx.pinned(t)

			err := fx.manager.Install(image(800))
			if !errors.Is(err, firmware.ErrOutOfResources) {
				t.Fatalf("got %v", err)
			}

			if s := fx.manager.State(); s != bgrt.Absent {
				t.Fatalf("state %s", s)
			}

			if !bytes.Equal(fx.pinned(t), before) {
				t.Fatal("root pointer or xsdt modified")
			}

			if len(fw.freed) != tt.freed {
				t.Fatalf("freed %d buffers, want %d", len(fw.freed), tt.freed)
			}
		})
	}
}

func TestInstallUnalignedXSDT(t *testing.T) {
	t.Parallel()

	p := emulator.DefaultPlatform()
	p.XSDTPadding = 4

	fw := newEmulator(t, p)
	fx := newFixture(t, fw)
	before := fx.pinned(t)

	if n := len(fx.walker.XSDT().Entries); n != len(p.Tables) {
		t.Fatalf("enumerated %d entries", n)
	}

	err := fx.manager.Install(image(800))
	if !errors.Is(err, bgrt.ErrUnalignedXSDT) || !errors.Is(err, acpi.ErrValidation) {
		t.Fatalf("got %v", err)
	}

	if !bytes.Equal(fx.pinned(t), before) {
		t.Fatal("root pointer or xsdt modified")
	}
}

func TestInstallShortExisting(t *testing.T) {
	t.Parallel()

	p := emulator.DefaultPlatform()
	p.Tables = []emulator.TableSpec{{Signature: "BGRT"}}

	fw := newEmulator(t, p)
	fx := newFixture(t, fw)

	tbl, ok := fx.walker.Find(acpi.SigBGRT)
	if !ok {
		t.Fatal("no bgrt")
	}

	// Shrink the declared length below a BGRT.
	short := make([]byte, 40)
	if _, err := fw.ReadAt(short, int64(tbl.Addr)); err != nil {
		t.Fatal(err)
	}

	short[4] = 40

	if err := acpi.Repair(short); err != nil {
		t.Fatal(err)
	}

	if _, err := fw.WriteAt(short, int64(tbl.Addr)); err != nil {
		t.Fatal(err)
	}

	if err := fx.manager.Install(image(800)); !errors.Is(err, acpi.ErrValidation) {
		t.Fatalf("got %v", err)
	}

	if s := fx.manager.State(); s != bgrt.Found {
		t.Fatalf("state %s", s)
	}
}
