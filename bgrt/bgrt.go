// Package bgrt makes a boot graphics resource table describe a splash
// bitmap, creating the table and growing the XSDT when the firmware did not
// publish one.
package bgrt

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bobuhiro11/gobgrt/acpi"
	"github.com/bobuhiro11/gobgrt/bmp"
	"github.com/bobuhiro11/gobgrt/firmware"
)

// State is where the manager is in Absent -> {Found | Created} -> Patched.
type State int

const (
	Absent State = iota
	Found
	Created
	Patched
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Found:
		return "found"
	case Created:
		return "created"
	case Patched:
		return "patched"
	}

	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrAlreadyPatched = errors.New("bgrt already patched")
	ErrUnalignedXSDT  = fmt.Errorf("%w: xsdt length is not a whole number of entries", acpi.ErrValidation)
	ErrShortTable     = fmt.Errorf("%w: existing bgrt shorter than %d bytes", acpi.ErrValidation, acpi.BGRTSize)
)

// Manager owns the BGRT of one boot.
type Manager struct {
	fw       firmware.Firmware
	log      *slog.Logger
	rootAddr uint64
	root     *acpi.RootPointer
	walker   *acpi.Walker

	state    State
	searched bool
	table    acpi.Table
}

// New returns a manager for the tables reachable from root, which was read
// at rootAddr.
func New(fw firmware.Firmware, log *slog.Logger, rootAddr uint64, root *acpi.RootPointer, walker *acpi.Walker) *Manager {
	return &Manager{
		fw:       fw,
		log:      log,
		rootAddr: rootAddr,
		root:     root,
		walker:   walker,
	}
}

func (m *Manager) State() State {
	return m.state
}

// Table is the BGRT once it is found or created.
func (m *Manager) Table() (acpi.Table, bool) {
	return m.table, m.state != Absent
}

// Find looks the BGRT up in the extended table. It does not touch memory.
func (m *Manager) Find() State {
	if m.state == Patched {
		return m.state
	}

	m.searched = true

	t, ok := m.walker.Find(acpi.SigBGRT)
	if !ok {
		m.log.Info("no bgrt, one will be created")

		m.state = Absent

		return m.state
	}

	m.log.Info("found bgrt", "addr", fmt.Sprintf("%#x", t.Addr), "len", t.Header.Length)

	m.table, m.state = t, Found

	return m.state
}

// Install makes the BGRT describe img. An existing table is patched in
// place. Otherwise a table is created in pool memory, a copy of the XSDT with
// one more entry is written, and the root pointer is repointed last. The
// tables reachable from the root pointer are left unchanged by every error
// path.
func (m *Manager) Install(img *bmp.Image) error {
	if m.state == Patched {
		return ErrAlreadyPatched
	}

	if !m.searched {
		m.Find()
	}

	var err error

	if m.state == Found {
		err = m.patch(img)
	} else {
		err = m.create(img)
	}

	if err != nil {
		return err
	}

	m.state = Patched
	m.log.Info("bgrt patched", "addr", fmt.Sprintf("%#x", m.table.Addr),
		"image", fmt.Sprintf("%#x", img.Addr), "offset_x", acpi.ImageOffsetX(img.Width))

	return nil
}

func (m *Manager) patch(img *bmp.Image) error {
	h, data, err := acpi.ReadTable(m.fw, m.table.Addr)
	if err != nil {
		return fmt.Errorf("read bgrt: %w", err)
	}

	if h.Length < acpi.BGRTSize {
		return fmt.Errorf("bgrt at %#x declares %d bytes: %w", m.table.Addr, h.Length, ErrShortTable)
	}

	b, err := acpi.ParseBGRT(data)
	if err != nil {
		return err
	}

	b.Patch(img.Addr, img.Width)

	out, err := b.ToBytes()
	if err != nil {
		return err
	}

	if _, err := m.fw.WriteAt(out, int64(m.table.Addr)); err != nil {
		return fmt.Errorf("write bgrt: %w", err)
	}

	m.table.Header = b.Header

	return nil
}

func (m *Manager) create(img *bmp.Image) error {
	old := m.walker.XSDT()
	if !old.Aligned() {
		return fmt.Errorf("xsdt at %#x declares %d bytes: %w", m.walker.Addr(), old.Length, ErrUnalignedXSDT)
	}

	if old.Length+acpi.EntrySize > acpi.MaxTableLength {
		return fmt.Errorf("xsdt cannot grow past %d bytes: %w", old.Length, acpi.ErrTableLength)
	}

	b := &acpi.BGRT{Header: acpi.Header{
		OEMId:      old.OEMId,
		OEMTableID: old.OEMTableID,
		OEMRev:     old.OEMRev,
		CreatorID:  old.CreatorID,
		CreatorRev: old.CreatorRev,
	}}
	b.Patch(img.Addr, img.Width)

	table, err := b.ToBytes()
	if err != nil {
		return err
	}

	grown := *old
	grown.Entries = append([]uint64(nil), old.Entries...)

	bgrtAddr, err := m.fw.AllocatePool(firmware.ACPIReclaimMemory, acpi.BGRTSize)
	if err != nil {
		return fmt.Errorf("allocate bgrt: %w", err)
	}

	grown.AddEntry(bgrtAddr)

	xsdtAddr, err := m.fw.AllocatePool(firmware.ACPIReclaimMemory, int(grown.Length))
	if err != nil {
		m.free(bgrtAddr)

		return fmt.Errorf("allocate xsdt: %w", err)
	}

	if err := grown.Checksum(); err != nil {
		m.free(bgrtAddr, xsdtAddr)

		return err
	}

	xsdt, err := grown.ToBytes()
	if err != nil {
		m.free(bgrtAddr, xsdtAddr)

		return err
	}

	if _, err := m.fw.WriteAt(table, int64(bgrtAddr)); err != nil {
		m.free(bgrtAddr, xsdtAddr)

		return fmt.Errorf("write bgrt: %w", err)
	}

	if _, err := m.fw.WriteAt(xsdt, int64(xsdtAddr)); err != nil {
		m.free(bgrtAddr, xsdtAddr)

		return fmt.Errorf("write xsdt: %w", err)
	}

	m.log.Info("bgrt written", "addr", fmt.Sprintf("%#x", bgrtAddr),
		"xsdt", fmt.Sprintf("%#x", xsdtAddr), "entries", len(grown.Entries))

	// The root pointer is the commit point: it is rewritten with a single
	// write once both tables are complete.
	root := *m.root
	if err := root.SetXSDTAddr(xsdtAddr); err != nil {
		m.free(bgrtAddr, xsdtAddr)

		return err
	}

	rp, err := root.Bytes()
	if err != nil {
		m.free(bgrtAddr, xsdtAddr)

		return err
	}

	if _, err := m.fw.WriteAt(rp, int64(m.rootAddr)); err != nil {
		m.free(bgrtAddr, xsdtAddr)

		return fmt.Errorf("commit root pointer: %w", err)
	}

	*m.root = root
	m.table = acpi.Table{Addr: bgrtAddr, Header: b.Header}
	m.state = Created

	return nil
}

func (m *Manager) free(addrs ...uint64) {
	for _, addr := range addrs {
		if err := m.fw.FreePool(addr); err != nil {
			m.log.Warn("free pool", "addr", fmt.Sprintf("%#x", addr), "err", err)
		}
	}
}
