// Package memory provides the physical memory of the emulated platform.
package memory

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

var (
	errSlotNotFound = errors.New("unable to find MemorySlot")
	errSlotOverlap  = errors.New("memory slot overlaps an existing slot")
)

type Memory struct {
	Slots []*MemorySlot
	AS    *AddressSpace
}

// MemorySlot is a contiguous range of guest physical memory backed by a
// mapping, either anonymous or of a memory image file.
type MemorySlot struct {
	Addr uint64
	Size int
	Buf  mmap.MMap
	file *os.File
}

// New returns size bytes of anonymous memory starting at physical address 0.
func New(size int) (*Memory, error) {
	m := &Memory{AS: NewAddressSpace("phys-ram", 0, uint64(size))}

	if err := m.NewMemorySlot(0, size, nil); err != nil {
		return nil, err
	}

	return m, nil
}

// Open maps the memory image at path as physical memory starting at 0. The
// file is created, or grown, to size bytes; writes reach the file on Flush
// and Close.
func Open(path string, size int) (*Memory, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, err
	}

	if st.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()

			return nil, err
		}
	}

	m := &Memory{AS: NewAddressSpace("phys-ram", 0, uint64(size))}

	if err := m.NewMemorySlot(0, size, f); err != nil {
		f.Close()

		return nil, err
	}

	return m, nil
}

// NewMemorySlot maps size bytes at addr. A nil file gives anonymous memory.
func (m *Memory) NewMemorySlot(addr uint64, size int, f *os.File) error {
	for _, s := range m.Slots {
		if addr < s.Addr+uint64(s.Size) && s.Addr < addr+uint64(size) {
			return fmt.Errorf("[%#x, %#x): %w", addr, addr+uint64(size), errSlotOverlap)
		}
	}

	var (
		buf mmap.MMap
		err error
	)

	if f == nil {
		buf, err = mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	} else {
		buf, err = mmap.MapRegion(f, size, mmap.RDWR, 0, 0)
	}

	if err != nil {
		return fmt.Errorf("map %d bytes at %#x: %w", size, addr, err)
	}

	m.Slots = append(m.Slots, &MemorySlot{
		Addr: addr,
		Size: size,
		Buf:  buf,
		file: f,
	})

	return nil
}

// FindSlot returns the slot holding [addr, addr+size).
func (m *Memory) FindSlot(addr uint64, size int) (*MemorySlot, error) {
	for _, slot := range m.Slots {
		if addr >= slot.Addr && addr+uint64(size) <= slot.Addr+uint64(slot.Size) && addr+uint64(size) >= addr {
			return slot, nil
		}
	}

	return nil, fmt.Errorf("[%#x, %#x): %w", addr, addr+uint64(size), errSlotNotFound)
}

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, io.EOF
	}

	slot, err := m.FindSlot(uint64(off), len(p))
	if err != nil {
		return 0, err
	}

	return copy(p, slot.Buf[uint64(off)-slot.Addr:]), nil
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, io.ErrShortWrite
	}

	slot, err := m.FindSlot(uint64(off), len(p))
	if err != nil {
		return 0, err
	}

	return copy(slot.Buf[uint64(off)-slot.Addr:], p), nil
}

// Size is the total amount of mapped memory.
func (m *Memory) Size() int {
	n := 0

	for _, s := range m.Slots {
		n += s.Size
	}

	return n
}

func (m *Memory) Flush() error {
	for _, s := range m.Slots {
		if s.file == nil {
			continue
		}

		if err := s.Buf.Flush(); err != nil {
			return err
		}
	}

	return nil
}

func (m *Memory) Close() error {
	var errs []error

	for _, s := range m.Slots {
		if s.file != nil {
			errs = append(errs, s.Buf.Flush())
		}

		errs = append(errs, s.Buf.Unmap())

		if s.file != nil {
			errs = append(errs, s.file.Close())
		}
	}

	m.Slots = nil

	return errors.Join(errs...)
}
