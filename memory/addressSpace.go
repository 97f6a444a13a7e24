package memory

import (
	"errors"
	"fmt"
	"sort"
)

var (
	errAddrSpaceOccupied = errors.New("address space occupied")
	errAddrSpaceFull     = errors.New("address space exhausted")
	errAddrNotAllocated  = errors.New("address not allocated")
)

// AddressSpace is a range [Start, Start+Size) carved into named,
// non-overlapping sub-ranges.
type AddressSpace struct {
	Name      string
	Start     uint64
	Size      uint64
	Addresses []*AddressSpace
}

func NewAddressSpace(name string, start uint64, size uint64) *AddressSpace {
	return &AddressSpace{
		Name:  name,
		Start: start,
		Size:  size,
	}
}

func (a *AddressSpace) End() uint64 {
	return a.Start + a.Size
}

// AddAddress reserves addr, which must lie inside a and overlap nothing
// reserved before.
func (a *AddressSpace) AddAddress(addr *AddressSpace) error {
	if !a.InRange(addr) || !a.IsFree(addr) {
		return fmt.Errorf("%s [%#x, %#x): %w", addr.Name, addr.Start, addr.End(), errAddrSpaceOccupied)
	}

	a.Addresses = append(a.Addresses, addr)
	sort.Slice(a.Addresses, func(i, j int) bool {
		return a.Addresses[i].Start < a.Addresses[j].Start
	})

	return nil
}

func (a *AddressSpace) InRange(addr *AddressSpace) bool {
	return addr.Start >= a.Start && addr.End() <= a.End() && addr.End() >= addr.Start
}

func (a *AddressSpace) overlaps(b *AddressSpace) bool {
	return a.Start < b.End() && b.Start < a.End()
}

func (a *AddressSpace) IsFree(ad *AddressSpace) bool {
	for _, addr := range a.Addresses {
		if addr.overlaps(ad) {
			return false
		}
	}

	return true
}

// Allocate reserves the first gap of size bytes whose start is a multiple
// of align.
func (a *AddressSpace) Allocate(name string, size, align uint64) (*AddressSpace, error) {
	if align == 0 {
		align = 1
	}

	cur := alignUp(a.Start, align)

	for _, used := range a.Addresses {
		if cur+size <= used.Start {
			break
		}

		if used.End() > cur {
			cur = alignUp(used.End(), align)
		}
	}

	addr := NewAddressSpace(name, cur, size)
	if size == 0 || !a.InRange(addr) {
		return nil, fmt.Errorf("%s: %d bytes: %w", a.Name, size, errAddrSpaceFull)
	}

	if err := a.AddAddress(addr); err != nil {
		return nil, err
	}

	return addr, nil
}

// Release drops the sub-range starting at start.
func (a *AddressSpace) Release(start uint64) error {
	for i, addr := range a.Addresses {
		if addr.Start == start {
			a.Addresses = append(a.Addresses[:i], a.Addresses[i+1:]...)

			return nil
		}
	}

	return fmt.Errorf("%#x: %w", start, errAddrNotAllocated)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}
