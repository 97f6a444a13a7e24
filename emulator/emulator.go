// Package emulator is a host implementation of the firmware boot services.
//
// It lays out ACPI tables in emulated physical memory the way platform
// firmware does at power on, publishes them in a configuration table array,
// serves files from a Volume, and loads and "starts" PE32+ images by
// decoding their entry point.
package emulator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	efi "github.com/canonical/go-efilib"
	"github.com/saferwall/pe"

	"github.com/bobuhiro11/gobgrt/firmware"
	"github.com/bobuhiro11/gobgrt/memory"
)

const (
	imageHandle  firmware.Handle = 1
	deviceHandle firmware.Handle = 2

	poolAlign = 8

	machineAMD64 = 0x8664
)

// VolumeGUID names the firmware volume node of the boot device path.
var VolumeGUID = efi.MakeGUID(0x7cb8bdc9, 0xf8eb, 0x4f34, 0xaaea, [6]uint8{0x3e, 0xe4, 0xaf, 0x65, 0x16, 0xa1})

var errNoEntryPoint = errors.New("entry point outside of any section")

type Options struct {
	// Memory backs physical memory. When nil, anonymous memory of
	// Platform.MemorySize bytes is used and released by Close.
	Memory *memory.Memory
	Volume Volume
	Log    *slog.Logger
}

type loadedImage struct {
	path  string
	entry uint64
	code  []byte
}

// Firmware implements firmware.Firmware on emulated memory.
type Firmware struct {
	platform Platform
	mem      *memory.Memory
	ownsMem  bool
	pool     *memory.AddressSpace
	poolType map[uint64]firmware.MemoryType
	volume   Volume
	log      *slog.Logger
	tables   []firmware.ConfigurationTable
	images   map[firmware.Handle]*loadedImage
	next     firmware.Handle
	started  []StartedImage
}

var _ firmware.Firmware = (*Firmware)(nil)

// New powers on the platform. If the memory already holds a root pointer at
// the fixed address, as a persisted memory image does, the tables found
// there are kept and the pool space they use is reserved.
func New(p Platform, opts Options) (*Firmware, error) {
	p.normalize()

	if err := p.validate(); err != nil {
		return nil, err
	}

	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	f := &Firmware{
		platform: p,
		mem:      opts.Memory,
		poolType: make(map[uint64]firmware.MemoryType),
		volume:   opts.Volume,
		log:      opts.Log,
		images:   make(map[firmware.Handle]*loadedImage),
		next:     deviceHandle + 1,
	}

	if f.mem == nil {
		mem, err := memory.New(p.MemorySize)
		if err != nil {
			return nil, err
		}

		f.mem, f.ownsMem = mem, true
	}

	if f.mem.Size() < poolBase+p.PoolSize {
		f.Close()

		return nil, fmt.Errorf("memory of %#x bytes cannot hold a pool of %#x bytes at %#x", f.mem.Size(), p.PoolSize, poolBase)
	}

	f.pool = memory.NewAddressSpace("pool", poolBase, uint64(p.PoolSize))

	if installed(f.mem) {
		f.log.Info("reusing firmware tables in memory", "rsdp", fmt.Sprintf("%#x", rsdpAddr))
		reserveExisting(f.mem, f.pool, f.log)
	} else if err := p.install(f.mem); err != nil {
		f.Close()

		return nil, fmt.Errorf("install firmware tables: %w", err)
	}

	if err := f.publish(); err != nil {
		f.Close()

		return nil, err
	}

	return f, nil
}

func (f *Firmware) publish() error {
	smbios := map[string]string{
		PublishSMBIOS:  "_SM_",
		PublishSMBIOS3: "_SM3_",
	}

	for _, name := range f.platform.Publish {
		t := firmware.ConfigurationTable{VendorTable: rsdpAddr}

		switch name {
		case PublishACPI:
			t.VendorGUID = firmware.ACPITableGUID
		case PublishACPI20:
			t.VendorGUID = firmware.ACPI20TableGUID
		case PublishSMBIOS:
			t.VendorGUID, t.VendorTable = firmware.SMBIOSTableGUID, smbiosAddr
		case PublishSMBIOS3:
			t.VendorGUID, t.VendorTable = firmware.SMBIOS3TableGUID, smbiosAddr
		}

		if anchor, ok := smbios[name]; ok {
			if _, err := f.mem.WriteAt([]byte(anchor), smbiosAddr); err != nil {
				return fmt.Errorf("publish %s: %w", name, err)
			}
		}

		f.tables = append(f.tables, t)
	}

	return nil
}

func (f *Firmware) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.mem.ReadAt(p, off)
	if err != nil {
		return n, fmt.Errorf("%v: %w", err, firmware.ErrInvalidParameter)
	}

	return n, nil
}

func (f *Firmware) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.mem.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("%v: %w", err, firmware.ErrInvalidParameter)
	}

	return n, nil
}

func (f *Firmware) ConfigurationTables() ([]firmware.ConfigurationTable, error) {
	return append([]firmware.ConfigurationTable(nil), f.tables...), nil
}

func (f *Firmware) AllocatePool(t firmware.MemoryType, size int) (uint64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("allocate %d bytes: %w", size, firmware.ErrInvalidParameter)
	}

	region, err := f.pool.Allocate(fmt.Sprintf("pool-%d", t), uint64(size), poolAlign)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, firmware.ErrOutOfResources)
	}

	f.poolType[region.Start] = t
	f.log.Debug("allocate pool", "type", t, "addr", fmt.Sprintf("%#x", region.Start), "size", size)

	return region.Start, nil
}

func (f *Firmware) FreePool(addr uint64) error {
	if err := f.pool.Release(addr); err != nil {
		return fmt.Errorf("%v: %w", err, firmware.ErrInvalidParameter)
	}

	delete(f.poolType, addr)
	f.log.Debug("free pool", "addr", fmt.Sprintf("%#x", addr))

	return nil
}

func (f *Firmware) ImageHandle() firmware.Handle {
	return imageHandle
}

func (f *Firmware) LoadedImageDevice(image firmware.Handle) (firmware.Handle, error) {
	if image != imageHandle && f.images[image] == nil {
		return 0, fmt.Errorf("image handle %d: %w", image, firmware.ErrInvalidParameter)
	}

	return deviceHandle, nil
}

func (f *Firmware) DevicePath(device firmware.Handle) (efi.DevicePath, error) {
	if device != deviceHandle {
		return nil, fmt.Errorf("device handle %d: %w", device, firmware.ErrUnsupported)
	}

	return efi.DevicePath{efi.MediaFvDevicePathNode(VolumeGUID)}, nil
}

func (f *Firmware) ReadFile(device firmware.Handle, path string) ([]byte, error) {
	if device != deviceHandle || f.volume == nil {
		return nil, fmt.Errorf("device handle %d: %w", device, firmware.ErrUnsupported)
	}

	return f.volume.ReadFile(path)
}

// LoadImage resolves the file path node of path on the boot volume and
// checks that it is an x86-64 PE image. With secure boot enabled, unsigned
// images are refused.
func (f *Firmware) LoadImage(parent firmware.Handle, path efi.DevicePath) (firmware.Handle, error) {
	if parent != imageHandle && f.images[parent] == nil {
		return 0, fmt.Errorf("parent handle %d: %w", parent, firmware.ErrInvalidParameter)
	}

	file, err := f.resolve(path)
	if err != nil {
		return 0, err
	}

	data, err := f.ReadFile(deviceHandle, file)
	if err != nil {
		return 0, err
	}

	img, err := parseImage(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %v: %w", file, err, firmware.ErrLoadError)
	}

	if f.platform.SecureBoot && !img.signed {
		return 0, fmt.Errorf("%s is not signed: %w", file, firmware.ErrSecurityViolation)
	}

	h := f.next
	f.next++
	f.images[h] = &loadedImage{path: file, entry: img.entry, code: img.code}

	f.log.Info("image loaded", "handle", h, "path", file, "entry", fmt.Sprintf("%#x", img.entry))

	return h, nil
}

// resolve returns the file named by a device path that starts with the boot
// device path and ends with file path nodes.
func (f *Firmware) resolve(path efi.DevicePath) (string, error) {
	device, _ := f.DevicePath(deviceHandle)
	if len(path) <= len(device) {
		return "", fmt.Errorf("%s: no file path: %w", path, firmware.ErrNotFound)
	}

	var prefix, file bytes.Buffer

	if err := device.Write(&prefix); err != nil {
		return "", err
	}

	if err := efi.DevicePath(path[:len(device)]).Write(&file); err != nil {
		return "", fmt.Errorf("%v: %w", err, firmware.ErrInvalidParameter)
	}

	if !bytes.Equal(prefix.Bytes(), file.Bytes()) {
		return "", fmt.Errorf("%s is not on the boot device: %w", path, firmware.ErrNotFound)
	}

	var name string

	for _, node := range path[len(device):] {
		fp, ok := node.(efi.FilePathDevicePathNode)
		if !ok {
			return "", fmt.Errorf("%s: unexpected node %s: %w", path, node, firmware.ErrInvalidParameter)
		}

		name += string(fp)
	}

	return name, nil
}

type image struct {
	entry  uint64
	code   []byte
	signed bool
}

func parseImage(data []byte) (*image, error) {
	f, err := pe.NewBytes(data, &pe.Options{})
	if err != nil {
		return nil, err
	}

	if err := f.Parse(); err != nil {
		return nil, err
	}

	if uint16(f.NtHeader.FileHeader.Machine) != machineAMD64 {
		return nil, fmt.Errorf("machine %#x is not x86-64", uint16(f.NtHeader.FileHeader.Machine))
	}

	var entry, base uint64

	switch oh := f.NtHeader.OptionalHeader.(type) {
	case pe.ImageOptionalHeader64:
		entry, base = uint64(oh.AddressOfEntryPoint), oh.ImageBase
	default:
		return nil, fmt.Errorf("optional header %T is not PE32+", oh)
	}

	for _, s := range f.Sections {
		h := s.Header
		if entry < uint64(h.VirtualAddress) || entry >= uint64(h.VirtualAddress)+uint64(h.VirtualSize) {
			continue
		}

		start := uint64(h.PointerToRawData) + entry - uint64(h.VirtualAddress)
		end := uint64(h.PointerToRawData) + uint64(h.SizeOfRawData)

		if end > uint64(len(data)) || start >= end {
			return nil, errNoEntryPoint
		}

		return &image{entry: base + entry, code: data[start:end], signed: f.HasCertificate}, nil
	}

	return nil, errNoEntryPoint
}

// StartedImage records an image handed control.
type StartedImage struct {
	Path  string        `json:"path"`
	Entry uint64        `json:"entry"`
	Trace []Instruction `json:"trace"`
}

// StartImage decodes the entry point of a loaded image. Execution is
// considered to return EFI_SUCCESS.
func (f *Firmware) StartImage(h firmware.Handle) error {
	img := f.images[h]
	if img == nil {
		return fmt.Errorf("image handle %d: %w", h, firmware.ErrInvalidParameter)
	}

	insts, err := trace(img.code, img.entry, f.platform.Trace)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", img.path, err, firmware.ErrLoadError)
	}

	for _, in := range insts {
		f.log.Debug("entry", "pc", fmt.Sprintf("%#x", in.PC), "asm", in.Asm)
	}

	f.started = append(f.started, StartedImage{Path: img.path, Entry: img.entry, Trace: insts})
	f.log.Info("image started", "handle", h, "path", img.path)

	return nil
}

// Started returns the images started so far.
func (f *Firmware) Started() []StartedImage {
	return f.started
}

// Memory exposes the emulated physical memory.
func (f *Firmware) Memory() *memory.Memory {
	return f.mem
}

func (f *Firmware) Close() error {
	if !f.ownsMem || f.mem == nil {
		return nil
	}

	err := f.mem.Close()
	f.mem = nil

	return err
}
