// Package firmware describes the boot services the BGRT pipeline consumes.
//
// Every component receives a Firmware explicitly instead of reaching for
// global system table state, so the same code runs against real firmware and
// against the host emulator.
package firmware

import (
	"io"

	efi "github.com/canonical/go-efilib"
)

// Handle is an opaque EFI_HANDLE.
type Handle uint64

// MemoryType is an EFI_MEMORY_TYPE.
type MemoryType uint32

// EFI_MEMORY_TYPE
const (
	ReservedMemoryType MemoryType = iota
	LoaderCode
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	ConventionalMemory
	UnusableMemory
	ACPIReclaimMemory
	ACPIMemoryNVS
	MemoryMappedIO
	MemoryMappedIOPortSpace
	PalCode
	PersistentMemory
)

// ConfigurationTable is one entry of the EFI Configuration Table array.
type ConfigurationTable struct {
	VendorGUID  efi.GUID
	VendorTable uint64
}

// Firmware is the set of boot services used at boot time.
//
// ReadAt and WriteAt address physical memory: off is a physical address.
// Implementations must fail accesses outside of memory they know about
// rather than return partial data.
type Firmware interface {
	io.ReaderAt
	io.WriterAt

	// ConfigurationTables returns the vendor tables published in the
	// system table.
	ConfigurationTables() ([]ConfigurationTable, error)

	// AllocatePool returns the physical address of size bytes of pool
	// memory. It fails with ErrOutOfResources.
	AllocatePool(t MemoryType, size int) (uint64, error)
	FreePool(addr uint64) error

	// ImageHandle is the handle of the running image.
	ImageHandle() Handle

	// LoadedImageDevice returns the device handle image was loaded from.
	LoadedImageDevice(image Handle) (Handle, error)

	// DevicePath returns the device path installed on device.
	DevicePath(device Handle) (efi.DevicePath, error)

	// ReadFile reads a whole file from the simple file system of device.
	// A missing file is reported with ErrNotFound.
	ReadFile(device Handle, path string) ([]byte, error)

	LoadImage(parent Handle, path efi.DevicePath) (Handle, error)
	StartImage(image Handle) error
}
