package emulator

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"

	"github.com/bobuhiro11/gobgrt/firmware"
)

// Volume is the simple file system the running image was loaded from.
// Paths use UEFI separators, for example \EFI\BOOT\BOOTX64.EFI.
type Volume interface {
	ReadFile(path string) ([]byte, error)
}

// FSVolume serves files from an fs.FS, typically os.DirFS of an ESP tree.
type FSVolume struct {
	FS fs.FS
}

func NewDirVolume(dir string) *FSVolume {
	return &FSVolume{FS: os.DirFS(dir)}
}

// fsPath maps a UEFI path to an fs.FS path.
func fsPath(path string) string {
	return strings.TrimPrefix(strings.ReplaceAll(path, `\`, "/"), "/")
}

func (v *FSVolume) ReadFile(path string) ([]byte, error) {
	data, err := fs.ReadFile(v.FS, fsPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, firmware.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, firmware.ErrDeviceError)
	}

	return data, nil
}

// FATVolume serves files from a FAT file system inside a disk image.
type FATVolume struct {
	disk *disk.Disk
	fs   filesystem.FileSystem
}

// OpenFAT opens the disk image at path read-only. Partition 0 is a file
// system spanning the whole image; n > 0 selects a partition table entry.
func OpenFAT(path string, partition int) (*FATVolume, error) {
	d, err := diskfs.Open(path, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	fsys, err := d.GetFilesystem(partition)
	if err != nil {
		d.Close()

		return nil, fmt.Errorf("%s partition %d: %w", path, partition, err)
	}

	if fsys.Type() != filesystem.TypeFat32 {
		d.Close()

		return nil, fmt.Errorf("%s partition %d: not a FAT file system: %w", path, partition, firmware.ErrUnsupported)
	}

	return &FATVolume{disk: d, fs: fsys}, nil
}

func (v *FATVolume) ReadFile(path string) ([]byte, error) {
	f, err := v.fs.OpenFile("/"+fsPath(path), os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, firmware.ErrNotFound)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, firmware.ErrDeviceError)
	}

	return data, nil
}

func (v *FATVolume) Close() error {
	return v.disk.Close()
}
