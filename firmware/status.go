package firmware

import (
	"errors"
	"fmt"
)

// Status is an EFI_STATUS.
type Status uint64

const errorBit Status = 1 << 63

// EFI_STATUS codes used by the boot services in this module.
const (
	Success           Status = 0
	LoadError         Status = errorBit | 1
	InvalidParameter  Status = errorBit | 2
	Unsupported       Status = errorBit | 3
	BufferTooSmall    Status = errorBit | 5
	DeviceError       Status = errorBit | 7
	OutOfResources    Status = errorBit | 9
	VolumeCorrupted   Status = errorBit | 10
	NotFound          Status = errorBit | 14
	Aborted           Status = errorBit | 21
	SecurityViolation Status = errorBit | 26
	CompromisedData   Status = errorBit | 33
)

var (
	ErrLoadError         = errors.New("load error")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrUnsupported       = errors.New("unsupported")
	ErrBufferTooSmall    = errors.New("buffer too small")
	ErrDeviceError       = errors.New("device error")
	ErrOutOfResources    = errors.New("out of resources")
	ErrVolumeCorrupted   = errors.New("volume corrupted")
	ErrNotFound          = errors.New("not found")
	ErrAborted           = errors.New("aborted")
	ErrSecurityViolation = errors.New("security violation")
	ErrCompromisedData   = errors.New("compromised data")
)

var statusErrors = []struct {
	status Status
	err    error
}{
	{LoadError, ErrLoadError},
	{InvalidParameter, ErrInvalidParameter},
	{Unsupported, ErrUnsupported},
	{BufferTooSmall, ErrBufferTooSmall},
	{DeviceError, ErrDeviceError},
	{OutOfResources, ErrOutOfResources},
	{VolumeCorrupted, ErrVolumeCorrupted},
	{NotFound, ErrNotFound},
	{Aborted, ErrAborted},
	{SecurityViolation, ErrSecurityViolation},
	{CompromisedData, ErrCompromisedData},
}

// IsError reports whether the high bit of s is set.
func (s Status) IsError() bool {
	return s&errorBit != 0
}

// Err converts s into nil or one of the sentinel errors above. Codes without a
// sentinel are formatted with their numeric value.
func (s Status) Err() error {
	if s == Success {
		return nil
	}

	for _, e := range statusErrors {
		if e.status == s {
			return e.err
		}
	}

	if !s.IsError() {
		return fmt.Errorf("warning status %#x", uint64(s))
	}

	return fmt.Errorf("error status %#x", uint64(s&^errorBit))
}

func (s Status) String() string {
	if err := s.Err(); err != nil {
		return err.Error()
	}

	return "success"
}

// StatusOf maps err back to the status code it was created from. Errors that
// do not wrap a status sentinel map to Aborted.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}

	for _, e := range statusErrors {
		if errors.Is(err, e.err) {
			return e.status
		}
	}

	return Aborted
}
