// Package chain hands control to the next-stage boot loader.
package chain

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	efi "github.com/canonical/go-efilib"

	"github.com/bobuhiro11/gobgrt/firmware"
)

var (
	// ErrLoad reports that the firmware refused to load the next stage.
	ErrLoad = errors.New("load next stage")
	// ErrStart reports a start failure that is neither a parameter nor a
	// security error.
	ErrStart = errors.New("start next stage")
)

// Loader loads and starts one image from the volume of the running image.
type Loader struct {
	fw   firmware.Firmware
	log  *slog.Logger
	path string
}

func New(fw firmware.Firmware, log *slog.Logger, path string) *Loader {
	return &Loader{fw: fw, log: log, path: path}
}

// DevicePath returns the full device path of the next stage: the device
// path of the volume the running image was loaded from followed by a file
// path node.
func (l *Loader) DevicePath() (efi.DevicePath, error) {
	device, err := l.fw.LoadedImageDevice(l.fw.ImageHandle())
	if err != nil {
		return nil, fmt.Errorf("loaded image device: %w", err)
	}

	dp, err := l.fw.DevicePath(device)
	if err != nil {
		return nil, fmt.Errorf("device path of handle %d: %w", device, err)
	}

	path := make(efi.DevicePath, 0, len(dp)+1)
	path = append(path, dp...)
	path = append(path, efi.FilePathDevicePathNode(l.path))

	return path, nil
}

// Encode serializes the device path of the next stage, end node included.
func (l *Loader) Encode() ([]byte, error) {
	path, err := l.DevicePath()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := path.Write(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Chainload loads and starts the next stage. On real firmware a successful
// start does not return; nil means the started image exited back.
func (l *Loader) Chainload() error {
	path, err := l.DevicePath()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}

	l.log.Info("loading next stage", "path", path.String())

	h, err := l.fw.LoadImage(l.fw.ImageHandle(), path)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrLoad, l.path, err)
	}

	l.log.Info("starting next stage", "handle", h)

	if err := l.fw.StartImage(h); err != nil {
		return classify(err)
	}

	return nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, firmware.ErrInvalidParameter):
		return fmt.Errorf("start: invalid image handle: %w", err)
	case errors.Is(err, firmware.ErrSecurityViolation):
		return fmt.Errorf("start: security violation: %w", err)
	}

	return fmt.Errorf("%w: %w", ErrStart, err)
}
