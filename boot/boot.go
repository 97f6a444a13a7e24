// Package boot runs the boot-time pipeline: find the ACPI tables, make the
// BGRT describe the splash bitmap, then chainload the next stage.
package boot

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bobuhiro11/gobgrt/acpi"
	"github.com/bobuhiro11/gobgrt/bgrt"
	"github.com/bobuhiro11/gobgrt/bmp"
	"github.com/bobuhiro11/gobgrt/chain"
	"github.com/bobuhiro11/gobgrt/firmware"
)

const (
	// AssetPath is the splash bitmap on the volume of the running image.
	AssetPath = `\EFI\ACPIBGRT\bg.bmp`
	// NextStagePath is the boot manager started once the BGRT is in place.
	NextStagePath = `\EFI\Microsoft\Boot\bootmgfw.efi`
)

type Boot struct {
	fw  firmware.Firmware
	log *slog.Logger

	RootAddr uint64
	Root     *acpi.RootPointer
	Walker   *acpi.Walker
	Manager  *bgrt.Manager
	Image    *bmp.Image
}

func New(fw firmware.Firmware, log *slog.Logger) *Boot {
	return &Boot{fw: fw, log: log}
}

// Init locates the root pointer and the extended table and looks up the
// BGRT. Nothing is written.
func (b *Boot) Init() error {
	tables, err := b.fw.ConfigurationTables()
	if err != nil {
		return fmt.Errorf("configuration tables: %w", err)
	}

	addr, root, err := acpi.Locate(tables, b.fw)
	if err != nil {
		return fmt.Errorf("locate rsdp: %w", err)
	}

	b.log.Info("rsdp loaded", "addr", fmt.Sprintf("%#x", addr), "revision", root.Revision)

	w, err := acpi.NewWalker(b.fw, b.log, root)
	if err != nil {
		return fmt.Errorf("xsdt: %w", err)
	}

	b.RootAddr, b.Root, b.Walker = addr, root, w
	b.Manager = bgrt.New(b.fw, b.log, addr, root, w)
	b.Manager.Find()

	return nil
}

// Setup loads the bitmap and installs the BGRT. A missing bitmap stops the
// run before any table is touched.
func (b *Boot) Setup() error {
	device, err := b.fw.LoadedImageDevice(b.fw.ImageHandle())
	if err != nil {
		return fmt.Errorf("loaded image device: %w", err)
	}

	img, err := bmp.Load(b.fw, b.log, device, AssetPath)
	if err != nil {
		return fmt.Errorf("load bitmap: %w", err)
	}

	b.Image = img

	if err := b.Manager.Install(img); err != nil {
		return fmt.Errorf("install bgrt: %w", err)
	}

	return nil
}

func (b *Boot) Chainload() error {
	return chain.New(b.fw, b.log, NextStagePath).Chainload()
}

// Run is the whole pipeline. Every failure is logged; any failure before the
// chainload ends the run without starting the next stage.
func (b *Boot) Run() error {
	for _, step := range []struct {
		name string
		fn   func() error
	}{
		{"init", b.Init},
		{"setup", b.Setup},
		{"chainload", b.Chainload},
	} {
		if err := step.fn(); err != nil {
			b.log.Error(step.name+" failed", "err", err, "status", ExitStatus(err))

			return err
		}
	}

	return nil
}

// ExitStatus is the status returned to firmware for a run that ended with
// err. Only a run without error reports success.
func ExitStatus(err error) firmware.Status {
	switch {
	case err == nil:
		return firmware.Success
	case errors.Is(err, acpi.ErrValidation):
		return firmware.CompromisedData
	}

	if s := firmware.StatusOf(err); s != firmware.Aborted || errors.Is(err, firmware.ErrAborted) {
		return s
	}

	if errors.Is(err, chain.ErrLoad) {
		return firmware.LoadError
	}

	return firmware.Aborted
}
