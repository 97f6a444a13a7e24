package acpi

import (
	"errors"
	"fmt"

	"github.com/bobuhiro11/gobgrt/firmware"
)

// ErrValidation is wrapped by every error about malformed table content.
var ErrValidation = errors.New("acpi validation failed")

var (
	ErrInvalidRootPointer   = fmt.Errorf("%w: invalid root pointer signature", ErrValidation)
	ErrInvalidExtendedTable = fmt.Errorf("%w: invalid extended table signature", ErrValidation)
	ErrTableLength          = fmt.Errorf("%w: table length out of range", ErrValidation)
	ErrShortBuffer          = fmt.Errorf("%w: buffer shorter than structure", ErrValidation)

	ErrFirmwareTableNotFound = fmt.Errorf("ACPI configuration table: %w", firmware.ErrNotFound)
	ErrMissingExtendedTable  = fmt.Errorf("extended system description table: %w", firmware.ErrNotFound)
)
