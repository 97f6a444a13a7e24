package acpi

import (
	"io"

	"github.com/bobuhiro11/gobgrt/firmware"
)

// Locate returns the address and content of the ACPI root pointer published
// in tables. The first entry carrying either the ACPI 1.0 or the ACPI 2.0
// vendor GUID wins.
func Locate(tables []firmware.ConfigurationTable, r io.ReaderAt) (uint64, *RootPointer, error) {
	for _, t := range tables {
		if t.VendorGUID != firmware.ACPITableGUID && t.VendorGUID != firmware.ACPI20TableGUID {
			continue
		}

		rp, err := ReadRootPointer(r, t.VendorTable)
		if err != nil {
			return t.VendorTable, nil, err
		}

		return t.VendorTable, rp, nil
	}

	return 0, nil, ErrFirmwareTableNotFound
}
