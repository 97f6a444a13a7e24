package firmware

import (
	efi "github.com/canonical/go-efilib"
)

// Vendor GUIDs of the configuration tables that publish the ACPI RSDP.
var (
	ACPITableGUID   = efi.MakeGUID(0xeb9d2d30, 0x2d88, 0x11d3, 0x9a16, [6]uint8{0x00, 0x90, 0x27, 0x3f, 0xc1, 0x4d})
	ACPI20TableGUID = efi.MakeGUID(0x8868e871, 0xe4f1, 0x11d3, 0xbc22, [6]uint8{0x00, 0x80, 0xc7, 0x3c, 0x88, 0x81})
)

// Other vendor GUIDs firmware commonly publishes next to ACPI.
var (
	SMBIOSTableGUID  = efi.MakeGUID(0xeb9d2d31, 0x2d88, 0x11d3, 0x9a16, [6]uint8{0x00, 0x90, 0x27, 0x3f, 0xc1, 0x4d})
	SMBIOS3TableGUID = efi.MakeGUID(0xf2fd1544, 0x9794, 0x4a2c, 0x992e, [6]uint8{0xe5, 0xbb, 0xcf, 0x20, 0xe3, 0x94})
)
