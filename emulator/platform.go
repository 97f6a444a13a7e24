package emulator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bobuhiro11/gobgrt/acpi"
)

// Emulated physical memory layout.
//
//	0x00000000 +------------------+
//	           |                  |
//	0x000e0000 +------------------+ RSDP
//	           |                  |
//	0x000f0000 +------------------+ SMBIOS entry point (published, empty)
//	           |                  |
//	0x00100000 +------------------+ firmware ACPI tables (RSDT, XSDT, sub-tables)
//	           |                  |
//	0x00400000 +------------------+ pool
//	           |                  |
//	           +------------------+ MemorySize
const (
	rsdpAddr   = 0xe0000
	smbiosAddr = 0xf0000
	tablesBase = 0x100000
	poolBase   = 0x400000

	defaultMemorySize = 16 << 20
	defaultTrace      = 8
)

// Names accepted in Platform.Publish.
const (
	PublishACPI    = "acpi"
	PublishACPI20  = "acpi20"
	PublishSMBIOS  = "smbios"
	PublishSMBIOS3 = "smbios3"
)

// Platform describes the emulated machine.
type Platform struct {
	MemorySize int `yaml:"memory_size"`
	// PoolSize limits pool allocations. Zero means all memory above the
	// pool base.
	PoolSize int `yaml:"pool_size"`

	RSDPRevision  uint8  `yaml:"rsdp_revision"`
	OEMID         string `yaml:"oem_id"`
	OEMTableID    string `yaml:"oem_table_id"`
	XSDTSignature string `yaml:"xsdt_signature"`
	// XSDTPadding appends bytes to the XSDT that do not form a whole entry.
	XSDTPadding int `yaml:"xsdt_padding"`

	// Publish lists the configuration tables in system table order.
	Publish []string    `yaml:"publish"`
	Tables  []TableSpec `yaml:"tables"`

	SecureBoot bool `yaml:"secure_boot"`
	// Trace is the number of instructions decoded at the entry point of a
	// started image.
	Trace int `yaml:"trace"`
}

// TableSpec is a firmware table installed at power on. A BGRT spec gets a
// well-formed boot graphics table; any other signature an opaque body.
type TableSpec struct {
	Signature string `yaml:"signature"`
	Length    int    `yaml:"length"`
	Revision  uint8  `yaml:"revision"`
}

func DefaultPlatform() Platform {
	return Platform{
		MemorySize:   defaultMemorySize,
		RSDPRevision: 2,
		OEMID:        "GOBGRT",
		OEMTableID:   "EMULATOR",
		Publish:      []string{PublishSMBIOS3, PublishACPI20, PublishACPI},
		Tables: []TableSpec{
			{Signature: string(acpi.SigFACP), Length: 276, Revision: 6},
			{Signature: string(acpi.SigAPIC), Length: 120, Revision: 5},
			{Signature: string(acpi.SigHPET), Length: 56, Revision: 1},
		},
		Trace: defaultTrace,
	}
}

// LoadPlatform reads a YAML platform description. Fields left out keep the
// values of DefaultPlatform.
func LoadPlatform(path string) (Platform, error) {
	p := DefaultPlatform()

	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}

	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse %s: %w", path, err)
	}

	return p, p.validate()
}

func (p *Platform) normalize() {
	d := DefaultPlatform()

	if p.MemorySize == 0 {
		p.MemorySize = d.MemorySize
	}

	if p.PoolSize == 0 {
		p.PoolSize = p.MemorySize - poolBase
	}

	if p.OEMID == "" {
		p.OEMID = d.OEMID
	}

	if p.OEMTableID == "" {
		p.OEMTableID = d.OEMTableID
	}

	if p.XSDTSignature == "" {
		p.XSDTSignature = string(acpi.SigXSDT)
	}

	if p.Publish == nil {
		p.Publish = d.Publish
	}

	if p.Trace == 0 {
		p.Trace = d.Trace
	}
}

func (p *Platform) validate() error {
	if p.MemorySize != 0 && p.MemorySize <= poolBase {
		return fmt.Errorf("memory size %#x leaves no room above the pool base %#x", p.MemorySize, poolBase)
	}

	if p.MemorySize != 0 && p.PoolSize > p.MemorySize-poolBase {
		return fmt.Errorf("pool size %#x exceeds memory", p.PoolSize)
	}

	if p.XSDTPadding < 0 || p.XSDTPadding >= 8 {
		return fmt.Errorf("xsdt padding %d is not in [0, 8)", p.XSDTPadding)
	}

	if len(p.XSDTSignature) > 4 {
		return fmt.Errorf("xsdt signature %q longer than 4 bytes", p.XSDTSignature)
	}

	for _, name := range p.Publish {
		switch name {
		case PublishACPI, PublishACPI20, PublishSMBIOS, PublishSMBIOS3:
		default:
			return fmt.Errorf("unknown configuration table %q", name)
		}
	}

	for _, t := range p.Tables {
		if len(t.Signature) != 4 {
			return fmt.Errorf("table signature %q is not 4 bytes", t.Signature)
		}

		if t.Length != 0 && t.Length < acpi.HeaderSize {
			return fmt.Errorf("table %s: length %d shorter than its header", t.Signature, t.Length)
		}
	}

	return nil
}
