package acpi

type Signature string

func (s Signature) ToBytes() [4]byte {
	var ret [4]byte

	copy(ret[:], s)

	return ret
}

func (s Signature) Equal(b [4]byte) bool {
	return s.ToBytes() == b
}

// RSDPSignature is the 8-byte tag of the root system description pointer
// (last byte is a space).
const RSDPSignature = "RSD PTR "

const (
	SigAPIC Signature = "APIC"
	SigBGRT Signature = "BGRT"
	SigDSDT Signature = "DSDT"
	SigFACP Signature = "FACP"
	SigHPET Signature = "HPET"
	SigMCFG Signature = "MCFG"
	SigRSDT Signature = "RSDT"
	SigSSDT Signature = "SSDT"
	SigXSDT Signature = "XSDT"
)
