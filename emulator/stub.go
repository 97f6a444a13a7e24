package emulator

import (
	"bytes"
	debugpe "debug/pe"
	"encoding/binary"
)

// StubEntry is the code of a UEFI application entry point that returns
// EFI_SUCCESS.
//
//	sub  $0x28,%rsp
//	xor  %eax,%eax
//	add  $0x28,%rsp
//	ret
var StubEntry = []byte{0x48, 0x83, 0xec, 0x28, 0x31, 0xc0, 0x48, 0x83, 0xc4, 0x28, 0xc3}

const (
	peFileAlign    = 0x200
	peSectionAlign = 0x1000
	peTextRVA      = 0x1000

	imageFileExecutableImage = 0x0002
	imageFileLargeAddress    = 0x0020
	imageScnCode             = 0x00000020
	imageScnExecute          = 0x20000000
	imageScnRead             = 0x40000000
	subsystemEFIApplication  = 10
	peMagic64                = 0x20b
	dosLfanew                = 0x40
)

// BuildPE wraps code in a minimal x86-64 EFI application image with a
// single .text section. The entry point is the first byte of code.
func BuildPE(code []byte) []byte {
	var buf bytes.Buffer

	rawSize := alignTo(len(code), peFileAlign)
	headerSize := peFileAlign

	dos := make([]byte, dosLfanew)
	copy(dos, "MZ")
	binary.LittleEndian.PutUint32(dos[0x3c:], dosLfanew)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	fh := debugpe.FileHeader{
		Machine:              debugpe.IMAGE_FILE_MACHINE_AMD64,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(debugpe.OptionalHeader64{})),
		Characteristics:      imageFileExecutableImage | imageFileLargeAddress,
	}
	binary.Write(&buf, binary.LittleEndian, fh)

	oh := debugpe.OptionalHeader64{
		Magic:               peMagic64,
		SizeOfCode:          uint32(rawSize),
		AddressOfEntryPoint: peTextRVA,
		BaseOfCode:          peTextRVA,
		ImageBase:           0x10000000,
		SectionAlignment:    peSectionAlign,
		FileAlignment:       peFileAlign,
		SizeOfImage:         uint32(peTextRVA + alignTo(len(code), peSectionAlign)),
		SizeOfHeaders:       uint32(headerSize),
		Subsystem:           subsystemEFIApplication,
		SizeOfStackReserve:  0x100000,
		SizeOfStackCommit:   0x1000,
		SizeOfHeapReserve:   0x100000,
		SizeOfHeapCommit:    0x1000,
		NumberOfRvaAndSizes: 16,
	}
	binary.Write(&buf, binary.LittleEndian, oh)

	sh := debugpe.SectionHeader32{
		VirtualSize:      uint32(len(code)),
		VirtualAddress:   peTextRVA,
		SizeOfRawData:    uint32(rawSize),
		PointerToRawData: uint32(headerSize),
		Characteristics:  imageScnCode | imageScnExecute | imageScnRead,
	}
	copy(sh.Name[:], ".text")
	binary.Write(&buf, binary.LittleEndian, sh)

	buf.Write(make([]byte, headerSize-buf.Len()))
	buf.Write(code)
	buf.Write(make([]byte, rawSize-len(code)))

	return buf.Bytes()
}

func alignTo(n, align int) int {
	return (n + align - 1) / align * align
}
