package emulator_test

import (
	"bytes"
	debugpe "debug/pe"
	"testing"

	"github.com/bobuhiro11/gobgrt/emulator"
)

func TestBuildPE(t *testing.T) {
	t.Parallel()

	f, err := debugpe.NewFile(bytes.NewReader(emulator.BuildPE(emulator.StubEntry)))
	if err != nil {
		t.Fatal(err)
	}

	if f.Machine != debugpe.IMAGE_FILE_MACHINE_AMD64 {
		t.Fatalf("machine %#x", f.Machine)
	}

	oh, ok := f.OptionalHeader.(*debugpe.OptionalHeader64)
	if !ok {
		t.Fatalf("optional header %T", f.OptionalHeader)
	}

	text := f.Section(".text")
	if text == nil || oh.AddressOfEntryPoint != text.VirtualAddress {
		t.Fatalf("entry %#x, text %+v", oh.AddressOfEntryPoint, text)
	}

	code, err := text.Data()
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.HasPrefix(code, emulator.StubEntry) {
		t.Fatalf("code % x", code[:len(emulator.StubEntry)])
	}
}
