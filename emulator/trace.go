package emulator

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Instruction is one decoded instruction of an image entry point.
type Instruction struct {
	PC   uint64 `json:"pc"`
	Asm  string `json:"asm"`
	Size int    `json:"size"`
}

// Asm returns a string with the GNU syntax disassembly of d.
func Asm(d *x86asm.Inst, pc uint64) string {
	return x86asm.GNUSyntax(*d, pc, nil)
}

// trace decodes at most n instructions of code, which starts at pc. It stops
// after the first RET.
func trace(code []byte, pc uint64, n int) ([]Instruction, error) {
	var out []Instruction

	for i := 0; i < n && len(code) > 0; i++ {
		d, err := x86asm.Decode(code, 64)
		if err != nil {
			return out, fmt.Errorf("decode at %#x: %w", pc, err)
		}

		out = append(out, Instruction{PC: pc, Asm: Asm(&d, pc), Size: d.Len})

		if d.Op == x86asm.RET {
			break
		}

		code = code[d.Len:]
		pc += uint64(d.Len)
	}

	return out, nil
}
