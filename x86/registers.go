package x86

import (
	"fmt"

	"github.com/benbjohnson/symx"
	"golang.org/x/arch/x86/x86asm"
)

// RFLAGS bit positions.
const (
	FlagCF = 0
	FlagPF = 2
	FlagAF = 4
	FlagZF = 6
	FlagSF = 7
	FlagDF = 10
	FlagOF = 11
)

// Registers is the AMD64 register table. Parents precede their aliases.
var Registers = buildRegisters()

func buildRegisters() []symx.RegisterSpec {
	var a []symx.RegisterSpec

	// Legacy registers with addressable high bytes.
	for _, c := range []string{"A", "C", "D", "B"} {
		r := "R" + c + "X"
		a = append(a,
			symx.RegisterSpec{Name: r, Width: 64},
			symx.RegisterSpec{Name: "E" + c + "X", Width: 32, Parent: r, Extend: true},
			symx.RegisterSpec{Name: c + "X", Width: 16, Parent: r},
			symx.RegisterSpec{Name: c + "L", Width: 8, Parent: r},
			symx.RegisterSpec{Name: c + "H", Width: 8, Parent: r, Offset: 8},
		)
	}

	for _, n := range []string{"SP", "BP", "SI", "DI"} {
		r := "R" + n
		a = append(a,
			symx.RegisterSpec{Name: r, Width: 64},
			symx.RegisterSpec{Name: "E" + n, Width: 32, Parent: r, Extend: true},
			symx.RegisterSpec{Name: n, Width: 16, Parent: r},
			symx.RegisterSpec{Name: n + "L", Width: 8, Parent: r},
		)
	}

	for i := 8; i < 16; i++ {
		r := fmt.Sprintf("R%d", i)
		a = append(a,
			symx.RegisterSpec{Name: r, Width: 64},
			symx.RegisterSpec{Name: r + "D", Width: 32, Parent: r, Extend: true},
			symx.RegisterSpec{Name: r + "W", Width: 16, Parent: r},
			symx.RegisterSpec{Name: r + "B", Width: 8, Parent: r},
		)
	}

	a = append(a,
		symx.RegisterSpec{Name: "RIP", Width: 64},
		symx.RegisterSpec{Name: "RFLAGS", Width: 64, Reset: 0x2},
		symx.RegisterSpec{Name: "CF", Width: 1, Parent: "RFLAGS", Offset: FlagCF},
		symx.RegisterSpec{Name: "PF", Width: 1, Parent: "RFLAGS", Offset: FlagPF},
		symx.RegisterSpec{Name: "AF", Width: 1, Parent: "RFLAGS", Offset: FlagAF},
		symx.RegisterSpec{Name: "ZF", Width: 1, Parent: "RFLAGS", Offset: FlagZF},
		symx.RegisterSpec{Name: "SF", Width: 1, Parent: "RFLAGS", Offset: FlagSF},
		symx.RegisterSpec{Name: "DF", Width: 1, Parent: "RFLAGS", Offset: FlagDF},
		symx.RegisterSpec{Name: "OF", Width: 1, Parent: "RFLAGS", Offset: FlagOF},
		symx.RegisterSpec{Name: "FS_BASE", Width: 64},
		symx.RegisterSpec{Name: "GS_BASE", Width: 64},
	)

	// Legacy SSE writes preserve the upper half of the YMM register.
	for i := 0; i < 16; i++ {
		ymm := fmt.Sprintf("YMM%d", i)
		a = append(a,
			symx.RegisterSpec{Name: ymm, Width: 256},
			symx.RegisterSpec{Name: fmt.Sprintf("XMM%d", i), Width: 128, Parent: ymm},
		)
	}

	for i := 0; i < 8; i++ {
		a = append(a, symx.RegisterSpec{Name: fmt.Sprintf("MM%d", i), Width: 64})
	}
	return a
}

// GeneralRegisters are the 64-bit integer registers in encoding order.
var GeneralRegisters = []string{
	"RAX", "RCX", "RDX", "RBX", "RSP", "RBP", "RSI", "RDI",
	"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
}

// regNames maps decoder registers to register table names.
var regNames = func() map[x86asm.Reg]string {
	m := make(map[x86asm.Reg]string)
	for r := x86asm.AL; r <= x86asm.R15; r++ {
		m[r] = r.String()
	}
	m[x86asm.SPB], m[x86asm.BPB], m[x86asm.SIB], m[x86asm.DIB] = "SPL", "BPL", "SIL", "DIL"
	for i := 0; i < 8; i++ {
		m[x86asm.R8L+x86asm.Reg(i)] = fmt.Sprintf("R%dD", i+8)
		m[x86asm.M0+x86asm.Reg(i)] = fmt.Sprintf("MM%d", i)
	}
	for i := 0; i < 16; i++ {
		m[x86asm.X0+x86asm.Reg(i)] = fmt.Sprintf("XMM%d", i)
	}
	m[x86asm.RIP] = "RIP"
	return m
}()

// RegisterName returns the register table name of a decoder register.
func RegisterName(r x86asm.Reg) (string, bool) {
	name, ok := regNames[r]
	return name, ok
}
