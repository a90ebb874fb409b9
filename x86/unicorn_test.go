//go:build unicorn

package x86_test

import (
	"context"
	"testing"

	"github.com/benbjohnson/symx"
	"github.com/benbjohnson/symx/x86"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

var unicornRegisters = map[string]int{
	"RAX": uc.X86_REG_RAX,
	"RBX": uc.X86_REG_RBX,
	"RCX": uc.X86_REG_RCX,
	"RDX": uc.X86_REG_RDX,
	"RSI": uc.X86_REG_RSI,
	"RDI": uc.X86_REG_RDI,
	"RSP": uc.X86_REG_RSP,
	"RBP": uc.X86_REG_RBP,
	"R8":  uc.X86_REG_R8,
	"R9":  uc.X86_REG_R9,
	"R10": uc.X86_REG_R10,
	"R11": uc.X86_REG_R11,
	"R12": uc.X86_REG_R12,
	"R13": uc.X86_REG_R13,
	"R14": uc.X86_REG_R14,
	"R15": uc.X86_REG_R15,
	"RIP": uc.X86_REG_RIP,
}

// Flags compared against the emulator. AF is undefined for most logic ops.
var unicornFlags = []struct {
	name string
	bit  uint
}{
	{"CF", x86.FlagCF},
	{"PF", x86.FlagPF},
	{"ZF", x86.FlagZF},
	{"SF", x86.FlagSF},
	{"OF", x86.FlagOF},
}

// TestCPU_Unicorn executes single instructions on both the CPU and the
// unicorn emulator and compares the general purpose registers & flags.
func TestCPU_Unicorn(t *testing.T) {
	inputs := []map[string]uint64{
		{"RAX": 0, "RBX": 0, "RCX": 0},
		{"RAX": 1, "RBX": 2, "RCX": 3},
		{"RAX": 0xffffffffffffffff, "RBX": 1, "RCX": 63},
		{"RAX": 0x7fffffffffffffff, "RBX": 0x8000000000000000, "RCX": 1},
		{"RAX": 0x80, "RBX": 0x7f, "RCX": 7},
		{"RAX": 0x1122334455667788, "RBX": 0x8877665544332211, "RCX": 0x41},
	}

	for _, tt := range []struct {
		name  string
		code  string
		shift bool
	}{
		{"ADD", "48 01 d8", false},
		{"ADD8", "00 d8", false},
		{"ADC", "48 11 d8", false},
		{"SUB", "48 29 d8", false},
		{"SUB32", "29 d8", false},
		{"SBB", "48 19 d8", false},
		{"CMP", "48 39 d8", false},
		{"AND", "48 21 d8", false},
		{"OR", "48 09 d8", false},
		{"XOR", "48 31 d8", false},
		{"TEST", "48 85 d8", false},
		{"INC", "48 ff c0", false},
		{"DEC", "48 ff c8", false},
		{"NEG", "48 f7 d8", false},
		{"NOT", "48 f7 d0", false},
		{"SHL", "48 d3 e0", true},
		{"SHR", "48 d3 e8", true},
		{"SAR", "48 d3 f8", true},
		{"ROL", "48 d3 c0", true},
		{"ROR", "48 d3 c8", true},
		{"MOVZX", "48 0f b6 c3", false},
		{"MOVSX", "48 0f bf c3", false},
		{"BSWAP", "48 0f c8", false},
		{"CQO", "48 99", false},
		{"XCHG", "48 93", false},
		{"CMOVB", "48 0f 42 c3", false},
		{"SETL", "0f 9c c0", false},
	} {
		for _, regs := range inputs {
			for _, cf := range []uint64{0, 1} {
				regs := copyRegs(regs)
				regs["RFLAGS"] = 0x2 | cf
				t.Run(tt.name, func(t *testing.T) {
					testUnicorn(t, tt.code, regs, tt.shift)
				})
			}
		}
	}
}

func copyRegs(m map[string]uint64) map[string]uint64 {
	other := make(map[string]uint64, len(m))
	for k, v := range m {
		other[k] = v
	}
	return other
}

// testUnicorn compares a single step against the emulator. OF is undefined
// for multi-bit shifts and is skipped when shift is set.
func testUnicorn(t *testing.T, code string, regs map[string]uint64, shift bool) {
	t.Helper()
	p := mustDecodeHex(t, code)

	mu, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_64)
	if err != nil {
		t.Fatal(err)
	}
	defer mu.Close()

	if err := mu.MemMap(codeAddr, symx.PageSize); err != nil {
		t.Fatal(err)
	} else if err := mu.MemProtect(codeAddr, symx.PageSize, uc.PROT_ALL); err != nil {
		t.Fatal(err)
	} else if err := mu.MemWrite(codeAddr, p); err != nil {
		t.Fatal(err)
	}

	cpu := newTestCPU(t, code)
	for name, v := range regs {
		if err := cpu.SetUint64(name, v); err != nil {
			t.Fatal(err)
		}
		reg := uc.X86_REG_EFLAGS
		if name != "RFLAGS" {
			reg = unicornRegisters[name]
		}
		if err := mu.RegWrite(reg, v); err != nil {
			t.Fatal(err)
		}
	}

	if err := mu.Start(codeAddr, codeAddr+uint64(len(p))); err != nil {
		t.Fatal(err)
	}
	if result := cpu.Step(context.Background()); result.Status != symx.StepCompleted {
		t.Fatalf("unexpected result: %s", result)
	}

	for name, reg := range unicornRegisters {
		want, err := mu.RegRead(reg)
		if err != nil {
			t.Fatal(err)
		}
		AssertRegister(t, cpu, name, want)
	}

	eflags, err := mu.RegRead(uc.X86_REG_EFLAGS)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range unicornFlags {
		if shift && f.name == "OF" {
			continue
		}
		AssertRegister(t, cpu, f.name, (eflags>>f.bit)&1)
	}
}
