package x86

import (
	"github.com/benbjohnson/symx"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// flags holds the status flags produced by an instruction. A nil flag is
// left unchanged.
type flags struct {
	CF, PF, AF, ZF, SF, OF symx.Expr
}

// setFlags writes every non-nil flag.
func (cpu *CPU) setFlags(f flags) error {
	for _, flag := range []struct {
		name  string
		value symx.Expr
	}{
		{"CF", f.CF},
		{"PF", f.PF},
		{"AF", f.AF},
		{"ZF", f.ZF},
		{"SF", f.SF},
		{"OF", f.OF},
	} {
		if flag.value == nil {
			continue
		} else if err := cpu.regs.Write(flag.name, flag.value); err != nil {
			return err
		}
	}
	return nil
}

// reg returns the value of a register in the table.
func (cpu *CPU) reg(name string) symx.Expr {
	v, err := cpu.regs.Read(name)
	if err != nil {
		panic(err)
	}
	return v
}

var bitFalse = symx.NewBoolConstantExpr(false)

func bin(op symx.BinaryOp, lhs, rhs symx.Expr) symx.Expr {
	return symx.NewBinaryExpr(op, lhs, rhs)
}

func bit(e symx.Expr, i uint) symx.Expr { return symx.NewExtractExpr(e, i, 1) }

func msb(e symx.Expr) symx.Expr { return bit(e, symx.ExprWidth(e)-1) }

func lsb(e symx.Expr) symx.Expr { return bit(e, 0) }

// constant returns v as a constant of the same width as e.
func constant(v uint64, e symx.Expr) *symx.ConstantExpr {
	return symx.NewConstantExpr(v, symx.ExprWidth(e))
}

// parity is set if the low byte of res has an even number of set bits.
func parity(res symx.Expr) symx.Expr {
	p := bit(res, 0)
	for i := uint(1); i < 8; i++ {
		p = bin(symx.XOR, p, bit(res, i))
	}
	return symx.NewNotExpr(p)
}

// resultFlags returns ZF, SF & PF for res.
func resultFlags(res symx.Expr) flags {
	return flags{
		ZF: symx.NewIsZeroExpr(res),
		SF: msb(res),
		PF: parity(res),
	}
}

// adjust returns the carry out of bit 3.
func adjust(a, b, res symx.Expr) symx.Expr {
	return bit(bin(symx.XOR, bin(symx.XOR, a, b), res), 4)
}

// addFlags returns the flags for res = a + b + carry. carry may be nil.
func addFlags(a, b, res, carry symx.Expr) flags {
	f := resultFlags(res)
	f.CF = bin(symx.ULT, res, a)
	if carry != nil {
		f.CF = bin(symx.OR, f.CF, bin(symx.AND, carry, bin(symx.EQ, res, a)))
	}
	f.OF = msb(bin(symx.AND, bin(symx.XOR, a, res), bin(symx.XOR, b, res)))
	f.AF = adjust(a, b, res)
	return f
}

// subFlags returns the flags for res = a - b - borrow. borrow may be nil.
func subFlags(a, b, res, borrow symx.Expr) flags {
	f := resultFlags(res)
	f.CF = bin(symx.ULT, a, b)
	if borrow != nil {
		f.CF = bin(symx.OR, f.CF, bin(symx.AND, borrow, bin(symx.EQ, a, b)))
	}
	f.OF = msb(bin(symx.AND, bin(symx.XOR, a, b), bin(symx.XOR, a, res)))
	f.AF = adjust(a, b, res)
	return f
}

// logicFlags returns the flags for the result of a bitwise operation.
func logicFlags(res symx.Expr) flags {
	f := resultFlags(res)
	f.CF, f.OF, f.AF = bitFalse, bitFalse, bitFalse
	return f
}

// cond identifies a condition tested by Jcc, CMOVcc & SETcc.
type cond int

const (
	condO cond = iota
	condNO
	condB
	condAE
	condE
	condNE
	condBE
	condA
	condS
	condNS
	condP
	condNP
	condL
	condGE
	condLE
	condG
	condRCXZ
	condECXZ
	condCXZ
)

var conditions = map[x86asm.Op]cond{
	x86asm.JO: condO, x86asm.CMOVO: condO, x86asm.SETO: condO,
	x86asm.JNO: condNO, x86asm.CMOVNO: condNO, x86asm.SETNO: condNO,
	x86asm.JB: condB, x86asm.CMOVB: condB, x86asm.SETB: condB,
	x86asm.JAE: condAE, x86asm.CMOVAE: condAE, x86asm.SETAE: condAE,
	x86asm.JE: condE, x86asm.CMOVE: condE, x86asm.SETE: condE,
	x86asm.JNE: condNE, x86asm.CMOVNE: condNE, x86asm.SETNE: condNE,
	x86asm.JBE: condBE, x86asm.CMOVBE: condBE, x86asm.SETBE: condBE,
	x86asm.JA: condA, x86asm.CMOVA: condA, x86asm.SETA: condA,
	x86asm.JS: condS, x86asm.CMOVS: condS, x86asm.SETS: condS,
	x86asm.JNS: condNS, x86asm.CMOVNS: condNS, x86asm.SETNS: condNS,
	x86asm.JP: condP, x86asm.CMOVP: condP, x86asm.SETP: condP,
	x86asm.JNP: condNP, x86asm.CMOVNP: condNP, x86asm.SETNP: condNP,
	x86asm.JL: condL, x86asm.CMOVL: condL, x86asm.SETL: condL,
	x86asm.JGE: condGE, x86asm.CMOVGE: condGE, x86asm.SETGE: condGE,
	x86asm.JLE: condLE, x86asm.CMOVLE: condLE, x86asm.SETLE: condLE,
	x86asm.JG: condG, x86asm.CMOVG: condG, x86asm.SETG: condG,
	x86asm.JRCXZ: condRCXZ,
	x86asm.JECXZ: condECXZ,
	x86asm.JCXZ:  condCXZ,
}

// condition returns the 1-bit condition tested by op.
func (cpu *CPU) condition(op x86asm.Op) (symx.Expr, error) {
	cc, ok := conditions[op]
	if !ok {
		return nil, errors.Errorf("no condition for %s", op)
	}

	lt := func() symx.Expr { return bin(symx.XOR, cpu.reg("SF"), cpu.reg("OF")) }

	switch cc {
	case condO:
		return cpu.reg("OF"), nil
	case condNO:
		return symx.NewNotExpr(cpu.reg("OF")), nil
	case condB:
		return cpu.reg("CF"), nil
	case condAE:
		return symx.NewNotExpr(cpu.reg("CF")), nil
	case condE:
		return cpu.reg("ZF"), nil
	case condNE:
		return symx.NewNotExpr(cpu.reg("ZF")), nil
	case condBE:
		return bin(symx.OR, cpu.reg("CF"), cpu.reg("ZF")), nil
	case condA:
		return symx.NewNotExpr(bin(symx.OR, cpu.reg("CF"), cpu.reg("ZF"))), nil
	case condS:
		return cpu.reg("SF"), nil
	case condNS:
		return symx.NewNotExpr(cpu.reg("SF")), nil
	case condP:
		return cpu.reg("PF"), nil
	case condNP:
		return symx.NewNotExpr(cpu.reg("PF")), nil
	case condL:
		return lt(), nil
	case condGE:
		return symx.NewNotExpr(lt()), nil
	case condLE:
		return bin(symx.OR, cpu.reg("ZF"), lt()), nil
	case condG:
		return bin(symx.AND, symx.NewNotExpr(cpu.reg("ZF")), symx.NewNotExpr(lt())), nil
	case condRCXZ:
		return symx.NewIsZeroExpr(cpu.reg("RCX")), nil
	case condECXZ:
		return symx.NewIsZeroExpr(cpu.reg("ECX")), nil
	default:
		return symx.NewIsZeroExpr(cpu.reg("CX")), nil
	}
}
