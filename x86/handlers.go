package x86

import (
	"sort"

	"github.com/benbjohnson/symx"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// ErrGeneralProtection is returned for a misaligned access by an
// instruction that requires alignment.
var ErrGeneralProtection = errors.New("general protection fault")

// Handler executes a decoded instruction. RIP already holds the address of
// the next instruction. A handler reads every source before its first write.
type Handler func(cpu *CPU, inst *Instruction) error

// handlers maps each supported op to its semantics.
var handlers = map[x86asm.Op]Handler{
	// Data movement.
	x86asm.MOV:    mov,
	x86asm.MOVZX:  movzx,
	x86asm.MOVSX:  movsx,
	x86asm.MOVSXD: movsx,
	x86asm.MOVD:   movScalar(symx.Width32),
	x86asm.MOVQ:   movScalar(symx.Width64),
	x86asm.MOVDQA: movAligned,
	x86asm.MOVAPS: movAligned,
	x86asm.MOVDQU: mov,
	x86asm.MOVUPS: mov,
	x86asm.LEA:    mov,
	x86asm.XCHG:   xchg,
	x86asm.BSWAP:  bswap,
	x86asm.CBW:    signExtend("AL", "AX"),
	x86asm.CWDE:   signExtend("AX", "EAX"),
	x86asm.CDQE:   signExtend("EAX", "RAX"),
	x86asm.CWD:    signSplit("AX", "DX"),
	x86asm.CDQ:    signSplit("EAX", "EDX"),
	x86asm.CQO:    signSplit("RAX", "RDX"),

	// Integer arithmetic & logic.
	x86asm.ADD:  alu(add, true),
	x86asm.ADC:  alu(adc, true),
	x86asm.SUB:  alu(sub, true),
	x86asm.SBB:  alu(sbb, true),
	x86asm.CMP:  alu(sub, false),
	x86asm.AND:  alu(and, true),
	x86asm.OR:   alu(or, true),
	x86asm.XOR:  alu(xor, true),
	x86asm.TEST: alu(and, false),
	x86asm.INC:  unary(inc),
	x86asm.DEC:  unary(dec),
	x86asm.NEG:  unary(neg),
	x86asm.NOT:  unary(not),

	// Shifts & rotates.
	x86asm.SHL: shift(shl),
	x86asm.SHR: shift(shr),
	x86asm.SAR: shift(sar),
	x86asm.ROL: shift(rol),
	x86asm.ROR: shift(ror),

	// Stack & control flow.
	x86asm.PUSH:  push,
	x86asm.POP:   pop,
	x86asm.CALL:  call,
	x86asm.RET:   ret,
	x86asm.LEAVE: leave,
	x86asm.JMP:   jmp,
	x86asm.JO:    jcc,
	x86asm.JNO:   jcc,
	x86asm.JB:    jcc,
	x86asm.JAE:   jcc,
	x86asm.JE:    jcc,
	x86asm.JNE:   jcc,
	x86asm.JBE:   jcc,
	x86asm.JA:    jcc,
	x86asm.JS:    jcc,
	x86asm.JNS:   jcc,
	x86asm.JP:    jcc,
	x86asm.JNP:   jcc,
	x86asm.JL:    jcc,
	x86asm.JGE:   jcc,
	x86asm.JLE:   jcc,
	x86asm.JG:    jcc,
	x86asm.JRCXZ: jcc,
	x86asm.JECXZ: jcc,

	x86asm.CMOVO:  cmov,
	x86asm.CMOVNO: cmov,
	x86asm.CMOVB:  cmov,
	x86asm.CMOVAE: cmov,
	x86asm.CMOVE:  cmov,
	x86asm.CMOVNE: cmov,
	x86asm.CMOVBE: cmov,
	x86asm.CMOVA:  cmov,
	x86asm.CMOVS:  cmov,
	x86asm.CMOVNS: cmov,
	x86asm.CMOVP:  cmov,
	x86asm.CMOVNP: cmov,
	x86asm.CMOVL:  cmov,
	x86asm.CMOVGE: cmov,
	x86asm.CMOVLE: cmov,
	x86asm.CMOVG:  cmov,

	x86asm.SETO:  setcc,
	x86asm.SETNO: setcc,
	x86asm.SETB:  setcc,
	x86asm.SETAE: setcc,
	x86asm.SETE:  setcc,
	x86asm.SETNE: setcc,
	x86asm.SETBE: setcc,
	x86asm.SETA:  setcc,
	x86asm.SETS:  setcc,
	x86asm.SETNS: setcc,
	x86asm.SETP:  setcc,
	x86asm.SETNP: setcc,
	x86asm.SETL:  setcc,
	x86asm.SETGE: setcc,
	x86asm.SETLE: setcc,
	x86asm.SETG:  setcc,

	// SIMD.
	x86asm.PUNPCKLBW:  interleave(8, false),
	x86asm.PUNPCKLWD:  interleave(16, false),
	x86asm.PUNPCKLDQ:  interleave(32, false),
	x86asm.PUNPCKLQDQ: interleave(64, false),
	x86asm.PUNPCKHBW:  interleave(8, true),
	x86asm.PUNPCKHWD:  interleave(16, true),
	x86asm.PUNPCKHDQ:  interleave(32, true),
	x86asm.PUNPCKHQDQ: interleave(64, true),
	x86asm.PXOR:       packed(pxor),
	x86asm.POR:        packed(por),
	x86asm.PAND:       packed(pand),
	x86asm.PANDN:      packed(pandn),

	// System.
	x86asm.NOP:     nop,
	x86asm.HLT:     hlt,
	x86asm.SYSCALL: unsupported,
	x86asm.INT:     unsupported,
	x86asm.UD2:     undefined,
	x86asm.UD1:     undefined,
	x86asm.UD0:     undefined,
}

// Ops returns every op with semantics, ordered by op.
func Ops() []x86asm.Op {
	a := make([]x86asm.Op, 0, len(handlers))
	for op := range handlers {
		a = append(a, op)
	}
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
	return a
}

func mov(cpu *CPU, inst *Instruction) error {
	dst, err := inst.dst(0)
	if err != nil {
		return err
	}
	src, err := inst.src(1)
	if err != nil {
		return err
	}

	v, err := src.Read()
	if err != nil {
		return err
	}
	return dst.Write(v)
}

// movAligned moves a full vector and requires memory operands to be 16-byte aligned.
func movAligned(cpu *CPU, inst *Instruction) error {
	for _, arg := range inst.Args {
		if m, ok := arg.(*symx.MemoryOperand); ok && m.Addr%16 != 0 {
			return errors.Wrapf(ErrGeneralProtection, "misaligned %s at %#x", inst.Op, m.Addr)
		}
	}
	return mov(cpu, inst)
}

// movScalar moves the low width bits of the source and zero extends them into
// the destination.
func movScalar(width uint) Handler {
	return func(cpu *CPU, inst *Instruction) error {
		dst, err := inst.dst(0)
		if err != nil {
			return err
		}
		src, err := inst.src(1)
		if err != nil {
			return err
		}

		v, err := src.Read()
		if err != nil {
			return err
		}
		return dst.Write(symx.NewZExtExpr(v, width))
	}
}

func movzx(cpu *CPU, inst *Instruction) error {
	return movExtend(inst, symx.NewZExtExpr)
}

func movsx(cpu *CPU, inst *Instruction) error {
	return movExtend(inst, symx.NewSExtExpr)
}

func movExtend(inst *Instruction, extend func(symx.Expr, uint) symx.Expr) error {
	dst, err := inst.dst(0)
	if err != nil {
		return err
	}
	src, err := inst.src(1)
	if err != nil {
		return err
	}

	v, err := src.Read()
	if err != nil {
		return err
	}
	return dst.Write(extend(v, dst.Width()))
}

func xchg(cpu *CPU, inst *Instruction) error {
	a, err := inst.dst(0)
	if err != nil {
		return err
	}
	b, err := inst.dst(1)
	if err != nil {
		return err
	}

	av, err := a.Read()
	if err != nil {
		return err
	}
	bv, err := b.Read()
	if err != nil {
		return err
	}

	if err := a.Write(bv); err != nil {
		return err
	}
	return b.Write(av)
}

func bswap(cpu *CPU, inst *Instruction) error {
	dst, err := inst.dst(0)
	if err != nil {
		return err
	}
	v, err := dst.Read()
	if err != nil {
		return err
	}

	// The low byte becomes the most significant.
	var parts []symx.Expr
	for i := uint(0); i < dst.Width(); i += 8 {
		parts = append(parts, symx.NewExtractExpr(v, i, 8))
	}
	return dst.Write(symx.NewConcatExprs(parts...))
}

// signExtend returns a handler that sign extends register src into dst.
func signExtend(src, dst string) Handler {
	return func(cpu *CPU, inst *Instruction) error {
		return cpu.regs.Write(dst, symx.NewSExtExpr(cpu.reg(src), cpu.regs.Width(dst)))
	}
}

// signSplit returns a handler that fills register hi with the sign of src.
func signSplit(src, hi string) Handler {
	return func(cpu *CPU, inst *Instruction) error {
		v := cpu.reg(src)
		w := symx.ExprWidth(v)
		return cpu.regs.Write(hi, symx.NewExtractExpr(symx.NewSExtExpr(v, 2*w), w, w))
	}
}

func nop(cpu *CPU, inst *Instruction) error { return nil }

func hlt(cpu *CPU, inst *Instruction) error { return errHalted }

func unsupported(cpu *CPU, inst *Instruction) error {
	return errors.Wrapf(symx.ErrUnsupported, "%s at %#x", inst.Op, inst.Addr)
}

func undefined(cpu *CPU, inst *Instruction) error {
	code, _ := cpu.mem.ReadBytes(inst.Addr, uint(inst.Len))
	return &symx.DecodeFault{Addr: inst.Addr, Bytes: code, Err: errors.Errorf("undefined opcode %s", inst.Op)}
}
