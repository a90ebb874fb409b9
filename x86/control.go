package x86

import (
	"github.com/benbjohnson/symx"
	"golang.org/x/arch/x86/x86asm"
)

// stackWidth returns the width of a stack push or pop.
func stackWidth(inst *Instruction) uint {
	if inst.Inst.DataSize == 16 {
		return symx.Width16
	}
	return symx.Width64
}

func push(cpu *CPU, inst *Instruction) error {
	src, err := inst.src(0)
	if err != nil {
		return err
	}
	v, err := src.Read()
	if err != nil {
		return err
	}
	return cpu.push(symx.NewSExtExpr(v, stackWidth(inst)))
}

func pop(cpu *CPU, inst *Instruction) error {
	dst, err := inst.dst(0)
	if err != nil {
		return err
	}
	n := dst.Width() / 8
	v, err := cpu.pop(n)
	if err != nil {
		return err
	}

	// An RSP based destination is addressed after RSP is incremented.
	if m, ok := inst.Inst.Args[0].(x86asm.Mem); ok && (m.Base == x86asm.RSP || m.Base == x86asm.ESP) {
		if op, ok := dst.(*symx.MemoryOperand); ok {
			other := *op
			other.Addr += uint64(n)
			dst = &other
		}
	}
	return dst.Write(v)
}

func call(cpu *CPU, inst *Instruction) error {
	src, err := inst.src(0)
	if err != nil {
		return err
	}
	target, err := src.Read()
	if err != nil {
		return err
	}

	if err := cpu.push(symx.NewConstantExpr64(inst.Next())); err != nil {
		return err
	}
	return cpu.Set("RIP", target)
}

func ret(cpu *CPU, inst *Instruction) error {
	target, err := cpu.pop(8)
	if err != nil {
		return err
	}

	// Release immediate bytes of arguments.
	if len(inst.Args) > 0 {
		n, err := inst.Args[0].Read()
		if err != nil {
			return err
		}
		rsp, err := cpu.concrete("RSP")
		if err != nil {
			return err
		}
		if err := cpu.SetUint64("RSP", rsp+n.(*symx.ConstantExpr).Uint64()); err != nil {
			return err
		}
	}
	return cpu.Set("RIP", target)
}

func leave(cpu *CPU, inst *Instruction) error {
	rbp, err := cpu.concrete("RBP")
	if err != nil {
		return err
	}
	if err := cpu.SetUint64("RSP", rbp); err != nil {
		return err
	}

	v, err := cpu.pop(8)
	if err != nil {
		return err
	}
	return cpu.Set("RBP", v)
}

func jmp(cpu *CPU, inst *Instruction) error {
	src, err := inst.src(0)
	if err != nil {
		return err
	}
	target, err := src.Read()
	if err != nil {
		return err
	}
	return cpu.Set("RIP", target)
}

// jcc sets RIP to the target if the condition holds. A symbolic condition
// leaves RIP symbolic so the next step requests its concretization.
func jcc(cpu *CPU, inst *Instruction) error {
	cond, err := cpu.condition(inst.Op)
	if err != nil {
		return err
	}
	src, err := inst.src(0)
	if err != nil {
		return err
	}
	target, err := src.Read()
	if err != nil {
		return err
	}
	return cpu.Set("RIP", symx.NewIteExpr(cond, target, symx.NewConstantExpr64(inst.Next())))
}

func cmov(cpu *CPU, inst *Instruction) error {
	cond, err := cpu.condition(inst.Op)
	if err != nil {
		return err
	}
	dst, err := inst.dst(0)
	if err != nil {
		return err
	}
	src, err := inst.src(1)
	if err != nil {
		return err
	}

	a, err := dst.Read()
	if err != nil {
		return err
	}
	b, err := src.Read()
	if err != nil {
		return err
	}

	// A 32-bit destination is zero extended even if the move is not taken.
	return dst.Write(symx.NewIteExpr(cond, b, a))
}

func setcc(cpu *CPU, inst *Instruction) error {
	cond, err := cpu.condition(inst.Op)
	if err != nil {
		return err
	}
	dst, err := inst.dst(0)
	if err != nil {
		return err
	}
	return dst.Write(symx.NewZExtExpr(cond, dst.Width()))
}
