package x86

import (
	"github.com/benbjohnson/symx"
)

// aluFunc computes res = a op b and its flags. carry is the incoming CF.
type aluFunc func(a, b, carry symx.Expr) (symx.Expr, flags)

func add(a, b, carry symx.Expr) (symx.Expr, flags) {
	res := bin(symx.ADD, a, b)
	return res, addFlags(a, b, res, nil)
}

func adc(a, b, carry symx.Expr) (symx.Expr, flags) {
	res := bin(symx.ADD, bin(symx.ADD, a, b), symx.NewZExtExpr(carry, symx.ExprWidth(a)))
	return res, addFlags(a, b, res, carry)
}

func sub(a, b, carry symx.Expr) (symx.Expr, flags) {
	res := bin(symx.SUB, a, b)
	return res, subFlags(a, b, res, nil)
}

func sbb(a, b, carry symx.Expr) (symx.Expr, flags) {
	res := bin(symx.SUB, bin(symx.SUB, a, b), symx.NewZExtExpr(carry, symx.ExprWidth(a)))
	return res, subFlags(a, b, res, carry)
}

func and(a, b, carry symx.Expr) (symx.Expr, flags) {
	res := bin(symx.AND, a, b)
	return res, logicFlags(res)
}

func or(a, b, carry symx.Expr) (symx.Expr, flags) {
	res := bin(symx.OR, a, b)
	return res, logicFlags(res)
}

func xor(a, b, carry symx.Expr) (symx.Expr, flags) {
	res := bin(symx.XOR, a, b)
	return res, logicFlags(res)
}

// alu returns a handler for a two operand integer instruction. If write is
// false only the flags are updated.
func alu(fn aluFunc, write bool) Handler {
	return func(cpu *CPU, inst *Instruction) error {
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
		b = symx.NewSExtExpr(b, dst.Width())

		res, f := fn(a, b, cpu.reg("CF"))
		if write {
			if err := dst.Write(res); err != nil {
				return err
			}
		}
		return cpu.setFlags(f)
	}
}

// unaryFunc computes the result of a single operand instruction.
type unaryFunc func(a symx.Expr) (symx.Expr, flags)

func inc(a symx.Expr) (symx.Expr, flags) {
	one := constant(1, a)
	res := bin(symx.ADD, a, one)
	f := addFlags(a, one, res, nil)
	f.CF = nil
	return res, f
}

func dec(a symx.Expr) (symx.Expr, flags) {
	one := constant(1, a)
	res := bin(symx.SUB, a, one)
	f := subFlags(a, one, res, nil)
	f.CF = nil
	return res, f
}

func neg(a symx.Expr) (symx.Expr, flags) {
	zero := constant(0, a)
	res := bin(symx.SUB, zero, a)
	return res, subFlags(zero, a, res, nil)
}

func not(a symx.Expr) (symx.Expr, flags) {
	return symx.NewNotExpr(a), flags{}
}

func unary(fn unaryFunc) Handler {
	return func(cpu *CPU, inst *Instruction) error {
		dst, err := inst.dst(0)
		if err != nil {
			return err
		}
		a, err := dst.Read()
		if err != nil {
			return err
		}

		res, f := fn(a)
		if err := dst.Write(res); err != nil {
			return err
		}
		return cpu.setFlags(f)
	}
}

// shiftFunc shifts a by a count in [1, 63] and returns the result and flags.
type shiftFunc func(a symx.Expr, count uint) (symx.Expr, flags)

func shl(a symx.Expr, count uint) (symx.Expr, flags) {
	w := symx.ExprWidth(a)
	res := bin(symx.SHL, a, constant(uint64(count), a))

	f := resultFlags(res)
	f.CF = bitFalse
	if count <= w {
		f.CF = bit(a, w-count)
	}
	f.OF = bin(symx.XOR, msb(res), f.CF)
	return res, f
}

func shr(a symx.Expr, count uint) (symx.Expr, flags) {
	w := symx.ExprWidth(a)
	res := bin(symx.LSHR, a, constant(uint64(count), a))

	f := resultFlags(res)
	f.CF = bitFalse
	if count <= w {
		f.CF = bit(a, count-1)
	}
	f.OF = msb(a)
	return res, f
}

func sar(a symx.Expr, count uint) (symx.Expr, flags) {
	w := symx.ExprWidth(a)
	res := bin(symx.ASHR, a, constant(uint64(count), a))

	f := resultFlags(res)
	f.CF = msb(a)
	if count <= w {
		f.CF = bit(a, count-1)
	}
	f.OF = bitFalse
	return res, f
}

// rotate returns a rotated left by n bits, where n is less than the width.
func rotate(a symx.Expr, n uint) symx.Expr {
	if n == 0 {
		return a
	}
	w := symx.ExprWidth(a)
	return symx.NewConcatExpr(symx.NewExtractExpr(a, 0, w-n), symx.NewExtractExpr(a, w-n, n))
}

func rol(a symx.Expr, count uint) (symx.Expr, flags) {
	res := rotate(a, count%symx.ExprWidth(a))
	cf := lsb(res)
	return res, flags{CF: cf, OF: bin(symx.XOR, msb(res), cf)}
}

func ror(a symx.Expr, count uint) (symx.Expr, flags) {
	w := symx.ExprWidth(a)
	res := rotate(a, (w-count%w)%w)
	return res, flags{CF: msb(res), OF: bin(symx.XOR, msb(res), bit(res, w-2))}
}

// shift returns a handler for a shift or rotate. The count is masked to five
// bits, or six for 64-bit operands. A zero count leaves every flag unchanged.
func shift(fn shiftFunc) Handler {
	return func(cpu *CPU, inst *Instruction) error {
		dst, err := inst.dst(0)
		if err != nil {
			return err
		}
		a, err := dst.Read()
		if err != nil {
			return err
		}

		count := uint64(1)
		if len(inst.Args) > 1 {
			v, err := inst.Args[1].Read()
			if err != nil {
				return err
			}
			c, ok := v.(*symx.ConstantExpr)
			if !ok {
				return &symx.ConcretizeRequest{Location: symx.RegisterLocation(inst.Args[1].String()), Expr: v}
			}
			count = c.Uint64()
		}

		mask := uint64(0x1f)
		if dst.Width() == symx.Width64 {
			mask = 0x3f
		}
		if count &= mask; count == 0 {
			return nil
		}

		res, f := fn(a, uint(count))
		if err := dst.Write(res); err != nil {
			return err
		}
		return cpu.setFlags(f)
	}
}
