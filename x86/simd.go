package x86

import (
	"github.com/benbjohnson/symx"
)

// vectorOperands reads the destination and source of a packed instruction.
// A narrower source is zero extended to the destination width.
func vectorOperands(inst *Instruction) (dst symx.WritableOperand, a, b symx.Expr, err error) {
	if dst, err = inst.dst(0); err != nil {
		return nil, nil, nil, err
	}
	src, err := inst.src(1)
	if err != nil {
		return nil, nil, nil, err
	}

	// Both operands are read before the destination is written so the same
	// register may be used as source and destination.
	if a, err = dst.Read(); err != nil {
		return nil, nil, nil, err
	}
	if b, err = src.Read(); err != nil {
		return nil, nil, nil, err
	}
	return dst, a, b, nil
}

// interleave returns a handler that interleaves the elements of the low or
// high half of the destination & source. Destination elements occupy the
// even positions of the result.
func interleave(elem uint, high bool) Handler {
	return func(cpu *CPU, inst *Instruction) error {
		dst, a, b, err := vectorOperands(inst)
		if err != nil {
			return err
		}

		w := dst.Width()
		b = symx.NewZExtExpr(b, w)

		var base uint
		if high {
			base = w / 2
		}

		n := w / 2 / elem
		parts := make([]symx.Expr, 0, 2*n)
		for i := int(n) - 1; i >= 0; i-- {
			off := base + uint(i)*elem
			parts = append(parts, symx.NewExtractExpr(b, off, elem), symx.NewExtractExpr(a, off, elem))
		}
		return dst.Write(symx.NewConcatExprs(parts...))
	}
}

func pxor(a, b symx.Expr) symx.Expr  { return bin(symx.XOR, a, b) }
func por(a, b symx.Expr) symx.Expr   { return bin(symx.OR, a, b) }
func pand(a, b symx.Expr) symx.Expr  { return bin(symx.AND, a, b) }
func pandn(a, b symx.Expr) symx.Expr { return bin(symx.AND, symx.NewNotExpr(a), b) }

// packed returns a handler for a full-width bitwise operation.
func packed(fn func(a, b symx.Expr) symx.Expr) Handler {
	return func(cpu *CPU, inst *Instruction) error {
		dst, a, b, err := vectorOperands(inst)
		if err != nil {
			return err
		}
		return dst.Write(fn(a, symx.NewZExtExpr(b, dst.Width())))
	}
}
