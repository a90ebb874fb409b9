package symx

import (
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"
)

// Expr represents a fixed-width bitvector value. A *ConstantExpr is a
// concrete value; every other expression is symbolic.
//
// Expressions are immutable once constructed and may be shared between
// execution states.
type Expr interface {
	fmt.Stringer
	expr()
}

func (*BinaryExpr) expr()   {}
func (*CastExpr) expr()     {}
func (*ConcatExpr) expr()   {}
func (*ConstantExpr) expr() {}
func (*ExtractExpr) expr()  {}
func (*IteExpr) expr()      {}
func (*NotExpr) expr()      {}
func (*SymbolExpr) expr()   {}

// ExprWidth returns the bit width of the expression.
func ExprWidth(expr Expr) uint {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Width
	case *SymbolExpr:
		return expr.Width
	case *ConcatExpr:
		return ExprWidth(expr.MSB) + ExprWidth(expr.LSB)
	case *ExtractExpr:
		return expr.Width
	case *NotExpr:
		return ExprWidth(expr.Expr)
	case *CastExpr:
		return expr.Width
	case *IteExpr:
		return ExprWidth(expr.Then)
	case *BinaryExpr:
		if expr.Op.IsCompare() {
			return WidthBool
		}
		return ExprWidth(expr.LHS)
	default:
		panic("unreachable")
	}
}

// BinaryOp represents a binary expression operations.
type BinaryOp int

// BinaryExpr operations.
const (
	arithmetic_op_begin = BinaryOp(iota)
	ADD
	SUB
	MUL
	UDIV
	SDIV
	UREM
	SREM
	AND
	OR
	XOR
	SHL
	LSHR
	ASHR
	arithmetic_op_end

	compare_op_begin
	EQ
	NE
	ULT
	ULE
	UGT
	UGE
	SLT
	SLE
	SGT
	SGE
	compare_op_end
)

var binaryOps = [...]string{
	ADD:  "add",
	SUB:  "sub",
	MUL:  "mul",
	UDIV: "udiv",
	SDIV: "sdiv",
	UREM: "urem",
	SREM: "srem",
	AND:  "and",
	OR:   "or",
	XOR:  "xor",
	SHL:  "shl",
	LSHR: "lshr",
	ASHR: "ashr",
	EQ:   "eq",
	NE:   "ne",
	ULT:  "ult",
	ULE:  "ule",
	UGT:  "ugt",
	UGE:  "uge",
	SLT:  "slt",
	SLE:  "sle",
	SGT:  "sgt",
	SGE:  "sge",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsArithmetic returns true if op is an arithmetic operator.
func (op BinaryOp) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsCompare returns true if op is a comparison operator.
func (op BinaryOp) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// BinaryExpr represents an operation on two expressions of equal width.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// NewBinaryExpr returns an expression applying op to lhs & rhs. Constant
// operands are folded and a few algebraic identities are applied so that
// concrete execution never builds symbolic nodes.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) Expr {
	assert(ExprWidth(lhs) == ExprWidth(rhs), "binary expr width mismatch: op=%s %d != %d", op, ExprWidth(lhs), ExprWidth(rhs))

	switch op {
	case ADD:
		return newAddExpr(lhs, rhs)
	case SUB:
		return newSubExpr(lhs, rhs)
	case MUL:
		return newMulExpr(lhs, rhs)
	case UDIV, SDIV:
		return newDivExpr(op, lhs, rhs)
	case UREM, SREM:
		return newRemExpr(op, lhs, rhs)
	case AND:
		return newAndExpr(lhs, rhs)
	case OR:
		return newOrExpr(lhs, rhs)
	case XOR:
		return newXorExpr(lhs, rhs)
	case SHL, LSHR, ASHR:
		return newShiftExpr(op, lhs, rhs)

	case EQ:
		return newEqExpr(lhs, rhs)
	case NE:
		return NewNotExpr(newEqExpr(lhs, rhs))
	case ULT:
		return newCompareExpr(ULT, lhs, rhs)
	case UGT:
		return newCompareExpr(ULT, rhs, lhs) // reverse
	case ULE:
		return newCompareExpr(ULE, lhs, rhs)
	case UGE:
		return newCompareExpr(ULE, rhs, lhs) // reverse
	case SLT:
		return newCompareExpr(SLT, lhs, rhs)
	case SGT:
		return newCompareExpr(SLT, rhs, lhs) // reverse
	case SLE:
		return newCompareExpr(SLE, lhs, rhs)
	case SGE:
		return newCompareExpr(SLE, rhs, lhs) // reverse

	default:
		panic("unreachable")
	}
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// newAddExpr returns the expression representing the sum of lhs & rhs.
func newAddExpr(lhs, rhs Expr) Expr {
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(XOR, lhs, rhs)
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.IsZero() {
			return rhs
		} else if r, ok := rhs.(*ConstantExpr); ok {
			return lhs.Add(r)
		}

		// K + (J+x) == (K+J) + x
		if rhs, ok := rhs.(*BinaryExpr); ok && rhs.Op == ADD {
			if j, ok := rhs.LHS.(*ConstantExpr); ok {
				return NewBinaryExpr(ADD, lhs.Add(j), rhs.RHS)
			}
		}
	}

	// (K+x) + y == K + (x+y)
	if l, ok := lhs.(*BinaryExpr); ok && l.Op == ADD && IsConstantExpr(l.LHS) {
		return NewBinaryExpr(ADD, l.LHS, NewBinaryExpr(ADD, l.RHS, rhs))
	}

	return &BinaryExpr{Op: ADD, LHS: lhs, RHS: rhs}
}

// newSubExpr returns an expression representing the difference of lhs & rhs.
func newSubExpr(lhs, rhs Expr) Expr {
	if CompareExpr(lhs, rhs) == 0 {
		return NewConstantExpr(0, ExprWidth(lhs))
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Sub(rhs)
		}
	}

	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(XOR, lhs, rhs)
	}

	// x - K == -K + x
	if rhs, ok := rhs.(*ConstantExpr); ok {
		return NewBinaryExpr(ADD, rhs.Neg(), lhs)
	}

	return &BinaryExpr{Op: SUB, LHS: lhs, RHS: rhs}
}

// newMulExpr returns an expression that represents the product of lhs & rhs.
func newMulExpr(lhs, rhs Expr) Expr {
	if IsConstantExpr(rhs) && !IsConstantExpr(lhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Mul(rhs)
		}
	}

	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(AND, lhs, rhs)
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.IsOne() {
			return rhs
		} else if lhs.IsZero() {
			return lhs
		}
	}
	return &BinaryExpr{Op: MUL, LHS: lhs, RHS: rhs}
}

// newDivExpr returns an expression that represents the division of lhs & rhs.
func newDivExpr(op BinaryOp, lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			if op == UDIV {
				return lhs.UDiv(rhs)
			}
			return lhs.SDiv(rhs)
		}
	}
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.IsOne() {
		return lhs
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// newRemExpr returns an expression that represents the remainder of lhs divided by rhs.
func newRemExpr(op BinaryOp, lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			if op == UREM {
				return lhs.URem(rhs)
			}
			return lhs.SRem(rhs)
		}
	}
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.IsOne() {
		return NewConstantExpr(0, rhs.Width)
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// newAndExpr returns an expression that represents the bitwise AND of lhs & rhs.
func newAndExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.And(rhs)
		}
	}

	if IsConstantExpr(lhs) && !IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if rhs, ok := rhs.(*ConstantExpr); ok {
		if rhs.IsAllOnes() {
			return lhs
		} else if rhs.IsZero() {
			return rhs
		}
	}
	if CompareExpr(lhs, rhs) == 0 {
		return lhs
	}
	return &BinaryExpr{Op: AND, LHS: lhs, RHS: rhs}
}

// newOrExpr returns an expression that represents the bitwise OR of lhs & rhs.
func newOrExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Or(rhs)
		}
	}

	if IsConstantExpr(lhs) && !IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if rhs, ok := rhs.(*ConstantExpr); ok {
		if rhs.IsAllOnes() {
			return rhs
		} else if rhs.IsZero() {
			return lhs
		}
	}
	if CompareExpr(lhs, rhs) == 0 {
		return lhs
	}
	return &BinaryExpr{Op: OR, LHS: lhs, RHS: rhs}
}

// newXorExpr returns an expression that represents the bitwise XOR of lhs & rhs.
func newXorExpr(lhs, rhs Expr) Expr {
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.IsZero() {
			return rhs
		} else if r, ok := rhs.(*ConstantExpr); ok {
			return lhs.Xor(r)
		} else if lhs.IsAllOnes() {
			return NewNotExpr(rhs)
		}
	}

	if CompareExpr(lhs, rhs) == 0 {
		return NewConstantExpr(0, ExprWidth(lhs))
	}
	return &BinaryExpr{Op: XOR, LHS: lhs, RHS: rhs}
}

// newShiftExpr returns an expression shifting lhs by rhs bits.
func newShiftExpr(op BinaryOp, lhs, rhs Expr) Expr {
	if r, ok := rhs.(*ConstantExpr); ok {
		if l, ok := lhs.(*ConstantExpr); ok {
			switch op {
			case SHL:
				return l.Shl(r)
			case LSHR:
				return l.LShr(r)
			default:
				return l.AShr(r)
			}
		} else if r.IsZero() {
			return lhs
		}
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// newEqExpr returns an expression that represents the equality of lhs and rhs.
func newEqExpr(lhs, rhs Expr) Expr {
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Eq(rhs)
		}

		width := lhs.Width
		switch rhs := rhs.(type) {
		case *BinaryExpr:
			switch rhs.Op {
			case ADD:
				if k, ok := rhs.LHS.(*ConstantExpr); ok { // C == K + x => C - K == x
					return NewBinaryExpr(EQ, lhs.Sub(k), rhs.RHS)
				}
			case XOR:
				if k, ok := rhs.LHS.(*ConstantExpr); ok { // C == K ^ x => C ^ K == x
					return NewBinaryExpr(EQ, lhs.Xor(k), rhs.RHS)
				}
			}
			if width == WidthBool {
				if lhs.IsTrue() {
					return rhs
				}
				return NewNotExpr(rhs)
			}

		case *NotExpr: // C == ~x => ~C == x
			return NewBinaryExpr(EQ, lhs.Not(), rhs.Expr)

		case *CastExpr:
			trunc := lhs.Trunc(ExprWidth(rhs.Src))
			var ext *ConstantExpr
			if rhs.Signed {
				ext = trunc.SExt(width)
			} else {
				ext = trunc.ZExt(width)
			}
			if CompareExpr(lhs, ext) != 0 {
				return NewBoolConstantExpr(false)
			}
			return NewBinaryExpr(EQ, trunc, rhs.Src)

		case *ConcatExpr: // C == concat(x, y) => C.hi == x && C.lo == y
			lw := ExprWidth(rhs.LSB)
			return NewBinaryExpr(AND,
				NewBinaryExpr(EQ, lhs.Extract(lw, width-lw), rhs.MSB),
				NewBinaryExpr(EQ, lhs.Extract(0, lw), rhs.LSB),
			)

		case *IteExpr:
			if t, ok := rhs.Then.(*ConstantExpr); ok {
				if f, ok := rhs.Else.(*ConstantExpr); ok {
					switch onT, onF := lhs.Equal(t), lhs.Equal(f); {
					case onT && onF:
						return NewBoolConstantExpr(true)
					case onT:
						return rhs.Cond
					case onF:
						return NewNotExpr(rhs.Cond)
					default:
						return NewBoolConstantExpr(false)
					}
				}
			}

		default:
			if width == WidthBool {
				if lhs.IsTrue() {
					return rhs
				}
				return NewNotExpr(rhs)
			}
		}
	}

	if CompareExpr(lhs, rhs) == 0 {
		return NewBoolConstantExpr(true)
	}
	return &BinaryExpr{Op: EQ, LHS: lhs, RHS: rhs}
}

// newCompareExpr returns an ordered comparison of lhs against rhs.
// Only ULT, ULE, SLT & SLE are constructed; the rest are reversed.
func newCompareExpr(op BinaryOp, lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			switch op {
			case ULT:
				return lhs.Ult(rhs)
			case ULE:
				return lhs.Ule(rhs)
			case SLT:
				return lhs.Slt(rhs)
			default:
				return lhs.Sle(rhs)
			}
		}
	}
	if CompareExpr(lhs, rhs) == 0 {
		return NewBoolConstantExpr(op == ULE || op == SLE)
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// SymbolExpr represents a free variable declared in a ConstraintSet.
type SymbolExpr struct {
	ID    uint64
	Name  string
	Width uint
}

// String returns the string representation of the expression.
func (e *SymbolExpr) String() string {
	return fmt.Sprintf("(sym %s %d)", e.Name, e.Width)
}

// ConcatExpr represents a concatenation of two expressions.
type ConcatExpr struct {
	MSB Expr
	LSB Expr
}

// NewConcatExpr returns a new instance of ConcatExpr.
func NewConcatExpr(msb, lsb Expr) Expr {
	if msb, ok := msb.(*ConstantExpr); ok {
		if lsb, ok := lsb.(*ConstantExpr); ok {
			return msb.Concat(lsb)
		}
	}

	// Combine extract expressions if they are contiguous.
	if msb, ok := msb.(*ExtractExpr); ok {
		if lsb, ok := lsb.(*ExtractExpr); ok {
			if msb.Expr == lsb.Expr && lsb.Offset+lsb.Width == msb.Offset {
				return NewExtractExpr(msb.Expr, lsb.Offset, msb.Width+lsb.Width)
			}
		}
	}

	// A zero MSB is a zero extension.
	if msb, ok := msb.(*ConstantExpr); ok && msb.IsZero() {
		return newZExtExpr(lsb, msb.Width+ExprWidth(lsb))
	}

	return &ConcatExpr{MSB: msb, LSB: lsb}
}

// NewConcatExprs concatenates exprs where the first element is the most significant.
func NewConcatExprs(exprs ...Expr) Expr {
	assert(len(exprs) > 0, "concat requires at least one expression")
	result := exprs[len(exprs)-1]
	for i := len(exprs) - 2; i >= 0; i-- {
		result = NewConcatExpr(exprs[i], result)
	}
	return result
}

// String returns the string representation of the expression.
func (e *ConcatExpr) String() string {
	return fmt.Sprintf("(concat %s %s)", e.MSB, e.LSB)
}

// ExtractExpr represents the extraction of a set of bits at a given offset/width.
type ExtractExpr struct {
	Expr   Expr
	Offset uint
	Width  uint
}

// NewExtractExpr returns an expression for width bits of expr starting at bit offset.
func NewExtractExpr(expr Expr, offset uint, width uint) Expr {
	kw := ExprWidth(expr)
	assert(width > 0, "extract width cannot be zero")
	assert(offset+width <= kw, "extract out of bounds: %d+%d > %d", offset, width, kw)

	if width == kw {
		return expr
	}

	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Extract(offset, width)

	case *ConcatExpr:
		lw := ExprWidth(expr.LSB)
		if offset >= lw {
			return NewExtractExpr(expr.MSB, offset-lw, width)
		} else if offset+width <= lw {
			return NewExtractExpr(expr.LSB, offset, width)
		}
		// E(C(x,y)) = C(E(x), E(y))
		return NewConcatExpr(
			NewExtractExpr(expr.MSB, 0, offset+width-lw),
			NewExtractExpr(expr.LSB, offset, lw-offset),
		)

	case *ExtractExpr:
		return NewExtractExpr(expr.Expr, expr.Offset+offset, width)

	case *CastExpr:
		sw := ExprWidth(expr.Src)
		if offset+width <= sw {
			return NewExtractExpr(expr.Src, offset, width)
		} else if !expr.Signed && offset >= sw {
			return NewConstantExpr(0, width)
		}

	case *IteExpr:
		if IsConstantExpr(expr.Then) && IsConstantExpr(expr.Else) {
			return NewIteExpr(expr.Cond, NewExtractExpr(expr.Then, offset, width), NewExtractExpr(expr.Else, offset, width))
		}
	}

	return &ExtractExpr{Expr: expr, Offset: offset, Width: width}
}

// String returns the string representation of the expression.
func (e *ExtractExpr) String() string {
	return fmt.Sprintf("(extract %s %d %d)", e.Expr, e.Offset, e.Width)
}

// NotExpr represents a bitwise not of an expression.
type NotExpr struct {
	Expr Expr
}

// NewNotExpr returns a new instance of NotExpr.
func NewNotExpr(expr Expr) Expr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Not()
	case *NotExpr:
		return expr.Expr
	}
	return &NotExpr{Expr: expr}
}

// String returns the string representation of the expression.
func (e *NotExpr) String() string {
	return fmt.Sprintf("(not %s)", e.Expr)
}

// IteExpr represents an if-then-else selection between two expressions.
type IteExpr struct {
	Cond Expr
	Then Expr
	Else Expr
}

// NewIteExpr returns an expression that evaluates to then if cond is true
// and to els otherwise. cond must be one bit wide.
func NewIteExpr(cond, then, els Expr) Expr {
	assert(ExprWidth(cond) == WidthBool, "ite condition must be boolean: %d", ExprWidth(cond))
	assert(ExprWidth(then) == ExprWidth(els), "ite width mismatch: %d != %d", ExprWidth(then), ExprWidth(els))

	if cond, ok := cond.(*ConstantExpr); ok {
		if cond.IsTrue() {
			return then
		}
		return els
	}
	if CompareExpr(then, els) == 0 {
		return then
	}
	if ExprWidth(then) == WidthBool && IsConstantExpr(then) && IsConstantExpr(els) {
		if IsConstantTrue(then) {
			return cond
		}
		return NewNotExpr(cond)
	}
	if cond, ok := cond.(*NotExpr); ok {
		return &IteExpr{Cond: cond.Expr, Then: els, Else: then}
	}
	return &IteExpr{Cond: cond, Then: then, Else: els}
}

// String returns the string representation of the expression.
func (e *IteExpr) String() string {
	return fmt.Sprintf("(ite %s %s %s)", e.Cond, e.Then, e.Else)
}

// CastExpr represents an expression that extends an expression to a new width.
type CastExpr struct {
	Src    Expr
	Width  uint
	Signed bool
}

// NewCastExpr returns src zero or sign extended to width. Narrower widths truncate.
func NewCastExpr(src Expr, width uint, signed bool) Expr {
	if signed {
		return newSExtExpr(src, width)
	}
	return newZExtExpr(src, width)
}

// NewZExtExpr returns src zero extended, or truncated, to w bits.
func NewZExtExpr(src Expr, w uint) Expr { return newZExtExpr(src, w) }

// NewSExtExpr returns src sign extended, or truncated, to w bits.
func NewSExtExpr(src Expr, w uint) Expr { return newSExtExpr(src, w) }

func newZExtExpr(src Expr, w uint) Expr {
	sw := ExprWidth(src)
	if w == sw {
		return src
	} else if w < sw {
		return NewExtractExpr(src, 0, w)
	} else if k, ok := src.(*ConstantExpr); ok {
		return k.ZExt(w)
	} else if c, ok := src.(*CastExpr); ok && !c.Signed {
		return &CastExpr{Src: c.Src, Width: w}
	}
	return &CastExpr{Src: src, Width: w, Signed: false}
}

func newSExtExpr(src Expr, w uint) Expr {
	sw := ExprWidth(src)
	if w == sw {
		return src
	} else if w < sw {
		return NewExtractExpr(src, 0, w)
	} else if k, ok := src.(*ConstantExpr); ok {
		return k.SExt(w)
	}
	return &CastExpr{Src: src, Width: w, Signed: true}
}

// String returns the string representation of the expression.
func (e *CastExpr) String() string {
	if e.Signed {
		return fmt.Sprintf("(sext %s %d)", e.Src, e.Width)
	}
	return fmt.Sprintf("(zext %s %d)", e.Src, e.Width)
}

// NewIsZeroExpr returns an expression that checks the equality of other to zero.
func NewIsZeroExpr(other Expr) Expr {
	return NewBinaryExpr(EQ, other, NewConstantExpr(0, ExprWidth(other)))
}

// NewBoolExpr returns a one-bit expression that is true if other is non-zero.
func NewBoolExpr(other Expr) Expr {
	if ExprWidth(other) == WidthBool {
		return other
	}
	return NewNotExpr(NewIsZeroExpr(other))
}

// IsConstantExpr returns true if expr is an instance of ConstantExpr.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// IsConstantTrue returns true if expr is an instance of ConstantExpr and is true.
func IsConstantTrue(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsTrue()
}

// IsConstantFalse returns true if expr is an instance of ConstantExpr and is false.
func IsConstantFalse(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsFalse()
}

// CompareExpr returns an integer comparing two expressions structurally.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareExpr(a, b Expr) int {
	if a == b {
		return 0
	} else if a == nil {
		return -1
	} else if b == nil {
		return 1
	}

	if ak, bk := exprKind(a), exprKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *ConstantExpr:
		return compareConstantExpr(a, b.(*ConstantExpr))
	case *SymbolExpr:
		return compareUint64(a.ID, b.(*SymbolExpr).ID)
	case *ConcatExpr:
		b := b.(*ConcatExpr)
		if cmp := CompareExpr(a.MSB, b.MSB); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.LSB, b.LSB)
	case *ExtractExpr:
		b := b.(*ExtractExpr)
		if cmp := compareUint64(uint64(a.Offset), uint64(b.Offset)); cmp != 0 {
			return cmp
		} else if cmp := compareUint64(uint64(a.Width), uint64(b.Width)); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.Expr, b.Expr)
	case *NotExpr:
		return CompareExpr(a.Expr, b.(*NotExpr).Expr)
	case *CastExpr:
		b := b.(*CastExpr)
		if a.Signed != b.Signed {
			if !a.Signed {
				return -1
			}
			return 1
		} else if cmp := compareUint64(uint64(a.Width), uint64(b.Width)); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.Src, b.Src)
	case *IteExpr:
		b := b.(*IteExpr)
		if cmp := CompareExpr(a.Cond, b.Cond); cmp != 0 {
			return cmp
		} else if cmp := CompareExpr(a.Then, b.Then); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.Else, b.Else)
	case *BinaryExpr:
		b := b.(*BinaryExpr)
		if a.Op != b.Op {
			if a.Op < b.Op {
				return -1
			}
			return 1
		} else if cmp := CompareExpr(a.LHS, b.LHS); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.RHS, b.RHS)
	default:
		panic("unreachable")
	}
}

func compareConstantExpr(a, b *ConstantExpr) int {
	if cmp := compareUint64(uint64(a.Width), uint64(b.Width)); cmp != 0 {
		return cmp
	}
	return a.Value.Cmp(&b.Value)
}

func compareUint64(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// exprKind returns a numeric value for the type of expression.
// Only used internally for equality checks and sorting.
func exprKind(expr Expr) int {
	switch expr.(type) {
	case *ConstantExpr:
		return 1
	case *SymbolExpr:
		return 2
	case *ConcatExpr:
		return 3
	case *ExtractExpr:
		return 4
	case *NotExpr:
		return 5
	case *CastExpr:
		return 6
	case *IteExpr:
		return 7
	case *BinaryExpr:
		return 8
	default:
		panic("unreachable")
	}
}

// ExprVisitor represents a visitor that can be passed to WalkExpr().
type ExprVisitor interface {
	// Visit is called for every node. Returning nil skips the children.
	Visit(expr Expr) ExprVisitor
}

// WalkExpr traverses expr depth-first. Shared subexpressions are visited
// once per walk.
func WalkExpr(v ExprVisitor, expr Expr) {
	walkExpr(v, expr, make(map[Expr]struct{}))
}

func walkExpr(v ExprVisitor, expr Expr, seen map[Expr]struct{}) {
	if _, ok := seen[expr]; ok {
		return
	}
	seen[expr] = struct{}{}

	if v = v.Visit(expr); v == nil {
		return
	}

	switch expr := expr.(type) {
	case *BinaryExpr:
		walkExpr(v, expr.LHS, seen)
		walkExpr(v, expr.RHS, seen)
	case *CastExpr:
		walkExpr(v, expr.Src, seen)
	case *ConcatExpr:
		walkExpr(v, expr.MSB, seen)
		walkExpr(v, expr.LSB, seen)
	case *ExtractExpr:
		walkExpr(v, expr.Expr, seen)
	case *NotExpr:
		walkExpr(v, expr.Expr, seen)
	case *IteExpr:
		walkExpr(v, expr.Cond, seen)
		walkExpr(v, expr.Then, seen)
		walkExpr(v, expr.Else, seen)
	case *ConstantExpr, *SymbolExpr:
		// nop
	default:
		panic("unreachable")
	}
}

// FindSymbols returns all symbols referenced by exprs, ordered by ID.
func FindSymbols(exprs ...Expr) []*SymbolExpr {
	v := &symbolVisitor{m: make(map[uint64]*SymbolExpr)}
	seen := make(map[Expr]struct{})
	for _, expr := range exprs {
		walkExpr(v, expr, seen)
	}

	a := make([]*SymbolExpr, 0, len(v.m))
	for _, sym := range v.m {
		a = append(a, sym)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].ID < a[j].ID })
	return a
}

type symbolVisitor struct {
	m map[uint64]*SymbolExpr
}

func (v *symbolVisitor) Visit(expr Expr) ExprVisitor {
	if sym, ok := expr.(*SymbolExpr); ok {
		v.m[sym.ID] = sym
	}
	return v
}

// IsSymbolic returns true if expr references any symbol.
func IsSymbolic(expr Expr) bool {
	return !IsConstantExpr(expr)
}

// ExprEvaluator evaluates expressions under an assignment of symbols to values.
type ExprEvaluator struct {
	values map[uint64]*ConstantExpr
	cache  map[Expr]*ConstantExpr
}

// NewExprEvaluator returns a new instance of ExprEvaluator with no bindings.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		values: make(map[uint64]*ConstantExpr),
		cache:  make(map[Expr]*ConstantExpr),
	}
}

// Bind assigns value to sym for subsequent evaluations.
func (ee *ExprEvaluator) Bind(sym *SymbolExpr, value *ConstantExpr) {
	assert(sym.Width == value.Width, "bind width mismatch: %s: %d != %d", sym.Name, sym.Width, value.Width)
	ee.values[sym.ID] = value
	clear(ee.cache)
}

// Evaluate evaluates expr to a constant expression.
// Returns an error if an unbound symbol is encountered.
func (ee *ExprEvaluator) Evaluate(expr Expr) (*ConstantExpr, error) {
	if c, ok := expr.(*ConstantExpr); ok {
		return c, nil
	} else if c, ok := ee.cache[expr]; ok {
		return c, nil
	}

	c, err := ee.evaluate(expr)
	if err != nil {
		return nil, err
	}
	ee.cache[expr] = c
	return c, nil
}

func (ee *ExprEvaluator) evaluate(expr Expr) (*ConstantExpr, error) {
	switch expr := expr.(type) {
	case *SymbolExpr:
		value, ok := ee.values[expr.ID]
		if !ok {
			return nil, fmt.Errorf("symbol not bound: %s", expr.Name)
		}
		return value, nil
	case *BinaryExpr:
		lhs, err := ee.Evaluate(expr.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := ee.Evaluate(expr.RHS)
		if err != nil {
			return nil, err
		}
		return lhs.Binary(expr.Op, rhs), nil
	case *CastExpr:
		src, err := ee.Evaluate(expr.Src)
		if err != nil {
			return nil, err
		} else if expr.Signed {
			return src.SExt(expr.Width), nil
		}
		return src.ZExt(expr.Width), nil
	case *ConcatExpr:
		msb, err := ee.Evaluate(expr.MSB)
		if err != nil {
			return nil, err
		}
		lsb, err := ee.Evaluate(expr.LSB)
		if err != nil {
			return nil, err
		}
		return msb.Concat(lsb), nil
	case *ExtractExpr:
		src, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return src.Extract(expr.Offset, expr.Width), nil
	case *NotExpr:
		src, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return src.Not(), nil
	case *IteExpr:
		cond, err := ee.Evaluate(expr.Cond)
		if err != nil {
			return nil, err
		} else if cond.IsTrue() {
			return ee.Evaluate(expr.Then)
		}
		return ee.Evaluate(expr.Else)
	default:
		return nil, fmt.Errorf("invalid expression type: %T", expr)
	}
}

// FormatExprs returns exprs joined one per line, for diagnostics.
func FormatExprs(exprs []Expr) string {
	var sb strings.Builder
	for i, expr := range exprs {
		fmt.Fprintf(&sb, "%d. %s\n", i, expr)
	}
	return sb.String()
}

// minBytes returns smallest number of bytes in which the w fits.
func minBytes(bits uint) uint {
	return (bits + 7) / 8
}

// uint256 helpers shared by the constant implementation.
var masks [MaxWidth + 1]uint256.Int

func init() {
	one := uint256.NewInt(1)
	for w := uint(0); w < MaxWidth; w++ {
		masks[w].Lsh(one, w)
		masks[w].Sub(&masks[w], one)
	}
	masks[MaxWidth].SetAllOne()
}
