package symx

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// ConstantExpr represents a concrete unsigned integer of up to MaxWidth bits.
// Value is always masked to Width and must not be modified after construction.
type ConstantExpr struct {
	Value uint256.Int
	Width uint
}

// NewConstantExpr returns a new instance of ConstantExpr.
func NewConstantExpr(value uint64, width uint) *ConstantExpr {
	assert(width > 0 && width <= MaxWidth, "invalid constant width: %d", width)
	e := &ConstantExpr{Width: width}
	e.Value.SetUint64(value)
	e.Value.And(&e.Value, &masks[width])
	return e
}

// NewConstantExprInt returns a constant holding value masked to width.
func NewConstantExprInt(value *uint256.Int, width uint) *ConstantExpr {
	assert(width > 0 && width <= MaxWidth, "invalid constant width: %d", width)
	e := &ConstantExpr{Width: width}
	e.Value.And(value, &masks[width])
	return e
}

// NewConstantExprBytes returns a constant from little-endian bytes.
func NewConstantExprBytes(p []byte) *ConstantExpr {
	assert(len(p) > 0 && len(p) <= MaxWidth/8, "invalid constant byte length: %d", len(p))
	be := make([]byte, len(p))
	for i := range p {
		be[len(p)-1-i] = p[i]
	}
	e := &ConstantExpr{Width: uint(len(p)) * 8}
	e.Value.SetBytes(be)
	return e
}

// ParseConstantExpr parses a decimal or 0x-prefixed hexadecimal literal.
// Returns an error if the literal does not fit in width bits.
func ParseConstantExpr(s string, width uint) (*ConstantExpr, error) {
	if width == 0 || width > MaxWidth {
		return nil, fmt.Errorf("invalid constant width: %d", width)
	}

	var v *uint256.Int
	var err error
	if lower := strings.ToLower(s); strings.HasPrefix(lower, "0x") {
		digits := strings.TrimLeft(lower[2:], "0")
		if digits == "" {
			digits = "0"
		}
		v, err = uint256.FromHex("0x" + digits)
	} else {
		v, err = uint256.FromDecimal(s)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse constant %q", s)
	} else if uint(v.BitLen()) > width {
		return nil, fmt.Errorf("constant %s overflows %d bits", s, width)
	}
	return &ConstantExpr{Value: *v, Width: width}, nil
}

// MustParseConstantExpr is like ParseConstantExpr but panics on error.
func MustParseConstantExpr(s string, width uint) *ConstantExpr {
	e, err := ParseConstantExpr(s, width)
	if err != nil {
		panic(err)
	}
	return e
}

// NewConstantExpr8 returns a 8-bit constant expression.
func NewConstantExpr8(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 8)
}

// NewConstantExpr16 returns a 16-bit constant expression.
func NewConstantExpr16(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 16)
}

// NewConstantExpr32 returns a 32-bit constant expression.
func NewConstantExpr32(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 32)
}

// NewConstantExpr64 returns a 64-bit constant expression.
func NewConstantExpr64(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 64)
}

// NewBoolConstantExpr is an ease of use function for creating constant boolean expressions.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	if value {
		return NewConstantExpr(1, WidthBool)
	}
	return NewConstantExpr(0, WidthBool)
}

// String returns the string representation of the expression.
func (e *ConstantExpr) String() string {
	return fmt.Sprintf("(const %s %d)", e.Value.Hex(), e.Width)
}

// Uint64 returns the low 64 bits of the value.
func (e *ConstantExpr) Uint64() uint64 { return e.Value.Uint64() }

// Int returns a copy of the value.
func (e *ConstantExpr) Int() *uint256.Int { return e.Value.Clone() }

// Bytes returns the value as Width/8 little-endian bytes.
func (e *ConstantExpr) Bytes() []byte {
	n := minBytes(e.Width)
	b32 := e.Value.Bytes32()
	p := make([]byte, n)
	for i := uint(0); i < n; i++ {
		p[i] = b32[31-i]
	}
	return p
}

// IsTrue returns true if this is a boolean true expression.
func (e *ConstantExpr) IsTrue() bool {
	return e.Width == WidthBool && !e.Value.IsZero()
}

// IsFalse returns true if this is a boolean false expression.
func (e *ConstantExpr) IsFalse() bool {
	return e.Width == WidthBool && e.Value.IsZero()
}

// IsZero returns true if the value is zero.
func (e *ConstantExpr) IsZero() bool { return e.Value.IsZero() }

// IsOne returns true if the value is one.
func (e *ConstantExpr) IsOne() bool { return e.Value.IsUint64() && e.Value.Uint64() == 1 }

// IsAllOnes returns true if all bits in the value are one.
func (e *ConstantExpr) IsAllOnes() bool {
	return e.Value.Eq(&masks[e.Width])
}

// Equal returns true if e and other have the same width and value.
func (e *ConstantExpr) Equal(other *ConstantExpr) bool {
	return e.Width == other.Width && e.Value.Eq(&other.Value)
}

// Bit returns the value of bit i.
func (e *ConstantExpr) Bit(i uint) bool {
	var v uint256.Int
	v.Rsh(&e.Value, i)
	return v[0]&1 == 1
}

// signed returns the value sign extended to 256 bits.
func (e *ConstantExpr) signed() *uint256.Int {
	v := e.Value.Clone()
	if e.Width < MaxWidth && e.Bit(e.Width-1) {
		var hi uint256.Int
		hi.Not(&masks[e.Width])
		v.Or(v, &hi)
	}
	return v
}

// Binary applies op to e and other. Comparison operators return a boolean constant.
func (e *ConstantExpr) Binary(op BinaryOp, other *ConstantExpr) *ConstantExpr {
	switch op {
	case ADD:
		return e.Add(other)
	case SUB:
		return e.Sub(other)
	case MUL:
		return e.Mul(other)
	case UDIV:
		return e.UDiv(other)
	case SDIV:
		return e.SDiv(other)
	case UREM:
		return e.URem(other)
	case SREM:
		return e.SRem(other)
	case AND:
		return e.And(other)
	case OR:
		return e.Or(other)
	case XOR:
		return e.Xor(other)
	case SHL:
		return e.Shl(other)
	case LSHR:
		return e.LShr(other)
	case ASHR:
		return e.AShr(other)
	case EQ:
		return e.Eq(other)
	case NE:
		return e.Eq(other).Not()
	case ULT:
		return e.Ult(other)
	case ULE:
		return e.Ule(other)
	case UGT:
		return other.Ult(e)
	case UGE:
		return other.Ule(e)
	case SLT:
		return e.Slt(other)
	case SLE:
		return e.Sle(other)
	case SGT:
		return other.Slt(e)
	case SGE:
		return other.Sle(e)
	default:
		panic(fmt.Sprintf("invalid binary op: %s", op))
	}
}

func (e *ConstantExpr) result(v *uint256.Int) *ConstantExpr {
	return NewConstantExprInt(v, e.Width)
}

// Add returns the sum of e and other.
func (e *ConstantExpr) Add(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "add: width mismatch: %d != %d", e.Width, other.Width)
	return e.result(new(uint256.Int).Add(&e.Value, &other.Value))
}

// Sub returns the difference of e and other.
func (e *ConstantExpr) Sub(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "sub: width mismatch: %d != %d", e.Width, other.Width)
	return e.result(new(uint256.Int).Sub(&e.Value, &other.Value))
}

// Neg returns the two's complement negation of e.
func (e *ConstantExpr) Neg() *ConstantExpr {
	return e.result(new(uint256.Int).Neg(&e.Value))
}

// Mul returns the product of e and other.
func (e *ConstantExpr) Mul(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "mul: width mismatch: %d != %d", e.Width, other.Width)
	return e.result(new(uint256.Int).Mul(&e.Value, &other.Value))
}

// UDiv returns the quotient of unsigned division of e and other.
// Division by zero yields all ones.
func (e *ConstantExpr) UDiv(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "udiv: width mismatch: %d != %d", e.Width, other.Width)
	if other.IsZero() {
		return e.result(&masks[e.Width])
	}
	return e.result(new(uint256.Int).Div(&e.Value, &other.Value))
}

// SDiv returns the quotient of signed division of e and other.
// Division by zero yields -1 for a non-negative dividend and 1 otherwise.
func (e *ConstantExpr) SDiv(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "sdiv: width mismatch: %d != %d", e.Width, other.Width)
	if other.IsZero() {
		if e.Bit(e.Width - 1) {
			return NewConstantExpr(1, e.Width)
		}
		return e.result(&masks[e.Width])
	}
	return e.result(new(uint256.Int).SDiv(e.signed(), other.signed()))
}

// URem returns the remainder of unsigned division of e and other.
// Division by zero yields e.
func (e *ConstantExpr) URem(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "urem: width mismatch: %d != %d", e.Width, other.Width)
	if other.IsZero() {
		return e
	}
	return e.result(new(uint256.Int).Mod(&e.Value, &other.Value))
}

// SRem returns the remainder of signed division of e and other. The sign
// of the result follows the dividend. Division by zero yields e.
func (e *ConstantExpr) SRem(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "srem: width mismatch: %d != %d", e.Width, other.Width)
	if other.IsZero() {
		return e
	}
	return e.result(new(uint256.Int).SMod(e.signed(), other.signed()))
}

// And returns the bitwise AND of e and other.
func (e *ConstantExpr) And(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "and: width mismatch: %d != %d", e.Width, other.Width)
	return e.result(new(uint256.Int).And(&e.Value, &other.Value))
}

// Or returns the bitwise OR of e and other.
func (e *ConstantExpr) Or(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "or: width mismatch: %d != %d", e.Width, other.Width)
	return e.result(new(uint256.Int).Or(&e.Value, &other.Value))
}

// Xor returns the bitwise XOR of e and other.
func (e *ConstantExpr) Xor(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "xor: width mismatch: %d != %d", e.Width, other.Width)
	return e.result(new(uint256.Int).Xor(&e.Value, &other.Value))
}

// shiftAmount returns the shift count and whether it is at least the width.
func (e *ConstantExpr) shiftAmount(other *ConstantExpr) (uint, bool) {
	if !other.Value.IsUint64() || other.Value.Uint64() >= uint64(e.Width) {
		return 0, true
	}
	return uint(other.Value.Uint64()), false
}

// Shl returns the value of e shifted left by other number of bits.
func (e *ConstantExpr) Shl(other *ConstantExpr) *ConstantExpr {
	n, overflow := e.shiftAmount(other)
	if overflow {
		return NewConstantExpr(0, e.Width)
	}
	return e.result(new(uint256.Int).Lsh(&e.Value, n))
}

// LShr returns the value of e logically shifted right by other number of bits.
func (e *ConstantExpr) LShr(other *ConstantExpr) *ConstantExpr {
	n, overflow := e.shiftAmount(other)
	if overflow {
		return NewConstantExpr(0, e.Width)
	}
	return e.result(new(uint256.Int).Rsh(&e.Value, n))
}

// AShr returns the value of e arithmetically shifted right by other number of bits.
func (e *ConstantExpr) AShr(other *ConstantExpr) *ConstantExpr {
	n, overflow := e.shiftAmount(other)
	if overflow {
		if e.Bit(e.Width - 1) {
			return e.result(&masks[e.Width])
		}
		return NewConstantExpr(0, e.Width)
	}
	return e.result(new(uint256.Int).SRsh(e.signed(), n))
}

// Eq returns the equality of e and other.
func (e *ConstantExpr) Eq(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "eq: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.Value.Eq(&other.Value))
}

// Ult returns the unsigned less than comparison of e to other.
func (e *ConstantExpr) Ult(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "ult: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.Value.Lt(&other.Value))
}

// Ule returns the unsigned less than or equal to comparison of e to other.
func (e *ConstantExpr) Ule(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "ule: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(!other.Value.Lt(&e.Value))
}

// Slt returns the signed less than comparison of e to other.
func (e *ConstantExpr) Slt(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "slt: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.signed().Slt(other.signed()))
}

// Sle returns the signed less than or equal to comparison of e to other.
func (e *ConstantExpr) Sle(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "sle: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(!other.signed().Slt(e.signed()))
}

// ZExt returns the zero-extension of e to a new width. Narrower widths truncate.
func (e *ConstantExpr) ZExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	}
	return NewConstantExprInt(&e.Value, width)
}

// SExt returns the sign-extension of e to a new width. Narrower widths truncate.
func (e *ConstantExpr) SExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	}
	return NewConstantExprInt(e.signed(), width)
}

// Trunc returns the low width bits of e.
func (e *ConstantExpr) Trunc(width uint) *ConstantExpr {
	assert(width <= e.Width, "trunc: %d > %d", width, e.Width)
	return e.ZExt(width)
}

// Not returns the bitwise NOT of the expression.
func (e *ConstantExpr) Not() *ConstantExpr {
	return e.result(new(uint256.Int).Not(&e.Value))
}

// Extract returns width number of bits starting at offset.
func (e *ConstantExpr) Extract(offset, width uint) *ConstantExpr {
	assert(offset+width <= e.Width, "extract out of bounds: %d+%d > %d", offset, width, e.Width)
	return NewConstantExprInt(new(uint256.Int).Rsh(&e.Value, offset), width)
}

// Concat returns the concatenation of e and lsb.
func (e *ConstantExpr) Concat(lsb *ConstantExpr) *ConstantExpr {
	width := e.Width + lsb.Width
	assert(width <= MaxWidth, "concat too wide: %d", width)
	v := new(uint256.Int).Lsh(&e.Value, lsb.Width)
	return NewConstantExprInt(v.Or(v, &lsb.Value), width)
}
