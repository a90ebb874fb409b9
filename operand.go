package symx

import (
	"fmt"

	"github.com/pkg/errors"
)

// Operand is a fixed-width source value of an instruction.
type Operand interface {
	// Width returns the operand width, in bits.
	Width() uint

	// Read returns the current value, exactly Width() bits wide.
	Read() (Expr, error)

	String() string
}

// WritableOperand is an Operand that can also be a destination.
type WritableOperand interface {
	Operand

	// Write stores value zero extended or truncated to Width() bits.
	Write(value Expr) error
}

var _ Operand = (*ImmediateOperand)(nil)

// ImmediateOperand is a constant encoded in the instruction. It cannot be written.
type ImmediateOperand struct {
	Value *ConstantExpr
}

// NewImmediateOperand returns an immediate of the given width.
func NewImmediateOperand(value uint64, width uint) *ImmediateOperand {
	return &ImmediateOperand{Value: NewConstantExpr(value, width)}
}

// Width returns the width of the immediate.
func (op *ImmediateOperand) Width() uint { return op.Value.Width }

// Read returns the immediate value.
func (op *ImmediateOperand) Read() (Expr, error) { return op.Value, nil }

// String returns the immediate in hex.
func (op *ImmediateOperand) String() string {
	return "$" + op.Value.Value.Hex()
}

var _ WritableOperand = (*RegisterOperand)(nil)

// RegisterOperand refers to a named register in a register file.
type RegisterOperand struct {
	File *RegisterFile
	Name string
}

// NewRegisterOperand returns an operand for the named register.
// Returns ErrUnknownRegister if name is not in f.
func NewRegisterOperand(f *RegisterFile, name string) (*RegisterOperand, error) {
	if f.Width(name) == 0 {
		return nil, errors.Wrap(ErrUnknownRegister, name)
	}
	return &RegisterOperand{File: f, Name: name}, nil
}

// Width returns the register width.
func (op *RegisterOperand) Width() uint { return op.File.Width(op.Name) }

// Read returns the current register value.
func (op *RegisterOperand) Read() (Expr, error) { return op.File.Read(op.Name) }

// Write sets the register. Sub-register writes follow the file's aliasing rules.
func (op *RegisterOperand) Write(value Expr) error { return op.File.Write(op.Name, value) }

// String returns the register name.
func (op *RegisterOperand) String() string { return op.Name }

var _ WritableOperand = (*MemoryOperand)(nil)

// MemoryOperand refers to Size bytes of memory at a concrete address.
type MemoryOperand struct {
	Memory Memory
	Addr   uint64
	Size   uint // bytes
}

// Width returns the operand width, in bits.
func (op *MemoryOperand) Width() uint { return op.Size * 8 }

// Read returns the value at the operand's address.
func (op *MemoryOperand) Read() (Expr, error) { return op.Memory.Read(op.Addr, op.Size) }

// Write stores value at the operand's address.
func (op *MemoryOperand) Write(value Expr) error {
	return op.Memory.Write(op.Addr, NewZExtExpr(value, op.Width()))
}

// String returns the operand in "[addr:size]" form.
func (op *MemoryOperand) String() string {
	return fmt.Sprintf("[%#x:%d]", op.Addr, op.Size)
}
