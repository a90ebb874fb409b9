package x86

import (
	"fmt"

	"github.com/benbjohnson/symx"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// Instruction is a decoded instruction with operands bound to a CPU.
type Instruction struct {
	Addr uint64
	Len  int
	Op   x86asm.Op
	Inst x86asm.Inst
	Args []symx.Operand
}

// Next returns the address of the following instruction.
func (inst *Instruction) Next() uint64 {
	return inst.Addr + uint64(inst.Len)
}

// String returns the instruction in Intel syntax.
func (inst *Instruction) String() string {
	return x86asm.IntelSyntax(inst.Inst, inst.Addr, nil)
}

// dst returns argument i as a destination.
func (inst *Instruction) dst(i int) (symx.WritableOperand, error) {
	if i >= len(inst.Args) {
		return nil, errors.Errorf("%s: missing operand %d", inst.Op, i)
	}
	op, ok := inst.Args[i].(symx.WritableOperand)
	if !ok {
		return nil, errors.Errorf("%s: operand %d is not writable: %s", inst.Op, i, inst.Args[i])
	}
	return op, nil
}

// src returns argument i.
func (inst *Instruction) src(i int) (symx.Operand, error) {
	if i >= len(inst.Args) {
		return nil, errors.Errorf("%s: missing operand %d", inst.Op, i)
	}
	return inst.Args[i], nil
}

var _ symx.Operand = (*AddressOperand)(nil)

// AddressOperand is the effective address of a memory argument that the
// instruction computes but never accesses, such as the source of LEA.
type AddressOperand struct {
	Addr symx.Expr
}

// Width returns the address width.
func (op *AddressOperand) Width() uint { return symx.Width64 }

// Read returns the effective address.
func (op *AddressOperand) Read() (symx.Expr, error) { return op.Addr, nil }

// String returns the address expression.
func (op *AddressOperand) String() string { return fmt.Sprintf("&%s", op.Addr) }

// decode fetches and decodes the instruction at RIP and binds its operands.
func (cpu *CPU) decode() (*Instruction, error) {
	pc, err := cpu.concrete("RIP")
	if err != nil {
		return nil, err
	}

	code, err := cpu.mem.Fetch(pc, MaxInstructionLen)
	if err != nil {
		return nil, err
	}

	// The decoder reports a truncated encoding as a bare prefix.
	inst, err := x86asm.Decode(code, 64)
	if err == nil && inst.Op == 0 {
		err = x86asm.ErrTruncated
	}
	if err == x86asm.ErrTruncated && len(code) < MaxInstructionLen {
		// Report why the fetch stopped short: a symbolic or non-executable byte.
		if _, ferr := cpu.mem.Fetch(pc+uint64(len(code)), 1); ferr != nil {
			return nil, ferr
		}
	}
	if err != nil {
		return nil, &symx.DecodeFault{Addr: pc, Bytes: code, Err: err}
	}
	code = code[:inst.Len]

	for _, p := range inst.Prefix {
		if p == 0 {
			break
		} else if p&x86asm.PrefixInvalid != 0 {
			return nil, &symx.DecodeFault{Addr: pc, Bytes: code, Err: errors.Errorf("invalid prefix %s", p)}
		}
	}

	if handlers[inst.Op] == nil {
		return nil, &symx.DecodeFault{Addr: pc, Bytes: code, Err: errors.Wrap(symx.ErrUnsupported, inst.Op.String())}
	}

	args, err := cpu.operands(&inst, pc)
	if err != nil {
		var req *symx.ConcretizeRequest
		if errors.As(err, &req) {
			return nil, err
		}
		return nil, &symx.DecodeFault{Addr: pc, Bytes: code, Err: err}
	}

	return &Instruction{
		Addr: pc,
		Len:  inst.Len,
		Op:   inst.Op,
		Inst: inst,
		Args: args,
	}, nil
}

// operands binds the decoded arguments to the CPU's registers and memory.
func (cpu *CPU) operands(inst *x86asm.Inst, pc uint64) ([]symx.Operand, error) {
	next := pc + uint64(inst.Len)

	var args []symx.Operand
	for i, arg := range inst.Args {
		if arg == nil {
			break
		}

		switch arg := arg.(type) {
		case x86asm.Reg:
			name, ok := RegisterName(arg)
			if !ok {
				return nil, errors.Wrapf(symx.ErrUnsupported, "register %s", arg)
			}
			op, err := symx.NewRegisterOperand(cpu.regs, name)
			if err != nil {
				return nil, err
			}
			args = append(args, op)

		case x86asm.Imm:
			args = append(args, symx.NewImmediateOperand(uint64(arg), cpu.immWidth(inst, i)))

		case x86asm.Rel:
			args = append(args, symx.NewImmediateOperand(next+uint64(int64(arg)), symx.Width64))

		case x86asm.Mem:
			// Addresses that are never dereferenced may stay symbolic.
			if inst.Op == x86asm.LEA || inst.Op == x86asm.NOP {
				addr, err := cpu.effectiveAddress(inst, next, arg, false)
				if err != nil {
					return nil, err
				}
				args = append(args, &AddressOperand{Addr: addr})
				continue
			}

			addr, err := cpu.effectiveAddress(inst, next, arg, true)
			if err != nil {
				return nil, err
			}
			args = append(args, &symx.MemoryOperand{
				Memory: cpu.mem,
				Addr:   addr.(*symx.ConstantExpr).Uint64(),
				Size:   memSize(inst),
			})

		default:
			return nil, errors.Wrapf(symx.ErrUnsupported, "argument %s", arg)
		}
	}
	return args, nil
}

// effectiveAddress returns the address referenced by m. If concrete is true
// then a symbolic segment base, base or index register is returned as a
// concretization request.
func (cpu *CPU) effectiveAddress(inst *x86asm.Inst, next uint64, m x86asm.Mem, concrete bool) (symx.Expr, error) {
	var addr symx.Expr = symx.NewConstantExpr64(uint64(m.Disp))

	add := func(name string, scale uint64) error {
		v, err := cpu.regs.Read(name)
		if err != nil {
			return err
		} else if concrete && !symx.IsConstantExpr(v) {
			return &symx.ConcretizeRequest{Location: symx.RegisterLocation(name), Expr: v}
		}

		v = symx.NewZExtExpr(v, symx.Width64)
		if scale > 1 {
			v = symx.NewBinaryExpr(symx.MUL, v, symx.NewConstantExpr64(scale))
		}
		addr = symx.NewBinaryExpr(symx.ADD, addr, v)
		return nil
	}

	switch m.Segment {
	case x86asm.FS:
		if err := add("FS_BASE", 1); err != nil {
			return nil, err
		}
	case x86asm.GS:
		if err := add("GS_BASE", 1); err != nil {
			return nil, err
		}
	}

	if m.Base == x86asm.RIP {
		addr = symx.NewBinaryExpr(symx.ADD, addr, symx.NewConstantExpr64(next))
	} else if m.Base != 0 {
		name, ok := RegisterName(m.Base)
		if !ok {
			return nil, errors.Wrapf(symx.ErrUnsupported, "base register %s", m.Base)
		} else if err := add(name, 1); err != nil {
			return nil, err
		}
	}

	if m.Index != 0 {
		name, ok := RegisterName(m.Index)
		if !ok {
			return nil, errors.Wrapf(symx.ErrUnsupported, "index register %s", m.Index)
		} else if err := add(name, uint64(m.Scale)); err != nil {
			return nil, err
		}
	}

	if inst.AddrSize == 32 {
		addr = symx.NewZExtExpr(symx.NewExtractExpr(addr, 0, symx.Width32), symx.Width64)
	}
	return addr, nil
}

// immWidth returns the width of the immediate at argument i.
func (cpu *CPU) immWidth(inst *x86asm.Inst, i int) uint {
	switch inst.Op {
	case x86asm.SHL, x86asm.SHR, x86asm.SAR, x86asm.ROL, x86asm.ROR, x86asm.INT:
		return symx.Width8
	case x86asm.RET, x86asm.LRET:
		return symx.Width16
	}

	// Immediates are sign extended to the destination.
	if i > 0 {
		switch arg := inst.Args[0].(type) {
		case x86asm.Reg:
			if name, ok := RegisterName(arg); ok {
				return cpu.regs.Width(name)
			}
		case x86asm.Mem:
			return memSize(inst) * 8
		}
	}
	return symx.Width64
}

// memSize returns the size of the memory argument, in bytes.
func memSize(inst *x86asm.Inst) uint {
	if inst.MemBytes > 0 {
		return uint(inst.MemBytes)
	}
	return uint(inst.DataSize / 8)
}
