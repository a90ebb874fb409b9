// Package x86 implements an AMD64 CPU over symx registers and memory.
package x86

import (
	"bytes"
	"context"
	"fmt"

	"github.com/benbjohnson/symx"
	"github.com/benbjohnson/symx/log"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// MaxInstructionLen is the longest legal AMD64 encoding, in bytes.
const MaxInstructionLen = 15

// errHalted is returned by handlers that stop the processor.
var errHalted = errors.New("halted")

var _ symx.Machine = (*CPU)(nil)

// CPU is a single AMD64 hardware thread.
type CPU struct {
	regs   *symx.RegisterFile
	mem    symx.Memory
	cs     *symx.ConstraintSet
	logger log.Logger
}

// CPUOption configures a CPU.
type CPUOption func(*CPU)

// WithConstraintSet binds the CPU to cs. By default a SymbolicMemory shares
// its own constraint set and any other memory receives a new one.
func WithConstraintSet(cs *symx.ConstraintSet) CPUOption {
	return func(cpu *CPU) { cpu.cs = cs }
}

// WithLogger sets the logger used to trace executed instructions.
func WithLogger(logger log.Logger) CPUOption {
	return func(cpu *CPU) { cpu.logger = logger }
}

// NewCPU returns a CPU with registers at their reset values executing from mem.
func NewCPU(mem symx.Memory, opts ...CPUOption) *CPU {
	cpu := &CPU{
		regs:   symx.NewRegisterFile(Registers),
		mem:    mem,
		logger: log.Debug,
	}
	for _, opt := range opts {
		opt(cpu)
	}

	if cpu.cs == nil {
		if mem, ok := mem.(*symx.SymbolicMemory); ok {
			cpu.cs = mem.ConstraintSet()
		} else {
			cpu.cs = symx.NewConstraintSet()
		}
	}
	return cpu
}

// Memory returns the CPU's memory.
func (cpu *CPU) Memory() symx.Memory { return cpu.mem }

// Constraints returns the path constraints.
func (cpu *CPU) Constraints() *symx.ConstraintSet { return cpu.cs }

// Registers returns the register file.
func (cpu *CPU) Registers() *symx.RegisterFile { return cpu.regs }

// Get returns the value of the named register.
func (cpu *CPU) Get(name string) (symx.Expr, error) {
	return cpu.regs.Read(name)
}

// Set writes the named register. The value is zero extended or truncated to
// the register width.
func (cpu *CPU) Set(name string, value symx.Expr) error {
	return cpu.regs.Write(name, value)
}

// SetUint64 writes a concrete value to the named register.
func (cpu *CPU) SetUint64(name string, value uint64) error {
	return cpu.regs.Write(name, symx.NewConstantExpr64(value))
}

// Uint64 returns the concrete value of the named register.
// Returns ErrSymbolicValue if the register holds a symbolic value.
func (cpu *CPU) Uint64(name string) (uint64, error) {
	v, err := cpu.regs.Read(name)
	if err != nil {
		return 0, err
	}
	c, ok := v.(*symx.ConstantExpr)
	if !ok {
		return 0, errors.Wrap(symx.ErrSymbolicValue, name)
	}
	return c.Uint64(), nil
}

// Read returns the value of a register or memory location.
func (cpu *CPU) Read(loc symx.Location) (symx.Expr, error) {
	switch loc.Kind {
	case symx.LocationRegister:
		return cpu.regs.Read(loc.Name)
	default:
		return cpu.mem.Read(loc.Addr, loc.Size)
	}
}

// Assign overwrites a location with a concrete value. Memory is written as a
// host access so code bytes may be assigned in non-writable regions.
func (cpu *CPU) Assign(loc symx.Location, value *symx.ConstantExpr) error {
	switch loc.Kind {
	case symx.LocationRegister:
		return cpu.regs.Write(loc.Name, value)
	default:
		return cpu.mem.WriteBytes(loc.Addr, value.ZExt(loc.Size*8).Bytes())
	}
}

// Fork returns an independent copy of the CPU bound to cs.
func (cpu *CPU) Fork(cs *symx.ConstraintSet) symx.Machine {
	return &CPU{
		regs:   cpu.regs.Clone(),
		mem:    cpu.mem.Fork(cs),
		cs:     cs,
		logger: cpu.logger,
	}
}

// Step executes a single instruction. If the instruction does not complete
// then registers and memory are restored to their values before the step.
func (cpu *CPU) Step(ctx context.Context) symx.StepResult {
	regs, snapshot := cpu.regs.Clone(), cpu.mem.Snapshot()
	err := cpu.step()
	if err == nil {
		return symx.StepResult{Status: symx.StepCompleted}
	} else if err == errHalted {
		return symx.StepResult{Status: symx.StepHalted}
	}

	cpu.regs = regs
	cpu.mem.Restore(snapshot)

	var req *symx.ConcretizeRequest
	if errors.As(err, &req) {
		return symx.StepResult{Status: symx.StepNeedsConcretization, Request: req}
	}
	return symx.StepResult{Status: symx.StepFaulted, Err: err}
}

func (cpu *CPU) step() error {
	inst, err := cpu.decode()
	if err != nil {
		return err
	}

	if cpu.logger.Enabled() {
		cpu.logger.Printf("[exec] %#x: %s", inst.Addr, inst)
	}

	// RIP points at the next instruction while the handler executes.
	if err := cpu.SetUint64("RIP", inst.Next()); err != nil {
		return err
	}
	return handlers[inst.Op](cpu, inst)
}

// concrete returns the concrete value of the named register or a request to
// concretize it.
func (cpu *CPU) concrete(name string) (uint64, error) {
	v, err := cpu.regs.Read(name)
	if err != nil {
		return 0, err
	}
	c, ok := v.(*symx.ConstantExpr)
	if !ok {
		return 0, &symx.ConcretizeRequest{Location: symx.RegisterLocation(name), Expr: v}
	}
	return c.Uint64(), nil
}

// push stores value on the stack.
func (cpu *CPU) push(value symx.Expr) error {
	rsp, err := cpu.concrete("RSP")
	if err != nil {
		return err
	}
	rsp -= uint64(symx.ExprWidth(value) / 8)
	if err := cpu.mem.Write(rsp, value); err != nil {
		return err
	}
	return cpu.SetUint64("RSP", rsp)
}

// pop loads n bytes from the top of the stack.
func (cpu *CPU) pop(n uint) (symx.Expr, error) {
	rsp, err := cpu.concrete("RSP")
	if err != nil {
		return nil, err
	}
	value, err := cpu.mem.Read(rsp, n)
	if err != nil {
		return nil, err
	}
	if err := cpu.SetUint64("RSP", rsp+uint64(n)); err != nil {
		return nil, err
	}
	return value, nil
}

// Dump returns the general purpose registers, RIP & RFLAGS.
func (cpu *CPU) Dump() string {
	var buf bytes.Buffer
	names := append(append([]string(nil), GeneralRegisters...), "RIP", "RFLAGS")
	for _, name := range names {
		v, _ := cpu.regs.Read(name)
		if c, ok := v.(*symx.ConstantExpr); ok {
			fmt.Fprintf(&buf, "%-6s %#016x\n", name, c.Uint64())
			continue
		}
		fmt.Fprintf(&buf, "%-6s %s\n", name, v)
	}
	return buf.String()
}

// Disassemble returns the instruction at addr in Intel syntax.
func (cpu *CPU) Disassemble(addr uint64) (string, error) {
	code, err := cpu.mem.Fetch(addr, MaxInstructionLen)
	if err != nil {
		return "", err
	}
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return "", &symx.DecodeFault{Addr: addr, Bytes: code, Err: err}
	}
	return x86asm.IntelSyntax(inst, addr, nil), nil
}
