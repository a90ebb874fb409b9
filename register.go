package symx

import (
	"fmt"

	"github.com/pkg/errors"
)

// RegisterSpec describes a single register. A register without a parent owns
// its storage. A register with a parent is an alias for Width bits of the
// parent starting at bit Offset.
type RegisterSpec struct {
	Name   string
	Width  uint
	Parent string
	Offset uint

	// If true, writing the register clears every parent bit above it.
	// Otherwise the untouched parent bits are preserved.
	Extend bool

	// Initial value of a root register. Defaults to zero.
	Reset uint64
}

// RegisterFile holds register values by name. Aliased registers are read and
// written through their parent so every view of a register stays consistent.
type RegisterFile struct {
	specs  map[string]*RegisterSpec
	names  []string
	values map[string]Expr // root registers only
}

// NewRegisterFile returns a register file for the given table with every
// register set to its reset value. Parents must be listed before their aliases.
func NewRegisterFile(specs []RegisterSpec) *RegisterFile {
	f := &RegisterFile{
		specs:  make(map[string]*RegisterSpec, len(specs)),
		values: make(map[string]Expr),
	}
	specs = append([]RegisterSpec(nil), specs...)
	for i := range specs {
		spec := &specs[i]
		assert(spec.Width > 0 && spec.Width <= MaxWidth, "invalid register width: %s: %d", spec.Name, spec.Width)
		assert(f.specs[spec.Name] == nil, "duplicate register: %s", spec.Name)

		if spec.Parent == "" {
			f.values[spec.Name] = NewConstantExpr(spec.Reset, spec.Width)
		} else {
			parent := f.specs[spec.Parent]
			assert(parent != nil, "register %s: parent %s must be declared first", spec.Name, spec.Parent)
			assert(spec.Offset+spec.Width <= parent.Width, "register %s does not fit in %s", spec.Name, spec.Parent)
		}
		f.specs[spec.Name] = spec
		f.names = append(f.names, spec.Name)
	}
	return f
}

// Names returns all register names in table order.
func (f *RegisterFile) Names() []string {
	return append([]string(nil), f.names...)
}

// Spec returns the specification for the named register.
func (f *RegisterFile) Spec(name string) (RegisterSpec, bool) {
	spec := f.specs[name]
	if spec == nil {
		return RegisterSpec{}, false
	}
	return *spec, true
}

// Width returns the width of the named register, in bits, or zero if the
// register does not exist.
func (f *RegisterFile) Width(name string) uint {
	if spec := f.specs[name]; spec != nil {
		return spec.Width
	}
	return 0
}

// Read returns the current value of the named register.
func (f *RegisterFile) Read(name string) (Expr, error) {
	spec := f.specs[name]
	if spec == nil {
		return nil, errors.Wrap(ErrUnknownRegister, name)
	}
	return f.read(spec), nil
}

func (f *RegisterFile) read(spec *RegisterSpec) Expr {
	if spec.Parent == "" {
		return f.values[spec.Name]
	}
	return NewExtractExpr(f.read(f.specs[spec.Parent]), spec.Offset, spec.Width)
}

// Write sets the named register. Values of another width are zero extended
// or truncated to the register's width.
func (f *RegisterFile) Write(name string, value Expr) error {
	spec := f.specs[name]
	if spec == nil {
		return errors.Wrap(ErrUnknownRegister, name)
	}
	f.write(spec, NewZExtExpr(value, spec.Width))
	return nil
}

func (f *RegisterFile) write(spec *RegisterSpec, value Expr) {
	if spec.Parent == "" {
		f.values[spec.Name] = value
		return
	}

	parent := f.specs[spec.Parent]
	prev := f.read(parent)

	// Compose the new parent value from msb to lsb.
	if hi := parent.Width - spec.Offset - spec.Width; hi > 0 {
		if spec.Extend {
			value = NewConcatExpr(NewConstantExpr(0, hi), value)
		} else {
			value = NewConcatExpr(NewExtractExpr(prev, spec.Offset+spec.Width, hi), value)
		}
	}
	if spec.Offset > 0 {
		value = NewConcatExpr(value, NewExtractExpr(prev, 0, spec.Offset))
	}
	f.write(parent, value)
}

// Clone returns an independent copy of the register file.
func (f *RegisterFile) Clone() *RegisterFile {
	other := &RegisterFile{
		specs:  f.specs,
		names:  f.names,
		values: make(map[string]Expr, len(f.values)),
	}
	for k, v := range f.values {
		other.values[k] = v
	}
	return other
}

// Dump returns the named registers, one per line.
func (f *RegisterFile) Dump(names ...string) string {
	if len(names) == 0 {
		names = f.names
	}

	var buf []byte
	for _, name := range names {
		value, err := f.Read(name)
		if err != nil {
			buf = fmt.Appendf(buf, "%s: %s\n", name, err)
			continue
		}
		buf = fmt.Appendf(buf, "%s: %s\n", name, value)
	}
	return string(buf)
}
