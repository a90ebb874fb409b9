package symx

import "fmt"

// StepStatus is the outcome of executing a single instruction.
type StepStatus int

// Step outcomes.
const (
	// StepCompleted means the instruction executed and RIP holds the next address.
	StepCompleted StepStatus = iota

	// StepHalted means the machine stopped normally, e.g. on HLT.
	StepHalted

	// StepFaulted means execution cannot continue. StepResult.Err holds the fault.
	StepFaulted

	// StepNeedsConcretization means the instruction requires a concrete value
	// for a symbolic location. No state was modified.
	StepNeedsConcretization
)

// String returns the name of the status.
func (s StepStatus) String() string {
	switch s {
	case StepCompleted:
		return "completed"
	case StepHalted:
		return "halted"
	case StepFaulted:
		return "faulted"
	case StepNeedsConcretization:
		return "needs-concretization"
	default:
		return fmt.Sprintf("StepStatus<%d>", int(s))
	}
}

// StepResult is the tagged result of a step. Err is set when Status is
// StepFaulted and Request is set when Status is StepNeedsConcretization.
type StepResult struct {
	Status  StepStatus
	Err     error
	Request *ConcretizeRequest
}

// String returns a human readable form of the result.
func (r StepResult) String() string {
	switch r.Status {
	case StepFaulted:
		return fmt.Sprintf("%s: %s", r.Status, r.Err)
	case StepNeedsConcretization:
		return fmt.Sprintf("%s: %s", r.Status, r.Request.Location)
	default:
		return r.Status.String()
	}
}

// LocationKind is the kind of storage a Location refers to.
type LocationKind int

// Location kinds.
const (
	LocationRegister LocationKind = iota + 1
	LocationMemory
)

// Location identifies a register or a range of memory.
type Location struct {
	Kind LocationKind
	Name string // register name
	Addr uint64 // memory address
	Size uint   // memory size, in bytes
}

// RegisterLocation returns a location for the named register.
func RegisterLocation(name string) Location {
	return Location{Kind: LocationRegister, Name: name}
}

// MemoryLocation returns a location for size bytes at addr.
func MemoryLocation(addr uint64, size uint) Location {
	return Location{Kind: LocationMemory, Addr: addr, Size: size}
}

// String returns the register name or the memory range.
func (l Location) String() string {
	switch l.Kind {
	case LocationRegister:
		return l.Name
	case LocationMemory:
		return fmt.Sprintf("[%#x:%d]", l.Addr, l.Size)
	default:
		return "<invalid>"
	}
}

// ConcretizeRequest is returned by instruction semantics that need a
// concrete value for Expr, which is the current contents of Location.
// It is never a terminal error; the step is rolled back and may be retried
// once the location has been assigned a concrete value.
type ConcretizeRequest struct {
	Location Location
	Expr     Expr
}

// Error returns the error message.
func (r *ConcretizeRequest) Error() string {
	return fmt.Sprintf("concretization required: %s = %s", r.Location, r.Expr)
}

// DecodeFault is returned when the bytes at Addr do not form an instruction
// with known semantics.
type DecodeFault struct {
	Addr  uint64
	Bytes []byte
	Err   error
}

// Error returns the error message.
func (e *DecodeFault) Error() string {
	return fmt.Sprintf("invalid instruction at %#x [% x]: %s", e.Addr, e.Bytes, e.Err)
}

// Unwrap returns ErrInvalidInstruction so callers can match every decode
// fault with errors.Is.
func (e *DecodeFault) Unwrap() []error {
	return []error{ErrInvalidInstruction, e.Err}
}
