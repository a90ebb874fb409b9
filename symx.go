// Package symx implements an instruction-execution core that runs machine
// code over values that are either concrete integers or symbolic bitvector
// expressions bound to a constraint set.
package symx

import (
	"errors"
	"fmt"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
	Width128  = 128
	Width256  = 256

	// MaxWidth is the widest value an expression may hold.
	MaxWidth = Width256
)

var (
	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")
)

var (
	ErrUnmapped           = errors.New("unmapped memory")
	ErrPermission         = errors.New("memory permission denied")
	ErrMappingOverlap     = errors.New("mapping overlaps existing region")
	ErrMappingAlignment   = errors.New("mapping not page aligned")
	ErrSymbolicValue      = errors.New("symbolic value in concrete context")
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrUnsupported        = errors.New("unsupported instruction")
	ErrSymbolDeclared     = errors.New("symbol already declared")
	ErrScopeClosed        = errors.New("constraint scope closed")
	ErrUnknownRegister    = errors.New("unknown register")
	ErrMultipleValues     = errors.New("multiple feasible values")
	ErrUnsatisfiable      = errors.New("constraints unsatisfiable")
	ErrNoStateAvailable   = errors.New("symx: no state available")
)

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
