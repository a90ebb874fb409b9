package symx

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Machine is a single-threaded instruction executor whose registers and
// memory may hold symbolic values constrained by its ConstraintSet.
type Machine interface {
	// Step executes a single instruction. A step that does not complete
	// leaves the machine unchanged.
	Step(ctx context.Context) StepResult

	// Constraints returns the path constraints of the machine.
	Constraints() *ConstraintSet

	// Read returns the current value of a location.
	Read(loc Location) (Expr, error)

	// Assign overwrites a location with a concrete value.
	Assign(loc Location, value *ConstantExpr) error

	// Fork returns an independent copy of the machine bound to cs.
	Fork(cs *ConstraintSet) Machine
}

// ExecutionState represents a path under exploration.
type ExecutionState struct {
	id int

	// Execution hierarchy.
	parent   *ExecutionState
	children []*ExecutionState

	machine Machine
	steps   int

	// Shows whether state is running, finished, or terminated by error state.
	status ExecutionStatus
	reason string
}

// NewExecutionState returns a new running state for m.
func NewExecutionState(m Machine) *ExecutionState {
	return &ExecutionState{
		machine: m,
		status:  ExecutionStatusRunning,
	}
}

// ID returns an autoincrementing ID assigned by the executor.
func (s *ExecutionState) ID() int { return s.id }

// Machine returns the machine executing this path.
func (s *ExecutionState) Machine() Machine { return s.machine }

// Constraints returns the path constraints.
func (s *ExecutionState) Constraints() *ConstraintSet { return s.machine.Constraints() }

// Steps returns the number of instructions completed on this path, including
// those completed by its ancestors.
func (s *ExecutionState) Steps() int { return s.steps }

// Parent returns the state this state was forked from.
func (s *ExecutionState) Parent() *ExecutionState { return s.parent }

// Children returns the states forked from this state.
func (s *ExecutionState) Children() []*ExecutionState { return s.children }

// Status returns the current status of the state.
// See Reason() for additional information if status is in an error state.
func (s *ExecutionState) Status() ExecutionStatus {
	return s.status
}

// Reason returns additional information about the status of the state.
func (s *ExecutionState) Reason() string {
	return s.reason
}

// Terminated returns true if the state completes execution of a path.
func (s *ExecutionState) Terminated() bool {
	return s.status != ExecutionStatusRunning
}

// Forked returns true if state has a child state.
func (s *ExecutionState) Forked() bool {
	return len(s.children) > 0
}

// Done returns true if the state will not be executed any further.
func (s *ExecutionState) Done() bool {
	return s.Terminated() || s.Forked()
}

func (s *ExecutionState) terminate(status ExecutionStatus, reason string) {
	s.status, s.reason = status, reason
}

// Fork returns a child copy of the state with its own constraint set that
// additionally holds constraint. A nil constraint is ignored.
func (s *ExecutionState) Fork(constraint Expr) *ExecutionState {
	cs := s.machine.Constraints().Clone()
	if constraint != nil {
		cs.Add(constraint)
	}

	child := &ExecutionState{
		parent:  s,
		machine: s.machine.Fork(cs),
		steps:   s.steps,
		status:  ExecutionStatusRunning,
	}
	s.children = append(s.children, child)
	return child
}

// Model returns a value for every declared symbol that jointly satisfies the
// path constraints. Symbols are assigned one at a time in declaration order.
func (s *ExecutionState) Model(ctx context.Context, solver Solver) ([]Binding, error) {
	cs := s.Constraints()
	scope := cs.Scope()
	defer scope.Close()

	var a []Binding
	for _, sym := range cs.Symbols() {
		values, err := solver.Values(ctx, scope.ConstraintSet(), sym, 1)
		if err != nil {
			return nil, errors.Wrapf(err, "model: %s", sym.Name)
		} else if len(values) == 0 {
			return nil, ErrUnsatisfiable
		}
		scope.Add(NewBinaryExpr(EQ, sym, values[0]))
		a = append(a, Binding{Symbol: sym, Value: values[0]})
	}
	return a, nil
}

// Binding is a concrete value assigned to a symbol.
type Binding struct {
	Symbol *SymbolExpr
	Value  *ConstantExpr
}

// String returns the binding in "name=value" form.
func (b Binding) String() string {
	return fmt.Sprintf("%s=%s", b.Symbol.Name, b.Value.Value.Hex())
}

// Dump returns the contents of the state as a string.
func (s *ExecutionState) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "EXECUTION STATE")
	fmt.Fprintln(&buf, "===============")
	fmt.Fprintf(&buf, "id=%d\n", s.id)
	fmt.Fprintf(&buf, "status=%s\n", s.status)
	fmt.Fprintf(&buf, "reason=%s\n", s.reason)
	fmt.Fprintf(&buf, "steps=%d\n", s.steps)
	fmt.Fprintln(&buf, "")

	if m, ok := s.machine.(interface{ Dump() string }); ok {
		fmt.Fprintln(&buf, "== MACHINE")
		fmt.Fprintln(&buf, m.Dump())
	}

	fmt.Fprintln(&buf, "== CONSTRAINTS")
	fmt.Fprint(&buf, s.Constraints().String())
	return buf.String()
}

// ExecutionStatus represents the current status of the execution state.
// The state will also include a reason if the status is not running.
type ExecutionStatus string

const (
	ExecutionStatusRunning  = ExecutionStatus("running")  // has future states
	ExecutionStatusFinished = ExecutionStatus("finished") // machine halted
	ExecutionStatusFaulted  = ExecutionStatus("faulted")  // fatal fault occurred
	ExecutionStatusPruned   = ExecutionStatus("pruned")   // constraints unsatisfiable
	ExecutionStatusStopped  = ExecutionStatus("stopped")  // step limit or undecided query
)
