package symx

import (
	"context"
	"math/rand"

	"github.com/benbjohnson/symx/log"
	"github.com/pkg/errors"
)

// DefaultMaxValues is the default number of values enumerated for a
// concretization request before forking.
const DefaultMaxValues = 256

// Resolve satisfies a concretization request without forking. If the
// requested expression has exactly one feasible value, the location is
// assigned that value and the step may be retried. Returns ErrMultipleValues
// if more than one value is feasible.
func Resolve(ctx context.Context, m Machine, solver Solver, req *ConcretizeRequest) error {
	values, err := solver.Values(ctx, m.Constraints(), req.Expr, 2)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", req.Location)
	}

	switch len(values) {
	case 0:
		return errors.Wrapf(ErrUnsatisfiable, "resolve %s", req.Location)
	case 1:
		return m.Assign(req.Location, values[0])
	default:
		return errors.Wrapf(ErrMultipleValues, "resolve %s", req.Location)
	}
}

// Run steps m until it halts or faults, resolving every concretization
// request with Resolve. A maxSteps of zero means no limit. The final step
// result is returned along with any resolution error.
func Run(ctx context.Context, m Machine, solver Solver, maxSteps int) (StepResult, error) {
	for i := 0; maxSteps <= 0 || i < maxSteps; {
		if err := ctx.Err(); err != nil {
			return StepResult{}, err
		}

		result := m.Step(ctx)
		switch result.Status {
		case StepCompleted:
			i++
		case StepNeedsConcretization:
			if err := Resolve(ctx, m, solver, result.Request); err != nil {
				return result, err
			}
		default:
			return result, nil
		}
	}
	return StepResult{Status: StepCompleted}, nil
}

// Executor explores every path of a machine, forking a new state for each
// feasible value of a symbolic location that must be concretized.
// It is not safe for concurrent use.
type Executor struct {
	root       *ExecutionState              // initial state
	states     map[*ExecutionState]struct{} // all states
	stateIDSeq int                          // autoincrementing state ID

	// Used for solving symbolic values.
	Solver Solver

	// Search strategy for the executor. Defaults to depth-first.
	Searcher Searcher

	// Maximum number of values enumerated per concretization.
	// Values beyond the limit are not explored.
	MaxValues int

	// Maximum number of instructions per path. Zero means no limit.
	MaxSteps int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSolver sets the solver used for concretization.
func WithSolver(solver Solver) ExecutorOption {
	return func(e *Executor) { e.Solver = solver }
}

// WithSearcher sets the state search strategy.
func WithSearcher(searcher Searcher) ExecutorOption {
	return func(e *Executor) { e.Searcher = searcher }
}

// WithMaxValues sets the maximum number of values enumerated per concretization.
func WithMaxValues(n int) ExecutorOption {
	return func(e *Executor) { e.MaxValues = n }
}

// WithMaxSteps sets the maximum number of instructions executed per path.
func WithMaxSteps(n int) ExecutorOption {
	return func(e *Executor) { e.MaxSteps = n }
}

// NewExecutor returns a new instance of Executor with m as the initial state.
func NewExecutor(m Machine, opts ...ExecutorOption) *Executor {
	e := &Executor{
		Searcher:  NewDFSSearcher(),
		MaxValues: DefaultMaxValues,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Solver == nil {
		e.Solver = NewEnumSolver()
	}

	// Initialize entry state.
	e.root = NewExecutionState(m)
	e.root.id = e.nextStateID()

	// Add state to searcher.
	e.states = map[*ExecutionState]struct{}{e.root: {}}
	e.Searcher.AddState(e.root)

	return e
}

// RootState returns the initial state.
func (e *Executor) RootState() *ExecutionState { return e.root }

// States returns every state created by the executor, ordered by ID.
func (e *Executor) States() []*ExecutionState {
	a := make([]*ExecutionState, e.stateIDSeq)
	for s := range e.states {
		a[s.id-1] = s
	}
	return a
}

// nextStateID returns the next autoincrementing state ID.
func (e *Executor) nextStateID() int {
	e.stateIDSeq++
	return e.stateIDSeq
}

// ExecuteNextState executes the next available state until it terminates or
// forks. This can be called continually until ErrNoStateAvailable is returned.
func (e *Executor) ExecuteNextState(ctx context.Context) (*ExecutionState, error) {
	state := e.Searcher.SelectState()
	if state == nil {
		return nil, ErrNoStateAvailable
	}

	log.Debug.Printf("[state] begin: id=%d steps=%d", state.id, state.steps)
	defer func() { log.Debug.Printf("[state] end: id=%d status=%s %s", state.id, state.status, state.reason) }()

	for !state.Done() {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		if err := e.executeNextInstruction(ctx, state); err != nil {
			return state, err
		}
	}
	return state, nil
}

// Run executes states until none remain and returns the terminated states.
func (e *Executor) Run(ctx context.Context) ([]*ExecutionState, error) {
	var a []*ExecutionState
	for {
		state, err := e.ExecuteNextState(ctx)
		if err == ErrNoStateAvailable {
			return a, nil
		} else if err != nil {
			return a, err
		} else if state.Terminated() {
			a = append(a, state)
		}
	}
}

func (e *Executor) executeNextInstruction(ctx context.Context, state *ExecutionState) error {
	if e.MaxSteps > 0 && state.steps >= e.MaxSteps {
		state.terminate(ExecutionStatusStopped, "step limit reached")
		return nil
	}

	result := state.machine.Step(ctx)
	switch result.Status {
	case StepCompleted:
		state.steps++
	case StepHalted:
		state.terminate(ExecutionStatusFinished, "")
	case StepFaulted:
		log.Info.Printf("[state] fault: id=%d: %s", state.id, result.Err)
		state.terminate(ExecutionStatusFaulted, result.Err.Error())
	case StepNeedsConcretization:
		return e.concretize(ctx, state, result.Request)
	}
	return nil
}

// concretize enumerates the feasible values of a request. A single value is
// assigned in place; multiple values fork one child state per value.
func (e *Executor) concretize(ctx context.Context, state *ExecutionState, req *ConcretizeRequest) error {
	values, err := e.Solver.Values(ctx, state.Constraints(), req.Expr, e.MaxValues)
	if errors.Is(err, ErrSolverUnknown) {
		log.Info.Printf("[state] unknown: id=%d %s", state.id, req.Location)
		state.terminate(ExecutionStatusStopped, "concretize "+req.Location.String()+": "+err.Error())
		return nil
	} else if err != nil {
		return errors.Wrapf(err, "concretize %s", req.Location)
	}

	switch len(values) {
	case 0:
		log.Debug.Printf("[state] prune: id=%d", state.id)
		state.terminate(ExecutionStatusPruned, "unsatisfiable: "+req.Location.String())
		return nil
	case 1:
		log.Debug.Printf("[exec] concretize: id=%d %s=%s", state.id, req.Location, values[0])
		return state.machine.Assign(req.Location, values[0])
	}
	if len(values) == e.MaxValues {
		log.Info.Printf("[fork] value limit reached: id=%d %s", state.id, req.Location)
	}

	for _, value := range values {
		cond := NewBinaryExpr(EQ, req.Expr, value)

		// Skip values the solver cannot confirm.
		scope := state.Constraints().Scope()
		scope.Add(cond)
		if sat, err := scope.Commit(ctx, e.Solver); err != nil {
			return errors.Wrapf(err, "concretize %s", req.Location)
		} else if !sat {
			continue
		}

		log.Debug.Printf("[fork] %s=%s", req.Location, value)
		child := state.Fork(cond)
		child.id = e.nextStateID()
		if err := child.machine.Assign(req.Location, value); err != nil {
			return err
		}
		e.states[child] = struct{}{}
		e.Searcher.AddState(child)
	}

	// Every candidate was rejected.
	if !state.Forked() {
		state.terminate(ExecutionStatusPruned, "unsatisfiable: "+req.Location.String())
	}
	return nil
}

// Searcher represents a strategy for finding the next execution state to execute.
type Searcher interface {
	// Returns the next state to explore.
	SelectState() *ExecutionState

	// Adds states to the current searcher.
	AddState(state *ExecutionState)
}

var _ Searcher = (*MultiSearcher)(nil)

// MultiSearcher represents a Searcher that chooses a searcher round-robin.
type MultiSearcher struct {
	searchers []Searcher
	index     int
}

// NewMultiSearcher returns a new instance of MultiSearcher.
func NewMultiSearcher(searchers ...Searcher) *MultiSearcher {
	return &MultiSearcher{searchers: searchers}
}

// SelectState returns the next state to explore from the next searcher.
// States already executed through another searcher are skipped.
func (s *MultiSearcher) SelectState() *ExecutionState {
	for range s.searchers {
		searcher := s.searchers[s.index]
		if s.index++; s.index >= len(s.searchers) {
			s.index = 0
		}
		for {
			state := searcher.SelectState()
			if state == nil {
				break
			} else if !state.Done() {
				return state
			}
		}
	}
	return nil
}

// AddState adds a new state to the searcher.
func (s *MultiSearcher) AddState(state *ExecutionState) {
	for _, searcher := range s.searchers {
		searcher.AddState(state)
	}
}

// DFSSearcher represents a searcher with a depth-first search strategy.
type DFSSearcher struct {
	states []*ExecutionState
}

// NewDFSSearcher returns a new instance of DFSSearcher.
func NewDFSSearcher() *DFSSearcher {
	return &DFSSearcher{}
}

// SelectState returns the next execution state to explore.
func (s *DFSSearcher) SelectState() *ExecutionState {
	if len(s.states) == 0 {
		return nil
	}
	state := s.states[len(s.states)-1]
	s.states = s.states[:len(s.states)-1]
	return state
}

// AddState adds a new state to the searcher.
func (s *DFSSearcher) AddState(state *ExecutionState) {
	s.states = append(s.states, state)
}

// BFSSearcher represents a searcher with a breadth-first search strategy.
type BFSSearcher struct {
	states []*ExecutionState
}

// NewBFSSearcher returns a new instance of BFSSearcher.
func NewBFSSearcher() *BFSSearcher {
	return &BFSSearcher{}
}

// SelectState returns the next execution state to explore.
func (s *BFSSearcher) SelectState() *ExecutionState {
	if len(s.states) == 0 {
		return nil
	}
	state := s.states[0]
	s.states = s.states[1:]
	return state
}

// AddState adds a new state to the searcher.
func (s *BFSSearcher) AddState(state *ExecutionState) {
	s.states = append(s.states, state)
}

// RandomSearcher selects a random pending state.
type RandomSearcher struct {
	states []*ExecutionState
	rand   *rand.Rand
}

// NewRandomSearcher returns a new instance of RandomSearcher.
func NewRandomSearcher(rand *rand.Rand) *RandomSearcher {
	return &RandomSearcher{
		rand: rand,
	}
}

// SelectState returns a random execution state to explore.
func (s *RandomSearcher) SelectState() *ExecutionState {
	if len(s.states) == 0 {
		return nil
	}
	i := s.rand.Intn(len(s.states))
	state := s.states[i]
	s.states = append(s.states[:i], s.states[i+1:]...)
	return state
}

// AddState adds a new state to the searcher.
func (s *RandomSearcher) AddState(state *ExecutionState) {
	s.states = append(s.states, state)
}

// RandomPathSearcher randomly walks the state tree from the root to a
// pending leaf, giving shallow paths the same weight as deep ones.
type RandomPathSearcher struct {
	root *ExecutionState
	rand *rand.Rand
}

// NewRandomPathSearcher returns a new instance of RandomPathSearcher.
func NewRandomPathSearcher(rand *rand.Rand) *RandomPathSearcher {
	return &RandomPathSearcher{
		rand: rand,
	}
}

// SelectState returns a random pending leaf state.
func (s *RandomPathSearcher) SelectState() *ExecutionState {
	state := s.root
	if state == nil || !hasPendingLeaf(state) {
		return nil
	}

	for {
		// Return if leaf node.
		if len(state.children) == 0 {
			return state
		}

		// Otherwise randomly choose a child with pending work.
		var candidates []*ExecutionState
		for _, child := range state.children {
			if hasPendingLeaf(child) {
				candidates = append(candidates, child)
			}
		}
		state = candidates[s.rand.Intn(len(candidates))]
	}
}

// AddState records the root of the state tree. Other states are found by
// walking the tree.
func (s *RandomPathSearcher) AddState(state *ExecutionState) {
	if s.root != nil {
		return
	}
	for state.parent != nil {
		state = state.parent
	}
	s.root = state
}

func hasPendingLeaf(state *ExecutionState) bool {
	if len(state.children) == 0 {
		return !state.Terminated()
	}
	for _, child := range state.children {
		if hasPendingLeaf(child) {
			return true
		}
	}
	return false
}
