package symx

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ConstraintSet holds declared symbols and a conjunction of boolean
// constraints over them. A ConstraintSet may be the child of another set
// via Scope(), in which case it sees every symbol and constraint of its
// ancestors while its own additions stay invisible to them.
type ConstraintSet struct {
	parent *ConstraintSet
	seq    *atomic.Uint64 // symbol id sequence, shared by clones & scopes

	symbols     []*SymbolExpr
	names       map[string]*SymbolExpr
	constraints []Expr

	closed bool
}

// NewConstraintSet returns a new, empty constraint set.
func NewConstraintSet() *ConstraintSet {
	return &ConstraintSet{
		seq:   new(atomic.Uint64),
		names: make(map[string]*SymbolExpr),
	}
}

// Declare adds a new symbol of the given width. Returns ErrSymbolDeclared
// if the name is already visible from this set.
func (cs *ConstraintSet) Declare(name string, width uint) (*SymbolExpr, error) {
	if cs.closed {
		return nil, ErrScopeClosed
	} else if width == 0 || width > MaxWidth {
		return nil, errors.Errorf("invalid symbol width: %s: %d", name, width)
	} else if cs.Lookup(name) != nil {
		return nil, errors.Wrap(ErrSymbolDeclared, name)
	}

	sym := &SymbolExpr{ID: cs.seq.Add(1), Name: name, Width: width}
	cs.symbols = append(cs.symbols, sym)
	cs.names[name] = sym
	return sym, nil
}

// MustDeclare is like Declare but panics on error.
func (cs *ConstraintSet) MustDeclare(name string, width uint) *SymbolExpr {
	sym, err := cs.Declare(name, width)
	if err != nil {
		panic(err)
	}
	return sym
}

// Lookup returns the symbol declared with name, or nil.
func (cs *ConstraintSet) Lookup(name string) *SymbolExpr {
	for s := cs; s != nil; s = s.parent {
		if sym := s.names[name]; sym != nil {
			return sym
		}
	}
	return nil
}

// Symbols returns all declared symbols visible from this set in declaration order.
func (cs *ConstraintSet) Symbols() []*SymbolExpr {
	var a []*SymbolExpr
	if cs.parent != nil {
		a = cs.parent.Symbols()
	}
	return append(a, cs.symbols...)
}

// Add appends a boolean constraint. Logical conjunctions are split into
// independent constraints and constant true constraints are dropped.
func (cs *ConstraintSet) Add(expr Expr) {
	assert(!cs.closed, "add constraint to closed scope")
	assert(ExprWidth(expr) == WidthBool, "constraint must be boolean: %s", expr)

	if IsConstantTrue(expr) {
		return
	}
	if expr, ok := expr.(*BinaryExpr); ok && expr.Op == AND {
		cs.Add(expr.LHS)
		cs.Add(expr.RHS)
		return
	}
	cs.constraints = append(cs.constraints, expr)
}

// Constraints returns every constraint visible from this set, ancestors first.
func (cs *ConstraintSet) Constraints() []Expr {
	var a []Expr
	if cs.parent != nil {
		a = cs.parent.Constraints()
	}
	return append(a, cs.constraints...)
}

// Len returns the number of visible constraints.
func (cs *ConstraintSet) Len() int {
	n := len(cs.constraints)
	if cs.parent != nil {
		n += cs.parent.Len()
	}
	return n
}

// IsTriviallyFalse returns true if a constant false constraint was added.
func (cs *ConstraintSet) IsTriviallyFalse() bool {
	for s := cs; s != nil; s = s.parent {
		for _, expr := range s.constraints {
			if IsConstantFalse(expr) {
				return true
			}
		}
	}
	return false
}

// Clone returns an independent, flattened copy of the set. Symbols declared
// on the clone never collide with symbols declared on the original.
func (cs *ConstraintSet) Clone() *ConstraintSet {
	other := &ConstraintSet{
		seq:         cs.seq,
		symbols:     cs.Symbols(),
		names:       make(map[string]*SymbolExpr),
		constraints: cs.Constraints(),
	}
	for _, sym := range other.symbols {
		other.names[sym.Name] = sym
	}
	return other
}

// Scope opens a temporary child set. The caller must call Close on the
// returned scope once the hypothesis has been queried.
func (cs *ConstraintSet) Scope() *Scope {
	assert(!cs.closed, "open scope on closed set")
	return &Scope{cs: &ConstraintSet{
		parent: cs,
		seq:    cs.seq,
		names:  make(map[string]*SymbolExpr),
	}}
}

// WithScope executes fn against a temporary child set which is discarded
// when fn returns, fails or panics.
func (cs *ConstraintSet) WithScope(fn func(*ConstraintSet) error) error {
	scope := cs.Scope()
	defer scope.Close()
	return fn(scope.ConstraintSet())
}

// String returns the constraints, one per line.
func (cs *ConstraintSet) String() string {
	return FormatExprs(cs.Constraints())
}

// Scope is a guard over a temporary child ConstraintSet.
type Scope struct {
	cs *ConstraintSet
}

// ConstraintSet returns the child set. It must not be used after Close.
func (s *Scope) ConstraintSet() *ConstraintSet { return s.cs }

// Add adds a constraint to the child set.
func (s *Scope) Add(expr Expr) { s.cs.Add(expr) }

// Closed returns true once the scope has been discarded.
func (s *Scope) Closed() bool { return s.cs.closed }

// Close discards every symbol & constraint added to the scope.
// Calling Close more than once has no effect.
func (s *Scope) Close() {
	if s.cs.closed {
		return
	}
	s.cs.closed = true
	s.cs.symbols, s.cs.constraints = nil, nil
	clear(s.cs.names)
}

// Commit checks the satisfiability of the scope with solver and then closes it.
func (s *Scope) Commit(ctx context.Context, solver Solver) (bool, error) {
	if s.cs.closed {
		return false, ErrScopeClosed
	}
	defer s.Close()
	return solver.Check(ctx, s.cs)
}
