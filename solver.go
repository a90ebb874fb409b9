package symx

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/holiman/uint256"
)

// Solver represents a decision procedure over a ConstraintSet.
type Solver interface {
	// Check returns true if the constraints in cs are satisfiable.
	Check(ctx context.Context, cs *ConstraintSet) (bool, error)

	// Values returns up to max distinct values that expr may take under the
	// constraints in cs, sorted in ascending order. If more than max values
	// are feasible then an arbitrary subset of max values is returned. Returns
	// no values if cs is unsatisfiable.
	Values(ctx context.Context, cs *ConstraintSet, expr Expr, max int) ([]*ConstantExpr, error)
}

// EnumSolver default limits.
const (
	DefaultMaxCandidates = 1 << 16
	DefaultCacheSize     = 1024
)

// exhaustiveWidth is the widest symbol whose values are always enumerated in full.
const exhaustiveWidth = 8

var _ Solver = (*EnumSolver)(nil)

// EnumSolver is a built-in solver that searches candidate assignments.
//
// A symbol pinned by an equality with a constant, or no wider than 8 bits,
// is searched exhaustively and answers for it are exact. Wider symbols are
// searched over boundary values and the constants found in the query. A
// query over such symbols returns ErrSolverUnknown unless the candidates
// prove the answer: a solution for Check, or for Values either max values
// or every value the expression can take.
//
// EnumSolver is not safe for concurrent use.
type EnumSolver struct {
	// Maximum number of assignments tried per group of dependent symbols.
	MaxCandidates int

	// Number of query results retained. Zero disables caching.
	CacheSize int

	cache map[uint64]enumResult
	keys  []uint64
}

type enumResult struct {
	values []*ConstantExpr
	sat    bool
}

// NewEnumSolver returns a new instance of EnumSolver with default limits.
func NewEnumSolver() *EnumSolver {
	return &EnumSolver{
		MaxCandidates: DefaultMaxCandidates,
		CacheSize:     DefaultCacheSize,
	}
}

// Check returns true if the constraints in cs are satisfiable.
func (s *EnumSolver) Check(ctx context.Context, cs *ConstraintSet) (bool, error) {
	_, sat, err := s.query(ctx, cs.Constraints(), nil, 0)
	return sat, err
}

// Values returns up to max distinct feasible values of expr, sorted. When
// capped at max, the values are the first found in candidate order.
func (s *EnumSolver) Values(ctx context.Context, cs *ConstraintSet, expr Expr, max int) ([]*ConstantExpr, error) {
	assert(max > 0, "max values must be positive: %d", max)
	values, sat, err := s.query(ctx, cs.Constraints(), expr, max)
	if err != nil || !sat {
		return nil, err
	}
	return values, nil
}

func (s *EnumSolver) query(ctx context.Context, constraints []Expr, expr Expr, max int) ([]*ConstantExpr, bool, error) {
	var key uint64
	if s.CacheSize > 0 {
		key = queryKey(constraints, expr, max)
		if r, ok := s.cache[key]; ok {
			return append([]*ConstantExpr(nil), r.values...), r.sat, nil
		}
	}

	values, sat, err := s.solve(ctx, constraints, expr, max)
	if err != nil {
		return nil, false, err
	}

	if s.CacheSize > 0 {
		if s.cache == nil {
			s.cache = make(map[uint64]enumResult)
		}
		for len(s.keys) >= s.CacheSize {
			delete(s.cache, s.keys[0])
			s.keys = s.keys[1:]
		}
		s.cache[key] = enumResult{values: values, sat: sat}
		s.keys = append(s.keys, key)
	}
	return append([]*ConstantExpr(nil), values...), sat, nil
}

func (s *EnumSolver) maxCandidates() int {
	if s.MaxCandidates <= 0 {
		return DefaultMaxCandidates
	}
	return s.MaxCandidates
}

// domain is the candidate value set for a single symbol.
type domain struct {
	values []*ConstantExpr
	exact  bool // values contains every feasible value
}

func (s *EnumSolver) solve(ctx context.Context, constraints []Expr, expr Expr, max int) ([]*ConstantExpr, bool, error) {
	for _, c := range constraints {
		if IsConstantFalse(c) {
			return nil, false, nil
		}
	}

	all := append([]Expr(nil), constraints...)
	if expr != nil {
		all = append(all, expr)
	}
	syms := FindSymbols(all...)
	consts := findConstants(all...)

	domains := make(map[uint64]*domain, len(syms))
	for _, sym := range syms {
		domains[sym.ID] = newDomain(sym, constraints, consts)
	}

	// Single-symbol constraints narrow their domain directly. The rest join
	// their symbols into groups that must be searched together.
	uf := make(unionFind)
	groupConstraints := make(map[uint64][]Expr)
	var multi [][]*SymbolExpr
	var multiExprs []Expr
	for _, c := range constraints {
		csyms := FindSymbols(c)
		switch len(csyms) {
		case 0:
			continue
		case 1:
			d := domains[csyms[0].ID]
			if err := d.filter(csyms[0], c); err != nil {
				return nil, false, err
			} else if len(d.values) == 0 {
				if d.exact {
					return nil, false, nil
				}
				return nil, false, ErrSolverUnknown
			}
		default:
			for _, sym := range csyms[1:] {
				uf.union(csyms[0].ID, sym.ID)
			}
			multi = append(multi, csyms)
			multiExprs = append(multiExprs, c)
		}
	}

	var exprSyms []*SymbolExpr
	if expr != nil {
		if exprSyms = FindSymbols(expr); len(exprSyms) > 1 {
			for _, sym := range exprSyms[1:] {
				uf.union(exprSyms[0].ID, sym.ID)
			}
		}
	}

	groups := make(map[uint64][]*SymbolExpr)
	var roots []uint64
	for _, sym := range syms {
		root := uf.find(sym.ID)
		if _, ok := groups[root]; !ok {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], sym)
	}
	for i, csyms := range multi {
		root := uf.find(csyms[0].ID)
		groupConstraints[root] = append(groupConstraints[root], multiExprs[i])
	}

	var exprRoot uint64
	if len(exprSyms) > 0 {
		exprRoot = uf.find(exprSyms[0].ID)
	}

	// Every group independent of expr only needs a single solution.
	for _, root := range roots {
		if len(exprSyms) > 0 && root == exprRoot {
			continue
		}
		_, found, complete, err := s.search(ctx, groups[root], domains, groupConstraints[root], nil, 0)
		if err != nil {
			return nil, false, err
		} else if !found {
			if complete {
				return nil, false, nil
			}
			return nil, false, ErrSolverUnknown
		}
	}

	if expr == nil {
		return nil, true, nil
	} else if len(exprSyms) == 0 {
		v, err := NewExprEvaluator().Evaluate(expr)
		if err != nil {
			return nil, false, err
		}
		return []*ConstantExpr{v}, true, nil
	}

	values, found, complete, err := s.search(ctx, groups[exprRoot], domains, groupConstraints[exprRoot], expr, max)
	if err != nil {
		return nil, false, err
	} else if !found {
		if complete {
			return nil, false, nil
		}
		return nil, false, ErrSolverUnknown
	}

	// A partial search is only exact once it has reached max values or has
	// produced every value expr can take.
	if !complete && len(values) < max && !covers(values, possibleValues(expr, max)) {
		return nil, false, ErrSolverUnknown
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Value.Lt(&values[j].Value) })
	return values, true, nil
}

// search enumerates the product of the domains of syms. If expr is nil then
// it stops at the first assignment satisfying constraints. Otherwise it
// collects up to max distinct values of expr.
func (s *EnumSolver) search(ctx context.Context, syms []*SymbolExpr, domains map[uint64]*domain, constraints []Expr, expr Expr, max int) (values []*ConstantExpr, found, complete bool, err error) {
	limit := s.maxCandidates()

	complete, total := true, 1
	for _, sym := range syms {
		d := domains[sym.ID]
		complete = complete && d.exact
		if n := len(d.values); total > limit/n {
			total = limit + 1
		} else {
			total *= n
		}
	}
	if total > limit {
		complete = false
	}

	ee := NewExprEvaluator()
	idx := make([]int, len(syms))
	seen := make(map[uint256.Int]struct{})
	for n := 0; n < limit; n++ {
		if n&0xFFF == 0 {
			if err := ctx.Err(); err != nil {
				return nil, false, false, err
			}
		}

		for i, sym := range syms {
			ee.Bind(sym, domains[sym.ID].values[idx[i]])
		}

		ok, err := evaluateAll(ee, constraints)
		if err != nil {
			return nil, false, false, err
		} else if ok {
			found = true
			if expr == nil {
				return nil, true, complete, nil
			}

			v, err := ee.Evaluate(expr)
			if err != nil {
				return nil, false, false, err
			}
			if _, ok := seen[v.Value]; !ok {
				seen[v.Value] = struct{}{}
				if values = append(values, v); len(values) >= max {
					return values, true, complete, nil
				}
			}
		}

		// Advance to the next assignment.
		i := 0
		for ; i < len(idx); i++ {
			if idx[i]++; idx[i] < len(domains[syms[i].ID].values) {
				break
			}
			idx[i] = 0
		}
		if i == len(idx) {
			return values, found, complete, nil
		}
	}
	return values, found, false, nil
}

// possibleValues returns every value expr can take regardless of the values
// of its symbols. Returns nil if there are more than max or the set is unknown.
func possibleValues(expr Expr, max int) []*ConstantExpr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return []*ConstantExpr{expr}
	case *IteExpr:
		then := possibleValues(expr.Then, max)
		if then == nil {
			return nil
		}
		els := possibleValues(expr.Else, max)
		if els == nil {
			return nil
		}
		set := make(map[uint256.Int]*ConstantExpr, len(then)+len(els))
		for _, v := range append(then, els...) {
			set[v.Value] = v
		}
		if len(set) > max {
			return nil
		}
		values := make([]*ConstantExpr, 0, len(set))
		for _, v := range set {
			values = append(values, v)
		}
		return values
	}

	if w := ExprWidth(expr); w <= exhaustiveWidth && 1<<w <= max {
		values := make([]*ConstantExpr, 1<<w)
		for i := range values {
			values[i] = NewConstantExpr(uint64(i), w)
		}
		return values
	}
	return nil
}

// covers returns true if values contains every element of want. An empty
// want is never covered.
func covers(values, want []*ConstantExpr) bool {
	if len(want) == 0 {
		return false
	}
	set := make(map[uint256.Int]struct{}, len(values))
	for _, v := range values {
		set[v.Value] = struct{}{}
	}
	for _, v := range want {
		if _, ok := set[v.Value]; !ok {
			return false
		}
	}
	return true
}

// evaluateAll returns true if every constraint evaluates to true.
func evaluateAll(ee *ExprEvaluator, constraints []Expr) (bool, error) {
	for _, c := range constraints {
		v, err := ee.Evaluate(c)
		if err != nil {
			return false, err
		} else if !v.IsTrue() {
			return false, nil
		}
	}
	return true, nil
}

func newDomain(sym *SymbolExpr, constraints []Expr, consts []*ConstantExpr) *domain {
	for _, c := range constraints {
		if v := pinnedValue(c, sym); v != nil {
			return &domain{values: []*ConstantExpr{v}, exact: true}
		}
	}

	if sym.Width <= exhaustiveWidth {
		values := make([]*ConstantExpr, 1<<sym.Width)
		for i := range values {
			values[i] = NewConstantExpr(uint64(i), sym.Width)
		}
		return &domain{values: values, exact: true}
	}

	return &domain{values: candidateValues(sym.Width, consts)}
}

// filter removes every value for which constraint does not hold.
func (d *domain) filter(sym *SymbolExpr, constraint Expr) error {
	ee := NewExprEvaluator()
	values := make([]*ConstantExpr, 0, len(d.values))
	for _, v := range d.values {
		ee.Bind(sym, v)
		if ok, err := ee.Evaluate(constraint); err != nil {
			return err
		} else if ok.IsTrue() {
			values = append(values, v)
		}
	}
	d.values = values
	return nil
}

// pinnedValue returns the only value c allows for sym, if c is an equality
// between sym and a constant. Returns nil otherwise.
func pinnedValue(c Expr, sym *SymbolExpr) *ConstantExpr {
	switch c := c.(type) {
	case *BinaryExpr:
		if c.Op != EQ {
			return nil
		}
		k, ok := c.LHS.(*ConstantExpr)
		if other, isSym := c.RHS.(*SymbolExpr); ok && isSym && other.ID == sym.ID {
			return k
		}
	case *SymbolExpr:
		if c.ID == sym.ID {
			return NewBoolConstantExpr(true)
		}
	case *NotExpr:
		if other, ok := c.Expr.(*SymbolExpr); ok && other.ID == sym.ID && sym.Width == WidthBool {
			return NewBoolConstantExpr(false)
		}
	}
	return nil
}

// candidateValues returns boundary values for width and the neighbors of
// every constant in consts, in ascending order.
func candidateValues(width uint, consts []*ConstantExpr) []*ConstantExpr {
	set := make(map[uint256.Int]*ConstantExpr)
	add := func(v *ConstantExpr) { set[v.Value] = v }

	one := NewConstantExpr(1, width)
	smin := NewConstantExprInt(new(uint256.Int).Lsh(uint256.NewInt(1), width-1), width)
	for _, v := range []*ConstantExpr{
		NewConstantExpr(0, width),
		one,
		NewConstantExpr(2, width),
		NewConstantExprInt(&masks[width], width),
		NewConstantExprInt(&masks[width], width).Sub(one),
		smin,
		smin.Sub(one),
	} {
		add(v)
	}
	for _, k := range consts {
		k = k.ZExt(width)
		add(k)
		add(k.Add(one))
		add(k.Sub(one))
	}

	values := make([]*ConstantExpr, 0, len(set))
	for _, v := range set {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Value.Lt(&values[j].Value) })
	return values
}

// findConstants returns the distinct multi-bit constants referenced by exprs.
func findConstants(exprs ...Expr) []*ConstantExpr {
	v := &constantVisitor{seen: make(map[constantKey]struct{})}
	seen := make(map[Expr]struct{})
	for _, expr := range exprs {
		walkExpr(v, expr, seen)
	}
	return v.a
}

type constantKey struct {
	width uint
	value uint256.Int
}

type constantVisitor struct {
	seen map[constantKey]struct{}
	a    []*ConstantExpr
}

func (v *constantVisitor) Visit(expr Expr) ExprVisitor {
	if k, ok := expr.(*ConstantExpr); ok && k.Width > WidthBool {
		key := constantKey{k.Width, k.Value}
		if _, ok := v.seen[key]; !ok {
			v.seen[key] = struct{}{}
			v.a = append(v.a, k)
		}
	}
	return v
}

// unionFind groups symbol ids that share a constraint.
type unionFind map[uint64]uint64

func (uf unionFind) find(id uint64) uint64 {
	parent, ok := uf[id]
	if !ok || parent == id {
		return id
	}
	root := uf.find(parent)
	uf[id] = root
	return root
}

func (uf unionFind) union(a, b uint64) {
	if ra, rb := uf.find(a), uf.find(b); ra != rb {
		uf[rb] = ra
	}
}

// queryKey returns a structural hash of a solver query.
func queryKey(constraints []Expr, expr Expr, max int) uint64 {
	h := exprHasher{memo: make(map[Expr]uint64)}
	d := xxhash.New()
	var buf [8]byte
	write := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		d.Write(buf[:])
	}
	for _, c := range constraints {
		write(h.hash(c))
	}
	write(0) // separator
	if expr != nil {
		write(h.hash(expr))
	}
	write(uint64(max))
	return d.Sum64()
}

// exprHasher computes structural hashes of expressions. Shared
// subexpressions are hashed once.
type exprHasher struct {
	memo map[Expr]uint64
}

func (h *exprHasher) hash(expr Expr) uint64 {
	if v, ok := h.memo[expr]; ok {
		return v
	}

	d := xxhash.New()
	var buf [8]byte
	write := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		d.Write(buf[:])
	}

	write(uint64(exprKind(expr)))
	switch expr := expr.(type) {
	case *ConstantExpr:
		write(uint64(expr.Width))
		b := expr.Value.Bytes32()
		d.Write(b[:])
	case *SymbolExpr:
		write(expr.ID)
		write(uint64(expr.Width))
	case *ConcatExpr:
		write(h.hash(expr.MSB))
		write(h.hash(expr.LSB))
	case *ExtractExpr:
		write(uint64(expr.Offset))
		write(uint64(expr.Width))
		write(h.hash(expr.Expr))
	case *NotExpr:
		write(h.hash(expr.Expr))
	case *CastExpr:
		write(uint64(expr.Width))
		if expr.Signed {
			write(1)
		} else {
			write(0)
		}
		write(h.hash(expr.Src))
	case *IteExpr:
		write(h.hash(expr.Cond))
		write(h.hash(expr.Then))
		write(h.hash(expr.Else))
	case *BinaryExpr:
		write(uint64(expr.Op))
		write(h.hash(expr.LHS))
		write(h.hash(expr.RHS))
	}

	v := d.Sum64()
	h.memo[expr] = v
	return v
}
