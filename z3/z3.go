//go:build z3

package z3

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unsafe"

	"github.com/benbjohnson/symx"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure solver implements interface.
var _ symx.Solver = (*Solver)(nil)

// Solver represents a solver that uses an embedded Z3 solver.
//
// Every expression is translated to a bit-vector term. One-bit values are
// one-bit vectors and a constraint holds when it evaluates to 1.
type Solver struct {
	ctx   *Context
	stats Stats

	// Per-query timeout. Zero means no limit.
	Timeout time.Duration
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{
		ctx: NewContext(),
	}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Check returns true if the constraints in cs are satisfiable.
func (s *Solver) Check(ctx context.Context, cs *symx.ConstraintSet) (bool, error) {
	solver, err := s.newSolver(cs)
	if err != nil {
		return false, err
	}
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	return s.check(ctx, solver)
}

// Values returns up to max distinct values of expr under the constraints in
// cs. Each value found is excluded before the next query. If more than max
// values are feasible, the result is the first max values the model search
// produces, which are not necessarily the smallest. The result is sorted.
func (s *Solver) Values(ctx context.Context, cs *symx.ConstraintSet, expr symx.Expr, max int) ([]*symx.ConstantExpr, error) {
	solver, err := s.newSolver(cs)
	if err != nil {
		return nil, err
	}
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	ast, err := s.ctx.toAST(expr)
	if err != nil {
		return nil, err
	}
	width := symx.ExprWidth(expr)

	var values []*symx.ConstantExpr
	for len(values) < max {
		if sat, err := s.check(ctx, solver); err != nil {
			return nil, err
		} else if !sat {
			break
		}

		model := C.Z3_solver_get_model(s.ctx.raw, solver)
		if err := s.ctx.err("Z3_solver_get_model"); err != nil {
			return nil, err
		}
		C.Z3_model_inc_ref(s.ctx.raw, model)
		value, err := s.ctx.eval(model, ast, width)
		C.Z3_model_dec_ref(s.ctx.raw, model)
		if err != nil {
			return nil, err
		}
		values = append(values, value)

		// Block the value for the next iteration.
		z3Value, err := s.ctx.toAST(value)
		if err != nil {
			return nil, err
		}
		C.Z3_solver_assert(s.ctx.raw, solver, C.Z3_mk_not(s.ctx.raw, C.Z3_mk_eq(s.ctx.raw, ast, z3Value)))
		if err := s.ctx.err("Z3_solver_assert"); err != nil {
			return nil, err
		}
	}

	sort.Slice(values, func(i, j int) bool { return values[i].Value.Lt(&values[j].Value) })
	return values, nil
}

// newSolver returns a Z3 solver holding every constraint in cs. The caller
// must release the returned solver.
func (s *Solver) newSolver(cs *symx.ConstraintSet) (C.Z3_solver, error) {
	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return nil, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)

	if s.Timeout > 0 {
		if err := s.ctx.setTimeout(solver, s.Timeout); err != nil {
			C.Z3_solver_dec_ref(s.ctx.raw, solver)
			return nil, err
		}
	}

	for _, constraint := range cs.Constraints() {
		z3Constraint, err := s.ctx.toBool(constraint)
		if err != nil {
			C.Z3_solver_dec_ref(s.ctx.raw, solver)
			return nil, err
		}
		C.Z3_solver_assert(s.ctx.raw, solver, z3Constraint)
		if err := s.ctx.err("Z3_solver_assert"); err != nil {
			C.Z3_solver_dec_ref(s.ctx.raw, solver)
			return nil, err
		}
	}
	return solver, nil
}

// check runs the solver. The query is interrupted if ctx is done.
func (s *Solver) check(ctx context.Context, solver C.Z3_solver) (bool, error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			C.Z3_interrupt(s.ctx.raw)
		case <-done:
		}
	}()

	ret := C.Z3_solver_check(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return false, err
	}

	switch ret {
	case C.Z3_L_TRUE:
		return true, nil
	case C.Z3_L_FALSE:
		return false, nil
	}

	reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver))
	switch {
	case strings.Contains(reason, "timeout"):
		return false, symx.ErrSolverTimeout
	case strings.Contains(reason, "canceled"):
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return false, symx.ErrSolverCanceled
	case strings.Contains(reason, "(resource limits reached)"):
		return false, symx.ErrSolverResourceLimit
	case strings.Contains(reason, "unknown"):
		return false, symx.ErrSolverUnknown
	default:
		return false, fmt.Errorf("z3: %s", reason)
	}
}

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw     C.Z3_context
	symbols map[symbolKey]C.Z3_ast
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw, symbols: make(map[symbolKey]C.Z3_ast)}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return ctx.err("Z3_del_context")
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

func (ctx *Context) setTimeout(solver C.Z3_solver, d time.Duration) error {
	params := C.Z3_mk_params(ctx.raw)
	C.Z3_params_inc_ref(ctx.raw, params)
	defer C.Z3_params_dec_ref(ctx.raw, params)

	name := C.CString("timeout")
	defer C.free(unsafe.Pointer(name))
	C.Z3_params_set_uint(ctx.raw, params, C.Z3_mk_string_symbol(ctx.raw, name), C.uint(d.Milliseconds()))
	C.Z3_solver_set_params(ctx.raw, solver, params)
	return ctx.err("Z3_solver_set_params")
}

// toBool returns a one-bit expression as a Z3 boolean.
func (ctx *Context) toBool(expr symx.Expr) (C.Z3_ast, error) {
	if w := symx.ExprWidth(expr); w != symx.WidthBool {
		return nil, fmt.Errorf("z3.Context.toBool: invalid constraint width: %d", w)
	}
	ast, err := ctx.toAST(expr)
	if err != nil {
		return nil, err
	}
	one, err := ctx.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_eq(ctx.raw, ast, one), ctx.err("Z3_mk_eq")
}

// fromBool returns a Z3 boolean as a one-bit vector.
func (ctx *Context) fromBool(ast C.Z3_ast) (C.Z3_ast, error) {
	one, err := ctx.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	zero, err := ctx.makeUint64(1, 0)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, ast, one, zero), ctx.err("Z3_mk_ite")
}

// toAST returns a new Z3 bit-vector term from an expression.
func (ctx *Context) toAST(expr symx.Expr) (C.Z3_ast, error) {
	switch expr := expr.(type) {
	case *symx.ConstantExpr:
		return ctx.toConstantAST(expr)
	case *symx.SymbolExpr:
		return ctx.toSymbolAST(expr)
	case *symx.ConcatExpr:
		return ctx.toConcatAST(expr)
	case *symx.ExtractExpr:
		return ctx.toExtractAST(expr)
	case *symx.CastExpr:
		return ctx.toCastAST(expr)
	case *symx.NotExpr:
		return ctx.toNotAST(expr)
	case *symx.IteExpr:
		return ctx.toIteAST(expr)
	case *symx.BinaryExpr:
		return ctx.toBinaryAST(expr)
	default:
		return nil, fmt.Errorf("z3.Context.toAST: invalid expression type: %T", expr)
	}
}

func (ctx *Context) toConstantAST(expr *symx.ConstantExpr) (C.Z3_ast, error) {
	if expr.Value.IsUint64() {
		return ctx.makeUint64(expr.Width, expr.Value.Uint64())
	}

	t, err := ctx.makeBVSort(expr.Width)
	if err != nil {
		return nil, err
	}
	s := C.CString(expr.Value.Dec())
	defer C.free(unsafe.Pointer(s))
	return C.Z3_mk_numeral(ctx.raw, s, t), ctx.err("Z3_mk_numeral")
}

type symbolKey struct {
	id    uint64
	name  string
	width uint
}

// toSymbolAST returns the constant for a symbol.
func (ctx *Context) toSymbolAST(expr *symx.SymbolExpr) (C.Z3_ast, error) {
	key := symbolKey{id: expr.ID, name: expr.Name, width: expr.Width}
	if ast, ok := ctx.symbols[key]; ok {
		return ast, nil
	}

	t, err := ctx.makeBVSort(expr.Width)
	if err != nil {
		return nil, err
	}
	cname := C.CString(fmt.Sprintf("%s#%d#%d", expr.Name, expr.ID, expr.Width))
	defer C.free(unsafe.Pointer(cname))

	ast := C.Z3_mk_const(ctx.raw, C.Z3_mk_string_symbol(ctx.raw, cname), t)
	if err := ctx.err("Z3_mk_const"); err != nil {
		return nil, err
	}
	ctx.symbols[key] = ast
	return ast, nil
}

func (ctx *Context) toConcatAST(expr *symx.ConcatExpr) (C.Z3_ast, error) {
	msb, err := ctx.toAST(expr.MSB)
	if err != nil {
		return nil, err
	}
	lsb, err := ctx.toAST(expr.LSB)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_concat(ctx.raw, msb, lsb), ctx.err("Z3_mk_concat")
}

func (ctx *Context) toExtractAST(expr *symx.ExtractExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_extract(ctx.raw, C.uint(expr.Offset+expr.Width-1), C.uint(expr.Offset), src), ctx.err("Z3_mk_extract")
}

func (ctx *Context) toCastAST(expr *symx.CastExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Src)
	if err != nil {
		return nil, err
	}

	n := C.uint(expr.Width - symx.ExprWidth(expr.Src))
	if expr.Signed {
		return C.Z3_mk_sign_ext(ctx.raw, n, src), ctx.err("Z3_mk_sign_ext")
	}
	return C.Z3_mk_zero_ext(ctx.raw, n, src), ctx.err("Z3_mk_zero_ext")
}

func (ctx *Context) toNotAST(expr *symx.NotExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_bvnot(ctx.raw, src), ctx.err("Z3_mk_bvnot")
}

func (ctx *Context) toIteAST(expr *symx.IteExpr) (C.Z3_ast, error) {
	cond, err := ctx.toBool(expr.Cond)
	if err != nil {
		return nil, err
	}
	then, err := ctx.toAST(expr.Then)
	if err != nil {
		return nil, err
	}
	els, err := ctx.toAST(expr.Else)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, cond, then, els), ctx.err("Z3_mk_ite")
}

func (ctx *Context) toBinaryAST(expr *symx.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}

	var ast C.Z3_ast
	switch expr.Op {
	case symx.ADD:
		ast = C.Z3_mk_bvadd(ctx.raw, lhs, rhs)
	case symx.SUB:
		ast = C.Z3_mk_bvsub(ctx.raw, lhs, rhs)
	case symx.MUL:
		ast = C.Z3_mk_bvmul(ctx.raw, lhs, rhs)
	case symx.UDIV:
		ast = C.Z3_mk_bvudiv(ctx.raw, lhs, rhs)
	case symx.SDIV:
		ast = C.Z3_mk_bvsdiv(ctx.raw, lhs, rhs)
	case symx.UREM:
		ast = C.Z3_mk_bvurem(ctx.raw, lhs, rhs)
	case symx.SREM:
		ast = C.Z3_mk_bvsrem(ctx.raw, lhs, rhs)
	case symx.AND:
		ast = C.Z3_mk_bvand(ctx.raw, lhs, rhs)
	case symx.OR:
		ast = C.Z3_mk_bvor(ctx.raw, lhs, rhs)
	case symx.XOR:
		ast = C.Z3_mk_bvxor(ctx.raw, lhs, rhs)
	case symx.SHL:
		ast = C.Z3_mk_bvshl(ctx.raw, lhs, rhs)
	case symx.LSHR:
		ast = C.Z3_mk_bvlshr(ctx.raw, lhs, rhs)
	case symx.ASHR:
		ast = C.Z3_mk_bvashr(ctx.raw, lhs, rhs)
	case symx.EQ:
		ast = C.Z3_mk_eq(ctx.raw, lhs, rhs)
	case symx.NE:
		ast = C.Z3_mk_not(ctx.raw, C.Z3_mk_eq(ctx.raw, lhs, rhs))
	case symx.ULT:
		ast = C.Z3_mk_bvult(ctx.raw, lhs, rhs)
	case symx.ULE:
		ast = C.Z3_mk_bvule(ctx.raw, lhs, rhs)
	case symx.UGT:
		ast = C.Z3_mk_bvugt(ctx.raw, lhs, rhs)
	case symx.UGE:
		ast = C.Z3_mk_bvuge(ctx.raw, lhs, rhs)
	case symx.SLT:
		ast = C.Z3_mk_bvslt(ctx.raw, lhs, rhs)
	case symx.SLE:
		ast = C.Z3_mk_bvsle(ctx.raw, lhs, rhs)
	case symx.SGT:
		ast = C.Z3_mk_bvsgt(ctx.raw, lhs, rhs)
	case symx.SGE:
		ast = C.Z3_mk_bvsge(ctx.raw, lhs, rhs)
	default:
		return nil, fmt.Errorf("z3.Context.toBinaryAST: unexpected operation: %s", expr.Op)
	}
	if err := ctx.err(expr.Op.String()); err != nil {
		return nil, err
	}

	// Comparisons produce booleans.
	if expr.Op.IsCompare() {
		return ctx.fromBool(ast)
	}
	return ast, nil
}

func (ctx *Context) makeBVSort(width uint) (C.Z3_sort, error) {
	return C.Z3_mk_bv_sort(ctx.raw, C.uint(width)), ctx.err("Z3_mk_bv_sort")
}

func (ctx *Context) makeUint64(width uint, value uint64) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int64(ctx.raw, C.uint64_t(value), t), ctx.err("Z3_mk_unsigned_int64")
}

// eval evaluates ast against model and returns it as a constant.
func (ctx *Context) eval(model C.Z3_model, ast C.Z3_ast, width uint) (*symx.ConstantExpr, error) {
	var result C.Z3_ast
	C.Z3_model_eval(ctx.raw, model, ast, C.bool(true), &result)
	if err := ctx.err("Z3_model_eval"); err != nil {
		return nil, err
	}

	s := C.GoString(C.Z3_get_numeral_string(ctx.raw, result))
	if err := ctx.err("Z3_get_numeral_string"); err != nil {
		return nil, err
	}
	return symx.ParseConstantExpr(s, width)
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)

type Stats struct {
	SolveN    int
	SolveTime time.Duration
}
