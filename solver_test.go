package symx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/benbjohnson/symx"
	"github.com/google/go-cmp/cmp"
)

func TestEnumSolver_Check(t *testing.T) {
	t.Run("Sat", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		a := cs.MustDeclare("a", 8)
		cs.Add(symx.NewBinaryExpr(symx.ULT, a, k8(4)))
		if sat, err := symx.NewEnumSolver().Check(context.Background(), cs); err != nil {
			t.Fatal(err)
		} else if !sat {
			t.Fatal("expected sat")
		}
	})

	t.Run("Unsat", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		a := cs.MustDeclare("a", 8)
		cs.Add(symx.NewBinaryExpr(symx.EQ, a, k8(3)))
		cs.Add(symx.NewBinaryExpr(symx.EQ, a, k8(4)))
		if sat, err := symx.NewEnumSolver().Check(context.Background(), cs); err != nil {
			t.Fatal(err)
		} else if sat {
			t.Fatal("expected unsat")
		}
	})

	t.Run("UnsatWide", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		a := cs.MustDeclare("a", 128)
		k := symx.MustParseConstantExpr("0x4e0000004c0000004a00000048", 128)
		cs.Add(symx.NewBinaryExpr(symx.EQ, a, k))
		cs.Add(symx.NewBinaryExpr(symx.ULT, a, k))
		if sat, err := symx.NewEnumSolver().Check(context.Background(), cs); err != nil {
			t.Fatal(err)
		} else if sat {
			t.Fatal("expected unsat")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if sat, err := symx.NewEnumSolver().Check(context.Background(), symx.NewConstraintSet()); err != nil {
			t.Fatal(err)
		} else if !sat {
			t.Fatal("expected sat")
		}
	})

	t.Run("ConstantFalse", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		cs.Add(symx.NewBoolConstantExpr(false))
		if sat, err := symx.NewEnumSolver().Check(context.Background(), cs); err != nil {
			t.Fatal(err)
		} else if sat {
			t.Fatal("expected unsat")
		}
	})

	t.Run("ErrUnknown", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		r := cs.MustDeclare("r", 64)
		cs.Add(symx.NewBinaryExpr(symx.EQ, symx.NewBinaryExpr(symx.MUL, r, r), symx.NewConstantExpr(49, 64)))
		if _, err := symx.NewEnumSolver().Check(context.Background(), cs); !errors.Is(err, symx.ErrSolverUnknown) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrCanceled", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		a := cs.MustDeclare("a", 8)
		cs.Add(symx.NewBinaryExpr(symx.ULT, a, k8(4)))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := symx.NewEnumSolver().Check(ctx, cs); !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestEnumSolver_Values(t *testing.T) {
	t.Run("Singleton", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		a := cs.MustDeclare("a", 128)
		k := symx.MustParseConstantExpr("0x4e0000004c0000004a00000048", 128)
		cs.Add(symx.NewBinaryExpr(symx.EQ, a, k))

		values, err := symx.NewEnumSolver().Values(context.Background(), cs, a, 256)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]*symx.ConstantExpr{k}, values); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Range", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		a := cs.MustDeclare("a", 8)
		cs.Add(symx.NewBinaryExpr(symx.ULT, a, k8(4)))

		values, err := symx.NewEnumSolver().Values(context.Background(), cs, a, 256)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]*symx.ConstantExpr{k8(0), k8(1), k8(2), k8(3)}, values); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Max", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		a := cs.MustDeclare("a", 8)
		if values, err := symx.NewEnumSolver().Values(context.Background(), cs, a, 10); err != nil {
			t.Fatal(err)
		} else if len(values) != 10 {
			t.Fatalf("unexpected value count: %d", len(values))
		}
	})

	t.Run("Dependent", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		a, b := cs.MustDeclare("a", 8), cs.MustDeclare("b", 8)
		cs.Add(symx.NewBinaryExpr(symx.EQ, symx.NewBinaryExpr(symx.ADD, a, b), k8(10)))
		cs.Add(symx.NewBinaryExpr(symx.EQ, a, k8(3)))

		values, err := symx.NewEnumSolver().Values(context.Background(), cs, b, 256)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]*symx.ConstantExpr{k8(7)}, values); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Branch", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		r := cs.MustDeclare("r", 64)
		target, next := symx.NewConstantExpr64(0x1000), symx.NewConstantExpr64(0x2000)
		rip := symx.NewIteExpr(symx.NewBinaryExpr(symx.EQ, r, symx.NewConstantExpr64(5)), target, next)

		s := symx.NewEnumSolver()
		values, err := s.Values(context.Background(), cs, rip, 256)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]*symx.ConstantExpr{target, next}, values); diff != "" {
			t.Fatal(diff)
		}

		// Pinning the branch condition leaves a single target.
		cs.Add(symx.NewBinaryExpr(symx.EQ, rip, target))
		values, err = s.Values(context.Background(), cs, rip, 256)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]*symx.ConstantExpr{target}, values); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrUnknown", func(t *testing.T) {
		// Both 0x10 and 0x20 are feasible but only 0x10 is a candidate.
		cs := symx.NewConstraintSet()
		x := cs.MustDeclare("x", 64)
		cs.Add(symx.NewBinaryExpr(symx.UGE, x, symx.NewConstantExpr64(0x10)))
		cs.Add(symx.NewBinaryExpr(symx.ULE, x, symx.NewConstantExpr64(0x2f)))
		cs.Add(symx.NewIsZeroExpr(symx.NewBinaryExpr(symx.AND, x, symx.NewConstantExpr64(0xf))))

		if values, err := symx.NewEnumSolver().Values(context.Background(), cs, x, 2); !errors.Is(err, symx.ErrSolverUnknown) {
			t.Fatalf("unexpected result: %v %v", values, err)
		}
	})

	t.Run("PartialMax", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		x := cs.MustDeclare("x", 64)
		cs.Add(symx.NewBinaryExpr(symx.UGE, x, symx.NewConstantExpr64(0x10)))

		values, err := symx.NewEnumSolver().Values(context.Background(), cs, x, 2)
		if err != nil {
			t.Fatal(err)
		} else if len(values) != 2 {
			t.Fatalf("unexpected values: %v", values)
		}
	})

	t.Run("Unsat", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		a := cs.MustDeclare("a", 8)
		cs.Add(symx.NewBinaryExpr(symx.ULT, a, k8(0)))
		if values, err := symx.NewEnumSolver().Values(context.Background(), cs, a, 1); err != nil {
			t.Fatal(err)
		} else if len(values) != 0 {
			t.Fatalf("unexpected values: %v", values)
		}
	})

	t.Run("Constant", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		values, err := symx.NewEnumSolver().Values(context.Background(), cs, k8(9), 4)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]*symx.ConstantExpr{k8(9)}, values); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Cached", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		a := cs.MustDeclare("a", 8)
		cs.Add(symx.NewBinaryExpr(symx.ULE, a, k8(1)))

		s := symx.NewEnumSolver()
		for i := 0; i < 2; i++ {
			values, err := s.Values(context.Background(), cs, a, 256)
			if err != nil {
				t.Fatal(err)
			} else if diff := cmp.Diff([]*symx.ConstantExpr{k8(0), k8(1)}, values); diff != "" {
				t.Fatal(diff)
			}
			values[0] = nil // callers own the returned slice
		}
	})
}

func TestScope_Solver(t *testing.T) {
	cs := symx.NewConstraintSet()
	a := cs.MustDeclare("a", 128)
	k := symx.MustParseConstantExpr("1438846037749345026124", 128)
	cond := symx.NewBinaryExpr(symx.EQ, a, k)
	cs.Add(cond)

	s := symx.NewEnumSolver()
	scope := cs.Scope()
	if sat, err := scope.Commit(context.Background(), s); err != nil {
		t.Fatal(err)
	} else if !sat {
		t.Fatal("expected condition to be satisfiable")
	}

	scope = cs.Scope()
	scope.Add(symx.NewNotExpr(cond))
	if sat, err := scope.Commit(context.Background(), s); err != nil {
		t.Fatal(err)
	} else if sat {
		t.Fatal("expected negated condition to be unsatisfiable")
	}

	if _, err := scope.Commit(context.Background(), s); err != symx.ErrScopeClosed {
		t.Fatalf("unexpected error: %v", err)
	} else if cs.Len() != 1 {
		t.Fatalf("unexpected parent constraint count: %d", cs.Len())
	}
}
