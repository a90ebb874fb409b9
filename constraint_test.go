package symx_test

import (
	"errors"
	"testing"

	"github.com/benbjohnson/symx"
	"github.com/google/go-cmp/cmp"
)

func TestConstraintSet_Declare(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		a, b := cs.MustDeclare("a", 8), cs.MustDeclare("b", 64)
		if a.ID >= b.ID {
			t.Fatalf("expected increasing ids: %d, %d", a.ID, b.ID)
		} else if diff := cmp.Diff([]*symx.SymbolExpr{a, b}, cs.Symbols()); diff != "" {
			t.Fatal(diff)
		} else if cs.Lookup("b") != b {
			t.Fatal("lookup mismatch")
		}
	})

	t.Run("ErrSymbolDeclared", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		cs.MustDeclare("a", 8)
		if _, err := cs.Declare("a", 16); !errors.Is(err, symx.ErrSymbolDeclared) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrSymbolDeclaredInParent", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		cs.MustDeclare("a", 8)
		scope := cs.Scope()
		defer scope.Close()
		if _, err := scope.ConstraintSet().Declare("a", 8); !errors.Is(err, symx.ErrSymbolDeclared) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrInvalidWidth", func(t *testing.T) {
		if _, err := symx.NewConstraintSet().Declare("a", 0); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestConstraintSet_Add(t *testing.T) {
	cs := symx.NewConstraintSet()
	a, b := cs.MustDeclare("a", 8), cs.MustDeclare("b", 8)

	eqA := symx.NewBinaryExpr(symx.EQ, a, k8(3))
	eqB := symx.NewBinaryExpr(symx.EQ, b, k8(4))
	cs.Add(symx.NewBinaryExpr(symx.AND, eqA, eqB))
	cs.Add(symx.NewBoolConstantExpr(true))

	if diff := cmp.Diff([]symx.Expr{eqA, eqB}, cs.Constraints()); diff != "" {
		t.Fatal(diff)
	} else if cs.IsTriviallyFalse() {
		t.Fatal("unexpected trivially false set")
	}

	cs.Add(symx.NewBoolConstantExpr(false))
	if !cs.IsTriviallyFalse() {
		t.Fatal("expected trivially false set")
	}
}

func TestConstraintSet_Scope(t *testing.T) {
	newSet := func() (*symx.ConstraintSet, symx.Expr) {
		cs := symx.NewConstraintSet()
		a := cs.MustDeclare("a", 8)
		cond := symx.NewBinaryExpr(symx.ULT, a, k8(10))
		cs.Add(cond)
		return cs, cond
	}

	t.Run("Close", func(t *testing.T) {
		cs, cond := newSet()
		scope := cs.Scope()
		scope.Add(symx.NewNotExpr(cond))
		scope.ConstraintSet().MustDeclare("tmp", 8)

		if n := scope.ConstraintSet().Len(); n != 2 {
			t.Fatalf("unexpected scope constraint count: %d", n)
		} else if n := cs.Len(); n != 1 {
			t.Fatalf("unexpected parent constraint count: %d", n)
		}

		scope.Close()
		scope.Close()
		if !scope.Closed() {
			t.Fatal("expected closed scope")
		} else if cs.Lookup("tmp") != nil {
			t.Fatal("scope symbol leaked into parent")
		} else if diff := cmp.Diff([]symx.Expr{cond}, cs.Constraints()); diff != "" {
			t.Fatal(diff)
		}

		// The name is free again once the scope is gone.
		if _, err := cs.Declare("tmp", 8); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("WithScopeError", func(t *testing.T) {
		cs, cond := newSet()
		errAbort := errors.New("abort")
		if err := cs.WithScope(func(child *symx.ConstraintSet) error {
			child.Add(symx.NewNotExpr(cond))
			return errAbort
		}); err != errAbort {
			t.Fatalf("unexpected error: %v", err)
		} else if n := cs.Len(); n != 1 {
			t.Fatalf("unexpected parent constraint count: %d", n)
		}
	})

	t.Run("WithScopePanic", func(t *testing.T) {
		cs, cond := newSet()
		var child *symx.ConstraintSet
		func() {
			defer func() { recover() }()
			cs.WithScope(func(c *symx.ConstraintSet) error {
				child = c
				c.Add(symx.NewNotExpr(cond))
				panic("abort")
			})
		}()
		if n := cs.Len(); n != 1 {
			t.Fatalf("unexpected parent constraint count: %d", n)
		} else if n := child.Len(); n != 1 {
			t.Fatalf("expected discarded scope constraints, got %d", n)
		}
	})

	t.Run("Nested", func(t *testing.T) {
		cs, cond := newSet()
		outer := cs.Scope()
		defer outer.Close()
		outer.Add(symx.NewBinaryExpr(symx.NE, cs.Lookup("a"), k8(0)))

		inner := outer.ConstraintSet().Scope()
		inner.Add(symx.NewNotExpr(cond))
		if n := inner.ConstraintSet().Len(); n != 3 {
			t.Fatalf("unexpected inner constraint count: %d", n)
		}
		inner.Close()

		if n := outer.ConstraintSet().Len(); n != 2 {
			t.Fatalf("unexpected outer constraint count: %d", n)
		}
	})
}

func TestConstraintSet_Clone(t *testing.T) {
	cs := symx.NewConstraintSet()
	a := cs.MustDeclare("a", 8)
	cs.Add(symx.NewBinaryExpr(symx.ULT, a, k8(10)))

	other := cs.Clone()
	other.Add(symx.NewBinaryExpr(symx.EQ, a, k8(3)))
	b := other.MustDeclare("b", 8)

	if cs.Len() != 1 || other.Len() != 2 {
		t.Fatalf("unexpected constraint counts: %d, %d", cs.Len(), other.Len())
	} else if cs.Lookup("b") != nil {
		t.Fatal("clone symbol leaked into original")
	}

	// Ids stay unique across clones.
	if c := cs.MustDeclare("b", 8); c.ID == b.ID {
		t.Fatalf("duplicate symbol id: %d", c.ID)
	}
}
