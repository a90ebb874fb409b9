package symx_test

import (
	"errors"
	"testing"

	"github.com/benbjohnson/symx"
	"github.com/google/go-cmp/cmp"
)

func TestParsePerm(t *testing.T) {
	for _, tt := range []struct {
		s    string
		perm symx.Perm
	}{
		{"rwx", symx.PermAll},
		{"r-x", symx.PermRead | symx.PermExec},
		{"rw-", symx.PermRead | symx.PermWrite},
		{"---", symx.PermNone},
		{"", symx.PermNone},
	} {
		if perm, err := symx.ParsePerm(tt.s); err != nil {
			t.Fatal(err)
		} else if perm != tt.perm {
			t.Fatalf("ParsePerm(%q)=%s, expected %s", tt.s, perm, tt.perm)
		} else if tt.s == "r-x" && perm.String() != "r-x" {
			t.Fatalf("unexpected string: %s", perm)
		}
	}

	if _, err := symx.ParsePerm("rwz"); err == nil {
		t.Fatal("expected error")
	}
}

func TestMemory_Map(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		m := symx.NewConcreteMemory()
		if err := m.Map(0x2000, 0x1000, symx.PermRead); err != nil {
			t.Fatal(err)
		} else if err := m.Map(0x1000, 0x10, symx.PermAll); err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff([]symx.Mapping{
			{Start: 0x1000, Size: 0x1000, Perm: symx.PermAll},
			{Start: 0x2000, Size: 0x1000, Perm: symx.PermRead},
		}, m.Mappings()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrMappingOverlap", func(t *testing.T) {
		m := symx.NewConcreteMemory()
		if err := m.Map(0x1000, 0x3000, symx.PermAll); err != nil {
			t.Fatal(err)
		} else if err := m.Map(0x3000, 0x1000, symx.PermAll); !errors.Is(err, symx.ErrMappingOverlap) {
			t.Fatalf("unexpected error: %v", err)
		} else if err := m.Map(0x0, 0x2000, symx.PermAll); !errors.Is(err, symx.ErrMappingOverlap) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrMappingAlignment", func(t *testing.T) {
		if err := symx.NewConcreteMemory().Map(0x1001, 0x1000, symx.PermAll); !errors.Is(err, symx.ErrMappingAlignment) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrOverflow", func(t *testing.T) {
		if err := symx.NewConcreteMemory().Map(0xFFFFFFFFFFFFF000, 0x2000, symx.PermAll); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestMemory_Unmap(t *testing.T) {
	m := symx.NewConcreteMemory()
	if err := m.Map(0x1000, 0x3000, symx.PermAll); err != nil {
		t.Fatal(err)
	} else if err := m.WriteBytes(0x2000, []byte{1, 2}); err != nil {
		t.Fatal(err)
	} else if err := m.Unmap(0x2000, 0x1000); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]symx.Mapping{
		{Start: 0x1000, Size: 0x1000, Perm: symx.PermAll},
		{Start: 0x3000, Size: 0x1000, Perm: symx.PermAll},
	}, m.Mappings()); diff != "" {
		t.Fatal(diff)
	}

	if _, err := m.Read(0x2000, 1); !errors.Is(err, symx.ErrUnmapped) {
		t.Fatalf("unexpected error: %v", err)
	}

	// Remapped pages start zeroed.
	if err := m.Map(0x2000, 0x1000, symx.PermAll); err != nil {
		t.Fatal(err)
	} else if p, err := m.ReadBytes(0x2000, 2); err != nil {
		t.Fatal(err)
	} else if diff := cmp.Diff([]byte{0, 0}, p); diff != "" {
		t.Fatal(diff)
	}
}

func TestMemory_Protect(t *testing.T) {
	m := symx.NewConcreteMemory()
	if err := m.Map(0x1000, 0x3000, symx.PermRead|symx.PermWrite); err != nil {
		t.Fatal(err)
	} else if err := m.Protect(0x2000, 0x1000, symx.PermRead); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]symx.Mapping{
		{Start: 0x1000, Size: 0x1000, Perm: symx.PermRead | symx.PermWrite},
		{Start: 0x2000, Size: 0x1000, Perm: symx.PermRead},
		{Start: 0x3000, Size: 0x1000, Perm: symx.PermRead | symx.PermWrite},
	}, m.Mappings()); diff != "" {
		t.Fatal(diff)
	}

	var fault *symx.MemoryFault
	if err := m.Write(0x2000, k8(1)); !errors.As(err, &fault) {
		t.Fatalf("unexpected error: %v", err)
	} else if fault.Access != symx.AccessWrite || !errors.Is(err, symx.ErrPermission) {
		t.Fatalf("unexpected fault: %v", fault)
	}

	if err := m.Protect(0x3000, 0x2000, symx.PermRead); !errors.Is(err, symx.ErrUnmapped) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemory_ReadWrite(t *testing.T) {
	t.Run("Widths", func(t *testing.T) {
		for _, m := range []symx.Memory{
			symx.NewConcreteMemory(),
			symx.NewSymbolicMemory(symx.NewConstraintSet()),
		} {
			if err := m.Map(0x1000, 0x1000, symx.PermRead|symx.PermWrite); err != nil {
				t.Fatal(err)
			}

			v := symx.MustParseConstantExpr("0x112233445566778899aabbccddeeff00", 128)
			for _, w := range []uint{8, 16, 32, 64, 128} {
				if err := m.Write(0x1100, v.Trunc(w)); err != nil {
					t.Fatal(err)
				}
				if value, err := m.Read(0x1100, w/8); err != nil {
					t.Fatal(err)
				} else if diff := cmp.Diff(v.Trunc(w), value); diff != "" {
					t.Fatalf("width %d: %s", w, diff)
				}
			}
		}
	})

	t.Run("LittleEndian", func(t *testing.T) {
		m := symx.NewConcreteMemory()
		if err := m.Map(0x1000, 0x1000, symx.PermRead|symx.PermWrite); err != nil {
			t.Fatal(err)
		} else if err := m.Write(0x1000, symx.NewConstantExpr32(0x04030201)); err != nil {
			t.Fatal(err)
		}

		if p, err := m.ReadBytes(0x1000, 4); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]byte{1, 2, 3, 4}, p); diff != "" {
			t.Fatal(diff)
		}
		if value, err := m.Read(0x1001, 2); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(symx.NewConstantExpr16(0x0302), value); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrUnmapped", func(t *testing.T) {
		m := symx.NewConcreteMemory()
		if err := m.Map(0x1000, 0x1000, symx.PermRead); err != nil {
			t.Fatal(err)
		}

		var fault *symx.MemoryFault
		if _, err := m.Read(0x1FFE, 4); !errors.As(err, &fault) {
			t.Fatalf("unexpected error: %v", err)
		} else if !errors.Is(fault.Err, symx.ErrUnmapped) {
			t.Fatalf("unexpected cause: %v", fault.Err)
		}

		got := *fault
		got.Err = nil
		if diff := cmp.Diff(symx.MemoryFault{Addr: 0x1FFE, Size: 4, Access: symx.AccessRead}, got); diff != "" {
			t.Fatal(diff)
		}
		if _, err := m.Read(0x0, 1); !errors.Is(err, symx.ErrUnmapped) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("AcrossRegions", func(t *testing.T) {
		m := symx.NewConcreteMemory()
		if err := m.Map(0x1000, 0x1000, symx.PermRead); err != nil {
			t.Fatal(err)
		} else if err := m.Map(0x2000, 0x1000, symx.PermRead); err != nil {
			t.Fatal(err)
		} else if _, err := m.Read(0x1FFF, 2); !errors.Is(err, symx.ErrUnmapped) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrSymbolicValue", func(t *testing.T) {
		m := symx.NewConcreteMemory()
		if err := m.Map(0x1000, 0x1000, symx.PermRead|symx.PermWrite); err != nil {
			t.Fatal(err)
		} else if err := m.Write(0x1000, x); !errors.Is(err, symx.ErrSymbolicValue) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("HostAccessIgnoresPermissions", func(t *testing.T) {
		m := symx.NewConcreteMemory()
		if err := m.Map(0x1000, 0x1000, symx.PermExec); err != nil {
			t.Fatal(err)
		} else if err := m.WriteBytes(0x1000, []byte{0x90}); err != nil {
			t.Fatal(err)
		} else if _, err := m.Read(0x1000, 1); !errors.Is(err, symx.ErrPermission) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestSymbolicMemory(t *testing.T) {
	t.Run("MakeSymbolic", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		m := symx.NewSymbolicMemory(cs)
		if err := m.Map(0x1000, 0x1000, symx.PermRead|symx.PermWrite); err != nil {
			t.Fatal(err)
		} else if err := m.WriteBytes(0x1000, []byte{0xAA, 0xBB, 0xCC, 0xDD}); err != nil {
			t.Fatal(err)
		}

		in, err := m.MakeSymbolic(0x1001, 2, "in")
		if err != nil {
			t.Fatal(err)
		}
		in0, in1 := cs.Lookup("in[0]"), cs.Lookup("in[1]")
		if in0 == nil || in1 == nil {
			t.Fatal("expected declared symbols")
		} else if diff := cmp.Diff(symx.NewConcatExpr(in1, in0), in); diff != "" {
			t.Fatal(diff)
		}

		value, err := m.Read(0x1000, 4)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(symx.NewConcatExprs(k8(0xDD), in1, in0, k8(0xAA)), value); diff != "" {
			t.Fatal(diff)
		}

		if _, err := m.ReadBytes(0x1000, 4); !errors.Is(err, symx.ErrSymbolicValue) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("WriteExpr", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		a := cs.MustDeclare("a", 16)
		m := symx.NewSymbolicMemory(cs)
		if err := m.Map(0x1000, 0x1000, symx.PermRead|symx.PermWrite); err != nil {
			t.Fatal(err)
		} else if err := m.Write(0x1000, a); err != nil {
			t.Fatal(err)
		}

		value, err := m.Read(0x1000, 2)
		if err != nil {
			t.Fatal(err)
		}

		// The recomposed bytes evaluate to the original symbol's value.
		ee := symx.NewExprEvaluator()
		ee.Bind(a, symx.NewConstantExpr16(0xBEEF))
		if v, err := ee.Evaluate(value); err != nil {
			t.Fatal(err)
		} else if v.Uint64() != 0xBEEF {
			t.Fatalf("unexpected value: %s", v)
		}

		// Overwriting with a constant makes the bytes concrete again.
		if err := m.Write(0x1000, symx.NewConstantExpr16(0x1234)); err != nil {
			t.Fatal(err)
		} else if value, err := m.Read(0x1000, 2); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(symx.NewConstantExpr16(0x1234), value); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestMemory_Fetch(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		m := symx.NewConcreteMemory()
		if err := m.Map(0x1000, 0x1000, symx.PermRead|symx.PermExec); err != nil {
			t.Fatal(err)
		} else if err := m.Map(0x2000, 0x1000, symx.PermRead); err != nil {
			t.Fatal(err)
		} else if err := m.WriteBytes(0x1FFE, []byte{0x0F, 0x0B}); err != nil {
			t.Fatal(err)
		}

		// Fetch stops at the end of executable memory.
		if p, err := m.Fetch(0x1FFE, 15); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]byte{0x0F, 0x0B}, p); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrPermission", func(t *testing.T) {
		m := symx.NewConcreteMemory()
		if err := m.Map(0x1000, 0x1000, symx.PermRead|symx.PermWrite); err != nil {
			t.Fatal(err)
		}
		var fault *symx.MemoryFault
		if _, err := m.Fetch(0x1000, 15); !errors.As(err, &fault) {
			t.Fatalf("unexpected error: %v", err)
		} else if fault.Access != symx.AccessExec || fault.Err != symx.ErrPermission {
			t.Fatalf("unexpected fault: %v", fault)
		}
	})

	t.Run("SymbolicCode", func(t *testing.T) {
		cs := symx.NewConstraintSet()
		m := symx.NewSymbolicMemory(cs)
		if err := m.Map(0x1000, 0x1000, symx.PermAll); err != nil {
			t.Fatal(err)
		} else if err := m.WriteBytes(0x1000, []byte{0x90}); err != nil {
			t.Fatal(err)
		} else if _, err := m.MakeSymbolic(0x1001, 1, "code"); err != nil {
			t.Fatal(err)
		}

		// Fetch stops before a symbolic byte.
		if p, err := m.Fetch(0x1000, 15); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]byte{0x90}, p); diff != "" {
			t.Fatal(diff)
		}

		// A symbolic first byte must be concretized.
		var req *symx.ConcretizeRequest
		if _, err := m.Fetch(0x1001, 15); !errors.As(err, &req) {
			t.Fatalf("unexpected error: %v", err)
		} else if diff := cmp.Diff(symx.MemoryLocation(0x1001, 1), req.Location); diff != "" {
			t.Fatal(diff)
		} else if req.Expr != cs.Lookup("code[0]") {
			t.Fatalf("unexpected expr: %s", req.Expr)
		}
	})
}

func TestMemory_Snapshot(t *testing.T) {
	m := symx.NewConcreteMemory()
	if err := m.Map(0x1000, 0x1000, symx.PermRead|symx.PermWrite); err != nil {
		t.Fatal(err)
	} else if err := m.WriteBytes(0x1000, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	snapshot := m.Snapshot()
	if err := m.Write(0x1001, k8(0xFF)); err != nil {
		t.Fatal(err)
	} else if err := m.Map(0x4000, 0x1000, symx.PermRead); err != nil {
		t.Fatal(err)
	} else if p, _ := m.ReadBytes(0x1000, 3); !cmp.Equal([]byte{1, 0xFF, 3}, p) {
		t.Fatalf("unexpected bytes: %v", p)
	}

	m.Restore(snapshot)
	if p, err := m.ReadBytes(0x1000, 3); err != nil {
		t.Fatal(err)
	} else if diff := cmp.Diff([]byte{1, 2, 3}, p); diff != "" {
		t.Fatal(diff)
	} else if n := len(m.Mappings()); n != 1 {
		t.Fatalf("unexpected mapping count: %d", n)
	}

	// The snapshot can be restored more than once.
	if err := m.Write(0x1000, k8(0xEE)); err != nil {
		t.Fatal(err)
	}
	m.Restore(snapshot)
	if p, _ := m.ReadBytes(0x1000, 1); !cmp.Equal([]byte{1}, p) {
		t.Fatalf("unexpected bytes: %v", p)
	}
}

func TestMemory_Fork(t *testing.T) {
	cs := symx.NewConstraintSet()
	m := symx.NewSymbolicMemory(cs)
	if err := m.Map(0x1000, 0x1000, symx.PermRead|symx.PermWrite); err != nil {
		t.Fatal(err)
	} else if err := m.WriteBytes(0x1000, []byte{1}); err != nil {
		t.Fatal(err)
	}

	other := cs.Clone()
	fork := m.Fork(other).(*symx.SymbolicMemory)
	if fork.ConstraintSet() != other {
		t.Fatal("unexpected constraint set")
	}

	if err := fork.Write(0x1000, k8(2)); err != nil {
		t.Fatal(err)
	} else if err := m.Write(0x1000, k8(3)); err != nil {
		t.Fatal(err)
	}

	if value, _ := m.Read(0x1000, 1); !cmp.Equal(k8(3), value) {
		t.Fatalf("unexpected parent value: %s", value)
	} else if value, _ := fork.Read(0x1000, 1); !cmp.Equal(k8(2), value) {
		t.Fatalf("unexpected fork value: %s", value)
	}

	// Symbols made in the fork are declared in the fork's set only.
	if _, err := fork.MakeSymbolic(0x1010, 1, "in"); err != nil {
		t.Fatal(err)
	} else if cs.Lookup("in[0]") != nil {
		t.Fatal("symbol leaked into parent set")
	}
}
