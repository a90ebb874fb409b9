package x86_test

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/benbjohnson/symx"
	"github.com/benbjohnson/symx/x86"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/txtar"
)

// Fixture is a single instruction test case read from a txtar archive.
//
// The archive comment holds the disassembly. The "map" section lists
// "addr size perm" mappings, "code" lists "addr hexbytes" and "regs" and
// "want" list "name value" pairs before and after the step.
type Fixture struct {
	Name string
	Asm  string
	Maps []symx.Mapping
	Code []Code
	Regs []Reg
	Want []Reg
}

type Code struct {
	Addr  uint64
	Bytes []byte
}

type Reg struct {
	Name  string
	Value string
}

// MustLoadFixtures parses every archive matching pattern.
func MustLoadFixtures(tb testing.TB, pattern string) []*Fixture {
	tb.Helper()

	paths, err := filepath.Glob(pattern)
	if err != nil {
		tb.Fatal(err)
	} else if len(paths) == 0 {
		tb.Fatalf("no fixtures: %s", pattern)
	}

	var a []*Fixture
	for _, path := range paths {
		ar, err := txtar.ParseFile(path)
		if err != nil {
			tb.Fatal(err)
		}

		fx := &Fixture{
			Name: strings.TrimSuffix(filepath.Base(path), ".txtar"),
			Asm:  strings.TrimSpace(string(ar.Comment)),
		}
		for _, f := range ar.Files {
			for _, line := range strings.Split(string(f.Data), "\n") {
				fields := strings.Fields(line)
				if len(fields) == 0 {
					continue
				}

				switch f.Name {
				case "map":
					perm, err := symx.ParsePerm(fields[2])
					if err != nil {
						tb.Fatalf("%s: %s", path, err)
					}
					fx.Maps = append(fx.Maps, symx.Mapping{Start: mustParseUint(tb, fields[0]), Size: mustParseUint(tb, fields[1]), Perm: perm})
				case "code":
					p, err := hex.DecodeString(fields[1])
					if err != nil {
						tb.Fatalf("%s: %s", path, err)
					}
					fx.Code = append(fx.Code, Code{Addr: mustParseUint(tb, fields[0]), Bytes: p})
				case "regs":
					fx.Regs = append(fx.Regs, Reg{Name: fields[0], Value: fields[1]})
				case "want":
					fx.Want = append(fx.Want, Reg{Name: fields[0], Value: fields[1]})
				default:
					tb.Fatalf("%s: unexpected section: %s", path, f.Name)
				}
			}
		}
		a = append(a, fx)
	}
	return a
}

// Load maps the fixture's regions and writes its code into mem.
func (fx *Fixture) Load(tb testing.TB, mem symx.Memory) {
	tb.Helper()
	for _, m := range fx.Maps {
		if err := mem.Map(m.Start, m.Size, m.Perm); err != nil {
			tb.Fatal(err)
		}
	}
	for _, c := range fx.Code {
		if err := mem.WriteBytes(c.Addr, c.Bytes); err != nil {
			tb.Fatal(err)
		}
	}
}

// MustValue parses a register value at the register's width.
func MustValue(tb testing.TB, cpu *x86.CPU, r Reg) *symx.ConstantExpr {
	tb.Helper()
	v, err := symx.ParseConstantExpr(r.Value, cpu.Registers().Width(r.Name))
	if err != nil {
		tb.Fatalf("%s: %s", r.Name, err)
	}
	return v
}

// MustRun steps cpu until an instruction completes, resolving any
// concretization requests along the way.
func MustRun(tb testing.TB, cpu *x86.CPU) {
	tb.Helper()
	result, err := symx.Run(context.Background(), cpu, symx.NewEnumSolver(), 1)
	if err != nil {
		tb.Fatal(err)
	} else if result.Status != symx.StepCompleted {
		tb.Fatalf("unexpected result: %s\n%s", result, cpu.Dump())
	}
}

// MustWriteCode maps a single rwx page at addr and writes code into it.
func MustWriteCode(tb testing.TB, mem symx.Memory, addr uint64, code string) {
	tb.Helper()
	p, err := hex.DecodeString(strings.ReplaceAll(code, " ", ""))
	if err != nil {
		tb.Fatal(err)
	} else if err := mem.Map(addr&^(symx.PageSize-1), symx.PageSize, symx.PermAll); err != nil {
		tb.Fatal(err)
	} else if err := mem.WriteBytes(addr, p); err != nil {
		tb.Fatal(err)
	}
}

// AssertRegister fails if the named register does not hold want.
func AssertRegister(tb testing.TB, cpu *x86.CPU, name string, want uint64) {
	tb.Helper()
	v, err := cpu.Get(name)
	if err != nil {
		tb.Fatal(err)
	} else if diff := cmp.Diff(symx.NewConstantExpr(want, cpu.Registers().Width(name)), v); diff != "" {
		tb.Fatalf("%s: %s", name, diff)
	}
}

func mustParseUint(tb testing.TB, s string) uint64 {
	tb.Helper()
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		tb.Fatal(err)
	}
	return v
}
