package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/symx"
	"github.com/benbjohnson/symx/log"
	"github.com/benbjohnson/symx/x86"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
)

// Default memory layout.
const (
	DefaultAddr      = 0x400000
	DefaultStackTop  = 0x7fff0000
	DefaultStackSize = 0x10000
)

// newSolver returns the solver used by the run command.
var newSolver = func() (symx.Solver, func() error) {
	return symx.NewEnumSolver(), func() error { return nil }
}

// RunCommand represents a command for executing code.
type RunCommand struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewRunCommand returns a new instance of RunCommand.
func NewRunCommand() *RunCommand {
	return &RunCommand{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the "run" subcommand.
func (cmd *RunCommand) Run(ctx context.Context, args []string) error {
	var regs, syms stringSlice
	fs := flag.NewFlagSet("symx-run", flag.ContinueOnError)
	addr := fs.String("addr", strconv.FormatUint(DefaultAddr, 16), "load address, in hex")
	fs.Var(&regs, "reg", "initial register value as NAME=VALUE; may be repeated")
	fs.Var(&syms, "sym", "make register NAME symbolic; may be repeated")
	maxSteps := fs.Int("max-steps", 1000, "maximum instructions per path; zero means no limit")
	maxValues := fs.Int("max-values", symx.DefaultMaxValues, "maximum forks per concretization")
	search := fs.String("search", "dfs", "search strategy: dfs, bfs, random or random-path")
	level := fs.String("log-level", "info", "log level: debug, info, error or off")
	verbose := fs.Bool("v", false, "dump every terminated state")
	fs.SetOutput(cmd.Stderr)
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("code required")
	}

	if err := log.SetLevelByName(*level); err != nil {
		return err
	}

	code, err := hex.DecodeString(strings.Join(strings.Fields(strings.Join(fs.Args(), " ")), ""))
	if err != nil {
		return errors.Wrap(err, "parse code")
	}
	loadAddr, err := strconv.ParseUint(strings.TrimPrefix(*addr, "0x"), 16, 64)
	if err != nil {
		return errors.Wrap(err, "parse -addr")
	}

	searcher, err := newSearcher(*search)
	if err != nil {
		return err
	}

	cpu, err := cmd.load(code, loadAddr)
	if err != nil {
		return err
	}
	for _, s := range regs {
		name, value, ok := strings.Cut(s, "=")
		if !ok {
			return fmt.Errorf("invalid -reg: %q", s)
		} else if cpu.Registers().Width(name) == 0 {
			return errors.Wrap(symx.ErrUnknownRegister, name)
		}
		v, err := symx.ParseConstantExpr(value, cpu.Registers().Width(name))
		if err != nil {
			return errors.Wrapf(err, "parse -reg %s", name)
		} else if err := cpu.Set(name, v); err != nil {
			return err
		}
	}
	for _, name := range syms {
		if cpu.Registers().Width(name) == 0 {
			return errors.Wrap(symx.ErrUnknownRegister, name)
		}
		sym, err := cpu.Constraints().Declare(strings.ToLower(name), cpu.Registers().Width(name))
		if err != nil {
			return err
		} else if err := cpu.Set(name, sym); err != nil {
			return err
		}
	}

	solver, closeSolver := newSolver()
	defer closeSolver()

	e := symx.NewExecutor(cpu,
		symx.WithSolver(solver),
		symx.WithSearcher(searcher),
		symx.WithMaxSteps(*maxSteps),
		symx.WithMaxValues(*maxValues),
	)
	states, err := e.Run(ctx)
	if err != nil {
		return err
	}

	for _, state := range states {
		if err := cmd.report(ctx, solver, state, *verbose); err != nil {
			return err
		}
	}
	return nil
}

// load maps code at addr along with a stack and returns a CPU at addr.
func (cmd *RunCommand) load(code []byte, addr uint64) (*x86.CPU, error) {
	cs := symx.NewConstraintSet()
	mem := symx.NewSymbolicMemory(cs)

	start := addr &^ (symx.PageSize - 1)
	size := (addr + uint64(len(code)) - start + symx.PageSize - 1) &^ (symx.PageSize - 1)
	if err := mem.Map(start, size, symx.PermRead|symx.PermExec); err != nil {
		return nil, errors.Wrap(err, "map code")
	} else if err := mem.WriteBytes(addr, code); err != nil {
		return nil, errors.Wrap(err, "write code")
	}
	if err := mem.Map(DefaultStackTop-DefaultStackSize, DefaultStackSize, symx.PermRead|symx.PermWrite); err != nil {
		return nil, errors.Wrap(err, "map stack")
	}

	cpu := x86.NewCPU(mem, x86.WithConstraintSet(cs))
	if err := cpu.SetUint64("RIP", addr); err != nil {
		return nil, err
	} else if err := cpu.SetUint64("RSP", DefaultStackTop); err != nil {
		return nil, err
	}
	return cpu, nil
}

// report prints a terminated state with a model for its symbols.
func (cmd *RunCommand) report(ctx context.Context, solver symx.Solver, state *symx.ExecutionState, verbose bool) error {
	fmt.Fprintf(cmd.Stdout, "state#%d %s", state.ID(), state.Status())
	if reason := state.Reason(); reason != "" {
		fmt.Fprintf(cmd.Stdout, ": %s", reason)
	}
	fmt.Fprintln(cmd.Stdout)

	if state.Status() != symx.ExecutionStatusPruned {
		model, err := state.Model(ctx, solver)
		if err != nil {
			return err
		}
		for _, b := range model {
			fmt.Fprintf(cmd.Stdout, "  %s\n", b)
		}
	}

	if verbose {
		fmt.Fprintln(cmd.Stdout, state.Dump())
		if cpu, ok := state.Machine().(*x86.CPU); ok {
			if rip, err := cpu.Uint64("RIP"); err == nil {
				if asm, err := cpu.Disassemble(rip); err == nil {
					fmt.Fprintf(cmd.Stdout, "next: %#x %s\n", rip, asm)
				}
			}
			fmt.Fprintln(cmd.Stdout, spew.Sdump(cpu.Memory().Mappings()))
		}
	}
	return nil
}

func newSearcher(name string) (symx.Searcher, error) {
	switch name {
	case "dfs":
		return symx.NewDFSSearcher(), nil
	case "bfs":
		return symx.NewBFSSearcher(), nil
	case "random":
		return symx.NewRandomSearcher(rand.New(rand.NewSource(time.Now().UnixNano()))), nil
	case "random-path":
		return symx.NewRandomPathSearcher(rand.New(rand.NewSource(time.Now().UnixNano()))), nil
	default:
		return nil, fmt.Errorf("unknown search strategy: %q", name)
	}
}

func (cmd *RunCommand) usage() {
	fmt.Fprintln(cmd.Stderr, `
usage: symx run [arguments] HEXCODE

Loads HEXCODE at -addr with a stack below 0x7fff0000 and explores every
path until it halts, faults or reaches the step limit.

Arguments:

	-addr ADDR
	    Load address, in hex. Defaults to 400000.

	-reg NAME=VALUE
	    Initial register value. May be repeated.

	-sym NAME
	    Replace a register with a fresh symbol. May be repeated.

	-max-steps N
	    Maximum instructions per path. Defaults to 1000.

	-max-values N
	    Maximum forks per concretization. Defaults to 256.

	-search STRATEGY
	    One of dfs, bfs, random or random-path. Defaults to dfs.

	-log-level LEVEL
	    One of debug, info, error or off. Defaults to info.

	-v
	    Dump every terminated state.
`[1:])
}

// stringSlice is a repeatable string flag.
type stringSlice []string

func (a *stringSlice) String() string { return strings.Join(*a, ",") }

func (a *stringSlice) Set(v string) error {
	*a = append(*a, v)
	return nil
}
