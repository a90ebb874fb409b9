package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); errors.Cause(err) == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return flag.ErrHelp
	case "run":
		return NewRunCommand().Run(ctx, args)
	case "regs":
		return NewRegsCommand().Run(ctx, args)
	default:
		return fmt.Errorf(`symx %s: unknown command`, cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Symx is a tool for symbolic execution of x86-64 machine code.

Usage:

	symx <command> [arguments]

The commands are:

	run         execute code and report every terminated path
	regs        list the register table
	help        this screen
`[1:])
}
