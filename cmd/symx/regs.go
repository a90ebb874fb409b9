package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/benbjohnson/symx/x86"
)

// RegsCommand represents a command for listing the register table.
type RegsCommand struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewRegsCommand returns a new instance of RegsCommand.
func NewRegsCommand() *RegsCommand {
	return &RegsCommand{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the "regs" subcommand.
func (cmd *RegsCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("symx-regs", flag.ContinueOnError)
	fs.SetOutput(cmd.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tWIDTH\tPARENT\tOFFSET")
	for _, spec := range x86.Registers {
		parent := spec.Parent
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\n", spec.Name, spec.Width, parent, spec.Offset)
	}
	return tw.Flush()
}
