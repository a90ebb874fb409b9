//go:build z3

package main

import (
	"github.com/benbjohnson/symx"
	"github.com/benbjohnson/symx/z3"
)

func init() {
	newSolver = func() (symx.Solver, func() error) {
		s := z3.NewSolver()
		return s, s.Close
	}
}
