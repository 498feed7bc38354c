// Package exprlang wraps github.com/antonmedv/expr in a restricted
// environment: a fixed, total grammar of arithmetic, comparison, boolean
// combinators, indexing, and three accessor functions (first, last,
// start) over a caller-supplied variable map. No side-effecting builtins
// are registered, so a compiled Program can only read its env and
// compute a value.
//
// Compilation happens once per configured expression, at config load time;
// Run happens once per trial.
package exprlang

import (
	"fmt"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
)

// Program is a compiled expression, safe for concurrent Run calls (the
// underlying vm.Program is immutable once compiled).
type Program struct {
	compiled *vm.Program
	source   string
}

var options = []expr.Option{
	expr.Env(map[string]interface{}{}),
	expr.AllowUndefinedVariables(),
	expr.Function("first", accessorFirst),
	expr.Function("start", accessorStart),
	expr.Function("last", accessorLast),
}

// Compile compiles source once. The resulting Program may be Run many
// times against different envs.
func Compile(source string) (*Program, error) {
	compiled, err := expr.Compile(source, options...)
	if err != nil {
		return nil, fmt.Errorf("exprlang: compile %q: %w", source, err)
	}
	return &Program{compiled: compiled, source: source}, nil
}

// Source returns the original expression text, for error messages.
func (p *Program) Source() string { return p.source }

// Run evaluates the program against env and returns its raw result.
func (p *Program) Run(env map[string]interface{}) (interface{}, error) {
	out, err := expr.Run(p.compiled, env)
	if err != nil {
		return nil, fmt.Errorf("exprlang: run %q: %w", p.source, err)
	}
	return out, nil
}

// RunBool evaluates the program and requires a boolean result, as needed
// for a `when` predicate.
func (p *Program) RunBool(env map[string]interface{}) (bool, error) {
	out, err := p.Run(env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("exprlang: %q: expected bool result, got %T", p.source, out)
	}
	return b, nil
}

// accessorFirst returns the first element of a slice-valued argument, or
// nil if the slice is empty.
func accessorFirst(args ...interface{}) (interface{}, error) {
	return indexInto(args, 0)
}

// accessorStart returns the earliest element of a slice-valued argument,
// or nil if the slice is empty. A slice passed into an expression is
// already time-ordered by construction, so its earliest element sits at
// the same index as its first, making start equivalent to first here.
func accessorStart(args ...interface{}) (interface{}, error) {
	return indexInto(args, 0)
}

// accessorLast returns the last element of a slice-valued argument, or
// nil if the slice is empty.
func accessorLast(args ...interface{}) (interface{}, error) {
	return indexInto(args, -1)
}

func indexInto(args []interface{}, idx int) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("exprlang: want 1 argument, got %d", len(args))
	}
	s, ok := args[0].([]interface{})
	if !ok {
		return nil, fmt.Errorf("exprlang: want a list argument, got %T", args[0])
	}
	if len(s) == 0 {
		return nil, nil
	}
	if idx < 0 {
		idx += len(s)
	}
	if idx < 0 || idx >= len(s) {
		return nil, nil
	}
	return s[idx], nil
}
