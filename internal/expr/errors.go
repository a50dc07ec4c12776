// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package expr

import (
	"github.com/samber/oops"
)

// Error codes for expression failures.
const (
	CodeParse           = "EXPR_PARSE"
	CodeTooDeep         = "EXPR_TOO_DEEP"
	CodeUnknownRoot     = "EXPR_UNKNOWN_ROOT"
	CodeUnknownFunction = "EXPR_UNKNOWN_FUNCTION"
	CodeBadArgument     = "EXPR_BAD_ARGUMENT"
	CodeBadPattern      = "EXPR_BAD_PATTERN"
)

// ErrParse wraps a grammar error.
func ErrParse(src string, cause error) error {
	return oops.In("expr").Code(CodeParse).With("expression", src).Wrapf(cause, "parsing expression")
}

// ErrTooDeep reports an expression nested beyond MaxNestingDepth.
func ErrTooDeep(src string, depth int) error {
	return oops.In("expr").Code(CodeTooDeep).
		With("expression", src).
		With("depth", depth).
		Errorf("nesting depth %d exceeds maximum of %d", depth, MaxNestingDepth)
}

// ErrUnknownRoot reports a path whose root is not state, requires, context or request.
func ErrUnknownRoot(root string) error {
	return oops.In("expr").Code(CodeUnknownRoot).
		With("root", root).
		Hint("expressions can read state, requires, context and request").
		Errorf("unknown root %q", root)
}

// ErrUnknownFunction reports a call to a function the evaluator does not provide.
func ErrUnknownFunction(name string) error {
	return oops.In("expr").Code(CodeUnknownFunction).With("function", name).Errorf("unknown function %q", name)
}

// ErrBadArgument reports a call with the wrong arguments.
func ErrBadArgument(name, reason string) error {
	return oops.In("expr").Code(CodeBadArgument).With("function", name).Errorf("%s: %s", name, reason)
}

// ErrBadPattern reports an invalid like pattern.
func ErrBadPattern(pattern string, cause error) error {
	b := oops.In("expr").Code(CodeBadPattern).With("pattern", pattern)
	if cause != nil {
		return b.Wrapf(cause, "invalid like pattern")
	}
	return b.Errorf("invalid like pattern %q", pattern)
}
