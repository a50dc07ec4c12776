// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package expr

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
)

// MaxNestingDepth bounds groups, negations, ternaries and lists.
const MaxNestingDepth = 32

var parser *participle.Parser[Expression]

func init() {
	var err error
	parser, err = NewParser()
	if err != nil {
		panic(fmt.Sprintf("failed to build expression parser: %v", err))
	}
}

// IsExpression reports whether value is an expression template, i.e. a
// string wrapped in braces.
func IsExpression(value any) bool {
	s, ok := value.(string)
	return ok && len(s) >= 2 && strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

// Body returns the text between the braces of an expression template.
func Body(template string) string {
	return strings.TrimSpace(template[1 : len(template)-1])
}

// Parse parses the inner text of an expression (without braces).
func Parse(src string) (*Expression, error) {
	if strings.TrimSpace(src) == "" {
		return nil, ErrParse(src, fmt.Errorf("empty expression"))
	}
	ast, err := parser.ParseString("", src)
	if err != nil {
		return nil, ErrParse(src, err)
	}
	if d := depthOf(ast); d > MaxNestingDepth {
		return nil, ErrTooDeep(src, d)
	}
	return ast, nil
}

func depthOf(e *Expression) int {
	if e == nil {
		return 0
	}
	d := depthOfOr(e.Cond)
	if e.Then != nil {
		d = max(d, depthOf(e.Then)+1, depthOf(e.Else)+1)
	}
	return d
}

func depthOfOr(o *Or) int {
	d := 0
	for _, a := range o.Terms {
		for _, u := range a.Terms {
			d = max(d, depthOfUnary(u))
		}
	}
	return d
}

func depthOfUnary(u *Unary) int {
	if u.Not != nil {
		return depthOfUnary(u.Not) + 1
	}
	c := u.Comparison
	d := depthOfOperand(c.Left)
	if c.Right != nil {
		d = max(d, depthOfOperand(c.Right))
	}
	return d
}

func depthOfOperand(op *Operand) int {
	switch {
	case op.Group != nil:
		return depthOf(op.Group) + 1
	case op.List != nil:
		d := 0
		for _, item := range op.List.Items {
			d = max(d, depthOf(item))
		}
		return d + 1
	case op.Call != nil:
		d := 0
		for _, arg := range op.Call.Args {
			d = max(d, depthOf(arg))
		}
		return d + 1
	default:
		return 0
	}
}
