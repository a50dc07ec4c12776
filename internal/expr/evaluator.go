// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package expr

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/mapshell/mapshell/pkg/errutil"
)

// StateFunc reads a dotted path from the monitored state. A missing path
// returns nil.
type StateFunc func(path string) any

// Scope is everything an expression can see.
type Scope struct {
	// State backs state.<path> and state('<path>').
	State StateFunc
	// Requires backs requires.<path>; context.<path> is an alias.
	Requires map[string]any
	// Request backs request.<path> (query parameters of the hosting request).
	Request map[string]any
}

// ReportFunc receives every evaluation failure after it has been logged.
type ReportFunc func(src string, err error)

// maxGlobPatternLen bounds like patterns.
const maxGlobPatternLen = 100

// Evaluator compiles and evaluates expressions. Compiled ASTs and glob
// patterns are cached; the Evaluator is safe for concurrent use.
type Evaluator struct {
	logger *slog.Logger
	report ReportFunc

	mu    sync.RWMutex
	cache map[string]*Expression
	globs map[string]glob.Glob
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger used to record failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithReporter installs a failure observer.
func WithReporter(fn ReportFunc) Option {
	return func(e *Evaluator) { e.report = fn }
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		logger: slog.Default(),
		cache:  make(map[string]*Expression),
		globs:  make(map[string]glob.Glob),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compile parses src (without braces), reusing a cached AST when possible.
func (e *Evaluator) Compile(src string) (*Expression, error) {
	e.mu.RLock()
	ast, ok := e.cache[src]
	e.mu.RUnlock()
	if ok {
		return ast, nil
	}

	ast, err := Parse(src)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[src] = ast
	e.mu.Unlock()
	return ast, nil
}

// Eval compiles and evaluates src, surfacing errors to the caller.
func (e *Evaluator) Eval(scope Scope, src string) (any, error) {
	ast, err := e.Compile(src)
	if err != nil {
		return nil, err
	}
	return e.evalExpression(&scope, ast)
}

// Handle evaluates value when it is an expression template and returns
// any other value unchanged. A failing expression yields nil; the failure
// is logged, counted and reported but never returned.
func (e *Evaluator) Handle(scope Scope, value any) any {
	if !IsExpression(value) {
		return value
	}
	src := Body(value.(string))
	result, err := e.Eval(scope, src)
	if err != nil {
		e.fail(src, err)
		return nil
	}
	return result
}

// Bool evaluates value as a condition. Nil and non-expression empty values
// are false, so an absent hide or disablePluginIf never hides anything.
func (e *Evaluator) Bool(scope Scope, value any) bool {
	if value == nil {
		return false
	}
	return Truthy(e.Handle(scope, value))
}

// Config walks a configuration value and evaluates every expression it
// contains, returning a fresh copy.
func (e *Evaluator) Config(scope Scope, cfg any) any {
	switch v := cfg.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = e.Config(scope, val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = e.Config(scope, val)
		}
		return out
	default:
		return e.Handle(scope, v)
	}
}

func (e *Evaluator) fail(src string, err error) {
	expressionErrors.WithLabelValues(failureKind(err)).Inc()
	errutil.LogWarn(context.Background(), e.logger, "expression evaluation failed", err)
	if e.report != nil {
		e.report(src, err)
	}
}

func failureKind(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok && code != "" {
			return strings.ToLower(strings.TrimPrefix(code, "EXPR_"))
		}
	}
	return "unknown"
}

// --- Evaluation ---

func (e *Evaluator) evalExpression(s *Scope, x *Expression) (any, error) {
	cond, err := e.evalOr(s, x.Cond)
	if err != nil {
		return nil, err
	}
	if x.Then == nil {
		return cond, nil
	}
	if Truthy(cond) {
		return e.evalExpression(s, x.Then)
	}
	return e.evalExpression(s, x.Else)
}

func (e *Evaluator) evalOr(s *Scope, o *Or) (any, error) {
	var last any
	for _, term := range o.Terms {
		v, err := e.evalAnd(s, term)
		if err != nil {
			return nil, err
		}
		if Truthy(v) {
			return v, nil
		}
		last = v
	}
	return last, nil
}

func (e *Evaluator) evalAnd(s *Scope, a *And) (any, error) {
	var last any
	for _, term := range a.Terms {
		v, err := e.evalUnary(s, term)
		if err != nil {
			return nil, err
		}
		if !Truthy(v) {
			return v, nil
		}
		last = v
	}
	return last, nil
}

func (e *Evaluator) evalUnary(s *Scope, u *Unary) (any, error) {
	if u.Not != nil {
		v, err := e.evalUnary(s, u.Not)
		if err != nil {
			return nil, err
		}
		return !Truthy(v), nil
	}
	return e.evalComparison(s, u.Comparison)
}

func (e *Evaluator) evalComparison(s *Scope, c *Comparison) (any, error) {
	left, err := e.evalOperand(s, c.Left)
	if err != nil {
		return nil, err
	}
	if c.Op == "" {
		return left, nil
	}
	right, err := e.evalOperand(s, c.Right)
	if err != nil {
		return nil, err
	}

	switch c.Op {
	case "==", "===":
		return valuesEqual(left, right), nil
	case "!=", "!==":
		return !valuesEqual(left, right), nil
	case "<", "<=", ">", ">=":
		return compareOrdered(left, right, c.Op), nil
	case "in":
		return contains(right, left), nil
	case "like":
		return e.like(left, right)
	default:
		return false, nil
	}
}

func (e *Evaluator) evalOperand(s *Scope, op *Operand) (any, error) {
	switch {
	case op.Literal != nil:
		return literalValue(op.Literal), nil
	case op.List != nil:
		out := make([]any, 0, len(op.List.Items))
		for _, item := range op.List.Items {
			v, err := e.evalExpression(s, item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case op.Call != nil:
		return e.evalCall(s, op.Call)
	case op.Path != nil:
		return resolvePath(s, op.Path)
	case op.Group != nil:
		return e.evalExpression(s, op.Group)
	default:
		return nil, nil
	}
}

func (e *Evaluator) evalCall(s *Scope, c *Call) (any, error) {
	switch c.Func {
	case "state", "isArray", "length":
	default:
		return nil, ErrUnknownFunction(c.Func)
	}
	if len(c.Args) != 1 {
		return nil, ErrBadArgument(c.Func, "expects exactly one argument")
	}
	arg, err := e.evalExpression(s, c.Args[0])
	if err != nil {
		return nil, err
	}
	switch c.Func {
	case "isArray":
		return isArray(arg), nil
	case "length":
		return length(c.Func, arg)
	}
	path, ok := arg.(string)
	if !ok {
		return nil, ErrBadArgument(c.Func, "path must be a string")
	}
	if s.State == nil {
		return nil, nil
	}
	return s.State(path), nil
}

func isArray(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// length counts characters of strings and elements of lists and maps. A
// missing value has length 0.
func length(fn string, v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return float64(0), nil
	case string:
		return float64(utf8.RuneCountInString(x)), nil
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return float64(rv.Len()), nil
	default:
		return nil, ErrBadArgument(fn, fmt.Sprintf("cannot take the length of %T", v))
	}
}

func (e *Evaluator) like(left, right any) (any, error) {
	str, ok := left.(string)
	if !ok {
		return false, nil
	}
	pattern, ok := right.(string)
	if !ok || len(pattern) > maxGlobPatternLen {
		return nil, ErrBadPattern(toString(right), nil)
	}

	e.mu.RLock()
	g, cached := e.globs[pattern]
	e.mu.RUnlock()
	if !cached {
		compiled, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, ErrBadPattern(pattern, err)
		}
		e.mu.Lock()
		e.globs[pattern] = compiled
		e.mu.Unlock()
		g = compiled
	}
	return g.Match(str), nil
}

// --- Value resolution ---

func literalValue(l *Literal) any {
	switch {
	case l.Str != nil:
		return *l.Str
	case l.Number != nil:
		return *l.Number
	case l.Bool != nil:
		return *l.Bool == "true"
	default:
		return nil
	}
}

func segmentKeys(p *Path) []string {
	keys := make([]string, 0, len(p.Segments))
	for _, seg := range p.Segments {
		switch {
		case seg.Field != nil:
			keys = append(keys, *seg.Field)
		case seg.Index != nil:
			keys = append(keys, strconv.Itoa(*seg.Index))
		case seg.Key != nil:
			keys = append(keys, *seg.Key)
		}
	}
	return keys
}

func resolvePath(s *Scope, p *Path) (any, error) {
	keys := segmentKeys(p)
	switch p.Root {
	case "state":
		if s.State == nil || len(keys) == 0 {
			return nil, nil
		}
		return s.State(strings.Join(keys, ".")), nil
	case "requires", "context":
		return Lookup(s.Requires, keys...), nil
	case "request":
		return Lookup(s.Request, keys...), nil
	default:
		return nil, ErrUnknownRoot(p.Root)
	}
}

// Lookup walks nested maps and slices. Missing steps yield nil.
func Lookup(root any, keys ...string) any {
	cur := root
	for _, key := range keys {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[key]
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		default:
			return nil
		}
	}
	return cur
}

// --- Coercion ---

// Truthy applies JavaScript truthiness: nil, false, 0, NaN and "" are false.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	default:
		if n, ok := toFloat64(v); ok {
			return n != 0 && !math.IsNaN(n)
		}
		return true
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		if n, ok := toFloat64(v); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
		return ""
	}
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := toFloat64(a); ok {
		bn, ok := toFloat64(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

func compareOrdered(a, b any, op string) bool {
	if an, ok := toFloat64(a); ok {
		bn, ok := toFloat64(b)
		if !ok {
			return false
		}
		switch op {
		case "<":
			return an < bn
		case "<=":
			return an <= bn
		case ">":
			return an > bn
		default:
			return an >= bn
		}
	}
	as, ok := a.(string)
	if !ok {
		return false
	}
	bs, ok := b.(string)
	if !ok {
		return false
	}
	switch op {
	case "<":
		return as < bs
	case "<=":
		return as <= bs
	case ">":
		return as > bs
	default:
		return as >= bs
	}
}

// contains implements the in operator: list membership, substring, or map key.
func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, v := range h {
			if valuesEqual(v, needle) {
				return true
			}
		}
		return false
	case []string:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		for _, v := range h {
			if v == s {
				return true
			}
		}
		return false
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(h, s)
	case map[string]any:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		_, exists := h[s]
		return exists
	default:
		return false
	}
}
