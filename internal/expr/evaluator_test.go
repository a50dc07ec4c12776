// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package expr

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapshell/mapshell/pkg/errutil"
)

// --- Helpers ---

func mapState(values map[string]any) StateFunc {
	return func(path string) any {
		return Lookup(values, strings.Split(path, ".")...)
	}
}

func testScope() Scope {
	return Scope{
		State: mapState(map[string]any{
			"mapType": "cesium",
			"zoom":    float64(12),
			"layers":  []any{map[string]any{"visible": true}},
			"security": map[string]any{
				"user": map[string]any{"role": "ADMIN"},
			},
		}),
		Requires: map[string]any{
			"user": map[string]any{"role": "USER"},
			"flags": map[string]any{
				"beta-ui": true,
			},
		},
		Request: map[string]any{"page": "viewer-3d", "debug": ""},
	}
}

func quietEvaluator(opts ...Option) *Evaluator {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))}, opts...)
	return New(opts...)
}

// --- Handle ---

func TestHandle_Evaluation(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"non expression passes through", "cesium", "cesium"},
		{"number passes through", 42, 42},
		{"state path", "{state.mapType}", "cesium"},
		{"state call", "{state('mapType') === 'cesium'}", true},
		{"state call nested path", "{state('security.user.role')}", "ADMIN"},
		{"strict inequality", "{state.mapType !== 'cesium'}", false},
		{"requires path", "{requires.user.role == 'USER'}", true},
		{"context alias", "{context.user.role}", "USER"},
		{"bracket key", "{requires.flags['beta-ui']}", true},
		{"index segment", "{state.layers[0].visible}", true},
		{"request path", "{request.page}", "viewer-3d"},
		{"missing attribute is nil", "{state.nothing.here}", nil},
		{"numeric compare", "{state.zoom > 10}", true},
		{"numeric compare false", "{state.zoom <= 10}", false},
		{"in list", "{state.mapType in ['cesium', 'leaflet']}", true},
		{"not in list", "{state.mapType in ['openlayers']}", false},
		{"in string", "{'view' in request.page}", true},
		{"like glob", "{request.page like 'viewer*'}", true},
		{"like glob miss", "{request.page like 'editor*'}", false},
		{"or yields first truthy", "{request.debug || 'fallback'}", "fallback"},
		{"and yields first falsy", "{state.mapType && request.debug}", ""},
		{"and yields last", "{state.mapType && state.zoom}", float64(12)},
		{"negation", "{!state.nothing}", true},
		{"ternary", "{state.zoom >= 10 ? 'near' : 'far'}", "near"},
		{"list literal", "{[1, 'a']}", []any{float64(1), "a"}},
		{"null literal", "{null}", nil},
		{"null equality", "{state.nothing == null}", true},
		{"grouping", "{(state.zoom > 100 || state.mapType == 'cesium') && true}", true},
		{"isArray of list", "{isArray(state.layers)}", true},
		{"isArray of string", "{isArray(state.mapType)}", false},
		{"isArray of missing", "{isArray(state.nothing)}", false},
		{"length of list", "{length(state.layers) > 0}", true},
		{"length of string", "{length(state.mapType)}", float64(6)},
		{"length of missing", "{length(state.nothing)}", float64(0)},
		{"length of map", "{length(requires.flags)}", float64(1)},
	}
	e := quietEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Handle(testScope(), tt.value))
		})
	}
}

func TestHandle_FailsClosed(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"parse error", "{state.x ===}", CodeParse},
		{"unknown root", "{window.location}", CodeUnknownRoot},
		{"unknown function", "{eval('1')}", CodeUnknownFunction},
		{"state call arity", "{state('a', 'b')}", CodeBadArgument},
		{"state call non string", "{state(1)}", CodeBadArgument},
		{"length of number", "{length(state.zoom)}", CodeBadArgument},
		{"isArray arity", "{isArray()}", CodeBadArgument},
		{"oversized pattern", "{request.page like '" + strings.Repeat("a", maxGlobPatternLen+1) + "'}", CodeBadPattern},
		{"non string pattern", "{request.page like 3}", CodeBadPattern},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reported []error
			e := quietEvaluator(WithReporter(func(_ string, err error) {
				reported = append(reported, err)
			}))

			assert.Nil(t, e.Handle(testScope(), tt.src))
			assert.False(t, e.Bool(testScope(), tt.src))
			require.Len(t, reported, 2)
			errutil.AssertErrorCode(t, reported[0], tt.code)
		})
	}
}

func TestHandle_LogsFailure(t *testing.T) {
	var buf bytes.Buffer
	e := New(WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	e.Handle(testScope(), "{window.x}")

	assert.Contains(t, buf.String(), "expression evaluation failed")
	assert.Contains(t, buf.String(), CodeUnknownRoot)
}

func TestHandle_NilStateReadsNil(t *testing.T) {
	e := quietEvaluator()
	assert.Nil(t, e.Handle(Scope{}, "{state.mapType}"))
	assert.Nil(t, e.Handle(Scope{}, "{state('mapType')}"))
}

// --- Bool ---

func TestBool(t *testing.T) {
	e := quietEvaluator()
	s := testScope()

	assert.False(t, e.Bool(s, nil))
	assert.False(t, e.Bool(s, false))
	assert.True(t, e.Bool(s, true))
	assert.True(t, e.Bool(s, "{state.mapType === 'cesium'}"))
	assert.False(t, e.Bool(s, "{state.missing}"))
	assert.True(t, e.Bool(s, "any non-empty string"))
}

// --- Config ---

func TestConfig_EvaluatesNestedExpressions(t *testing.T) {
	e := quietEvaluator()
	cfg := map[string]any{
		"mode":  "{state.mapType}",
		"fixed": 3,
		"nested": map[string]any{
			"role": "{requires.user.role}",
		},
		"list": []any{"{state.zoom}", "plain"},
	}

	got := e.Config(testScope(), cfg)

	assert.Equal(t, map[string]any{
		"mode":  "cesium",
		"fixed": 3,
		"nested": map[string]any{
			"role": "USER",
		},
		"list": []any{float64(12), "plain"},
	}, got)
	assert.Equal(t, "{state.mapType}", cfg["mode"], "input must not be mutated")
}

// --- Eval ---

func TestEval_ReturnsErrors(t *testing.T) {
	e := quietEvaluator()
	_, err := e.Eval(testScope(), "foo.bar")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeUnknownRoot)
}

func TestCompile_Caches(t *testing.T) {
	e := quietEvaluator()
	a, err := e.Compile("state.x")
	require.NoError(t, err)
	b, err := e.Compile("state.x")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestEvaluator_ConcurrentUse(t *testing.T) {
	e := quietEvaluator()
	s := testScope()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.True(t, e.Bool(s, "{request.page like 'viewer*' && state.zoom > 1}"))
			}
		}()
	}
	wg.Wait()
}

// --- Coercion ---

func TestTruthy(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{"", false},
		{"x", true},
		{0, false},
		{float64(0), false},
		{1, true},
		{-2.5, true},
		{[]any{}, true},
		{map[string]any{}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truthy(tt.value), "Truthy(%#v)", tt.value)
	}
}

func TestValuesEqual_NumericCoercion(t *testing.T) {
	assert.True(t, valuesEqual(1, float64(1)))
	assert.True(t, valuesEqual(int64(3), uint8(3)))
	assert.False(t, valuesEqual("1", 1))
	assert.False(t, valuesEqual(nil, false))
	assert.True(t, valuesEqual(nil, nil))
}

func TestLookup(t *testing.T) {
	root := map[string]any{
		"a": map[string]any{"b": []any{"x", "y"}},
	}
	assert.Equal(t, "y", Lookup(root, "a", "b", "1"))
	assert.Nil(t, Lookup(root, "a", "b", "9"))
	assert.Nil(t, Lookup(root, "a", "c"))
	assert.Nil(t, Lookup(root, "a", "b", "1", "deeper"))
	assert.Equal(t, root, Lookup(root))
}
