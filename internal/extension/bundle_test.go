// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package extension_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapshell/mapshell/internal/extension"
	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/store"
	"github.com/mapshell/mapshell/pkg/errutil"
)

const measureBundle = `
return {
  name = "Measure",
  component = "MeasureTool",
  containers = {
    Toolbar = { priority = 2, position = 1, impl = "MeasureButton", tooltip = "measure" },
    Menu = true,
  },
  cfg = { units = "metric", steps = { 1, 2 } },
  disablePluginIf = "{state.mapType == 'cesium'}",
  enabler = function(monitored) return monitored.mapType == "openlayers" end,
  reducers = {
    measurement = function(state, action)
      state = state or { count = 0 }
      if action.type == "MEASURE" then
        return { count = state.count + 1, last = action.payload }
      end
      return state
    end,
  },
  epics = {
    onMeasure = function(action, state)
      if action.type == "MEASURE" then
        return { { type = "MEASURED", payload = state.measurement.count } }
      end
      return nil
    end,
  },
}
`

func TestCompile_ReadsPluginTable(t *testing.T) {
	impl, script, err := extension.Compile(context.Background(), "MeasurePlugin", measureBundle)
	require.NoError(t, err)
	defer script.Close()

	assert.Equal(t, "Measure", impl.Name)
	assert.Equal(t, "MeasureTool", impl.Component.DisplayName())
	assert.Equal(t, map[string]any{"units": "metric", "steps": []any{1.0, 2.0}}, impl.Cfg)
	assert.Equal(t, "{state.mapType == 'cesium'}", impl.DisablePluginIf)
	assert.Nil(t, impl.Hide)
	assert.Equal(t, plugin.CapRender|plugin.CapState|plugin.CapEffects, impl.Capabilities())

	toolbar := impl.Containers["Toolbar"]
	assert.Equal(t, 2, toolbar.Priority)
	require.NotNil(t, toolbar.Position)
	assert.Equal(t, 1, *toolbar.Position)
	assert.Equal(t, "MeasureButton", toolbar.Impl.DisplayName())
	assert.Equal(t, map[string]any{"tooltip": "measure"}, toolbar.Props)
	assert.Contains(t, impl.Containers, "Menu")

	assert.True(t, impl.Enabled(map[string]any{"mapType": "openlayers"}))
	assert.False(t, impl.Enabled(map[string]any{"mapType": "cesium"}))
}

func TestCompile_StateFunctions(t *testing.T) {
	impl, script, err := extension.Compile(context.Background(), "Measure", measureBundle)
	require.NoError(t, err)
	defer script.Close()

	reduce := impl.Reducers["measurement"]
	state := reduce(nil, store.Action{Type: store.ActionInit})
	assert.Equal(t, map[string]any{"count": 0.0}, state)
	state = reduce(state, store.Action{Type: "MEASURE", Payload: "line"})
	assert.Equal(t, map[string]any{"count": 1.0, "last": "line"}, state)

	out, err := impl.Epics["onMeasure"](context.Background(), store.Action{Type: "MEASURE"}, func() map[string]any {
		return map[string]any{"measurement": state}
	})
	require.NoError(t, err)
	assert.Equal(t, []store.Action{{Type: "MEASURED", Payload: 1.0}}, out)

	out, err = impl.Epics["onMeasure"](context.Background(), store.Action{Type: "OTHER"}, func() map[string]any { return nil })
	require.NoError(t, err)
	assert.Empty(t, out)

	script.Close()
	assert.True(t, script.Closed())
	assert.Equal(t, state, reduce(state, store.Action{Type: "MEASURE"}), "closed scripts keep state")
}

func TestCompile_GlobalPluginForm(t *testing.T) {
	impl, script, err := extension.Compile(context.Background(), "OtherPlugin", `plugin = { hide = true }`)
	require.NoError(t, err)
	defer script.Close()

	assert.Equal(t, "Other", impl.Name)
	assert.Equal(t, "Other", impl.Component.DisplayName())
	assert.Equal(t, true, impl.Hide)
}

func TestCompile_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{name: "syntax error", source: `return {`},
		{name: "no table", source: `return 42`},
		{name: "os is blocked", source: `os.exit(1)`},
		{name: "io is blocked", source: `return { cfg = io.open("/etc/passwd") }`},
		{name: "dofile is blocked", source: `dofile("/etc/passwd")`},
		{name: "reducer not a function", source: `return { reducers = { a = 1 } }`},
		{name: "container not a table", source: `return { containers = { Toolbar = "x" } }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, script, err := extension.Compile(context.Background(), "Bad", tt.source)
			require.Error(t, err)
			assert.Nil(t, script)
			errutil.AssertErrorCode(t, err, extension.CodeBundleInvalid)
		})
	}
}

func TestCompile_Timeout(t *testing.T) {
	start := time.Now()
	_, _, err := extension.Compile(context.Background(), "Spin", `while true do end`,
		extension.WithScriptTimeout(50*time.Millisecond))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCompile_FailingReducerKeepsState(t *testing.T) {
	impl, script, err := extension.Compile(context.Background(), "Broken",
		`return { reducers = { broken = function(state, action) error("boom") end } }`,
		extension.WithScriptLogger(quiet()))
	require.NoError(t, err)
	defer script.Close()

	prev := map[string]any{"kept": true}
	assert.Equal(t, prev, impl.Reducers["broken"](prev, store.Action{Type: "ANY"}))
}
