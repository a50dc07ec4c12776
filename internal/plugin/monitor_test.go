// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/pkg/errutil"
)

func appState() map[string]any {
	return map[string]any{
		"maptype":  map[string]any{"mapType": "openlayers"},
		"security": map[string]any{"user": map[string]any{"name": "ada", "role": "ADMIN"}},
		"layers":   map[string]any{"flat": []any{map[string]any{"id": "roads"}}},
		"secret":   "never visible",
	}
}

func TestMonitor_ProjectsOnlyMonitoredPaths(t *testing.T) {
	m := plugin.NewMonitor(plugin.MonitorRule{Name: "firstLayer", Path: "layers.flat[0].id"})

	got, err := m.Project(appState())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"mapType":    "openlayers",
		"user":       map[string]any{"name": "ada", "role": "ADMIN"},
		"firstLayer": "roads",
	}, got)
	assert.NotContains(t, got, "secret")
}

func TestMonitor_MissingPathIsNil(t *testing.T) {
	m := plugin.NewMonitor(plugin.MonitorRule{Name: "flag", Path: "feature.flag"})
	got, err := m.Project(map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, got, "flag")
	assert.Nil(t, got["flag"])
}

func TestMonitor_MemoizesEqualSelections(t *testing.T) {
	m := plugin.NewMonitor()
	state := appState()

	first, err := m.Project(state)
	require.NoError(t, err)
	state["secret"] = "changed but unmonitored"
	second, err := m.Project(state)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	state["maptype"] = map[string]any{"mapType": "cesium"}
	third, err := m.Project(state)
	require.NoError(t, err)
	assert.Equal(t, "cesium", third["mapType"])
}

func TestMonitor_UnencodableState(t *testing.T) {
	m := plugin.NewMonitor()
	_, err := m.Project(map[string]any{"fn": func() {}})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, plugin.CodeBadState)
}

func TestStateFunc(t *testing.T) {
	fn := plugin.StateFunc(map[string]any{
		"user": map[string]any{"role": "ADMIN"},
		"list": []any{"a", "b"},
	})
	assert.Equal(t, "ADMIN", fn("user.role"))
	assert.Equal(t, "b", fn("list[1]"))
	assert.Nil(t, fn("missing.path"))
}
