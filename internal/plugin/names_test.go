// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mapshell/mapshell/internal/plugin"
)

func TestNames(t *testing.T) {
	tests := []struct {
		in, simple, normalized string
	}{
		{"Map", "Map", "MapPlugin"},
		{"MapPlugin", "Map", "MapPlugin"},
		{"Plugin", "Plugin", "Plugin"},
		{"PluginManager", "PluginManager", "PluginManagerPlugin"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.simple, plugin.SimpleName(tt.in))
			assert.Equal(t, tt.normalized, plugin.NormalizeName(tt.in))
		})
	}
	assert.True(t, plugin.SameName("Toolbar", "ToolbarPlugin"))
	assert.False(t, plugin.SameName("Toolbar", "Toolbox"))
}

func TestGetPlugins(t *testing.T) {
	lazy := plugin.ModulePlugin("Lazy", nil)
	static := &plugin.Implementation{Name: "Static"}
	input := map[string]*plugin.Implementation{
		"Static":     static,
		"LazyPlugin": lazy,
		"Nil":        nil,
	}

	all := plugin.GetPlugins(input, plugin.KindAll)
	assert.Equal(t, map[string]*plugin.Implementation{
		"StaticPlugin": static,
		"LazyPlugin":   lazy,
	}, all)

	modules := plugin.GetPlugins(input, plugin.KindModule)
	assert.Equal(t, map[string]*plugin.Implementation{"LazyPlugin": lazy}, modules)
	assert.Len(t, input, 3, "input must not be modified")
}

func TestRegistry(t *testing.T) {
	impl := &plugin.Implementation{Name: "Map"}
	reg := plugin.NewRegistry(map[string]*plugin.Implementation{"Map": impl})

	got, ok := reg.Lookup("MapPlugin")
	assert.True(t, ok)
	assert.Same(t, impl, got)

	got, ok = reg.Lookup("Map")
	assert.True(t, ok)
	assert.Same(t, impl, got)

	_, ok = reg.Lookup("Missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"MapPlugin"}, reg.Names())
	assert.Equal(t, 1, reg.Len())
	assert.Empty(t, reg.Plugins(plugin.KindModule))
}

func TestCapabilities(t *testing.T) {
	impl := &plugin.Implementation{Component: plugin.NamedComponent("Map")}
	assert.Equal(t, plugin.CapRender, impl.Capabilities())
	assert.Equal(t, "render", impl.Capabilities().String())

	lazy := plugin.ModulePlugin("Lazy", nil)
	assert.Equal(t, plugin.Capability(0), lazy.Capabilities(), "nil loader is not deferred")
	assert.Equal(t, "none", lazy.Capabilities().String())
}
