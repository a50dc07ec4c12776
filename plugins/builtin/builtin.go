// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package builtin is the first-party plugin set the mapshell binary
// registers: a map viewer shell with a toolbar, a side menu, an omnibar and
// two lazily loaded tools.
//
// Configurations reference these plugins by name:
//
//	plugins:
//	  desktop: [Map, Toolbar, ZoomIn, ZoomOut, Locate, BurgerMenu, TOC, Omnibar, Login, Measure, Print]
package builtin

import (
	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/store"
)

// Action types the built-in reducers handle.
const (
	ActionChangeMapType = "CHANGE_MAP_TYPE"
	ActionLoginSuccess  = "LOGIN_SUCCESS"
	ActionLogout        = "LOGOUT"
	ActionToggleControl = "TOGGLE_CONTROL"
)

func component(name string) plugin.Component { return plugin.NamedComponent(name) }

func pos(p int) *int { return &p }

// Plugins returns a fresh copy of the built-in registry. Lazy tools count
// their loads through stats when it is non-nil.
func Plugins(stats *Stats) map[string]*plugin.Implementation {
	return map[string]*plugin.Implementation{
		"MapPlugin": {
			Name:      "Map",
			Component: component("Map"),
			Cfg:       map[string]any{"zoomControl": false},
		},
		"ToolbarPlugin": {
			Name:      "Toolbar",
			Component: component("Toolbar"),
			Containers: map[string]plugin.ContainerSpec{
				"Map": {Priority: 1},
			},
		},
		"ZoomInPlugin": {
			Name:      "ZoomIn",
			Component: component("ZoomIn"),
			Containers: map[string]plugin.ContainerSpec{
				"Toolbar": {Priority: 1, Position: pos(3), Props: map[string]any{"tool": true}},
			},
		},
		"ZoomOutPlugin": {
			Name:      "ZoomOut",
			Component: component("ZoomOut"),
			Containers: map[string]plugin.ContainerSpec{
				"Toolbar": {Priority: 1, Position: pos(4), Props: map[string]any{"tool": true}},
			},
		},
		"LocatePlugin": {
			Name:      "Locate",
			Component: component("Locate"),
			// Geolocation has no 3D counterpart.
			DisablePluginIf: "{state('mapType') === 'cesium'}",
			Containers: map[string]plugin.ContainerSpec{
				"Toolbar": {Priority: 1, Position: pos(2)},
			},
		},
		"BurgerMenuPlugin": {
			Name:      "BurgerMenu",
			Component: component("BurgerMenu"),
			Containers: map[string]plugin.ContainerSpec{
				"Omnibar": {Priority: 2, Position: pos(2), DoNotHide: true},
			},
		},
		"TOCPlugin": {
			Name:      "TOC",
			Component: component("TOC"),
			Reducers:  map[string]store.Reducer{"layers": layers},
			Containers: map[string]plugin.ContainerSpec{
				"BurgerMenu": {Priority: 1, Position: pos(1), Props: map[string]any{"icon": "layers"}},
				"Toolbar":    {Priority: 0},
			},
		},
		"OmnibarPlugin": {
			Name:      "Omnibar",
			Component: component("Omnibar"),
			Containers: map[string]plugin.ContainerSpec{
				"Map": {Priority: 2},
			},
		},
		"LoginPlugin": {
			Name:      "Login",
			Component: component("Login"),
			Hide:      "{!!state.user}",
			Containers: map[string]plugin.ContainerSpec{
				"Omnibar":    {Priority: 1, Position: pos(3), Impl: component("LoginNav")},
				"BurgerMenu": {Priority: 0, Position: pos(9)},
			},
		},
		"MeasurePlugin": plugin.ModulePlugin("Measure", measureTool(stats),
			plugin.WithEnabler(func(m map[string]any) bool { return m["mapType"] == "openlayers" }),
			plugin.WithContainers(map[string]plugin.ContainerSpec{
				"Toolbar":    {Priority: 1, Position: pos(6)},
				"BurgerMenu": {Priority: 2, Position: pos(5)},
			})),
		"PrintPlugin": plugin.ModulePlugin("Print", printTool(stats),
			plugin.WithDisablePluginIf("{state('mapType') === 'cesium' || !state('user')}"),
			plugin.WithContainers(map[string]plugin.ContainerSpec{
				"BurgerMenu": {Priority: 2, Position: pos(4)},
			})),
	}
}

// Reducers returns the application reducers every configuration gets.
// They back the default monitored paths.
func Reducers() map[string]store.Reducer {
	return map[string]store.Reducer{
		"maptype":  mapType,
		"security": security,
		"controls": controls,
	}
}

// InitialState is the state the built-in reducers start from.
func InitialState() map[string]any {
	return map[string]any{
		"maptype":  map[string]any{"mapType": "openlayers"},
		"security": map[string]any{},
		"controls": map[string]any{},
	}
}
