// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package plugin resolves a flat plugin configuration list into a tree of
// descriptors: which plugins are active, which container each one renders
// in, in what order, and with which merged configuration.
package plugin

import (
	"context"
	"strings"

	"github.com/mapshell/mapshell/internal/store"
)

// Component is the render capability of a plugin. The hosting render layer
// maps it to a concrete widget; the core only needs its name.
type Component interface {
	DisplayName() string
}

// NamedComponent is a Component identified by name alone.
type NamedComponent string

// DisplayName implements Component.
func (n NamedComponent) DisplayName() string { return string(n) }

// ContainerSpec is what a plugin declares about one container it can be
// placed into. The map key it is stored under is the container plugin's
// simple name.
type ContainerSpec struct {
	Priority  int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	Position  *int           `json:"position,omitempty" yaml:"position,omitempty"`
	DoNotHide bool           `json:"doNotHide,omitempty" yaml:"doNotHide,omitempty"`
	Impl      Component      `json:"-" yaml:"-"`
	Props     map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
}

// Enabler decides from monitored state whether a deferred plugin should
// be loaded now.
type Enabler func(monitored map[string]any) bool

// LoadFunc resolves a deferred implementation.
type LoadFunc func(ctx context.Context) (*Implementation, error)

// Capability is a bitmask of what an implementation provides.
type Capability uint8

// Capabilities.
const (
	CapRender Capability = 1 << iota
	CapState
	CapEffects
	CapDeferred
)

// Has reports whether c includes all of o.
func (c Capability) Has(o Capability) bool { return c&o == o }

func (c Capability) String() string {
	var parts []string
	for _, p := range []struct {
		cap  Capability
		name string
	}{
		{CapRender, "render"},
		{CapState, "state"},
		{CapEffects, "effects"},
		{CapDeferred, "deferred"},
	} {
		if c.Has(p.cap) {
			parts = append(parts, p.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Implementation is the unit a plugin exports. It is immutable once
// registered.
type Implementation struct {
	Name       string
	Component  Component
	Containers map[string]ContainerSpec
	Reducers   map[string]store.Reducer
	Epics      map[string]store.Epic
	// Cfg holds defaults that configuration entries merge over.
	Cfg map[string]any
	// DisablePluginIf and Hide are conditions: bool or "{expression}".
	DisablePluginIf any
	Hide            any
	Enabler         Enabler
	// Load is set on deferred implementations that must be resolved
	// before use.
	Load LoadFunc
	// Module marks an implementation registered as a lazily loaded module.
	Module bool
}

// Capabilities reports which variant the implementation is.
func (i *Implementation) Capabilities() Capability {
	var c Capability
	if i.Component != nil {
		c |= CapRender
	}
	if len(i.Reducers) > 0 {
		c |= CapState
	}
	if len(i.Epics) > 0 {
		c |= CapEffects
	}
	if i.Load != nil {
		c |= CapDeferred
	}
	return c
}

// Deferred reports whether the implementation must be loaded before use.
func (i *Implementation) Deferred() bool {
	return i.Load != nil
}

// Enabled runs the enabler; a missing enabler always passes.
func (i *Implementation) Enabled(monitored map[string]any) bool {
	if i.Enabler == nil {
		return true
	}
	return i.Enabler(monitored)
}

// WithLoaded combines a registered stub with its loaded implementation.
// Fields the stub sets win, so configuration declared at registration time
// (containers, enabler, conditions) survives loading. The result is never
// deferred.
func (i *Implementation) WithLoaded(loaded *Implementation) *Implementation {
	out := *loaded
	if out.Name == "" {
		out.Name = i.Name
	}
	if i.Component != nil {
		out.Component = i.Component
	}
	if len(i.Containers) > 0 {
		out.Containers = i.Containers
	}
	if len(i.Cfg) > 0 {
		out.Cfg = deepMerge(loaded.Cfg, i.Cfg)
	}
	if i.DisablePluginIf != nil {
		out.DisablePluginIf = i.DisablePluginIf
	}
	if i.Hide != nil {
		out.Hide = i.Hide
	}
	if i.Enabler != nil {
		out.Enabler = i.Enabler
	}
	out.Load = nil
	out.Module = i.Module
	return &out
}

// ModuleOption customizes a module stub.
type ModuleOption func(*Implementation)

// WithEnabler sets the predicate deciding when the module is loaded.
func WithEnabler(fn Enabler) ModuleOption {
	return func(i *Implementation) { i.Enabler = fn }
}

// WithContainers declares containers known before the module is loaded.
func WithContainers(c map[string]ContainerSpec) ModuleOption {
	return func(i *Implementation) { i.Containers = c }
}

// WithDisablePluginIf sets the disable condition on the stub.
func WithDisablePluginIf(cond any) ModuleOption {
	return func(i *Implementation) { i.DisablePluginIf = cond }
}

// ModulePlugin registers a lazily loaded plugin under name.
func ModulePlugin(name string, load LoadFunc, opts ...ModuleOption) *Implementation {
	impl := &Implementation{
		Name:   SimpleName(name),
		Load:   load,
		Module: true,
	}
	for _, opt := range opts {
		opt(impl)
	}
	return impl
}
