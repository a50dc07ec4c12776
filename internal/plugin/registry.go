// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package plugin

import (
	"maps"
	"slices"
)

// Kind filters GetPlugins.
type Kind string

// Kinds.
const (
	KindAll    Kind = ""
	KindModule Kind = "module"
)

// GetPlugins returns plugins keyed by normalized name. With KindModule only
// lazily loaded modules are kept. The input is not modified.
func GetPlugins(plugins map[string]*Implementation, kind Kind) map[string]*Implementation {
	out := make(map[string]*Implementation, len(plugins))
	for name, impl := range plugins {
		if impl == nil {
			continue
		}
		if kind == KindModule && !impl.Module {
			continue
		}
		out[NormalizeName(name)] = impl
	}
	return out
}

// Registry is the static map of known plugins. It never changes after
// construction.
type Registry struct {
	plugins map[string]*Implementation
}

// NewRegistry builds a registry from a name to implementation map.
func NewRegistry(plugins map[string]*Implementation) *Registry {
	return &Registry{plugins: GetPlugins(plugins, KindAll)}
}

// Lookup finds an implementation by simple or normalized name.
func (r *Registry) Lookup(name string) (*Implementation, bool) {
	impl, ok := r.plugins[NormalizeName(name)]
	return impl, ok
}

// Plugins returns the normalized map filtered by kind.
func (r *Registry) Plugins(kind Kind) map[string]*Implementation {
	return GetPlugins(r.plugins, kind)
}

// Names returns the normalized names in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.plugins))
}

// Len reports the number of registered plugins.
func (r *Registry) Len() int {
	return len(r.plugins)
}
