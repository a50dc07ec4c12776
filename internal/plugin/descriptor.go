// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package plugin

import "strings"

// Descriptor is a resolved plugin for one pass. Descriptors are built
// fresh on every pass and never modified afterwards, so a new tree is a
// new value.
type Descriptor struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	// Component is what renders: the container-specific implementation when
	// the placement declares one, otherwise the plugin component.
	Component Component       `json:"-" yaml:"-"`
	Impl      *Implementation `json:"-" yaml:"-"`
	Cfg       map[string]any  `json:"cfg" yaml:"cfg"`

	// Container is empty for root items.
	Container string         `json:"container,omitempty" yaml:"container,omitempty"`
	Priority  int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	Position  *int           `json:"position,omitempty" yaml:"position,omitempty"`
	DoNotHide bool           `json:"doNotHide,omitempty" yaml:"doNotHide,omitempty"`
	Props     map[string]any `json:"props,omitempty" yaml:"props,omitempty"`

	Items []*Descriptor `json:"items,omitempty" yaml:"items,omitempty"`
}

// ComponentName is the display name of the bound component, if any.
func (d *Descriptor) ComponentName() string {
	if d.Component == nil {
		return ""
	}
	return d.Component.DisplayName()
}

// Walk visits d and its items depth first.
func (d *Descriptor) Walk(fn func(*Descriptor, int)) {
	d.walk(fn, 0)
}

func (d *Descriptor) walk(fn func(*Descriptor, int), depth int) {
	fn(d, depth)
	for _, item := range d.Items {
		item.walk(fn, depth+1)
	}
}

// Tree is the result of resolving a whole configuration list.
type Tree struct {
	Root []*Descriptor `json:"root" yaml:"root"`
	// Unrendered lists active plugins no container path reaches.
	Unrendered []string `json:"unrendered,omitempty" yaml:"unrendered,omitempty"`
	// Requested lists deferred plugins whose load this pass triggered.
	Requested []string `json:"requested,omitempty" yaml:"requested,omitempty"`
}

// Find returns the first descriptor with the given simple name.
func (t *Tree) Find(name string) *Descriptor {
	var found *Descriptor
	for _, root := range t.Root {
		root.Walk(func(d *Descriptor, _ int) {
			if found == nil && SameName(d.Name, name) {
				found = d
			}
		})
	}
	return found
}

// Count returns how many times a plugin appears anywhere in the tree.
func (t *Tree) Count(name string) int {
	n := 0
	for _, root := range t.Root {
		root.Walk(func(d *Descriptor, _ int) {
			if SameName(d.Name, name) {
				n++
			}
		})
	}
	return n
}

// RootNames returns the simple names of the root items in order.
func (t *Tree) RootNames() []string {
	names := make([]string, len(t.Root))
	for i, d := range t.Root {
		names[i] = d.Name
	}
	return names
}

// String renders a compact one-line form, e.g. "Map[Toolbar[Zoom Locate]]".
func (d *Descriptor) String() string {
	var b strings.Builder
	d.format(&b)
	return b.String()
}

func (d *Descriptor) format(b *strings.Builder) {
	b.WriteString(d.Name)
	if len(d.Items) == 0 {
		return
	}
	b.WriteByte('[')
	for i, item := range d.Items {
		if i > 0 {
			b.WriteByte(' ')
		}
		item.format(b)
	}
	b.WriteByte(']')
}
