// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package plugin

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// DefaultContainerPosition groups entries without cfg.containerPosition.
const DefaultContainerPosition = "bodyPlugins"

// ConfigEntry is one element of a plugin configuration list.
type ConfigEntry struct {
	Name     string         `json:"name" yaml:"name"`
	ID       string         `json:"id,omitempty" yaml:"id,omitempty"`
	Cfg      map[string]any `json:"cfg,omitempty" yaml:"cfg,omitempty"`
	Override map[string]any `json:"override,omitempty" yaml:"override,omitempty"`
	// ShowIn and HideFrom are lists of container names or ids, or an
	// expression yielding such a list.
	ShowIn       any   `json:"showIn,omitempty" yaml:"showIn,omitempty"`
	HideFrom     any   `json:"hideFrom,omitempty" yaml:"hideFrom,omitempty"`
	IsDefault    *bool `json:"isDefault,omitempty" yaml:"isDefault,omitempty"`
	LoadPriority *int  `json:"loadPriority,omitempty" yaml:"loadPriority,omitempty"`
}

// SimpleName is the entry name without the registry suffix.
func (e ConfigEntry) SimpleName() string { return SimpleName(e.Name) }

// Key is the normalized registry key of the entry.
func (e ConfigEntry) Key() string { return NormalizeName(e.Name) }

// Identity is the descriptor id: the explicit id or the simple name.
func (e ConfigEntry) Identity() string {
	if e.ID != "" {
		return e.ID
	}
	return e.SimpleName()
}

// Default reports whether the entry, acting as a container, accepts
// plugins that do not name it in showIn.
func (e ConfigEntry) Default() bool {
	return e.IsDefault == nil || *e.IsDefault
}

// ParseConfigEntry accepts a bare name or an object with a name field.
func ParseConfigEntry(index int, raw any) (ConfigEntry, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return ConfigEntry{}, ErrInvalidEntry(index, "empty name")
		}
		return ConfigEntry{Name: v}, nil
	case ConfigEntry:
		if v.Name == "" {
			return ConfigEntry{}, ErrInvalidEntry(index, "missing name")
		}
		return v, nil
	case map[string]any:
		return parseEntryObject(index, v)
	default:
		return ConfigEntry{}, ErrInvalidEntry(index, fmt.Sprintf("unsupported type %T", raw))
	}
}

func parseEntryObject(index int, m map[string]any) (ConfigEntry, error) {
	name, _ := m["name"].(string)
	if name == "" {
		return ConfigEntry{}, ErrInvalidEntry(index, "missing name")
	}
	e := ConfigEntry{Name: name, ShowIn: m["showIn"], HideFrom: m["hideFrom"]}
	if id, ok := m["id"].(string); ok {
		e.ID = id
	}

	var err error
	if e.Cfg, err = asMap(m["cfg"]); err != nil {
		return ConfigEntry{}, ErrInvalidEntry(index, "cfg: "+err.Error())
	}
	if e.Override, err = asMap(m["override"]); err != nil {
		return ConfigEntry{}, ErrInvalidEntry(index, "override: "+err.Error())
	}
	if raw, ok := m["isDefault"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return ConfigEntry{}, ErrInvalidEntry(index, "isDefault must be a boolean")
		}
		e.IsDefault = &b
	}
	if raw, ok := m["loadPriority"]; ok {
		p, ok := asInt(raw)
		if !ok {
			return ConfigEntry{}, ErrInvalidEntry(index, "loadPriority must be an integer")
		}
		e.LoadPriority = &p
	}
	return e, nil
}

func asMap(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected an object, got %T", raw)
	}
}

func asInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// ParseConfigList parses every element. Invalid elements are skipped and
// reported together in the returned error; valid ones are always returned.
func ParseConfigList(raw []any) ([]ConfigEntry, error) {
	entries := make([]ConfigEntry, 0, len(raw))
	var errs []error
	for i, item := range raw {
		e, err := ParseConfigEntry(i, item)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, errors.Join(errs...)
}

// ParseModes parses a mode to list map such as {desktop: [...], mobile: [...]}.
func ParseModes(raw map[string]any) (map[string][]ConfigEntry, error) {
	modes := make(map[string][]ConfigEntry, len(raw))
	var errs []error
	for mode, list := range raw {
		items, ok := list.([]any)
		if !ok {
			errs = append(errs, ErrInvalidEntry(-1, fmt.Sprintf("mode %q is not a list", mode)))
			continue
		}
		entries, err := ParseConfigList(items)
		if err != nil {
			errs = append(errs, fmt.Errorf("mode %s: %w", mode, err))
		}
		modes[mode] = entries
	}
	return modes, errors.Join(errs...)
}

// FoldDuplicates collapses entries sharing a name onto the first one. A
// later entry's cfg and override merge over the earlier ones, so a
// first-party entry configured after an extension's entry wins.
func FoldDuplicates(entries []ConfigEntry) []ConfigEntry {
	out := make([]ConfigEntry, 0, len(entries))
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		i, dup := seen[e.Key()]
		if !dup {
			seen[e.Key()] = len(out)
			out = append(out, e)
			continue
		}
		first := out[i]
		first.Override = MergeConfig(first.Override, e.Cfg, e.Override)
		if e.ID != "" {
			first.ID = e.ID
		}
		if e.ShowIn != nil {
			first.ShowIn = e.ShowIn
		}
		if e.HideFrom != nil {
			first.HideFrom = e.HideFrom
		}
		if e.IsDefault != nil {
			first.IsDefault = e.IsDefault
		}
		if e.LoadPriority != nil {
			first.LoadPriority = e.LoadPriority
		}
		out[i] = first
	}
	return out
}

// MapPluginsPosition groups entries by cfg.containerPosition.
func MapPluginsPosition(entries []ConfigEntry) map[string][]ConfigEntry {
	out := make(map[string][]ConfigEntry)
	for _, e := range entries {
		pos, _ := e.Cfg["containerPosition"].(string)
		if pos == "" {
			pos = DefaultContainerPosition
		}
		out[pos] = append(out[pos], e)
	}
	return out
}

// Names returns the simple names of entries in order.
func Names(entries []ConfigEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.SimpleName()
	}
	return names
}
