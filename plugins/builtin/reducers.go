// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package builtin

import (
	"maps"

	"github.com/mapshell/mapshell/internal/store"
)

func asMap(state any) map[string]any {
	m, _ := state.(map[string]any)
	return m
}

func mapType(state any, action store.Action) any {
	if action.Type != ActionChangeMapType {
		return state
	}
	t, ok := action.Payload.(string)
	if !ok {
		return state
	}
	next := maps.Clone(asMap(state))
	if next == nil {
		next = map[string]any{}
	}
	next["mapType"] = t
	return next
}

func security(state any, action store.Action) any {
	switch action.Type {
	case ActionLoginSuccess:
		next := maps.Clone(asMap(state))
		if next == nil {
			next = map[string]any{}
		}
		next["user"] = action.Payload
		return next
	case ActionLogout:
		return map[string]any{}
	}
	return state
}

// controls toggles the "enabled" flag of the control named in the payload.
func controls(state any, action store.Action) any {
	if action.Type != ActionToggleControl {
		return state
	}
	name, ok := action.Payload.(string)
	if !ok || name == "" {
		return state
	}
	next := maps.Clone(asMap(state))
	if next == nil {
		next = map[string]any{}
	}
	ctl := maps.Clone(asMap(next[name]))
	if ctl == nil {
		ctl = map[string]any{}
	}
	enabled, _ := ctl["enabled"].(bool)
	ctl["enabled"] = !enabled
	next[name] = ctl
	return next
}

func layers(state any, _ store.Action) any {
	if state == nil {
		return map[string]any{"flat": []any{}}
	}
	return state
}
