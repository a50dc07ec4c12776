// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package plugin

import "github.com/samber/oops"

// Error codes for plugin configuration and resolution.
const (
	CodeInvalidEntry  = "PLUGIN_INVALID_ENTRY"
	CodeUnknownPlugin = "PLUGIN_NOT_FOUND"
	CodeCycle         = "PLUGIN_CONTAINER_CYCLE"
	CodeUnrendered    = "PLUGIN_UNRENDERED"
	CodeBadState      = "PLUGIN_BAD_STATE"
)

// ErrInvalidEntry reports a configuration list element that is neither a
// name nor an object with a name.
func ErrInvalidEntry(index int, reason string) error {
	return oops.In("plugin").Code(CodeInvalidEntry).
		With("index", index).
		Hint("entries are a plugin name or an object with a name field").
		Errorf("invalid plugin entry at index %d: %s", index, reason)
}

// ErrUnknownPlugin reports a configured name with no implementation.
func ErrUnknownPlugin(name string) error {
	return oops.In("plugin").Code(CodeUnknownPlugin).With("plugin", name).
		Errorf("plugin %q is not registered", name)
}

// ErrCycle reports a plugin that would be placed inside its own ancestor.
func ErrCycle(name string, ancestors []string) error {
	return oops.In("plugin").Code(CodeCycle).
		With("plugin", name).
		With("ancestors", ancestors).
		Errorf("plugin %q is already an ancestor of its container", name)
}

// ErrUnrendered reports an active plugin that no container path reaches.
func ErrUnrendered(name string) error {
	return oops.In("plugin").Code(CodeUnrendered).With("plugin", name).
		Hint("check for plugins that declare each other as containers").
		Errorf("plugin %q is active but not reachable from the root", name)
}

// ErrBadState wraps a failure to project application state.
func ErrBadState(cause error) error {
	return oops.In("plugin").Code(CodeBadState).Wrapf(cause, "projecting monitored state")
}
