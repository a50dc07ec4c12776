// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package runtime

import "github.com/samber/oops"

// Error codes.
const (
	CodeUnknownMode      = "RUNTIME_UNKNOWN_MODE"
	CodeNoExtensions     = "RUNTIME_NO_EXTENSIONS"
	CodeStoreUnavailable = "RUNTIME_STORE_UNAVAILABLE"
)

// ErrUnknownMode reports a mode with no plugin list.
func ErrUnknownMode(mode string, known []string) error {
	return oops.In("runtime").Code(CodeUnknownMode).
		With("mode", mode).
		With("known", known).
		Errorf("unknown mode %q", mode)
}

// ErrNoExtensions reports an extension operation while extensions are
// disabled.
func ErrNoExtensions() error {
	return oops.In("runtime").Code(CodeNoExtensions).
		Hint("enable extensions in the configuration").
		Errorf("extensions are disabled")
}

// ErrStoreUnavailable wraps a failure to create the application store.
func ErrStoreUnavailable(cause error) error {
	return oops.In("runtime").Code(CodeStoreUnavailable).Wrapf(cause, "creating application store")
}
