// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package loader

import "github.com/samber/oops"

// Error codes for plugin loading.
const (
	CodeLoadFailed = "LOAD_FAILED"
	CodeLoadPanic  = "LOAD_PANIC"
	CodeNilModule  = "LOAD_NIL_MODULE"
)

// ErrLoadFailed wraps a loader function error.
func ErrLoadFailed(name, batch string, cause error) error {
	return oops.In("loader").Code(CodeLoadFailed).
		With("plugin", name).
		With("batch", batch).
		Wrapf(cause, "loading plugin %s", name)
}

// ErrLoadPanic reports a loader function that panicked.
func ErrLoadPanic(name string, recovered any) error {
	return oops.In("loader").Code(CodeLoadPanic).
		With("plugin", name).
		Errorf("loader for %s panicked: %v", name, recovered)
}

// ErrNilModule reports a loader that returned no implementation.
func ErrNilModule(name string) error {
	return oops.In("loader").Code(CodeNilModule).
		With("plugin", name).
		Hint("a loader must return the plugin implementation or an error").
		Errorf("loader for %s returned no implementation", name)
}
