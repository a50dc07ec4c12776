// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package config

import "github.com/samber/oops"

// Error codes.
const (
	CodeReadFailed = "CONFIG_READ_FAILED"
	CodeInvalid    = "CONFIG_INVALID"
)

// ErrReadFailed wraps a failure to read or decode a configuration source.
func ErrReadFailed(source string, cause error) error {
	return oops.In("config").Code(CodeReadFailed).
		With("source", source).
		Wrapf(cause, "reading configuration from %s", source)
}

// ErrInvalid reports a configuration value that cannot be used.
func ErrInvalid(field, reason string) error {
	return oops.In("config").Code(CodeInvalid).
		With("field", field).
		Errorf("invalid %s: %s", field, reason)
}

// ErrInvalidCause wraps a parse failure of one field.
func ErrInvalidCause(field string, cause error) error {
	return oops.In("config").Code(CodeInvalid).
		With("field", field).
		Wrapf(cause, "invalid %s", field)
}
