// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package extension

import (
	"github.com/samber/oops"
)

// Error codes.
const (
	CodeManifestInvalid = "EXT_MANIFEST_INVALID"
	CodeFetchFailed     = "EXT_FETCH_FAILED"
	CodeIncompatible    = "EXT_INCOMPATIBLE"
	CodeBundleInvalid   = "EXT_BUNDLE_INVALID"
	CodeScriptFailed    = "EXT_SCRIPT_FAILED"
	CodeNotInstalled    = "EXT_NOT_INSTALLED"
	CodeBadConfig       = "EXT_BAD_CONFIG"
)

// ErrManifestInvalid reports a manifest that failed parsing or validation.
func ErrManifestInvalid(reason string, cause error) error {
	b := oops.In("extension").Code(CodeManifestInvalid).With("reason", reason)
	if cause != nil {
		return b.Wrapf(cause, "invalid extension manifest: %s", reason)
	}
	return b.Errorf("invalid extension manifest: %s", reason)
}

// ErrFetchFailed reports a manifest or bundle download that failed after
// retries.
func ErrFetchFailed(url string, cause error) error {
	return oops.In("extension").Code(CodeFetchFailed).
		With("url", url).
		Hint("check the extensions folder and manifest URL").
		Wrapf(cause, "fetching %s", url)
}

// ErrIncompatible reports an extension whose host constraint is not met.
func ErrIncompatible(name, constraint, host string) error {
	return oops.In("extension").Code(CodeIncompatible).
		With("plugin", name).
		With("requires", constraint).
		With("host_version", host).
		Errorf("extension %s requires host %s, running %s", name, constraint, host)
}

// ErrBundleInvalid reports a bundle that does not export a plugin.
func ErrBundleInvalid(name, reason string, cause error) error {
	b := oops.In("extension").Code(CodeBundleInvalid).With("plugin", name).With("reason", reason)
	if cause != nil {
		return b.Wrapf(cause, "bundle %s: %s", name, reason)
	}
	return b.Errorf("bundle %s: %s", name, reason)
}

// ErrScriptFailed reports a failing call into a bundle function.
func ErrScriptFailed(name, function string, cause error) error {
	return oops.In("extension").Code(CodeScriptFailed).
		With("plugin", name).
		With("function", function).
		Wrapf(cause, "%s.%s failed", name, function)
}

// ErrNotInstalled reports an operation on an unknown extension.
func ErrNotInstalled(name string) error {
	return oops.In("extension").Code(CodeNotInstalled).
		With("plugin", name).
		Errorf("extension %s is not installed", name)
}

// ErrBadConfig reports invalid manager configuration.
func ErrBadConfig(field string, cause error) error {
	return oops.In("extension").Code(CodeBadConfig).
		With("field", field).
		Wrapf(cause, "invalid extension config %s", field)
}
