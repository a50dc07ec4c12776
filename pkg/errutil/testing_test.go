// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/mapshell/mapshell/pkg/errutil"
)

func TestAssertHelpers_MatchingLoadError(t *testing.T) {
	err := oops.In("loader").
		Code("PLUGIN_LOAD_FAILED").
		Hint("check the bundle path").
		With("plugin", "Measure").
		Errorf("bundle not found")

	errutil.AssertErrorCode(t, err, "PLUGIN_LOAD_FAILED")
	errutil.AssertErrorDomain(t, err, "loader")
	errutil.AssertErrorHint(t, err, "bundle path")
	errutil.AssertErrorContext(t, err, "plugin", "Measure")
}

func TestAssertErrorCode_WrappedKeepsCode(t *testing.T) {
	cause := oops.Code("EXTENSION_FETCH_FAILED").Errorf("status 502")
	err := oops.In("runtime").Wrapf(cause, "reload extensions")

	errutil.AssertErrorCode(t, err, "EXTENSION_FETCH_FAILED")
}
