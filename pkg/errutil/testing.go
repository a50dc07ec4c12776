// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	return oopsErr
}

// AssertErrorCode asserts that err is an oops error with the given code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, mustOops(t, err).Code())
}

// AssertErrorContext asserts that err is an oops error carrying key=value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := mustOops(t, err).Context()
	require.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}

// AssertErrorDomain asserts the package domain set by oops.In.
func AssertErrorDomain(t *testing.T, err error, domain string) {
	t.Helper()
	assert.Equal(t, domain, mustOops(t, err).Domain())
}

// AssertErrorHint asserts that the operator hint mentions substr.
func AssertErrorHint(t *testing.T, err error, substr string) {
	t.Helper()
	assert.Contains(t, mustOops(t, err).Hint(), substr)
}
