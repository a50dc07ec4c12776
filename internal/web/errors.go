// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package web

import "github.com/samber/oops"

// Error codes.
const (
	CodeBadRequest = "WEB_BAD_REQUEST"
	CodeUpgrade    = "WEB_UPGRADE_FAILED"
)

// ErrBadRequest reports a request body or parameter that cannot be used.
func ErrBadRequest(reason string, cause error) error {
	b := oops.In("web").Code(CodeBadRequest).With("reason", reason)
	if cause == nil {
		return b.Errorf("bad request: %s", reason)
	}
	return b.Wrapf(cause, "bad request: %s", reason)
}

// ErrUpgrade wraps a failed websocket handshake.
func ErrUpgrade(cause error) error {
	return oops.In("web").Code(CodeUpgrade).Wrapf(cause, "upgrading tree stream")
}
