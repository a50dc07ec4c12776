// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package observability

import "github.com/samber/oops"

// Error codes for the observability server.
const (
	CodeAlreadyRunning = "OBSERVABILITY_ALREADY_RUNNING"
	CodeListen         = "OBSERVABILITY_LISTEN_FAILED"
	CodeShutdown       = "OBSERVABILITY_SHUTDOWN_FAILED"
	CodeNoHijack       = "OBSERVABILITY_NO_HIJACK"
)

// ErrAlreadyRunning is returned by a second Start.
func ErrAlreadyRunning(addr string) error {
	return oops.In("observability").Code(CodeAlreadyRunning).With("addr", addr).
		Errorf("observability server already running")
}

// ErrListen wraps a bind failure.
func ErrListen(addr string, cause error) error {
	return oops.In("observability").Code(CodeListen).With("addr", addr).
		Hint("set metricsAddr to a free port or leave it empty to disable metrics").
		Wrapf(cause, "listening on %s", addr)
}

// ErrShutdown wraps a failed graceful shutdown.
func ErrShutdown(cause error) error {
	return oops.In("observability").Code(CodeShutdown).
		Wrapf(cause, "shutting down observability server")
}

// ErrNoHijack is returned when a wrapped writer cannot be hijacked.
func ErrNoHijack() error {
	return oops.In("observability").Code(CodeNoHijack).
		Errorf("response writer does not support hijacking")
}
