// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package errutil holds helpers for logging and asserting oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level. For oops errors the code, domain, hint
// and context are emitted as separate attributes so collectors can index them.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logger.ErrorContext(ctx, msg, Attrs(err)...)
}

// LogWarn is LogError at warn level, used for failures that degrade a
// single plugin but not the application.
func LogWarn(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logger.WarnContext(ctx, msg, Attrs(err)...)
}

// Attrs flattens err into slog key/value pairs.
func Attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil && code != "" {
		attrs = append(attrs, "code", code)
	}
	if domain := oopsErr.Domain(); domain != "" {
		attrs = append(attrs, "domain", domain)
	}
	if hint := oopsErr.Hint(); hint != "" {
		attrs = append(attrs, "hint", hint)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}

// Code returns the oops code of err, or nil when err carries none.
func Code(err error) any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Code()
}
