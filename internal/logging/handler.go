// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package logging provides structured logging with OpenTelemetry trace context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// Error codes returned by Setup.
const (
	CodeBadLevel  = "LOG_BAD_LEVEL"
	CodeBadFormat = "LOG_BAD_FORMAT"
)

// Options configures Setup.
type Options struct {
	Service string
	Version string
	// Format is "json" or "text"; empty means json.
	Format string
	// Level is debug, info, warn or error; empty means info.
	Level string
	// Writer defaults to os.Stderr.
	Writer io.Writer
}

// traceHandler stamps every record with service metadata and the active span.
type traceHandler struct {
	handler slog.Handler
	service string
	version string
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{handler: h.handler.WithAttrs(attrs), service: h.service, version: h.version}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{handler: h.handler.WithGroup(name), service: h.service, version: h.version}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, oops.In("logging").Code(CodeBadLevel).With("level", level).
			Hint("use debug, info, warn or error").
			Errorf("unknown log level %q", level)
	}
}

// Setup creates a configured slog.Logger.
func Setup(opts Options) (*slog.Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}

	var base slog.Handler
	switch opts.Format {
	case "", "json":
		base = slog.NewJSONHandler(w, hopts)
	case "text":
		base = slog.NewTextHandler(w, hopts)
	default:
		return nil, oops.In("logging").Code(CodeBadFormat).With("format", opts.Format).
			Errorf("log format must be 'json' or 'text', got %q", opts.Format)
	}

	return slog.New(&traceHandler{handler: base, service: opts.Service, version: opts.Version}), nil
}
