// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package main

import (
	"log/slog"
	"maps"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/mapshell/mapshell/internal/config"
	"github.com/mapshell/mapshell/internal/expr"
	"github.com/mapshell/mapshell/internal/extension"
	"github.com/mapshell/mapshell/internal/loader"
	"github.com/mapshell/mapshell/internal/logging"
	"github.com/mapshell/mapshell/internal/observability"
	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/runtime"
	"github.com/mapshell/mapshell/internal/store"
	"github.com/mapshell/mapshell/plugins/builtin"
)

const serviceName = "mapshell"

// metricRegistrars lists every package that exports collectors.
var metricRegistrars = []observability.Registrar{
	expr.RegisterMetrics,
	plugin.RegisterMetrics,
	loader.RegisterMetrics,
	store.RegisterMetrics,
	extension.RegisterMetrics,
}

// loadConfig reads the configuration using cmd's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cmd.Flags(), configFile)
}

// newLogger builds the process logger from cfg and installs it as the
// slog default for packages constructed without an explicit logger.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	opts := cfg.Logging(serviceName, version)
	opts.Writer = cmd.ErrOrStderr()
	logger, err := logging.Setup(opts)
	if err != nil {
		return nil, oops.Wrapf(err, "configuring logging")
	}
	slog.SetDefault(logger)
	return logger, nil
}

// newRuntime builds a runtime over the built-in plugins. Built-in reducers
// and initial state come first so configured ones override them.
func newRuntime(cfg *config.Config, logger *slog.Logger) (*runtime.Runtime, error) {
	rc := cfg.Runtime()

	reducers := builtin.Reducers()
	maps.Copy(reducers, rc.Reducers)
	rc.Reducers = reducers

	state := builtin.InitialState()
	maps.Copy(state, rc.State)
	rc.State = state

	opts := append([]runtime.Option{runtime.WithLogger(logger)}, cfg.ExtensionOptions(logger)...)
	return runtime.New(builtin.Plugins(nil), rc, opts...)
}
