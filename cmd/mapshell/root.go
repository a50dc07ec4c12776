// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the mapshell CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapshell",
		Short: "mapshell - plugin composition core for map viewers",
		Long: `mapshell resolves configured plugin lists into a tree of placed
components, loads lazy modules and script extensions on demand, and
serves the result to a render layer over HTTP and websockets.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/mapshell/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewResolveCmd())
	cmd.AddCommand(NewValidateManifestCmd())
	cmd.AddCommand(NewGenSchemaCmd())

	return cmd
}
