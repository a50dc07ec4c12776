// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/mapshell/mapshell/internal/extension"
)

// NewGenSchemaCmd creates the gen-schema subcommand.
func NewGenSchemaCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "gen-schema",
		Short: "Write the extension manifest JSON Schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := extension.GenerateSchema()
			if err != nil {
				return oops.Wrapf(err, "generating schema")
			}
			if outPath == "-" {
				_, err := cmd.OutOrStdout().Write(schema)
				return err
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
				return oops.With("path", outPath).Wrapf(err, "creating directory")
			}
			if err := os.WriteFile(outPath, schema, 0o600); err != nil {
				return oops.With("path", outPath).Wrapf(err, "writing schema")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", filepath.Join("schemas", "extensions.schema.json"), "output path, - for stdout")
	return cmd
}
