// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/mapshell/mapshell/internal/extension"
)

// NewValidateManifestCmd creates the validate-manifest subcommand.
func NewValidateManifestCmd() *cobra.Command {
	var hostVersion string
	cmd := &cobra.Command{
		Use:   "validate-manifest <file|url>",
		Short: "Validate an extension manifest",
		Long: `Check an extension manifest against its JSON Schema and naming rules,
and optionally against the version constraints of a host.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateManifest(cmd, args[0], hostVersion)
		},
	}
	cmd.Flags().StringVar(&hostVersion, "host-version", "", "report entries incompatible with this host version")
	return cmd
}

func runValidateManifest(cmd *cobra.Command, source, hostVersion string) error {
	data, err := readSource(cmd, source)
	if err != nil {
		return err
	}

	manifest, err := extension.ParseManifest(data)
	if err != nil {
		return err
	}

	var host *semver.Version
	if hostVersion != "" {
		host, err = semver.NewVersion(hostVersion)
		if err != nil {
			return extension.ErrBadConfig("host-version", err)
		}
	}

	out := cmd.OutOrStdout()
	incompatible := 0
	for _, name := range manifest.Names() {
		entry := manifest[name]
		if err := entry.Compatible(name, host); err != nil {
			incompatible++
			fmt.Fprintf(out, "%s\tincompatible: %v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "%s\tok\t%s\n", name, entry.Bundle)
	}
	if incompatible > 0 {
		return oops.In("cli").With("incompatible", incompatible).
			Errorf("%d of %d extensions are incompatible with host %s", incompatible, len(manifest), hostVersion)
	}
	return nil
}

func readSource(cmd *cobra.Command, source string) ([]byte, error) {
	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return extension.NewFetcher().Get(cmd.Context(), "manifest", source)
	}
	data, err := os.ReadFile(source) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, oops.In("cli").With("path", source).Wrapf(err, "reading manifest")
	}
	return data, nil
}
