// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mapshell/mapshell/internal/config"
	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/runtime"
)

// maxSettlePasses bounds how often resolve re-resolves while modules load.
const maxSettlePasses = 16

type resolveConfig struct {
	output  string
	wait    time.Duration
	request map[string]string
}

// resolvedTree is the printed form of one resolution.
type resolvedTree struct {
	Mode        string `json:"mode" yaml:"mode"`
	plugin.Tree `yaml:",inline"`
}

// NewResolveCmd creates the resolve subcommand.
func NewResolveCmd() *cobra.Command {
	rc := &resolveConfig{}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the plugin tree a configuration resolves to",
		Long: `Resolve the configured plugin list of the selected mode against the
initial state, load the modules and extensions it asks for, and print the
settled tree.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runResolve(cmd, cfg, rc)
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVarP(&rc.output, "output", "o", "yaml", "output format (yaml or json)")
	cmd.Flags().DurationVar(&rc.wait, "wait", 10*time.Second, "how long to wait for lazy modules and extensions")
	cmd.Flags().StringToStringVar(&rc.request, "request", nil, "request parameters visible to request.* expressions")
	return cmd
}

func runResolve(cmd *cobra.Command, cfg *config.Config, rc *resolveConfig) error {
	if rc.output != "yaml" && rc.output != "json" {
		return oops.In("cli").With("output", rc.output).Errorf("output must be 'yaml' or 'json'")
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return oops.Wrapf(err, "setting up logging")
	}
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return oops.Wrapf(err, "creating runtime")
	}
	defer rt.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if len(rc.request) > 0 {
		values := make(map[string]any, len(rc.request))
		for k, v := range rc.request {
			values[k] = v
		}
		rt.SetRequest(values)
	}

	tree := settle(ctx, rt, rt.Boot(ctx), rc.wait)
	out := resolvedTree{Mode: rt.Mode(), Tree: *tree}

	w := cmd.OutOrStdout()
	if rc.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return oops.Wrapf(err, "encoding tree")
	}
	return enc.Close()
}

// settle re-resolves until loads are done and the tree stops changing.
func settle(ctx context.Context, rt *runtime.Runtime, tree *plugin.Tree, wait time.Duration) *plugin.Tree {
	deadline := time.Now().Add(wait)
	for range maxSettlePasses {
		if time.Now().After(deadline) {
			break
		}
		rt.Wait()
		next := rt.Resolve(ctx)
		if rt.Ready() && sameTree(tree, next) {
			return next
		}
		tree = next
	}
	return tree
}

func sameTree(a, b *plugin.Tree) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
