// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mapshell/mapshell/internal/config"
)

const desktopConfig = `
log: {format: text, level: error}
plugins:
  desktop: [Map, Toolbar, ZoomIn, ZoomOut, Locate, BurgerMenu, TOC, Omnibar, Login, Measure]
  embedded: [Map, Toolbar, ZoomIn]
`

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())
	configFile = ""
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	isolate(t)
	output, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"serve", "resolve", "validate-manifest", "gen-schema"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestResolve_PrintsSettledTreeAsYAML(t *testing.T) {
	isolate(t)
	path := writeFile(t, "config.yaml", desktopConfig)

	output, err := execute(t, "resolve", "--config", path)
	require.NoError(t, err)

	var got struct {
		Mode string `yaml:"mode"`
		Root []struct {
			Name  string `yaml:"name"`
			Items []struct {
				Name  string `yaml:"name"`
				Items []struct {
					Name string `yaml:"name"`
				} `yaml:"items"`
			} `yaml:"items"`
		} `yaml:"root"`
		Requested []string `yaml:"requested"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(output), &got))
	assert.Equal(t, "desktop", got.Mode)
	require.Len(t, got.Root, 1)
	assert.Equal(t, "Map", got.Root[0].Name)
	assert.Empty(t, got.Requested, "lazy modules settle before printing")
	assert.Contains(t, output, "name: Measure")
}

func TestResolve_JSONAndMode(t *testing.T) {
	isolate(t)
	path := writeFile(t, "config.yaml", desktopConfig)

	output, err := execute(t, "resolve", "--config", path, "--mode", "embedded", "-o", "json")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, "embedded", got["mode"])
	assert.NotContains(t, output, "Measure")
}

func TestResolve_RejectsBadOutput(t *testing.T) {
	isolate(t)
	path := writeFile(t, "config.yaml", desktopConfig)
	_, err := execute(t, "resolve", "--config", path, "-o", "xml")
	require.Error(t, err)
}

func TestValidateManifest(t *testing.T) {
	isolate(t)
	tests := []struct {
		name     string
		manifest string
		args     []string
		wantErr  bool
		want     string
	}{
		{
			name:     "valid",
			manifest: `{"Measure": {"bundle": "measure.lua"}, "Other": {"bundle": "other.lua", "requires": ">=1.0.0"}}`,
			args:     []string{"--host-version", "1.2.0"},
			want:     "Measure\tok\tmeasure.lua",
		},
		{
			name:     "incompatible",
			manifest: `{"Future": {"bundle": "f.lua", "requires": ">=3.0.0"}}`,
			args:     []string{"--host-version", "1.2.0"},
			wantErr:  true,
			want:     "Future\tincompatible",
		},
		{
			name:     "missing bundle",
			manifest: `{"Broken": {"translations": "x"}}`,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "extensions.json", tt.manifest)
			output, err := execute(t, append([]string{"validate-manifest", path}, tt.args...)...)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Contains(t, output, tt.want)
		})
	}
}

func TestGenSchema(t *testing.T) {
	isolate(t)
	out := filepath.Join(t.TempDir(), "nested", "schema.json")

	output, err := execute(t, "gen-schema", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, output, "Generated")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Contains(t, schema, "$schema")
}

func TestServe_ServesTreeUntilCancelled(t *testing.T) {
	isolate(t)
	path := writeFile(t, "config.yaml", desktopConfig)

	cfg, err := config.Load(nil, path)
	require.NoError(t, err)
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	cmd := NewServeCmd()
	cmd.SetErr(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cmd, cfg, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}

	resp, err := http.Get("http://" + addr + "/api/tree")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"name":"Map"`))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
