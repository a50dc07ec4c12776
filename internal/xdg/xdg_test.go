// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package xdg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	tests := []struct {
		name       string
		configHome string
		home       string
		fn         func() (string, error)
		want       string
	}{
		{"dir from XDG_CONFIG_HOME", "/custom/config", "", ConfigDir, "/custom/config/mapshell"},
		{"dir from HOME", "", "/home/gis", ConfigDir, "/home/gis/.config/mapshell"},
		{"config file", "/custom/config", "", ConfigFile, "/custom/config/mapshell/config.yaml"},
		{"env file", "", "/home/gis", EnvFile, "/home/gis/.config/mapshell/mapshell.env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_CONFIG_HOME", tt.configHome)
			if tt.home != "" {
				t.Setenv("HOME", tt.home)
			}
			got, err := tt.fn()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
