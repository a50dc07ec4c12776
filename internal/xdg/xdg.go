// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package xdg provides XDG Base Directory paths for mapshell.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "mapshell"

// ConfigFileName is the configuration file searched in ConfigDir.
const ConfigFileName = "config.yaml"

// EnvFileName is the optional dotenv file searched in ConfigDir.
const EnvFileName = "mapshell.env"

func home() (string, error) {
	if h := os.Getenv("HOME"); h != "" {
		return h, nil
	}
	h, err := os.UserHomeDir()
	if err != nil {
		return "", oops.In("xdg").Hint("set HOME or XDG_CONFIG_HOME").Wrapf(err, "resolving home directory")
	}
	return h, nil
}

// ConfigDir returns the XDG config directory for mapshell.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		h, err := home()
		if err != nil {
			return "", err
		}
		base = filepath.Join(h, ".config")
	}
	return filepath.Join(base, appName), nil
}

// ConfigFile returns the default configuration file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// EnvFile returns the default dotenv file path.
func EnvFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, EnvFileName), nil
}
