// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package extension installs third-party plugins described by a remote
// manifest. Each bundle is a sandboxed Lua script exporting a plugin table.
package extension

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/mapshell/mapshell/internal/plugin"
)

// Entry describes one extension in the manifest.
type Entry struct {
	Bundle       string `json:"bundle" yaml:"bundle" jsonschema:"minLength=1,description=Bundle path relative to the extensions folder"`
	Translations string `json:"translations,omitempty" yaml:"translations,omitempty" jsonschema:"description=Translations folder relative to the extensions folder"`
	Version      string `json:"version,omitempty" yaml:"version,omitempty" jsonschema:"description=Semantic version of the extension"`
	Requires     string `json:"requires,omitempty" yaml:"requires,omitempty" jsonschema:"description=Semantic version constraint on the host"`
}

// Manifest maps extension names to their entries.
type Manifest map[string]Entry

const maxNameLength = 64

// namePattern validates extension names: a letter followed by letters,
// digits, underscores or hyphens.
var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ParseManifest validates data against the manifest schema and decodes it.
// JSON and YAML are both accepted.
func ParseManifest(data []byte) (Manifest, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, ErrManifestInvalid(FormatSchemaError(err), err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, ErrManifestInvalid("decode", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the constraints the schema cannot express.
func (m Manifest) Validate() error {
	seen := make(map[string]string, len(m))
	for _, name := range m.Names() {
		if !namePattern.MatchString(name) {
			return ErrManifestInvalid(fmt.Sprintf("name %q must start with a letter and contain only letters, digits, '_' or '-'", name), nil)
		}
		if len(name) > maxNameLength {
			return ErrManifestInvalid(fmt.Sprintf("name %q is longer than %d characters", name, maxNameLength), nil)
		}
		key := plugin.NormalizeName(name)
		if other, dup := seen[key]; dup {
			return ErrManifestInvalid(fmt.Sprintf("%q and %q name the same plugin", other, name), nil)
		}
		seen[key] = name

		e := m[name]
		if e.Bundle == "" {
			return ErrManifestInvalid(fmt.Sprintf("%s: bundle is required", name), nil)
		}
		if e.Version != "" {
			if _, err := semver.NewVersion(e.Version); err != nil {
				return ErrManifestInvalid(fmt.Sprintf("%s: version %q", name, e.Version), err)
			}
		}
		if e.Requires != "" {
			if _, err := semver.NewConstraint(e.Requires); err != nil {
				return ErrManifestInvalid(fmt.Sprintf("%s: requires %q", name, e.Requires), err)
			}
		}
	}
	return nil
}

// Names returns the extension names sorted.
func (m Manifest) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Compatible checks e against the host version. A nil host or an empty
// constraint always passes.
func (e Entry) Compatible(name string, host *semver.Version) error {
	if host == nil || e.Requires == "" {
		return nil
	}
	c, err := semver.NewConstraint(e.Requires)
	if err != nil {
		return ErrManifestInvalid(fmt.Sprintf("%s: requires %q", name, e.Requires), err)
	}
	if !c.Check(host) {
		return ErrIncompatible(name, e.Requires, host.String())
	}
	return nil
}
