// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package plugin

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/devmon/devmon/internal/plugin/capability"
)

// ManifestFile is the manifest name inside a plugin directory.
const ManifestFile = "plugin.yaml"

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name        string   `yaml:"name" json:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version     string   `yaml:"version" json:"version" jsonschema:"description=Plugin version (semver)"`
	API         string   `yaml:"api" json:"api" jsonschema:"description=Constraint on the host plugin API version such as ^1.0"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Executable  string   `yaml:"executable" json:"executable" jsonschema:"minLength=1"`
	Factories   []string `yaml:"factories" json:"factories" jsonschema:"minItems=1,description=Factory name patterns the plugin may provide"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints. It does not check the API
// constraint against a host; see Compatible.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q: %w", m.Version, err)
	}

	if m.API == "" {
		return fmt.Errorf("api is required")
	}
	if _, err := semver.NewConstraint(m.API); err != nil {
		return fmt.Errorf("api %q: %w", m.API, err)
	}

	if m.Executable == "" {
		return fmt.Errorf("executable is required")
	}
	if !filepath.IsLocal(m.Executable) {
		return fmt.Errorf("executable %q must be a path inside the plugin directory", m.Executable)
	}

	if len(m.Factories) == 0 {
		return fmt.Errorf("factories must list at least one pattern")
	}
	for i, pattern := range m.Factories {
		if _, err := capability.Compile(pattern); err != nil {
			return fmt.Errorf("factories[%d]: %w", i, err)
		}
	}

	return nil
}

// Compatible reports whether the plugin accepts the host API version.
func (m *Manifest) Compatible(hostAPI string) error {
	c, err := semver.NewConstraint(m.API)
	if err != nil {
		return fmt.Errorf("api %q: %w", m.API, err)
	}
	v, err := semver.NewVersion(hostAPI)
	if err != nil {
		return fmt.Errorf("host api %q: %w", hostAPI, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("plugin %s requires api %s, host provides %s", m.Name, m.API, hostAPI)
	}
	return nil
}
