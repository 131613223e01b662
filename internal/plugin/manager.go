// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/devmon/devmon/internal/schema"
	"github.com/devmon/devmon/internal/spa"
)

// Manager discovers plugin directories and registers them with a host.
type Manager struct {
	pluginsDir string
	host       Host
	hostAPI    string
	logger     *slog.Logger
	loaded     map[string]*DiscoveredPlugin
	mu         sync.RWMutex
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithHost sets the runtime host plugins are registered with.
func WithHost(h Host) ManagerOption {
	return func(m *Manager) {
		m.host = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithHostAPI overrides the API version checked against manifest
// constraints.
func WithHostAPI(version string) ManagerOption {
	return func(m *Manager) {
		m.hostAPI = version
	}
}

// NewManager creates a plugin manager.
func NewManager(pluginsDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		pluginsDir: pluginsDir,
		hostAPI:    spa.APIVersion,
		logger:     slog.Default(),
		loaded:     make(map[string]*DiscoveredPlugin),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DiscoveredPlugin contains a manifest and its directory.
type DiscoveredPlugin struct {
	Manifest *Manifest
	Dir      string
}

// Discover finds all valid plugins in the plugins directory, sorted by name.
// Invalid plugins are logged and skipped.
func (m *Manager) Discover(_ context.Context) ([]*DiscoveredPlugin, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.In("plugin").With("dir", m.pluginsDir).Wrapf(err, "read plugins directory")
	}

	var plugins []*DiscoveredPlugin
	seen := make(map[string]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(m.pluginsDir, entry.Name())
		manifestPath := filepath.Join(pluginDir, ManifestFile)

		data, err := os.ReadFile(manifestPath) //nolint:gosec // manifestPath is constructed from ReadDir entries
		if err != nil {
			m.logger.Warn("skipping plugin without manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		if err := ValidateSchema(data); err != nil {
			m.logger.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", schema.FormatError(err))
			continue
		}

		manifest, err := ParseManifest(data)
		if err != nil {
			m.logger.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		if other, dup := seen[manifest.Name]; dup {
			m.logger.Warn("skipping plugin with duplicate name",
				"dir", entry.Name(),
				"plugin", manifest.Name,
				"first", other)
			continue
		}
		seen[manifest.Name] = entry.Name()

		plugins = append(plugins, &DiscoveredPlugin{
			Manifest: manifest,
			Dir:      pluginDir,
		})
	}

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Manifest.Name < plugins[j].Manifest.Name
	})
	return plugins, nil
}

// LoadAll discovers and registers all plugins. Individual plugin failures
// are logged and skipped.
func (m *Manager) LoadAll(ctx context.Context) error {
	discovered, err := m.Discover(ctx)
	if err != nil {
		return err
	}

	for _, dp := range discovered {
		if err := m.Load(ctx, dp); err != nil {
			m.logger.Error("failed to load plugin",
				"plugin", dp.Manifest.Name,
				"error", err)
		}
	}
	return nil
}

// Load registers a single discovered plugin.
func (m *Manager) Load(ctx context.Context, dp *DiscoveredPlugin) error {
	if m.host == nil {
		return oops.In("plugin").With("plugin", dp.Manifest.Name).Errorf("no plugin host configured")
	}
	if err := dp.Manifest.Compatible(m.hostAPI); err != nil {
		return oops.In("plugin").With("plugin", dp.Manifest.Name).Wrap(err)
	}

	m.mu.Lock()
	_, exists := m.loaded[dp.Manifest.Name]
	m.mu.Unlock()
	if exists {
		return oops.In("plugin").With("plugin", dp.Manifest.Name).Errorf("plugin already loaded")
	}

	if err := m.host.Register(ctx, dp.Manifest, dp.Dir); err != nil {
		return oops.In("plugin").With("plugin", dp.Manifest.Name).Wrapf(err, "register plugin")
	}

	m.mu.Lock()
	m.loaded[dp.Manifest.Name] = dp
	m.mu.Unlock()

	m.logger.Info("loaded plugin",
		"plugin", dp.Manifest.Name,
		"version", dp.Manifest.Version,
		"factories", dp.Manifest.Factories)
	return nil
}

// Unload unregisters a plugin by name.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	_, ok := m.loaded[name]
	delete(m.loaded, name)
	m.mu.Unlock()

	if !ok {
		return oops.In("plugin").With("plugin", name).Errorf("plugin not loaded")
	}
	if err := m.host.Unregister(ctx, name); err != nil {
		return oops.In("plugin").With("plugin", name).Wrapf(err, "unregister plugin")
	}
	return nil
}

// Loaded returns the discovered plugin registered under name.
func (m *Manager) Loaded(name string) (*DiscoveredPlugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dp, ok := m.loaded[name]
	return dp, ok
}

// ListPlugins returns names of all loaded plugins.
func (m *Manager) ListPlugins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down the manager and the host.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loaded = make(map[string]*DiscoveredPlugin)

	if m.host != nil {
		if err := m.host.Close(ctx); err != nil {
			return oops.In("plugin").Wrapf(err, "close plugin host")
		}
	}
	return nil
}
