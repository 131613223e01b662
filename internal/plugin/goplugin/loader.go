// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package goplugin loads plugin factories served by out-of-process backend
// plugins over HashiCorp's go-plugin system (net/rpc).
package goplugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/devmon/devmon/internal/plugin"
	"github.com/devmon/devmon/internal/plugin/capability"
	"github.com/devmon/devmon/internal/property"
	"github.com/devmon/devmon/internal/spa"
	"github.com/devmon/devmon/pkg/spasdk"
)

// DefaultPollWait is how long one event poll blocks in the plugin.
const DefaultPollWait = 2 * time.Second

// Sentinel errors for programmatic error checking.
var (
	// ErrLoaderClosed is returned when operations are attempted on a closed loader.
	ErrLoaderClosed = errors.New("loader is closed")
	// ErrPluginNotLoaded is returned when operating on a plugin that isn't loaded.
	ErrPluginNotLoaded = errors.New("plugin not loaded")
	// ErrPluginAlreadyLoaded is returned when loading a plugin that's already loaded.
	ErrPluginAlreadyLoaded = errors.New("plugin already loaded")
)

// Compile-time interface checks.
var (
	_ plugin.Host = (*Loader)(nil)
	_ spa.Loader  = (*Loader)(nil)
	_ SPAClient   = (*spasdk.Client)(nil)
)

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the RPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  spasdk.HandshakeConfig,
		Plugins:          spasdk.PluginMap,
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath resolved from plugin manifest; manifests validated during discovery
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
	})
}

// SPAClient is the host side of the plugin RPC service.
type SPAClient interface {
	Info() (*spasdk.InfoReply, error)
	Open(factory string, props []spasdk.Prop) (string, error)
	Interface(instance, iface string) (bool, error)
	Subscribe(instance, iface string) (string, []spasdk.Event, error)
	Next(subscription string, wait time.Duration) ([]spasdk.Event, bool, error)
	Unsubscribe(subscription string) error
	CloseInstance(instance string) error
	Close() error
}

// Invoker schedules event delivery on the control loop.
type Invoker interface {
	Invoke(fn func()) bool
}

// Loader registers backend plugins and loads their factories.
type Loader struct {
	enforcer      *capability.Enforcer
	invoker       Invoker
	clientFactory ClientFactory
	logger        *slog.Logger
	pollWait      time.Duration
	registry      plugin.Registry

	mu      sync.Mutex
	plugins map[string]*module
	closed  bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithClientFactory replaces how plugin processes are started.
func WithClientFactory(f ClientFactory) Option {
	return func(l *Loader) {
		if f != nil {
			l.clientFactory = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPollWait sets how long one event poll blocks.
func WithPollWait(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.pollWait = d
		}
	}
}

// module is one running plugin process.
type module struct {
	name      string
	manifest  *plugin.Manifest
	client    PluginClient
	spa       SPAClient
	refs      int
	retired   bool
	terminate sync.Once
}

func (m *module) kill(logger *slog.Logger) {
	m.terminate.Do(func() {
		if err := m.spa.Close(); err != nil {
			logger.Debug("plugin connection close failed", "plugin", m.name, "error", err)
		}
		m.client.Kill()
	})
}

// NewLoader creates a loader. Event delivery is scheduled through invoker.
// Panics if enforcer or invoker is nil.
func NewLoader(enforcer *capability.Enforcer, invoker Invoker, opts ...Option) *Loader {
	if enforcer == nil {
		panic("goplugin: enforcer cannot be nil")
	}
	if invoker == nil {
		panic("goplugin: invoker cannot be nil")
	}
	l := &Loader{
		enforcer:      enforcer,
		invoker:       invoker,
		clientFactory: &DefaultClientFactory{},
		logger:        slog.Default(),
		pollWait:      DefaultPollWait,
		plugins:       make(map[string]*module),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register starts a plugin and registers the factories it is granted.
func (l *Loader) Register(_ context.Context, manifest *plugin.Manifest, dir string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLoaderClosed
	}
	if _, ok := l.plugins[manifest.Name]; ok {
		return fmt.Errorf("%w: %s", ErrPluginAlreadyLoaded, manifest.Name)
	}

	execPath := filepath.Join(dir, manifest.Executable)
	if _, err := os.Stat(execPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("plugin executable not found: %s: %w", execPath, err)
		}
		return fmt.Errorf("cannot access plugin executable %s: %w", execPath, err)
	}

	client := l.clientFactory.NewClient(execPath)

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to connect to plugin %s: %w", manifest.Name, err)
	}

	raw, err := rpcClient.Dispense(spasdk.PluginName)
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to dispense plugin %s: %w", manifest.Name, err)
	}

	spaClient, ok := raw.(SPAClient)
	if !ok {
		client.Kill()
		return fmt.Errorf("plugin %s does not implement the SPA service", manifest.Name)
	}

	info, err := spaClient.Info()
	if err != nil {
		client.Kill()
		return fmt.Errorf("plugin %s info: %w", manifest.Name, err)
	}
	if err := checkAPI(info.APIVersion); err != nil {
		client.Kill()
		return fmt.Errorf("plugin %s: %w", manifest.Name, err)
	}

	if err := l.enforcer.SetGrants(manifest.Name, manifest.Factories); err != nil {
		client.Kill()
		return fmt.Errorf("failed to set factory grants for plugin %s: %w", manifest.Name, err)
	}

	var provided []string
	for _, f := range info.Factories {
		if !l.enforcer.Check(manifest.Name, f.Name) {
			l.logger.Warn("plugin serves a factory outside its grants, ignoring",
				"plugin", manifest.Name,
				"factory", f.Name)
			continue
		}
		if err := l.registry.Add(f.Name, manifest.Name); err != nil {
			l.logger.Warn("ignoring plugin factory",
				"plugin", manifest.Name,
				"error", err)
			continue
		}
		provided = append(provided, f.Name)
	}
	if len(provided) == 0 {
		l.enforcer.RemoveGrants(manifest.Name)
		client.Kill()
		return fmt.Errorf("plugin %s provides no usable factory", manifest.Name)
	}

	l.plugins[manifest.Name] = &module{
		name:     manifest.Name,
		manifest: manifest,
		client:   client,
		spa:      spaClient,
	}
	l.logger.Debug("registered plugin factories",
		"plugin", manifest.Name,
		"factories", provided)
	return nil
}

// checkAPI accepts plugins speaking the host's API major version.
func checkAPI(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid api version %q: %w", version, err)
	}
	host := semver.MustParse(spa.APIVersion)
	if v.Major() != host.Major() {
		return fmt.Errorf("api version %s incompatible with host %s", v, host)
	}
	return nil
}

// Unregister stops offering a plugin's factories. The process keeps running
// until every handle loaded from it is closed.
func (l *Loader) Unregister(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLoaderClosed
	}

	m, ok := l.plugins[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotLoaded, name)
	}

	l.registry.RemovePlugin(name)
	l.enforcer.RemoveGrants(name)
	delete(l.plugins, name)

	m.retired = true
	if m.refs == 0 {
		m.kill(l.logger)
	}
	return nil
}

// Plugins returns names of all registered plugins, sorted.
func (l *Loader) Plugins() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	names := make([]string, 0, len(l.plugins))
	for name := range l.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Factories returns every factory provided by registered plugins, sorted.
func (l *Loader) Factories() []string {
	return l.registry.Factories()
}

// Close kills every plugin process. Open handles stop receiving events.
func (l *Loader) Close(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for name, m := range l.plugins {
		l.registry.RemovePlugin(name)
		l.enforcer.RemoveGrants(name)
		m.retired = true
		m.kill(l.logger)
	}

	l.closed = true
	clear(l.plugins)
	return nil
}

// Load opens an instance of factory in the plugin that provides it.
func (l *Loader) Load(_ context.Context, factory string, props property.ReadOnly) (spa.Handle, error) {
	name, ok := l.registry.Lookup(factory)
	if !ok {
		return nil, fmt.Errorf("%w: %s", spa.ErrUnknownFactory, factory)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrLoaderClosed
	}
	m, ok := l.plugins[name]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", spa.ErrUnknownFactory, factory)
	}
	m.refs++
	l.mu.Unlock()

	instance, err := m.spa.Open(factory, toSDKProps(props))
	if err != nil {
		l.release(m)
		return nil, fmt.Errorf("plugin %s open %s: %w", name, factory, err)
	}

	return &handle{
		loader:   l,
		module:   m,
		factory:  factory,
		instance: instance,
		streams:  make(map[*stream]struct{}),
	}, nil
}

func (l *Loader) release(m *module) {
	l.mu.Lock()
	m.refs--
	last := m.refs == 0 && m.retired
	l.mu.Unlock()

	if last {
		m.kill(l.logger)
	}
}

func toSDKProps(props property.ReadOnly) []spasdk.Prop {
	if props == nil {
		return nil
	}
	items := props.Items()
	out := make([]spasdk.Prop, len(items))
	for i, item := range items {
		out[i] = spasdk.Prop{Key: item.Key, Value: item.Value}
	}
	return out
}

func fromSDKProps(props []spasdk.Prop) *property.Properties {
	p := property.New()
	for _, prop := range props {
		p.Set(prop.Key, prop.Value)
	}
	return p
}
