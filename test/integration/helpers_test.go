// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

//go:build integration

package integration

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"sync"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/devmon/devmon/internal/host"
	"github.com/devmon/devmon/internal/loop"
	"github.com/devmon/devmon/internal/monitor"
	"github.com/devmon/devmon/internal/plugin"
	"github.com/devmon/devmon/internal/plugin/capability"
	"github.com/devmon/devmon/internal/plugin/goplugin"
	"github.com/devmon/devmon/internal/policy"
	"github.com/devmon/devmon/internal/spa"
	"github.com/devmon/devmon/pkg/spasdk"
)

// Factory names served by the test backend.
const (
	factoryMonitor = "api.it.enum"
	factoryDevice  = "api.it.device"
)

const pluginName = "it-backend"

const manifestYAML = `name: it-backend
version: 1.0.0
api: "^1.0"
executable: it-backend
factories:
  - api.it.*
`

// backend serves a monitor announcing card0 and devices with two nodes
// each. More devices are plugged with plug.
type backend struct {
	mu       sync.Mutex
	monitors []spasdk.Emitter
	opened   int
	closed   int
}

func (b *backend) factories() []spasdk.Factory {
	return []spasdk.Factory{
		&backendFactory{b: b, name: factoryMonitor, iface: spasdk.InterfaceMonitor},
		&backendFactory{b: b, name: factoryDevice, iface: spasdk.InterfaceDevice},
	}
}

func (b *backend) plug(id uint32, name string) {
	b.emit(id, deviceObject(name))
}

func (b *backend) unplug(id uint32) {
	b.emit(id, nil)
}

func (b *backend) emit(id uint32, info *spasdk.ObjectInfo) {
	b.mu.Lock()
	monitors := append([]spasdk.Emitter(nil), b.monitors...)
	b.mu.Unlock()
	for _, e := range monitors {
		e.ObjectInfo(id, info)
	}
}

func (b *backend) counts() (opened, closed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened, b.closed
}

func deviceObject(name string) *spasdk.ObjectInfo {
	return &spasdk.ObjectInfo{
		Type:        spasdk.InterfaceDevice,
		FactoryName: factoryDevice,
		Props:       spasdk.Props("device.name", name, "device.bus", "usb"),
	}
}

type backendFactory struct {
	b     *backend
	name  string
	iface string
}

func (f *backendFactory) Name() string         { return f.name }
func (f *backendFactory) Interfaces() []string { return []string{f.iface} }

func (f *backendFactory) New(props []spasdk.Prop) (spasdk.Instance, error) {
	name := ""
	for _, p := range props {
		if p.Key == "device.name" {
			name = p.Value
		}
	}
	f.b.mu.Lock()
	f.b.opened++
	f.b.mu.Unlock()
	return &backendInstance{b: f.b, iface: f.iface, name: name}, nil
}

type backendInstance struct {
	b     *backend
	iface string
	name  string
}

func (i *backendInstance) Subscribe(iface string, emit spasdk.Emitter) (func(), error) {
	if iface != i.iface {
		return nil, errors.New("interface not supported")
	}

	switch iface {
	case spasdk.InterfaceMonitor:
		emit.ObjectInfo(1, deviceObject("card0"))
		i.b.mu.Lock()
		i.b.monitors = append(i.b.monitors, emit)
		i.b.mu.Unlock()
		return func() {
			i.b.mu.Lock()
			i.b.monitors = nil
			i.b.mu.Unlock()
		}, nil
	default:
		emit.Info(&spasdk.DeviceInfo{
			ChangeMask: spasdk.ChangeMaskProps,
			Props:      spasdk.Props("device.nick", "USB "+i.name),
		})
		emit.ObjectInfo(0, &spasdk.ObjectInfo{
			Type:        spasdk.InterfaceNode,
			FactoryName: "api.it.pcm.sink",
			Props:       spasdk.Props("media.class", "Audio/Sink"),
		})
		emit.ObjectInfo(1, &spasdk.ObjectInfo{
			Type:        spasdk.InterfaceNode,
			FactoryName: "api.it.pcm.source",
			Props:       spasdk.Props("media.class", "Audio/Source"),
		})
		return func() {}, nil
	}
}

func (i *backendInstance) Close() error {
	i.b.mu.Lock()
	i.b.closed++
	i.b.mu.Unlock()
	return nil
}

// pipeFactory starts plugins as in-memory RPC servers instead of processes.
type pipeFactory struct {
	backend *backend

	mu      sync.Mutex
	clients []*pipeClient
}

func (f *pipeFactory) NewClient(string) goplugin.PluginClient {
	c := &pipeClient{factories: f.backend.factories()}
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.mu.Unlock()
	return c
}

func (f *pipeFactory) allKilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		if !c.isKilled() {
			return false
		}
	}
	return true
}

type pipeClient struct {
	factories []spasdk.Factory

	mu     sync.Mutex
	srv    *spasdk.Server
	client *spasdk.Client
	done   chan struct{}
	killed bool
}

func (c *pipeClient) Client() (hashiplug.ClientProtocol, error) {
	srv, err := spasdk.NewServer(c.factories...)
	if err != nil {
		return nil, err
	}
	rs := rpc.NewServer()
	if err := rs.RegisterName("Plugin", srv); err != nil {
		return nil, err
	}

	c1, c2 := net.Pipe()
	done := make(chan struct{})
	go func() {
		rs.ServeConn(c1)
		close(done)
	}()

	c.mu.Lock()
	c.srv = srv
	c.client = spasdk.NewClient(rpc.NewClient(c2))
	c.done = done
	c.mu.Unlock()
	return &pipeProtocol{client: c.client}, nil
}

func (c *pipeClient) Kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.killed || c.srv == nil {
		c.killed = true
		return
	}
	c.killed = true
	c.srv.Shutdown()
	_ = c.client.Close()
	<-c.done
}

func (c *pipeClient) isKilled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed
}

type pipeProtocol struct {
	client *spasdk.Client
}

func (p *pipeProtocol) Close() error { return nil }
func (p *pipeProtocol) Ping() error  { return nil }

func (p *pipeProtocol) Dispense(name string) (any, error) {
	if name != spasdk.PluginName {
		return nil, errors.New("unknown plugin type")
	}
	return p.client, nil
}

// stack is a running monitor core fed by the test backend plugin.
type stack struct {
	backend *backend
	clients *pipeFactory
	loop    *loop.Loop
	plugins *plugin.Manager
	core    *host.Host
	monitor *monitor.Monitor
}

type stackOption func(*stackConfig)

type stackConfig struct {
	flags  monitor.Flags
	policy *policy.Policy
}

func withFlags(f monitor.Flags) stackOption {
	return func(c *stackConfig) { c.flags = f }
}

func withPolicy(p *policy.Policy) stackOption {
	return func(c *stackConfig) { c.policy = p }
}

// newStack installs the backend plugin in a temporary plugin directory,
// loads it and starts a monitor on its enumerator. Everything is torn
// down with DeferCleanup.
func newStack(dir string, opts ...stackOption) *stack {
	cfg := &stackConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	pluginDir := filepath.Join(dir, pluginName)
	Expect(os.MkdirAll(pluginDir, 0o750)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(pluginDir, plugin.ManifestFile), []byte(manifestYAML), 0o600)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(pluginDir, pluginName), []byte("#!/bin/sh\n"), 0o700)).To(Succeed()) //nolint:gosec // test fixture

	s := &stack{backend: &backend{}}
	s.clients = &pipeFactory{backend: s.backend}

	s.loop = loop.New()
	go func() { _ = s.loop.Run(context.Background()) }()

	loader := goplugin.NewLoader(capability.NewEnforcer(), s.loop,
		goplugin.WithClientFactory(s.clients),
		goplugin.WithPollWait(20*time.Millisecond))
	s.plugins = plugin.NewManager(dir,
		plugin.WithHost(loader),
		plugin.WithHostAPI(spa.APIVersion))
	Expect(s.plugins.LoadAll(context.Background())).To(Succeed())

	s.core = host.New(loader, s.loop)

	var monOpts []monitor.Option
	if cfg.policy != nil {
		monOpts = append(monOpts,
			monitor.WithDeviceHook(cfg.policy.DeviceHook()),
			monitor.WithNodeHook(cfg.policy.NodeHook()))
	}
	s.monitor = monitor.New(s.core, factoryMonitor, cfg.flags, monOpts...)

	DeferCleanup(func() {
		s.invoke(func() error { return s.monitor.Close() })
		s.invoke(s.core.Close)
		Expect(s.plugins.Close(context.Background())).To(Succeed())
		s.loop.Close()
		<-s.loop.Done()
	})
	return s
}

// invoke runs fn on the control loop and waits for it.
func (s *stack) invoke(fn func() error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	Expect(s.loop.InvokeSync(ctx, fn)).To(Succeed())
}

func (s *stack) start() {
	s.invoke(func() error { return s.monitor.Start(context.Background()) })
}

// objects lists the host's objects of one interface type.
func (s *stack) objects(iface spa.InterfaceType) []host.ObjectInfo {
	var out []host.ObjectInfo
	for _, o := range s.core.Objects() {
		if o.Interface == string(iface) {
			out = append(out, o)
		}
	}
	return out
}
