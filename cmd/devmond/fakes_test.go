// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/devmon/devmon/internal/observability"
	"github.com/devmon/devmon/internal/plugin"
	"github.com/devmon/devmon/internal/property"
	"github.com/devmon/devmon/internal/spa"
)

const (
	testMonitorFactory = "api.test.enum"
	testDeviceFactory  = "api.test.device"
	testNodeFactory    = "api.test.pcm"
)

// fakeMonitor announces one device when callbacks are set.
type fakeMonitor struct{}

func (fakeMonitor) SetCallbacks(cb spa.MonitorCallbacks) error {
	if cb == nil {
		return nil
	}
	return cb.ObjectInfo(1, &spa.ObjectInfo{
		Type:        spa.TypeDevice,
		FactoryName: testDeviceFactory,
		Props:       property.FromPairs("device.name", "card0", "device.api", "test"),
	})
}

// fakeDevice reports its nick and one node.
type fakeDevice struct{}

func (fakeDevice) AddListener(events spa.DeviceEvents) (spa.Hook, error) {
	events.Info(&spa.DeviceInfo{
		ChangeMask: spa.ChangeMaskProps,
		Props:      property.FromPairs("device.nick", "Card"),
	})
	events.ObjectInfo(0, &spa.ObjectInfo{
		Type:        spa.TypeNode,
		FactoryName: testNodeFactory,
		Props:       property.FromPairs("media.class", "Audio/Sink"),
	})
	return spa.HookFunc(func() {}), nil
}

// testFactories serves the fake monitor and device in-process. closed
// counts released handles.
func testFactories(closed *atomic.Int32) map[string]spa.FactoryFunc {
	onClose := func() error {
		closed.Add(1)
		return nil
	}
	return map[string]spa.FactoryFunc{
		testMonitorFactory: func(context.Context, property.ReadOnly) (spa.Handle, error) {
			return &spa.StaticHandle{
				Interfaces: map[spa.InterfaceType]any{spa.TypeMonitor: fakeMonitor{}},
				OnClose:    onClose,
			}, nil
		},
		testDeviceFactory: func(context.Context, property.ReadOnly) (spa.Handle, error) {
			return &spa.StaticHandle{
				Interfaces: map[spa.InterfaceType]any{spa.TypeDevice: fakeDevice{}},
				OnClose:    onClose,
			}, nil
		},
	}
}

// flakyFactory fails the first failures loads.
func flakyFactory(failures int32, attempts *atomic.Int32) spa.FactoryFunc {
	return func(context.Context, property.ReadOnly) (spa.Handle, error) {
		if attempts.Add(1) <= failures {
			return nil, errors.New("device not ready")
		}
		return &spa.StaticHandle{
			Interfaces: map[spa.InterfaceType]any{spa.TypeMonitor: fakeMonitor{}},
		}, nil
	}
}

// mockPluginHost implements PluginHost without starting processes.
type mockPluginHost struct {
	mu         sync.Mutex
	registered []string
	closed     bool
	closeErr   error
}

func (h *mockPluginHost) Register(_ context.Context, m *plugin.Manifest, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registered = append(h.registered, m.Name)
	return nil
}

func (h *mockPluginHost) Unregister(_ context.Context, name string) error {
	return fmt.Errorf("plugin %s not loaded", name)
}

func (h *mockPluginHost) Plugins() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.registered...)
}

func (h *mockPluginHost) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return h.closeErr
}

func (h *mockPluginHost) Load(_ context.Context, factory string, _ property.ReadOnly) (spa.Handle, error) {
	return nil, fmt.Errorf("%w: %s", spa.ErrUnknownFactory, factory)
}

func (h *mockPluginHost) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// mockObservabilityServer implements ObservabilityServer for testing.
type mockObservabilityServer struct {
	startFunc func() (<-chan error, error)
	stopFunc  func(ctx context.Context) error
	metrics   *observability.Metrics
	readiness observability.ReadinessChecker
	status    observability.StatusFunc
	events    *observability.EventHub
	stopped   atomic.Bool
}

func newMockObservabilityServer() *mockObservabilityServer {
	return &mockObservabilityServer{metrics: observability.NewMetrics(prometheus.NewRegistry())}
}

func (m *mockObservabilityServer) Start() (<-chan error, error) {
	if m.startFunc != nil {
		return m.startFunc()
	}
	ch := make(chan error, 1)
	return ch, nil
}

func (m *mockObservabilityServer) Stop(ctx context.Context) error {
	m.stopped.Store(true)
	if m.stopFunc != nil {
		return m.stopFunc(ctx)
	}
	return nil
}

func (m *mockObservabilityServer) Addr() string {
	return "127.0.0.1:9120"
}

func (m *mockObservabilityServer) Metrics() *observability.Metrics {
	return m.metrics
}

var errBindFailed = errors.New("address already in use")

// lockedBuffer is a bytes.Buffer safe for concurrent log writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
