// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package monitor bridges a hardware-enumeration plugin to the devices and
// nodes exported to the session host.
//
// A Monitor loads the monitor interface of a plugin and reacts to its
// hotplug events: every announced device loads its own plugin interface and
// is exported, and every child object a device announces becomes a node,
// constructed either locally and exported or remotely on the host. Policy
// code customizes properties through the device and node hooks before each
// object is created.
//
// All methods and callbacks run on the control loop. Only State is safe to
// call from other goroutines.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/devmon/devmon/internal/keyed"
	"github.com/devmon/devmon/internal/property"
	"github.com/devmon/devmon/internal/session"
	"github.com/devmon/devmon/internal/spa"
)

// Property keys and factory names used during object construction.
const (
	// KeyObjectID carries the backend id to the hooks. It never reaches the host.
	KeyObjectID = "monitor.object.id"
	// KeyFactoryName names the plugin factory a node factory instantiates.
	KeyFactoryName = "factory.name"

	// FactorySPANode is the raw local node factory.
	FactorySPANode = "spa-node-factory"
	// FactoryAdapter is the adapter local node factory.
	FactoryAdapter = "adapter"
)

const tracerName = "github.com/devmon/devmon/internal/monitor"

// Flags are construction flags of a Monitor.
type Flags uint32

// Monitor flags.
const (
	// UseAdapter selects the adapter factory instead of the raw node factory.
	UseAdapter Flags = 1 << iota
	// LocalNodes constructs nodes in this process and exports them instead
	// of constructing them on the host.
	LocalNodes
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{UseAdapter, "use-adapter"},
	{LocalNodes, "local-nodes"},
}

// Has reports whether all bits of x are set.
func (f Flags) Has(x Flags) bool {
	return f&x == x
}

// String renders the flags as a comma-separated list of names.
func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseFlags parses flag names as used in configuration files.
func ParseFlags(names []string) (Flags, error) {
	var f Flags
	for _, name := range names {
		found := false
		for _, fn := range flagNames {
			if fn.name == name {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown monitor flag %q", name)
		}
	}
	return f, nil
}

// State is the lifecycle state of a Monitor.
type State int32

// Monitor states.
const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DeviceHook customizes the properties of a device before it is created.
type DeviceHook func(device *property.Properties)

// NodeHook customizes the properties of a node before it is created.
type NodeHook func(device property.ReadOnly, node *property.Properties)

// Monitor owns the devices announced by one monitor plugin.
type Monitor struct {
	core        session.Core
	factoryName string
	flags       Flags
	deviceHook  DeviceHook
	nodeHook    NodeHook
	logger      *slog.Logger
	metrics     Recorder
	tracer      trace.Tracer

	ctx     context.Context
	state   atomic.Int32
	handle  *spa.Object
	devices keyed.Collection[*device]
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDeviceHook sets the device property hook.
func WithDeviceHook(h DeviceHook) Option {
	return func(m *Monitor) {
		m.deviceHook = h
	}
}

// WithNodeHook sets the node property hook.
func WithNodeHook(h NodeHook) Option {
	return func(m *Monitor) {
		m.nodeHook = h
	}
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// WithMetrics sets the lifecycle recorder.
func WithMetrics(r Recorder) Option {
	return func(m *Monitor) {
		m.metrics = r
	}
}

// WithTracer sets the tracer used for creation spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Monitor) {
		m.tracer = t
	}
}

// New creates a monitor for factoryName. The core is not owned.
// Panics if core is nil or factoryName is empty.
func New(core session.Core, factoryName string, flags Flags, opts ...Option) *Monitor {
	if core == nil {
		panic("monitor: core cannot be nil")
	}
	if factoryName == "" {
		panic("monitor: factory name cannot be empty")
	}
	m := &Monitor{
		core:        core,
		factoryName: factoryName,
		flags:       flags,
		ctx:         context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("monitor", factoryName)
	if m.metrics == nil {
		m.metrics = nopRecorder{}
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	return m
}

// FactoryName returns the monitor plugin factory name.
func (m *Monitor) FactoryName() string {
	return m.factoryName
}

// Flags returns the construction flags.
func (m *Monitor) Flags() Flags {
	return m.flags
}

// State returns the lifecycle state. Safe for concurrent use.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Start loads the monitor plugin and registers for its events. Devices
// appear asynchronously as the plugin announces them. On failure the monitor
// stays inert and Start may be retried. Starting a running monitor does
// nothing.
//
// ctx provides the values (trace, logging) used while handling events; its
// cancellation does not stop the monitor.
func (m *Monitor) Start(ctx context.Context) error {
	if m.State() == StateRunning {
		return nil
	}

	m.logger.DebugContext(ctx, "starting monitor", "flags", m.flags.String())

	handle, err := spa.Load(ctx, m.core, m.factoryName, spa.TypeMonitor, nil)
	if err != nil {
		m.metrics.MonitorStarted(m.factoryName, false)
		return err
	}

	mon, ok := handle.Interface().(spa.Monitor)
	if !ok {
		handle.Unref()
		m.metrics.MonitorStarted(m.factoryName, false)
		return oops.Code(CodeInterfaceUnavailable).
			In("monitor").
			With("factory", m.factoryName).
			Errorf("plugin handle '%s' does not implement the monitor interface", m.factoryName)
	}

	m.ctx = context.WithoutCancel(ctx)
	m.handle = handle

	// Implementations start processing when the callbacks are set and may
	// announce devices before returning.
	if err := mon.SetCallbacks(&callbacks{m: m}); err != nil {
		m.destroyDevices()
		m.handle = nil
		handle.Unref()
		m.metrics.MonitorStarted(m.factoryName, false)
		return oops.Code(CodeMonitorStartFailed).
			In("monitor").
			With("factory", m.factoryName).
			Wrapf(detach(err), "failed to start monitor '%s'", m.factoryName)
	}

	m.state.Store(int32(StateRunning))
	m.metrics.MonitorStarted(m.factoryName, true)
	m.logger.InfoContext(ctx, "monitor started", "devices", m.devices.Len())
	return nil
}

// Stop destroys every device, with its nodes, and releases the monitor
// plugin. Stop is idempotent.
func (m *Monitor) Stop() {
	if m.State() == StateStopped {
		return
	}

	m.logger.DebugContext(m.ctx, "stopping monitor")

	if m.handle != nil {
		if mon, ok := m.handle.Interface().(spa.Monitor); ok {
			if err := mon.SetCallbacks(nil); err != nil {
				m.logger.DebugContext(m.ctx, "failed to clear monitor callbacks", "error", err)
			}
		}
	}

	m.destroyDevices()

	if m.handle != nil {
		m.handle.Unref()
		m.handle = nil
	}

	m.state.Store(int32(StateStopped))
}

// Close stops the monitor.
func (m *Monitor) Close() error {
	m.Stop()
	return nil
}

// DeviceSnapshot is a read-only view of a device.
type DeviceSnapshot struct {
	ID         uint32
	GlobalID   uint32
	Factory    string
	Properties *property.Properties
	Nodes      []NodeSnapshot
}

// NodeSnapshot is a read-only view of a node.
type NodeSnapshot struct {
	ID       uint32
	GlobalID uint32
	Local    bool
}

// Devices returns the ids of the live devices in insertion order.
func (m *Monitor) Devices() []uint32 {
	return m.devices.IDs()
}

// Device returns a snapshot of the device with the given id.
func (m *Monitor) Device(id uint32) (DeviceSnapshot, bool) {
	dev, ok := m.devices.Find(id)
	if !ok {
		return DeviceSnapshot{}, false
	}
	return dev.snapshot(), true
}

// Snapshot returns every live device in insertion order.
func (m *Monitor) Snapshot() []DeviceSnapshot {
	out := make([]DeviceSnapshot, 0, m.devices.Len())
	m.devices.Each(func(d *device) bool {
		out = append(out, d.snapshot())
		return true
	})
	return out
}

// NodeCount returns the number of live nodes across every device.
func (m *Monitor) NodeCount() int {
	n := 0
	m.devices.Each(func(d *device) bool {
		n += d.nodes.Len()
		return true
	})
	return n
}

func (m *Monitor) destroyDevices() {
	for _, dev := range m.devices.Drain() {
		dev.free()
	}
}

// callbacks receives monitor-level events from the plugin.
type callbacks struct {
	m *Monitor
}

// ObjectInfo implements spa.MonitorCallbacks.
func (c *callbacks) ObjectInfo(id uint32, info *spa.ObjectInfo) error {
	m := c.m
	dev, exists := m.devices.Find(id)

	switch {
	case info != nil && !exists:
		dev, err := m.newDevice(id, info)
		if err != nil {
			return err
		}
		if dev == nil {
			return nil
		}
		if err := m.devices.Insert(dev); err != nil {
			dev.free()
			return oops.Code(CodeBackendProtocol).In("monitor").With("device", id).Wrap(detach(err))
		}
	case info == nil && exists:
		m.devices.Remove(id)
		dev.free()
	case info == nil && !exists:
		return oops.Code(CodeNotFound).
			In("monitor").
			With("factory", m.factoryName).
			With("device", id).
			Errorf("no device with id %d", id)
	default:
		m.logger.DebugContext(m.ctx, "ignoring info for known device", "device", id)
	}
	return nil
}
