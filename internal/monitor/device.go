// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package monitor

import (
	"log/slog"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/devmon/devmon/internal/keyed"
	"github.com/devmon/devmon/internal/property"
	"github.com/devmon/devmon/internal/proxy"
	"github.com/devmon/devmon/internal/spa"
	"github.com/devmon/devmon/pkg/errutil"
)

// device is one hardware unit announced by the monitor plugin.
type device struct {
	id      uint32
	monitor *Monitor // back-reference, not owned
	logger  *slog.Logger

	handle     *spa.Object
	proxy      *proxy.Proxy
	properties *property.Properties
	nodes      keyed.Collection[*node]
	listener   spa.Hook
}

func (d *device) ID() uint32 { return d.id }

// newDevice creates and exports a device. A nil device with a nil error means
// the object is not a device and was skipped.
func (m *Monitor) newDevice(id uint32, info *spa.ObjectInfo) (*device, error) {
	if info.Type != spa.TypeDevice {
		m.logger.DebugContext(m.ctx, "skipping non-device object",
			"device", id,
			"type", string(info.Type))
		return nil, nil
	}

	ctx, span := m.tracer.Start(m.ctx, "monitor.device_new", trace.WithAttributes(
		attribute.String("monitor.factory", m.factoryName),
		attribute.Int64("device.id", int64(id)),
		attribute.String("device.factory", info.FactoryName),
	))
	defer span.End()

	logger := m.logger.With("device", id)
	logger.DebugContext(ctx, "new device", "factory", info.FactoryName)

	props := property.Copy(info.Props)

	// Pass the id down to the hook; it must not appear on the proxy.
	props.Setf(KeyObjectID, "%d", id)
	if m.deviceHook != nil {
		m.deviceHook(props)
	}
	props.Unset(KeyObjectID)

	fail := func(msg string, err error) (*device, error) {
		errutil.LogWarnContext(ctx, logger, msg, err)
		m.metrics.ObjectFailed(m.factoryName, KindDevice, errutil.Code(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return nil, err
	}

	handle, err := spa.Load(ctx, m.core, info.FactoryName, info.Type, props)
	if err != nil {
		return fail("failed to construct device", err)
	}

	iface, ok := handle.Interface().(spa.Device)
	if !ok {
		handle.Unref()
		return fail("failed to construct device", oops.Code(CodeInterfaceUnavailable).
			In("monitor").
			With("device", id).
			With("factory", info.FactoryName).
			Errorf("plugin handle '%s' does not implement the device interface", info.FactoryName))
	}

	remote, err := m.core.Export(ctx, info.Type, props, iface)
	if err == nil && remote == nil {
		err = oops.Errorf("host returned no proxy")
	}
	if err != nil {
		handle.Unref()
		return fail("failed to export device", oops.Code(CodeExportFailed).
			In("monitor").
			With("device", id).
			With("factory", info.FactoryName).
			Wrapf(detach(err), "failed to export device %d", id))
	}

	dev := &device{
		id:         id,
		monitor:    m,
		logger:     logger,
		handle:     handle,
		properties: props,
	}
	dev.proxy = proxy.New(remote,
		proxy.WithLogger(logger),
		proxy.WithOnDestroyed(dev.remoteDestroyed))

	// Info is delivered synchronously here, followed by the child objects
	// the device already knows about.
	listener, err := iface.AddListener(spa.DeviceEvents{
		Info:       dev.handleInfo,
		ObjectInfo: dev.handleObjectInfo,
	})
	if err != nil {
		for _, n := range dev.nodes.Drain() {
			n.free()
		}
		dev.proxy.Close()
		handle.Unref()
		return fail("failed to listen to device", oops.Code(CodeListenFailed).
			In("monitor").
			With("device", id).
			With("factory", info.FactoryName).
			Wrapf(detach(err), "failed to listen to device %d", id))
	}
	dev.listener = listener

	span.SetAttributes(attribute.Int64("device.global_id", int64(dev.proxy.GlobalID())))
	m.metrics.ObjectAdded(m.factoryName, KindDevice)
	logger.InfoContext(ctx, "device created",
		"global_id", dev.proxy.GlobalID(),
		"nodes", dev.nodes.Len())
	return dev, nil
}

// handleInfo merges property updates reported by the device.
func (d *device) handleInfo(info *spa.DeviceInfo) {
	if info == nil || info.ChangeMask&spa.ChangeMaskProps == 0 {
		return
	}
	d.properties.Update(info.Props)
}

// handleObjectInfo creates or destroys a node.
func (d *device) handleObjectInfo(id uint32, info *spa.ObjectInfo) {
	n, exists := d.nodes.Find(id)

	switch {
	case info != nil && !exists:
		n, err := d.newNode(id, info)
		if err != nil || n == nil {
			return
		}
		if err := d.nodes.Insert(n); err != nil {
			n.free()
		}
	case info == nil && exists:
		d.nodes.Remove(id)
		n.free()
	case info == nil && !exists:
		d.logger.DebugContext(d.monitor.ctx, "ignoring removal of unknown node",
			"node", id,
			"code", CodeBackendProtocol)
	default:
		d.logger.DebugContext(d.monitor.ctx, "ignoring info for known node", "node", id)
	}
}

func (d *device) remoteDestroyed(p *proxy.Proxy) {
	d.logger.InfoContext(d.monitor.ctx, "device destroyed by host", "global_id", p.GlobalID())
}

// free releases the device. The listener goes first so no event reaches a
// released device.
func (d *device) free() {
	d.logger.DebugContext(d.monitor.ctx, "free device")

	if d.listener != nil {
		d.listener.Remove()
		d.listener = nil
	}
	for _, n := range d.nodes.Drain() {
		n.free()
	}
	if d.proxy != nil {
		d.proxy.Close()
		d.proxy = nil
	}
	if d.handle != nil {
		d.handle.Unref()
		d.handle = nil
	}
	d.properties = nil
	d.monitor.metrics.ObjectRemoved(d.monitor.factoryName, KindDevice)
}

func (d *device) snapshot() DeviceSnapshot {
	s := DeviceSnapshot{
		ID:         d.id,
		Properties: d.properties.Copy(),
		Nodes:      make([]NodeSnapshot, 0, d.nodes.Len()),
	}
	if d.proxy != nil {
		s.GlobalID = d.proxy.GlobalID()
	}
	if d.handle != nil {
		s.Factory = d.handle.Factory()
	}
	d.nodes.Each(func(n *node) bool {
		s.Nodes = append(s.Nodes, n.snapshot())
		return true
	})
	return s
}
