// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package monitor

import (
	"log/slog"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/devmon/devmon/internal/property"
	"github.com/devmon/devmon/internal/proxy"
	"github.com/devmon/devmon/internal/session"
	"github.com/devmon/devmon/internal/spa"
	"github.com/devmon/devmon/pkg/errutil"
)

// node is one streaming endpoint of a device.
type node struct {
	id     uint32
	device *device // back-reference, not owned
	logger *slog.Logger

	local session.LocalObject // only with LocalNodes
	proxy *proxy.Proxy
}

func (n *node) ID() uint32 { return n.id }

// newNode creates a node in the way the monitor flags select. A nil node
// with a nil error means the object is not a node and was skipped.
func (d *device) newNode(id uint32, info *spa.ObjectInfo) (*node, error) {
	m := d.monitor
	if info.Type != spa.TypeNode {
		d.logger.DebugContext(m.ctx, "skipping non-node object",
			"node", id,
			"type", string(info.Type))
		return nil, nil
	}

	ctx, span := m.tracer.Start(m.ctx, "monitor.node_new", trace.WithAttributes(
		attribute.String("monitor.factory", m.factoryName),
		attribute.Int64("device.id", int64(d.id)),
		attribute.Int64("node.id", int64(id)),
		attribute.String("node.factory", info.FactoryName),
	))
	defer span.End()

	logger := d.logger.With("node", id)
	logger.DebugContext(ctx, "new node", "factory", info.FactoryName)

	factoryName := FactorySPANode
	if m.flags.Has(UseAdapter) {
		factoryName = FactoryAdapter
	}

	props := property.Copy(info.Props)

	// Pass the id down to the hook; it must not appear on the proxy.
	props.Setf(KeyObjectID, "%d", id)

	// The node factories need the plugin factory name as a property.
	props.Set(KeyFactoryName, info.FactoryName)

	if m.nodeHook != nil {
		m.nodeHook(d.properties, props)
	}
	props.Unset(KeyObjectID)

	fail := func(msg string, err error) (*node, error) {
		errutil.LogWarnContext(ctx, logger, msg, err)
		m.metrics.ObjectFailed(m.factoryName, KindNode, errutil.Code(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return nil, err
	}

	var (
		local  session.LocalObject
		remote session.RemoteProxy
	)

	if m.flags.Has(LocalNodes) {
		// Construct the node in this process and export it.
		factory, ok := m.core.FindFactory(factoryName)
		if !ok || factory == nil {
			return fail("node will not be created", oops.Code(CodeFactoryNotFound).
				In("monitor").
				With("factory", factoryName).
				With("node", id).
				Errorf("no '%s' factory found; node '%s' will not be created", factoryName, info.FactoryName))
		}

		obj, err := factory.CreateObject(ctx, spa.TypeNode, session.NodeVersion, props)
		if err == nil && obj == nil {
			err = oops.Errorf("factory returned no object")
		}
		if err != nil {
			return fail("failed to construct node", oops.Code(CodeLocalInstantiationFailed).
				In("monitor").
				With("factory", factoryName).
				With("node", id).
				Wrapf(detach(err), "failed to construct node '%s'", info.FactoryName))
		}

		r, err := m.core.Export(ctx, spa.TypeNode, props, obj)
		if err == nil && r == nil {
			err = oops.Errorf("host returned no proxy")
		}
		if err != nil {
			obj.Destroy()
			return fail("failed to export node", oops.Code(CodeExportFailed).
				In("monitor").
				With("node", id).
				Wrapf(detach(err), "failed to export node %d", id))
		}
		local, remote = obj, r
	} else {
		// Construct the node on the host.
		r, err := m.core.CreateObject(ctx, factoryName, spa.TypeNode, session.NodeVersion, props)
		if err == nil && r == nil {
			err = oops.Errorf("host returned no proxy")
		}
		if err != nil {
			return fail("failed to create remote node", oops.Code(CodeRemoteConstructionFailed).
				In("monitor").
				With("factory", factoryName).
				With("node", id).
				Wrapf(detach(err), "failed to create node '%s' on the host", info.FactoryName))
		}
		remote = r
	}

	n := &node{
		id:     id,
		device: d,
		logger: logger,
		local:  local,
	}
	n.proxy = proxy.New(remote,
		proxy.WithLogger(logger),
		proxy.WithOnDestroyed(n.remoteDestroyed))

	span.SetAttributes(attribute.Int64("node.global_id", int64(n.proxy.GlobalID())))
	m.metrics.ObjectAdded(m.factoryName, KindNode)
	logger.InfoContext(ctx, "node created",
		"global_id", n.proxy.GlobalID(),
		"local", local != nil)
	return n, nil
}

func (n *node) remoteDestroyed(p *proxy.Proxy) {
	n.logger.InfoContext(n.device.monitor.ctx, "node destroyed by host", "global_id", p.GlobalID())
}

func (n *node) free() {
	m := n.device.monitor
	n.logger.DebugContext(m.ctx, "free node")

	if n.proxy != nil {
		n.proxy.Close()
		n.proxy = nil
	}
	if n.local != nil {
		n.local.Destroy()
		n.local = nil
	}
	m.metrics.ObjectRemoved(m.factoryName, KindNode)
}

func (n *node) snapshot() NodeSnapshot {
	s := NodeSnapshot{ID: n.id, Local: n.local != nil}
	if n.proxy != nil {
		s.GlobalID = n.proxy.GlobalID()
	}
	return s
}
