// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package host

import (
	"context"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/devmon/devmon/internal/property"
	"github.com/devmon/devmon/internal/session"
	"github.com/devmon/devmon/internal/spa"
)

// Names of the built-in node factories.
const (
	FactorySPANode = "spa-node-factory"
	FactoryAdapter = "adapter"
)

// keyFactoryName names the plugin node a node factory wraps.
const keyFactoryName = "factory.name"

// BuiltinFactories returns the node factories every host provides.
func BuiltinFactories() []session.LocalFactory {
	return []session.LocalFactory{
		&NodeFactory{name: FactorySPANode},
		&NodeFactory{name: FactoryAdapter, adapter: true},
	}
}

// NodeFactory creates streaming nodes wrapping a plugin node factory.
type NodeFactory struct {
	name    string
	adapter bool
}

// NewNodeFactory creates a node factory. Adapter nodes convert formats in
// front of the wrapped plugin node.
func NewNodeFactory(name string, adapter bool) *NodeFactory {
	return &NodeFactory{name: name, adapter: adapter}
}

// Name implements session.LocalFactory.
func (f *NodeFactory) Name() string { return f.name }

// CreateObject implements session.LocalFactory. The properties must name the
// wrapped plugin factory in factory.name.
func (f *NodeFactory) CreateObject(_ context.Context, iface spa.InterfaceType, version uint32, props property.ReadOnly) (session.LocalObject, error) {
	if iface != spa.TypeNode {
		return nil, oops.Code(CodeInvalidArgument).
			In("host").
			With("factory", f.name).
			With("interface", string(iface)).
			Errorf("factory %q only creates nodes", f.name)
	}
	if version > session.NodeVersion {
		return nil, oops.Code(CodeInvalidArgument).
			In("host").
			With("factory", f.name).
			With("version", version).
			Errorf("node version %d not supported", version)
	}

	var target string
	if props != nil {
		target, _ = props.Get(keyFactoryName)
	}
	if target == "" {
		return nil, oops.Code(CodeInvalidArgument).
			In("host").
			With("factory", f.name).
			Hint("set " + keyFactoryName).
			Errorf("factory %q requires the %s property", f.name, keyFactoryName)
	}

	return &Node{
		Factory: target,
		Adapter: f.adapter,
		Props:   property.Copy(props),
	}, nil
}

// Node is a streaming node created by a NodeFactory.
type Node struct {
	Factory string
	Adapter bool
	Props   *property.Properties

	destroyed atomic.Bool
}

// Destroy implements session.LocalObject.
func (n *Node) Destroy() {
	n.destroyed.Store(true)
}

// Destroyed reports whether Destroy was called.
func (n *Node) Destroyed() bool {
	return n.destroyed.Load()
}
