// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package session defines the contracts of the session host the monitor core
// is a client of: plugin loading, exporting local objects, constructing
// objects remotely and the lifecycle events of remote handles.
package session

import (
	"context"

	"github.com/devmon/devmon/internal/property"
	"github.com/devmon/devmon/internal/spa"
)

// Interface versions requested when constructing remote objects.
const (
	NodeVersion   uint32 = 3
	DeviceVersion uint32 = 3
)

// ProxyEvents are the host-driven lifecycle events of a remote handle.
type ProxyEvents struct {
	// Destroyed fires once when the host destroys the object.
	Destroyed func()
	// Done fires when the sync request seq completed.
	Done func(seq int)
}

// RemoteProxy is a handle to an object living on the session host.
type RemoteProxy interface {
	// GlobalID returns the id assigned by the host.
	GlobalID() uint32
	// AddListener registers events. Remove the hook before Destroy to stop
	// delivery of the Destroyed event that Destroy itself triggers.
	AddListener(events ProxyEvents) spa.Hook
	// Sync queues a sync request and returns its sequence number. Done(seq)
	// fires after every operation queued earlier on this handle completed.
	Sync(seq int) int
	// Destroy requests destruction of the remote object.
	Destroy()
}

// LocalObject is an object instantiated in this process from a local factory.
type LocalObject interface {
	Destroy()
}

// LocalFactory instantiates local objects.
type LocalFactory interface {
	Name() string
	CreateObject(ctx context.Context, iface spa.InterfaceType, version uint32, props property.ReadOnly) (LocalObject, error)
}

// Core is the session host.
type Core interface {
	// Load loads a plugin module instance by factory name.
	spa.Loader

	// Export publishes a local implementation to the host.
	Export(ctx context.Context, iface spa.InterfaceType, props property.ReadOnly, local any) (RemoteProxy, error)

	// CreateObject asks the host to construct an object remotely from the
	// named factory. No local instance is held.
	CreateObject(ctx context.Context, factory string, iface spa.InterfaceType, version uint32, props property.ReadOnly) (RemoteProxy, error)

	// FindFactory looks up a local factory by name.
	FindFactory(name string) (LocalFactory, bool)
}
