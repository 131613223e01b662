// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package spa defines the plugin-side interfaces the monitor core consumes:
// loaded plugin handles, the monitor enumeration interface and the device
// interface with its child-object events.
package spa

import (
	"context"
	"errors"

	"github.com/devmon/devmon/internal/property"
)

// APIVersion is the plugin interface version implemented by this host.
const APIVersion = "1.0.0"

// InterfaceType names a versioned plugin interface.
type InterfaceType string

// Interface types known to the monitor core.
const (
	TypeMonitor InterfaceType = "Spa:Pointer:Interface:Monitor"
	TypeDevice  InterfaceType = "Spa:Pointer:Interface:Device"
	TypeNode    InterfaceType = "Spa:Pointer:Interface:Node"
)

// Sentinel errors returned by loaders and handles.
var (
	// ErrUnknownFactory is returned when no loader provides the factory.
	ErrUnknownFactory = errors.New("unknown plugin factory")
	// ErrInterfaceNotSupported is returned by Handle.Interface for an interface
	// the module does not implement.
	ErrInterfaceNotSupported = errors.New("interface not supported")
)

// ObjectInfo describes an object announced by a monitor or a device.
type ObjectInfo struct {
	Type        InterfaceType
	FactoryName string
	Props       *property.Properties
}

// ChangeMask flags which parts of a DeviceInfo carry data.
type ChangeMask uint64

// ChangeMaskProps marks DeviceInfo.Props as valid.
const ChangeMaskProps ChangeMask = 1 << 0

// DeviceInfo carries property updates reported by a device.
type DeviceInfo struct {
	ChangeMask ChangeMask
	Props      *property.Properties
}

// Hook is a listener registration.
type Hook interface {
	// Remove unregisters the listener. After Remove returns no further
	// callback is delivered through it.
	Remove()
}

// HookFunc adapts a function to Hook.
type HookFunc func()

// Remove calls f.
func (f HookFunc) Remove() { f() }

// MonitorCallbacks receives monitor-level hotplug events.
type MonitorCallbacks interface {
	// ObjectInfo announces (info != nil) or retracts (info == nil) an object.
	ObjectInfo(id uint32, info *ObjectInfo) error
}

// Monitor is the enumeration interface of a monitor plugin.
type Monitor interface {
	// SetCallbacks starts event delivery to cb. Implementations start their
	// processing here and may emit events before returning. A nil cb stops
	// delivery.
	SetCallbacks(cb MonitorCallbacks) error
}

// DeviceEvents are the listener callbacks of a device.
type DeviceEvents struct {
	Info       func(info *DeviceInfo)
	ObjectInfo func(id uint32, info *ObjectInfo)
}

// Device is the interface of a device plugin.
type Device interface {
	// AddListener registers events. Info is emitted synchronously at least
	// once before AddListener returns and before any ObjectInfo. After an
	// error no events are delivered.
	AddListener(events DeviceEvents) (Hook, error)
}

// Handle is a loaded plugin module instance.
type Handle interface {
	// Interface returns the implementation of t, or ErrInterfaceNotSupported.
	Interface(t InterfaceType) (any, error)
	// Close unloads the instance.
	Close() error
}

// Loader loads plugin module instances by factory name.
type Loader interface {
	Load(ctx context.Context, factory string, props property.ReadOnly) (Handle, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, factory string, props property.ReadOnly) (Handle, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, factory string, props property.ReadOnly) (Handle, error) {
	return f(ctx, factory, props)
}
