// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package spasdk provides the SDK for building devmon backend plugins.
//
// Backend plugins run as separate processes and talk to devmond over
// HashiCorp go-plugin (net/rpc). A plugin serves one or more factories; each
// loaded factory instance exposes the monitor or device interface and
// streams object announcements to the daemon.
//
// Example usage:
//
//	package main
//
//	import "github.com/devmon/devmon/pkg/spasdk"
//
//	type udevFactory struct{}
//
//	func (udevFactory) Name() string         { return "api.example.enum" }
//	func (udevFactory) Interfaces() []string { return []string{spasdk.InterfaceMonitor} }
//	func (udevFactory) New(props []spasdk.Prop) (spasdk.Instance, error) {
//		return newEnumerator(props), nil
//	}
//
//	func main() {
//		spasdk.Serve(&spasdk.ServeConfig{
//			Factories: []spasdk.Factory{udevFactory{}},
//		})
//	}
package spasdk

import (
	hashiplug "github.com/hashicorp/go-plugin"
)

// APIVersion is the plugin interface version this SDK speaks.
const APIVersion = "1.0.0"

// PluginName is the name the SPA service is dispensed under.
const PluginName = "spa"

// Interface names.
const (
	InterfaceMonitor = "Spa:Pointer:Interface:Monitor"
	InterfaceDevice  = "Spa:Pointer:Interface:Device"
	InterfaceNode    = "Spa:Pointer:Interface:Node"
)

// ChangeMaskProps marks DeviceInfo.Props as valid.
const ChangeMaskProps uint64 = 1 << 0

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and plugins must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "DEVMON_PLUGIN",
	MagicCookieValue: "devmon-spa-v1",
}

// Prop is a single property.
type Prop struct {
	Key   string
	Value string
}

// Props builds a property list from alternating keys and values.
// Panics on an odd number of arguments.
func Props(kv ...string) []Prop {
	if len(kv)%2 != 0 {
		panic("spasdk: Props requires an even number of arguments")
	}
	out := make([]Prop, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		out = append(out, Prop{Key: kv[i], Value: kv[i+1]})
	}
	return out
}

// ObjectInfo describes an object announced by a monitor or a device.
type ObjectInfo struct {
	Type        string
	FactoryName string
	Props       []Prop
}

// DeviceInfo carries device property updates.
type DeviceInfo struct {
	ChangeMask uint64
	Props      []Prop
}

// EventKind identifies an Event.
type EventKind uint8

// Event kinds.
const (
	// EventObjectInfo announces an object, or retracts it when Object is nil.
	EventObjectInfo EventKind = iota + 1
	// EventInfo reports device properties.
	EventInfo
)

// Event is one entry of an interface's event stream.
type Event struct {
	Kind   EventKind
	ID     uint32
	Object *ObjectInfo
	Device *DeviceInfo
}

// Emitter receives the events of a subscription. It is safe for concurrent
// use.
type Emitter interface {
	// ObjectInfo announces an object. A nil info retracts it.
	ObjectInfo(id uint32, info *ObjectInfo)
	// Info reports device properties.
	Info(info *DeviceInfo)
}

// Instance is a loaded factory instance.
type Instance interface {
	// Subscribe starts delivering events of iface to emit. Everything emitted
	// before Subscribe returns is delivered as the initial state: a device
	// must emit Info first, followed by the objects it already knows. Later
	// events may be emitted from any goroutine until stop is called.
	Subscribe(iface string, emit Emitter) (stop func(), err error)
	// Close releases the instance.
	Close() error
}

// Factory creates instances.
type Factory interface {
	// Name is the factory name hosts load the plugin by.
	Name() string
	// Interfaces lists the interfaces instances implement.
	Interfaces() []string
	// New creates an instance from the construction properties.
	New(props []Prop) (Instance, error)
}

// FactoryInfo describes a factory served by a plugin.
type FactoryInfo struct {
	Name       string
	Interfaces []string
}
