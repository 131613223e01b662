// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/devmon/devmon/pkg/spasdk"
)

// Factory names served by the plugin.
const (
	FactoryMonitor = "api.scripted.enum"
	FactoryDevice  = "api.scripted.device"
)

// KeyDevice names the script entry a device instance replays. The monitor
// sets it on every device it announces.
const KeyDevice = "scripted.device"

// Factories returns the monitor and device factories for a script.
func Factories(s *Script) []spasdk.Factory {
	return []spasdk.Factory{
		&monitorFactory{script: s},
		&deviceFactory{script: s},
	}
}

type monitorFactory struct {
	script *Script
}

func (f *monitorFactory) Name() string         { return FactoryMonitor }
func (f *monitorFactory) Interfaces() []string { return []string{spasdk.InterfaceMonitor} }

func (f *monitorFactory) New([]spasdk.Prop) (spasdk.Instance, error) {
	return &monitorInstance{script: f.script}, nil
}

// monitorInstance announces the initial devices on subscription and then
// replays the hotplug steps.
type monitorInstance struct {
	script *Script
}

func (m *monitorInstance) Subscribe(iface string, emit spasdk.Emitter) (func(), error) {
	if iface != spasdk.InterfaceMonitor {
		return nil, fmt.Errorf("interface %s not supported", iface)
	}

	for i := range m.script.Devices {
		d := &m.script.Devices[i]
		emit.ObjectInfo(d.ID, deviceObject(d))
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go m.replay(emit, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
		})
	}, nil
}

func (m *monitorInstance) replay(emit spasdk.Emitter, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for _, step := range m.script.Hotplug {
		timer := time.NewTimer(step.After)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		if step.Add != nil {
			emit.ObjectInfo(step.Add.ID, deviceObject(step.Add))
		} else {
			emit.ObjectInfo(*step.Remove, nil)
		}
	}
}

func (m *monitorInstance) Close() error { return nil }

func deviceObject(d *DeviceSpec) *spasdk.ObjectInfo {
	props := toProps(d.Props)
	props = append(props, spasdk.Prop{Key: KeyDevice, Value: d.key})
	return &spasdk.ObjectInfo{
		Type:        spasdk.InterfaceDevice,
		FactoryName: d.Factory,
		Props:       props,
	}
}

type deviceFactory struct {
	script *Script
}

func (f *deviceFactory) Name() string         { return FactoryDevice }
func (f *deviceFactory) Interfaces() []string { return []string{spasdk.InterfaceDevice} }

func (f *deviceFactory) New(props []spasdk.Prop) (spasdk.Instance, error) {
	key := ""
	for _, p := range props {
		if p.Key == KeyDevice {
			key = p.Value
		}
	}
	if key == "" {
		return nil, fmt.Errorf("property %s is required", KeyDevice)
	}
	spec, ok := f.script.Device(key)
	if !ok {
		return nil, fmt.Errorf("no scripted device %q", key)
	}
	return &deviceInstance{spec: spec}, nil
}

// deviceInstance reports the scripted info followed by the nodes.
type deviceInstance struct {
	spec *DeviceSpec
}

func (d *deviceInstance) Subscribe(iface string, emit spasdk.Emitter) (func(), error) {
	if iface != spasdk.InterfaceDevice {
		return nil, fmt.Errorf("interface %s not supported", iface)
	}

	emit.Info(&spasdk.DeviceInfo{
		ChangeMask: spasdk.ChangeMaskProps,
		Props:      toProps(d.spec.Info),
	})
	for _, n := range d.spec.Nodes {
		emit.ObjectInfo(n.ID, &spasdk.ObjectInfo{
			Type:        spasdk.InterfaceNode,
			FactoryName: n.Factory,
			Props:       toProps(n.Props),
		})
	}
	return func() {}, nil
}

func (d *deviceInstance) Close() error { return nil }
