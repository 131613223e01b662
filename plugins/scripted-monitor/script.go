// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devmon/devmon/pkg/spasdk"
)

// Script describes the devices the monitor announces.
//
//	devices:
//	  - id: 1
//	    props: {device.name: card0}
//	    info: {device.nick: "Card 0"}
//	    nodes:
//	      - id: 0
//	        factory: api.alsa.pcm.sink
//	        props: {media.class: Audio/Sink}
//	hotplug:
//	  - after: 500ms
//	    remove: 1
type Script struct {
	Devices []DeviceSpec `yaml:"devices"`
	Hotplug []Step       `yaml:"hotplug"`

	byKey map[string]*DeviceSpec
}

// DeviceSpec is one scripted device.
type DeviceSpec struct {
	ID      uint32            `yaml:"id"`
	Factory string            `yaml:"factory"`
	Props   map[string]string `yaml:"props"`
	// Info is reported through the device interface before its nodes.
	Info  map[string]string `yaml:"info"`
	Nodes []NodeSpec        `yaml:"nodes"`

	key string
}

// NodeSpec is one node of a scripted device.
type NodeSpec struct {
	ID      uint32            `yaml:"id"`
	Factory string            `yaml:"factory"`
	Props   map[string]string `yaml:"props"`
}

// Step is a hotplug event replayed after the initial devices, After the
// previous step.
type Step struct {
	After  time.Duration `yaml:"after"`
	Add    *DeviceSpec   `yaml:"add"`
	Remove *uint32       `yaml:"remove"`
}

// ParseScript parses and validates a script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := s.index(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScript reads and parses a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s *Script) index() error {
	s.byKey = make(map[string]*DeviceSpec)
	live := make(map[uint32]bool)

	add := func(key string, d *DeviceSpec) error {
		if d.Factory == "" {
			d.Factory = FactoryDevice
		}
		if live[d.ID] {
			return fmt.Errorf("%s: device %d is already present", key, d.ID)
		}
		nodes := make(map[uint32]bool, len(d.Nodes))
		for i, n := range d.Nodes {
			if n.Factory == "" {
				return fmt.Errorf("%s: nodes[%d]: factory is required", key, i)
			}
			if nodes[n.ID] {
				return fmt.Errorf("%s: node %d is used twice", key, n.ID)
			}
			nodes[n.ID] = true
		}
		live[d.ID] = true
		d.key = key
		s.byKey[key] = d
		return nil
	}

	for i := range s.Devices {
		if err := add(fmt.Sprintf("devices[%d]", i), &s.Devices[i]); err != nil {
			return err
		}
	}
	for i, step := range s.Hotplug {
		key := fmt.Sprintf("hotplug[%d]", i)
		if step.After < 0 {
			return fmt.Errorf("%s: after cannot be negative", key)
		}
		switch {
		case (step.Add == nil) == (step.Remove == nil):
			return errors.New(key + ": exactly one of add or remove is required")
		case step.Add != nil:
			if err := add(key, step.Add); err != nil {
				return err
			}
		case !live[*step.Remove]:
			return fmt.Errorf("%s: device %d is not present", key, *step.Remove)
		default:
			delete(live, *step.Remove)
		}
	}
	return nil
}

// Device returns the device announced under key.
func (s *Script) Device(key string) (*DeviceSpec, bool) {
	d, ok := s.byKey[key]
	return d, ok
}

// toProps converts a map to a property list sorted by key.
func toProps(m map[string]string) []spasdk.Prop {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	props := make([]spasdk.Prop, 0, len(keys))
	for _, k := range keys {
		props = append(props, spasdk.Prop{Key: k, Value: m[k]})
	}
	return props
}
