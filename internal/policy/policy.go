// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package policy customizes device and node properties before the monitor
// creates them. Declarative rules run first, then the optional Lua script.
package policy

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/devmon/devmon/internal/monitor"
	"github.com/devmon/devmon/internal/property"
	"github.com/devmon/devmon/pkg/errutil"
)

// Error codes.
const (
	CodeRuleInvalid   = "RULE_INVALID"
	CodeScriptInvalid = "SCRIPT_INVALID"
	CodeScriptFailed  = "SCRIPT_FAILED"
)

// Policy applies rules and a script to object properties.
type Policy struct {
	rules  []*compiledRule
	script *Script
	logger *slog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithScript adds a Lua script run after the rules.
func WithScript(s *Script) Option {
	return func(p *Policy) {
		p.script = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.logger = l
		}
	}
}

// New compiles rules into a Policy.
func New(rules []Rule, opts ...Option) (*Policy, error) {
	p := &Policy{logger: slog.Default()}
	for i, r := range rules {
		c, err := compileRule(r)
		if err != nil {
			return nil, oops.In("policy").With("rule", i).Wrap(err)
		}
		p.rules = append(p.rules, c)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Len returns the number of rules.
func (p *Policy) Len() int {
	return len(p.rules)
}

// SetupDevice applies device rules and the script's setup_device_props to
// props. A failing script leaves the rule changes in place.
func (p *Policy) SetupDevice(props *property.Properties) {
	for _, r := range p.rules {
		if r.kind == KindDevice && r.matches(nil, props) {
			r.apply(nil, props)
		}
	}
	if p.script == nil {
		return
	}
	if _, err := p.script.SetupDevice(context.Background(), props); err != nil {
		errutil.LogWarn(p.logger, "device policy script failed", err)
	}
}

// SetupNode applies node rules and the script's setup_node_props to node.
func (p *Policy) SetupNode(device property.ReadOnly, node *property.Properties) {
	for _, r := range p.rules {
		if r.kind == KindNode && r.matches(device, node) {
			r.apply(device, node)
		}
	}
	if p.script == nil {
		return
	}
	if _, err := p.script.SetupNode(context.Background(), device, node); err != nil {
		errutil.LogWarn(p.logger, "node policy script failed", err)
	}
}

// DeviceHook returns SetupDevice as a monitor hook.
func (p *Policy) DeviceHook() monitor.DeviceHook {
	return p.SetupDevice
}

// NodeHook returns SetupNode as a monitor hook.
func (p *Policy) NodeHook() monitor.NodeHook {
	return p.SetupNode
}
