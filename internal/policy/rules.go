// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package policy

import (
	"os"
	"sort"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/devmon/devmon/internal/property"
)

// Kind selects which objects a rule applies to.
type Kind string

// Rule kinds.
const (
	KindDevice Kind = "device"
	KindNode   Kind = "node"
)

// Rule rewrites the properties of matching devices or nodes.
//
// Every Match entry must glob-match the value of its key. Node rules may
// also match the parent device's properties with MatchDevice. Set values
// expand ${key} from the object's properties, falling back to the device's.
// Set is applied before Unset.
type Rule struct {
	Kind        Kind              `koanf:"kind" json:"kind" yaml:"kind" jsonschema:"enum=device,enum=node"`
	Match       map[string]string `koanf:"match" json:"match,omitempty" yaml:"match,omitempty"`
	MatchDevice map[string]string `koanf:"match_device" json:"match_device,omitempty" yaml:"match_device,omitempty"`
	Set         map[string]string `koanf:"set" json:"set,omitempty" yaml:"set,omitempty"`
	Unset       []string          `koanf:"unset" json:"unset,omitempty" yaml:"unset,omitempty"`
}

type matcher struct {
	key  string
	glob glob.Glob
}

type compiledRule struct {
	kind        Kind
	match       []matcher
	matchDevice []matcher
	setKeys     []string
	set         map[string]string
	unset       []string
}

func compileRule(r Rule) (*compiledRule, error) {
	switch r.Kind {
	case KindDevice:
		if len(r.MatchDevice) > 0 {
			return nil, oops.Code(CodeRuleInvalid).In("policy").Errorf("match_device is only valid for node rules")
		}
	case KindNode:
	default:
		return nil, oops.Code(CodeRuleInvalid).In("policy").With("kind", string(r.Kind)).Errorf("kind must be device or node")
	}
	if len(r.Set) == 0 && len(r.Unset) == 0 {
		return nil, oops.Code(CodeRuleInvalid).In("policy").Errorf("rule changes nothing")
	}

	match, err := compileMatchers(r.Match)
	if err != nil {
		return nil, err
	}
	matchDevice, err := compileMatchers(r.MatchDevice)
	if err != nil {
		return nil, err
	}

	c := &compiledRule{
		kind:        r.Kind,
		match:       match,
		matchDevice: matchDevice,
		set:         r.Set,
		unset:       r.Unset,
	}
	for key := range r.Set {
		c.setKeys = append(c.setKeys, key)
	}
	sort.Strings(c.setKeys)
	return c, nil
}

func compileMatchers(m map[string]string) ([]matcher, error) {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]matcher, 0, len(keys))
	for _, key := range keys {
		g, err := glob.Compile(m[key])
		if err != nil {
			return nil, oops.Code(CodeRuleInvalid).
				In("policy").
				With("key", key).
				Wrapf(err, "invalid pattern %q", m[key])
		}
		out = append(out, matcher{key: key, glob: g})
	}
	return out, nil
}

func matchAll(matchers []matcher, props property.ReadOnly) bool {
	for _, m := range matchers {
		v, ok := props.Get(m.key)
		if !ok || !m.glob.Match(v) {
			return false
		}
	}
	return true
}

// matches reports whether the rule applies.
func (r *compiledRule) matches(device, target property.ReadOnly) bool {
	if !matchAll(r.match, target) {
		return false
	}
	if len(r.matchDevice) == 0 {
		return true
	}
	return device != nil && matchAll(r.matchDevice, device)
}

func (r *compiledRule) apply(device property.ReadOnly, target *property.Properties) {
	lookup := func(key string) string {
		if v, ok := target.Get(key); ok {
			return v
		}
		if device != nil {
			if v, ok := device.Get(key); ok {
				return v
			}
		}
		return ""
	}

	expanded := make(map[string]string, len(r.set))
	for _, key := range r.setKeys {
		expanded[key] = os.Expand(r.set[key], lookup)
	}
	for _, key := range r.setKeys {
		target.Set(key, expanded[key])
	}
	for _, key := range r.unset {
		target.Unset(key)
	}
}
