// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package capability decides which factories a plugin may provide.
//
// A plugin manifest grants factory name patterns. Patterns use gobwas/glob
// with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "api.alsa.*" matches "api.alsa.enum" but NOT "api.alsa.pcm.device"
//   - "api.alsa.**" matches both
//   - "**" matches any factory
package capability

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks factory grants at runtime.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	grants map[string][]compiledGrant // plugin name -> compiled grants
	mu     sync.RWMutex
}

// NewEnforcer creates an enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string][]compiledGrant),
	}
}

// Compile validates a factory pattern.
func Compile(pattern string) (glob.Glob, error) {
	if pattern == "" {
		return nil, errors.New("empty factory pattern")
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, fmt.Errorf("factory pattern %q: %w", pattern, err)
	}
	return g, nil
}

// SetGrants replaces the factory patterns granted to a plugin. Nothing
// changes when a pattern is invalid.
func (e *Enforcer) SetGrants(plugin string, patterns []string) error {
	if plugin == "" {
		return errors.New("plugin name cannot be empty")
	}

	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		g, err := Compile(pattern)
		if err != nil {
			return fmt.Errorf("grant %d: %w", i, err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[plugin] = compiled
	return nil
}

// IsRegistered reports whether SetGrants was called for plugin.
func (e *Enforcer) IsRegistered(plugin string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.grants[plugin]
	return ok
}

// RemoveGrants forgets a plugin. Unknown plugins are ignored.
func (e *Enforcer) RemoveGrants(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, plugin)
}

// Grants returns a copy of the patterns granted to plugin, or nil.
func (e *Enforcer) Grants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Check reports whether plugin may provide factory. Unknown plugins and
// empty names are denied.
func (e *Enforcer) Check(plugin, factory string) bool {
	if factory == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, grant := range e.grants[plugin] {
		if grant.glob.Match(factory) {
			return true
		}
	}
	return false
}
