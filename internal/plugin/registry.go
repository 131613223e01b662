// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps factory names to the plugin providing them.
//
// Registry is safe for concurrent use. The zero value is ready to use.
type Registry struct {
	mu        sync.RWMutex
	byFactory map[string]string
}

// Add records that plugin provides factory. A factory has one provider.
func (r *Registry) Add(factory, plugin string) error {
	if factory == "" || plugin == "" {
		return fmt.Errorf("factory and plugin names cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byFactory[factory]; ok {
		return fmt.Errorf("factory %q already provided by plugin %s", factory, owner)
	}
	if r.byFactory == nil {
		r.byFactory = make(map[string]string)
	}
	r.byFactory[factory] = plugin
	return nil
}

// Lookup returns the plugin providing factory.
func (r *Registry) Lookup(factory string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plugin, ok := r.byFactory[factory]
	return plugin, ok
}

// RemovePlugin forgets every factory of plugin and returns them, sorted.
func (r *Registry) RemovePlugin(plugin string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for factory, owner := range r.byFactory {
		if owner == plugin {
			removed = append(removed, factory)
			delete(r.byFactory, factory)
		}
	}
	sort.Strings(removed)
	return removed
}

// Factories returns every registered factory name, sorted.
func (r *Registry) Factories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byFactory))
	for name := range r.byFactory {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FactoriesOf returns the factories provided by plugin, sorted.
func (r *Registry) FactoriesOf(plugin string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for factory, owner := range r.byFactory {
		if owner == plugin {
			names = append(names, factory)
		}
	}
	sort.Strings(names)
	return names
}
