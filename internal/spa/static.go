// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package spa

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/devmon/devmon/internal/property"
)

// FactoryFunc creates an in-process module instance.
type FactoryFunc func(ctx context.Context, props property.ReadOnly) (Handle, error)

// StaticLoader serves factories compiled into the process.
// It is safe for concurrent use.
type StaticLoader struct {
	mu        sync.RWMutex
	factories map[string]FactoryFunc
}

// NewStaticLoader creates an empty static loader.
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{factories: make(map[string]FactoryFunc)}
}

// Register adds a factory. Names must be unique.
func (l *StaticLoader) Register(name string, fn FactoryFunc) error {
	if name == "" {
		return errors.New("factory name cannot be empty")
	}
	if fn == nil {
		return errors.New("factory function cannot be nil")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.factories[name]; exists {
		return fmt.Errorf("factory %q already registered", name)
	}
	l.factories[name] = fn
	return nil
}

// Load instantiates factory.
func (l *StaticLoader) Load(ctx context.Context, factory string, props property.ReadOnly) (Handle, error) {
	l.mu.RLock()
	fn, ok := l.factories[factory]
	l.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFactory, factory)
	}
	return fn(ctx, props)
}

// Factories returns the registered factory names, sorted.
func (l *StaticLoader) Factories() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.factories))
	for name := range l.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MultiLoader tries each loader in order, moving on when a loader does not
// know the factory.
type MultiLoader []Loader

// Load implements Loader.
func (m MultiLoader) Load(ctx context.Context, factory string, props property.ReadOnly) (Handle, error) {
	for _, l := range m {
		h, err := l.Load(ctx, factory, props)
		if errors.Is(err, ErrUnknownFactory) {
			continue
		}
		return h, err
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFactory, factory)
}

// StaticHandle is a Handle over a fixed set of in-process interfaces.
type StaticHandle struct {
	Interfaces map[InterfaceType]any
	OnClose    func() error
}

// Interface implements Handle.
func (h *StaticHandle) Interface(t InterfaceType) (any, error) {
	iface, ok := h.Interfaces[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInterfaceNotSupported, t)
	}
	return iface, nil
}

// Close implements Handle.
func (h *StaticHandle) Close() error {
	if h.OnClose != nil {
		return h.OnClose()
	}
	return nil
}
