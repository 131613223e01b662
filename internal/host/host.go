// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package host implements an in-process session host.
//
// The host allocates global ids, keeps a registry of exported and remotely
// constructed objects and drives their lifecycle events. Events are always
// delivered through an Invoker so they arrive on the control loop after
// every operation queued before them.
package host

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/devmon/devmon/internal/property"
	"github.com/devmon/devmon/internal/session"
	"github.com/devmon/devmon/internal/spa"
)

// Error codes returned by the host.
const (
	CodeFactoryNotFound = "FACTORY_NOT_FOUND"
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
)

// FirstGlobalID is the first id handed out. Lower ids are reserved for the
// host's own objects.
const FirstGlobalID uint32 = 100

// Invoker schedules work on the control loop.
type Invoker interface {
	Invoke(fn func()) bool
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(fn func()) bool

// Invoke calls f.
func (f InvokerFunc) Invoke(fn func()) bool { return f(fn) }

// Host is an in-process session.Core. It is safe for concurrent use; events
// are delivered through the Invoker.
type Host struct {
	loader   spa.Loader
	invoker  Invoker
	logger   *slog.Logger
	observer func(Event)

	lastID atomic.Uint32

	mu        sync.Mutex
	objects   map[uint32]*object
	factories map[string]session.LocalFactory
}

// Compile-time interface check.
var _ session.Core = (*Host)(nil)

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		h.logger = l
	}
}

// WithObserver calls fn whenever an object is added or removed. fn runs on
// the goroutine changing the object, outside the host's locks, and must not
// block.
func WithObserver(fn func(Event)) Option {
	return func(h *Host) {
		h.observer = fn
	}
}

// Event kinds reported to observers.
const (
	EventAdded   = "added"
	EventRemoved = "removed"
)

// Event reports an object entering or leaving the host.
type Event struct {
	Kind   string     `json:"kind"`
	Object ObjectInfo `json:"object"`
}

// New creates a host loading plugins through loader. The built-in node
// factories are registered.
func New(loader spa.Loader, invoker Invoker, opts ...Option) *Host {
	if loader == nil {
		panic("host: loader cannot be nil")
	}
	if invoker == nil {
		panic("host: invoker cannot be nil")
	}
	h := &Host{
		loader:    loader,
		invoker:   invoker,
		objects:   make(map[uint32]*object),
		factories: make(map[string]session.LocalFactory),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.lastID.Store(FirstGlobalID - 1)

	for _, f := range BuiltinFactories() {
		if err := h.RegisterFactory(f); err != nil {
			panic(err)
		}
	}
	return h
}

// Load implements spa.Loader.
func (h *Host) Load(ctx context.Context, factory string, props property.ReadOnly) (spa.Handle, error) {
	return h.loader.Load(ctx, factory, props)
}

// RegisterFactory adds a local factory. Names must be unique.
func (h *Host) RegisterFactory(f session.LocalFactory) error {
	if f == nil || f.Name() == "" {
		return oops.Code(CodeInvalidArgument).In("host").Errorf("factory must have a name")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.factories[f.Name()]; exists {
		return oops.Code(CodeInvalidArgument).
			In("host").
			With("factory", f.Name()).
			Errorf("factory %q already registered", f.Name())
	}
	h.factories[f.Name()] = f
	return nil
}

// FindFactory implements session.Core.
func (h *Host) FindFactory(name string) (session.LocalFactory, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.factories[name]
	return f, ok
}

// Export implements session.Core.
func (h *Host) Export(_ context.Context, iface spa.InterfaceType, props property.ReadOnly, local any) (session.RemoteProxy, error) {
	if local == nil {
		return nil, oops.Code(CodeInvalidArgument).
			In("host").
			With("interface", string(iface)).
			Errorf("cannot export a nil object")
	}
	obj := h.register(iface, "", props, local, nil)
	h.logger.Debug("object exported",
		"global_id", obj.id,
		"interface", string(iface))
	return obj, nil
}

// CreateObject implements session.Core. The object is constructed from a
// factory registered with the host and owned by it.
func (h *Host) CreateObject(ctx context.Context, factory string, iface spa.InterfaceType, version uint32, props property.ReadOnly) (session.RemoteProxy, error) {
	f, ok := h.FindFactory(factory)
	if !ok {
		return nil, oops.Code(CodeFactoryNotFound).
			In("host").
			With("factory", factory).
			Errorf("no factory named %q", factory)
	}

	owned, err := f.CreateObject(ctx, iface, version, props)
	if err != nil {
		return nil, oops.In("host").
			With("factory", factory).
			Wrapf(err, "factory %q failed", factory)
	}
	if owned == nil {
		return nil, oops.In("host").With("factory", factory).Errorf("factory %q returned no object", factory)
	}

	obj := h.register(iface, factory, props, owned, owned)
	h.logger.Debug("object created",
		"global_id", obj.id,
		"factory", factory,
		"interface", string(iface))
	return obj, nil
}

// Remove destroys an object as if the host decided to, for instance because
// a client asked for it.
func (h *Host) Remove(globalID uint32) error {
	h.mu.Lock()
	obj, ok := h.objects[globalID]
	h.mu.Unlock()

	if !ok {
		return oops.Code(CodeNotFound).
			In("host").
			With("global_id", globalID).
			Errorf("no object with id %d", globalID)
	}
	obj.destroy()
	return nil
}

// ObjectInfo describes a live object.
type ObjectInfo struct {
	GlobalID   uint32            `json:"global_id"`
	Interface  string            `json:"interface"`
	Factory    string            `json:"factory,omitempty"`
	Properties map[string]string `json:"properties"`
	Owned      bool              `json:"owned"`
}

// Objects lists the live objects by global id.
func (h *Host) Objects() []ObjectInfo {
	h.mu.Lock()
	out := make([]ObjectInfo, 0, len(h.objects))
	for _, obj := range h.objects {
		out = append(out, obj.info())
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].GlobalID < out[j].GlobalID })
	return out
}

// Len returns the number of live objects.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}

// Close destroys every remaining object.
func (h *Host) Close() error {
	h.mu.Lock()
	objs := make([]*object, 0, len(h.objects))
	for _, obj := range h.objects {
		objs = append(objs, obj)
	}
	h.mu.Unlock()

	for _, obj := range objs {
		obj.destroy()
	}
	return nil
}

func (h *Host) register(iface spa.InterfaceType, factory string, props property.ReadOnly, local any, owned session.LocalObject) *object {
	obj := &object{
		host:    h,
		id:      h.lastID.Add(1),
		iface:   iface,
		factory: factory,
		props:   property.Copy(props),
		local:   local,
		owned:   owned,
	}

	h.mu.Lock()
	h.objects[obj.id] = obj
	h.mu.Unlock()

	h.notify(EventAdded, obj)
	return obj
}

func (h *Host) notify(kind string, obj *object) {
	if h.observer != nil {
		h.observer(Event{Kind: kind, Object: obj.info()})
	}
}

func (h *Host) unregister(id uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.objects[id]; !ok {
		return false
	}
	delete(h.objects, id)
	return true
}

// object is a remote handle to a host object.
type object struct {
	host    *Host
	id      uint32
	iface   spa.InterfaceType
	factory string
	props   *property.Properties
	local   any
	owned   session.LocalObject

	mu        sync.Mutex
	listeners []*listener
	destroyed bool
}

type listener struct {
	events  session.ProxyEvents
	removed atomic.Bool
}

func (o *object) GlobalID() uint32 { return o.id }

// info describes the object. props is never modified after registration.
func (o *object) info() ObjectInfo {
	return ObjectInfo{
		GlobalID:   o.id,
		Interface:  string(o.iface),
		Factory:    o.factory,
		Properties: o.props.Map(),
		Owned:      o.owned != nil,
	}
}

func (o *object) AddListener(events session.ProxyEvents) spa.Hook {
	l := &listener{events: events}

	o.mu.Lock()
	o.listeners = append(o.listeners, l)
	o.mu.Unlock()

	return spa.HookFunc(func() {
		l.removed.Store(true)
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, x := range o.listeners {
			if x == l {
				o.listeners = append(o.listeners[:i], o.listeners[i+1:]...)
				return
			}
		}
	})
}

// Sync queues Done(seq) behind every event already queued for this object.
func (o *object) Sync(seq int) int {
	o.host.invoker.Invoke(func() {
		for _, l := range o.snapshot() {
			if l.events.Done != nil && !l.removed.Load() {
				l.events.Done(seq)
			}
		}
	})
	return seq
}

// Destroy removes the object. Listeners still registered when the event is
// delivered receive Destroyed.
func (o *object) Destroy() {
	o.destroy()
}

func (o *object) destroy() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	o.destroyed = true
	o.mu.Unlock()

	if o.host.unregister(o.id) {
		o.host.notify(EventRemoved, o)
	}
	if o.owned != nil {
		o.owned.Destroy()
	}
	o.host.logger.Debug("object destroyed", "global_id", o.id)

	o.host.invoker.Invoke(func() {
		for _, l := range o.snapshot() {
			if l.events.Destroyed != nil && !l.removed.Load() {
				l.events.Destroyed()
			}
		}
	})
}

func (o *object) snapshot() []*listener {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*listener(nil), o.listeners...)
}

// Local returns the implementation behind an exported object.
func (h *Host) Local(globalID uint32) (any, error) {
	h.mu.Lock()
	obj, ok := h.objects[globalID]
	h.mu.Unlock()
	if !ok {
		return nil, oops.Code(CodeNotFound).
			In("host").
			With("global_id", globalID).
			Errorf("no object with id %d", globalID)
	}
	return obj.local, nil
}
