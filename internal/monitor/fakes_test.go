// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package monitor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devmon/devmon/internal/property"
	"github.com/devmon/devmon/internal/session"
	"github.com/devmon/devmon/internal/spa"
)

// call is one entry in the fake core's call log.
type call struct {
	op      string
	factory string
	iface   spa.InterfaceType
	id      uint32
	props   *property.Properties
}

// fakeCore is a session core that records every call in order.
type fakeCore struct {
	t      *testing.T
	loader *spa.StaticLoader

	calls     []call
	nextID    uint32
	remotes   map[uint32]*fakeRemote
	factories map[string]*fakeFactory

	exportErr map[spa.InterfaceType]error
	createErr error
}

var _ session.Core = (*fakeCore)(nil)

func newFakeCore(t *testing.T) *fakeCore {
	t.Helper()
	return &fakeCore{
		t:         t,
		loader:    spa.NewStaticLoader(),
		nextID:    100,
		remotes:   make(map[uint32]*fakeRemote),
		factories: make(map[string]*fakeFactory),
		exportErr: make(map[spa.InterfaceType]error),
	}
}

func (c *fakeCore) record(cl call) {
	c.calls = append(c.calls, cl)
}

// ops returns the operation names of the call log.
func (c *fakeCore) ops() []string {
	out := make([]string, 0, len(c.calls))
	for _, cl := range c.calls {
		out = append(out, cl.op)
	}
	return out
}

// find returns the calls with the given operation.
func (c *fakeCore) find(op string) []call {
	var out []call
	for _, cl := range c.calls {
		if cl.op == op {
			out = append(out, cl)
		}
	}
	return out
}

func (c *fakeCore) Load(ctx context.Context, factory string, props property.ReadOnly) (spa.Handle, error) {
	c.record(call{op: "load", factory: factory, props: property.Copy(props)})
	return c.loader.Load(ctx, factory, props)
}

func (c *fakeCore) Export(_ context.Context, iface spa.InterfaceType, props property.ReadOnly, _ any) (session.RemoteProxy, error) {
	c.record(call{op: "export", iface: iface, props: property.Copy(props)})
	if err := c.exportErr[iface]; err != nil {
		return nil, err
	}
	return c.newRemote(), nil
}

func (c *fakeCore) CreateObject(_ context.Context, factory string, iface spa.InterfaceType, _ uint32, props property.ReadOnly) (session.RemoteProxy, error) {
	c.record(call{op: "create_object", factory: factory, iface: iface, props: property.Copy(props)})
	if c.createErr != nil {
		return nil, c.createErr
	}
	return c.newRemote(), nil
}

func (c *fakeCore) FindFactory(name string) (session.LocalFactory, bool) {
	c.record(call{op: "find_factory", factory: name})
	f, ok := c.factories[name]
	if !ok {
		return nil, false
	}
	return f, true
}

func (c *fakeCore) newRemote() *fakeRemote {
	r := &fakeRemote{core: c, id: c.nextID}
	c.nextID++
	c.remotes[r.id] = r
	return r
}

// addFactory registers a local factory.
func (c *fakeCore) addFactory(name string) *fakeFactory {
	f := &fakeFactory{core: c, name: name}
	c.factories[name] = f
	return f
}

// addMonitor registers a monitor plugin under name.
func (c *fakeCore) addMonitor(name string, mon *fakeMonitor) {
	c.t.Helper()
	require.NoError(c.t, c.loader.Register(name, func(context.Context, property.ReadOnly) (spa.Handle, error) {
		return &spa.StaticHandle{
			Interfaces: map[spa.InterfaceType]any{spa.TypeMonitor: mon},
			OnClose: func() error {
				c.record(call{op: "close", factory: name})
				return nil
			},
		}, nil
	}))
}

// addDevice registers a device plugin under name.
func (c *fakeCore) addDevice(name string, dev *fakeDevice) {
	c.t.Helper()
	dev.core = c
	dev.name = name
	require.NoError(c.t, c.loader.Register(name, func(context.Context, property.ReadOnly) (spa.Handle, error) {
		return &spa.StaticHandle{
			Interfaces: map[spa.InterfaceType]any{spa.TypeDevice: dev},
			OnClose: func() error {
				c.record(call{op: "close", factory: name})
				return nil
			},
		}, nil
	}))
}

// fakeRemote is a handle to an object on the fake host.
type fakeRemote struct {
	core      *fakeCore
	id        uint32
	listeners []*session.ProxyEvents
	destroyed bool
}

func (r *fakeRemote) GlobalID() uint32 { return r.id }

func (r *fakeRemote) AddListener(events session.ProxyEvents) spa.Hook {
	ev := &events
	r.listeners = append(r.listeners, ev)
	return spa.HookFunc(func() {
		for i, l := range r.listeners {
			if l == ev {
				r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
				return
			}
		}
	})
}

func (r *fakeRemote) Sync(seq int) int { return seq }

func (r *fakeRemote) Destroy() {
	r.core.record(call{op: "destroy", id: r.id})
	r.hostDestroy()
}

// hostDestroy destroys the object as if the host decided to.
func (r *fakeRemote) hostDestroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	delete(r.core.remotes, r.id)
	for _, l := range append([]*session.ProxyEvents(nil), r.listeners...) {
		l.Destroyed()
	}
}

// fakeFactory is a local node factory.
type fakeFactory struct {
	core *fakeCore
	name string
	err  error
}

func (f *fakeFactory) Name() string { return f.name }

func (f *fakeFactory) CreateObject(_ context.Context, iface spa.InterfaceType, _ uint32, props property.ReadOnly) (session.LocalObject, error) {
	f.core.record(call{op: "instantiate", factory: f.name, iface: iface, props: property.Copy(props)})
	if f.err != nil {
		return nil, f.err
	}
	return &fakeLocal{core: f.core, factory: f.name}, nil
}

type fakeLocal struct {
	core    *fakeCore
	factory string
}

func (l *fakeLocal) Destroy() {
	l.core.record(call{op: "local_destroy", factory: l.factory})
}

// announce is an object announcement replayed by the fake plugins.
type announce struct {
	id   uint32
	info *spa.ObjectInfo
}

// fakeMonitor is a monitor plugin interface.
type fakeMonitor struct {
	cb      spa.MonitorCallbacks
	initial []announce
	setErr  error
	results []error
}

func (m *fakeMonitor) SetCallbacks(cb spa.MonitorCallbacks) error {
	m.cb = cb
	if cb == nil {
		return nil
	}
	for _, a := range m.initial {
		m.results = append(m.results, cb.ObjectInfo(a.id, a.info))
	}
	if m.setErr != nil {
		m.cb = nil
		return m.setErr
	}
	return nil
}

func (m *fakeMonitor) emit(id uint32, info *spa.ObjectInfo) error {
	if m.cb == nil {
		return errors.New("no callbacks registered")
	}
	return m.cb.ObjectInfo(id, info)
}

// fakeDevice is a device plugin interface.
type fakeDevice struct {
	core      *fakeCore
	name      string
	props     *property.Properties
	children  []announce
	listeners []*deviceListener
	listenErr error
}

type deviceListener struct {
	events  spa.DeviceEvents
	removed bool
}

func (d *fakeDevice) AddListener(events spa.DeviceEvents) (spa.Hook, error) {
	if d.listenErr != nil {
		return nil, d.listenErr
	}
	l := &deviceListener{events: events}
	d.listeners = append(d.listeners, l)

	var mask spa.ChangeMask
	if d.props != nil {
		mask = spa.ChangeMaskProps
	}
	events.Info(&spa.DeviceInfo{ChangeMask: mask, Props: d.props})
	for _, c := range d.children {
		events.ObjectInfo(c.id, c.info)
	}

	return spa.HookFunc(func() {
		l.removed = true
		d.core.record(call{op: "remove_listener", factory: d.name})
	}), nil
}

func (d *fakeDevice) emitInfo(info *spa.DeviceInfo) {
	for _, l := range d.listeners {
		if !l.removed {
			l.events.Info(info)
		}
	}
}

func (d *fakeDevice) emitObject(id uint32, info *spa.ObjectInfo) {
	for _, l := range d.listeners {
		if !l.removed {
			l.events.ObjectInfo(id, info)
		}
	}
}

func (d *fakeDevice) active() int {
	n := 0
	for _, l := range d.listeners {
		if !l.removed {
			n++
		}
	}
	return n
}

// fakeRecorder counts lifecycle metrics.
type fakeRecorder struct {
	starts   map[bool]int
	added    map[string]int
	removed  map[string]int
	failures map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		starts:   make(map[bool]int),
		added:    make(map[string]int),
		removed:  make(map[string]int),
		failures: make(map[string]int),
	}
}

func (r *fakeRecorder) MonitorStarted(_ string, ok bool) { r.starts[ok]++ }
func (r *fakeRecorder) ObjectAdded(_, kind string) { r.added[kind]++ }
func (r *fakeRecorder) ObjectRemoved(_, kind string) { r.removed[kind]++ }
func (r *fakeRecorder) ObjectFailed(_, kind, code string) { r.failures[kind+":"+code]++ }

func deviceInfo(factory string, kv ...string) *spa.ObjectInfo {
	return &spa.ObjectInfo{
		Type:        spa.TypeDevice,
		FactoryName: factory,
		Props:       property.FromPairs(kv...),
	}
}

func nodeInfo(factory string, kv ...string) *spa.ObjectInfo {
	return &spa.ObjectInfo{
		Type:        spa.TypeNode,
		FactoryName: factory,
		Props:       property.FromPairs(kv...),
	}
}
