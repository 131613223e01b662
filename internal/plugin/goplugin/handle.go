// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package goplugin

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/devmon/devmon/internal/spa"
	"github.com/devmon/devmon/pkg/errutil"
	"github.com/devmon/devmon/pkg/spasdk"
)

// handle is one factory instance opened in a plugin process.
type handle struct {
	loader   *Loader
	module   *module
	factory  string
	instance string

	mu      sync.Mutex
	streams map[*stream]struct{}
	closed  bool
}

// Interface implements spa.Handle.
func (h *handle) Interface(t spa.InterfaceType) (any, error) {
	switch t {
	case spa.TypeMonitor, spa.TypeDevice:
	default:
		return nil, fmt.Errorf("%w: %s", spa.ErrInterfaceNotSupported, t)
	}

	ok, err := h.module.spa.Interface(h.instance, string(t))
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", h.module.name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", spa.ErrInterfaceNotSupported, t)
	}

	if t == spa.TypeMonitor {
		return &remoteMonitor{handle: h}, nil
	}
	return &remoteDevice{handle: h}, nil
}

// Close implements spa.Handle. Streams end before the instance is released.
func (h *handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	streams := make([]*stream, 0, len(h.streams))
	for s := range h.streams {
		streams = append(streams, s)
	}
	clear(h.streams)
	h.mu.Unlock()

	for _, s := range streams {
		s.remove()
	}

	err := h.module.spa.CloseInstance(h.instance)
	h.loader.release(h.module)
	if err != nil {
		return fmt.Errorf("plugin %s close %s: %w", h.module.name, h.factory, err)
	}
	return nil
}

// subscribe opens an event stream. Initial events are passed to deliver
// before subscribe returns; later batches are delivered on the control loop.
// It must be called on the control loop.
func (h *handle) subscribe(iface spa.InterfaceType, deliver func(spasdk.Event)) (*stream, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("plugin %s: handle closed", h.module.name)
	}

	id, initial, err := h.module.spa.Subscribe(h.instance, string(iface))
	if err != nil {
		return nil, fmt.Errorf("plugin %s subscribe %s: %w", h.module.name, iface, err)
	}

	s := &stream{
		handle:  h,
		id:      id,
		deliver: deliver,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.streams[s] = struct{}{}
	h.mu.Unlock()

	go s.pump()
	s.dispatch(initial)
	return s, nil
}

// stream pumps one subscription's events from the plugin.
type stream struct {
	handle  *handle
	id      string
	deliver func(spasdk.Event)
	removed atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

func (s *stream) pump() {
	defer close(s.done)

	client := s.handle.module.spa
	logger := s.handle.loader.logger
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		events, closed, err := client.Next(s.id, s.handle.loader.pollWait)
		if err != nil {
			if !s.removed.Load() {
				errutil.LogWarn(logger.With("plugin", s.handle.module.name, "factory", s.handle.factory),
					"event stream failed", err)
			}
			return
		}
		if len(events) > 0 {
			s.handle.loader.invoker.Invoke(func() { s.dispatch(events) })
		}
		if closed {
			return
		}
	}
}

// dispatch delivers events until the stream is removed.
func (s *stream) dispatch(events []spasdk.Event) {
	for _, ev := range events {
		if s.removed.Load() {
			return
		}
		s.deliver(ev)
	}
}

// remove ends the stream. No batch is delivered after remove returns when
// it is called on the control loop.
func (s *stream) remove() {
	if !s.removed.CompareAndSwap(false, true) {
		return
	}
	close(s.stop)
	if err := s.handle.module.spa.Unsubscribe(s.id); err != nil {
		s.handle.loader.logger.Debug("unsubscribe failed",
			"plugin", s.handle.module.name,
			"subscription", s.id,
			"error", err)
	}
	<-s.done

	h := s.handle
	h.mu.Lock()
	delete(h.streams, s)
	h.mu.Unlock()
}

// remoteMonitor implements spa.Monitor over a plugin instance.
type remoteMonitor struct {
	handle *handle
	stream *stream
}

// SetCallbacks implements spa.Monitor.
func (m *remoteMonitor) SetCallbacks(cb spa.MonitorCallbacks) error {
	if m.stream != nil {
		m.stream.remove()
		m.stream = nil
	}
	if cb == nil {
		return nil
	}

	logger := m.handle.loader.logger.With("plugin", m.handle.module.name, "factory", m.handle.factory)
	s, err := m.handle.subscribe(spa.TypeMonitor, func(ev spasdk.Event) {
		if ev.Kind != spasdk.EventObjectInfo {
			return
		}
		if err := cb.ObjectInfo(ev.ID, toObjectInfo(ev.Object)); err != nil {
			errutil.LogWarn(logger.With("id", ev.ID), "monitor callback failed", err)
		}
	})
	if err != nil {
		return err
	}
	m.stream = s
	return nil
}

// remoteDevice implements spa.Device over a plugin instance.
type remoteDevice struct {
	handle *handle
}

// AddListener implements spa.Device.
func (d *remoteDevice) AddListener(events spa.DeviceEvents) (spa.Hook, error) {
	s, err := d.handle.subscribe(spa.TypeDevice, func(ev spasdk.Event) {
		switch ev.Kind {
		case spasdk.EventInfo:
			if events.Info != nil && ev.Device != nil {
				events.Info(&spa.DeviceInfo{
					ChangeMask: spa.ChangeMask(ev.Device.ChangeMask),
					Props:      fromSDKProps(ev.Device.Props),
				})
			}
		case spasdk.EventObjectInfo:
			if events.ObjectInfo != nil {
				events.ObjectInfo(ev.ID, toObjectInfo(ev.Object))
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return spa.HookFunc(s.remove), nil
}

func toObjectInfo(info *spasdk.ObjectInfo) *spa.ObjectInfo {
	if info == nil {
		return nil
	}
	return &spa.ObjectInfo{
		Type:        spa.InterfaceType(info.Type),
		FactoryName: info.FactoryName,
		Props:       fromSDKProps(info.Props),
	}
}
