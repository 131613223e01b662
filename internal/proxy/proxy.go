// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package proxy wraps remote handles of objects exported to or constructed on
// the session host.
//
// A Proxy is driven from the control loop and is not safe for concurrent use.
package proxy

import (
	"errors"
	"log/slog"

	"github.com/devmon/devmon/internal/session"
	"github.com/devmon/devmon/internal/spa"
)

// ErrDestroyed is returned by Sync once the host destroyed the object.
var ErrDestroyed = errors.New("remote object was destroyed")

// Proxy owns a remote handle and follows its host-driven lifecycle.
type Proxy struct {
	globalID    uint32
	remote      session.RemoteProxy
	hook        spa.Hook
	onDestroyed func(*Proxy)
	logger      *slog.Logger

	subs    []doneSub
	nextSub int
	seq     int
	closed  bool
}

type doneSub struct {
	id int
	fn func(seq int)
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithOnDestroyed sets the extension point invoked after the host destroyed
// the object. The remote handle is already cleared when fn runs.
func WithOnDestroyed(fn func(p *Proxy)) Option {
	return func(p *Proxy) {
		p.onDestroyed = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Proxy) {
		p.logger = l
	}
}

// New wraps remote and starts listening for its lifecycle events.
// Panics if remote is nil.
func New(remote session.RemoteProxy, opts ...Option) *Proxy {
	if remote == nil {
		panic("proxy: remote cannot be nil")
	}
	p := &Proxy{
		globalID: remote.GlobalID(),
		remote:   remote,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.hook = remote.AddListener(session.ProxyEvents{
		Destroyed: p.handleDestroyed,
		Done:      p.handleDone,
	})
	return p
}

// GlobalID returns the id the host assigned to the object.
func (p *Proxy) GlobalID() uint32 {
	return p.globalID
}

// Remote returns the remote handle, or nil once the host destroyed it.
func (p *Proxy) Remote() session.RemoteProxy {
	return p.remote
}

// Destroyed reports whether the host destroyed the object.
func (p *Proxy) Destroyed() bool {
	return p.remote == nil
}

// Sync issues a sync request on the remote handle. The Done subscribers are
// notified once every operation queued before it completed. Returns
// ErrDestroyed without contacting the host after destruction.
func (p *Proxy) Sync() (int, error) {
	if p.remote == nil {
		return 0, ErrDestroyed
	}
	p.seq++
	return p.remote.Sync(p.seq), nil
}

// OnDone subscribes fn to completion notifications. The returned function
// cancels the subscription.
func (p *Proxy) OnDone(fn func(seq int)) (cancel func()) {
	p.nextSub++
	id := p.nextSub
	p.subs = append(p.subs, doneSub{id: id, fn: fn})
	return func() {
		for i, s := range p.subs {
			if s.id == id {
				p.subs = append(p.subs[:i], p.subs[i+1:]...)
				return
			}
		}
	}
}

// Close stops listening and destroys the remote object if the host has not
// already done so. Close is idempotent.
func (p *Proxy) Close() {
	if p.closed {
		return
	}
	p.closed = true

	if p.hook != nil {
		p.hook.Remove()
		p.hook = nil
	}
	if p.remote != nil {
		p.logger.Debug("destroying remote object", "global_id", p.globalID)
		p.remote.Destroy()
		p.remote = nil
	}
	p.subs = nil
}

func (p *Proxy) handleDestroyed() {
	if p.remote == nil {
		return
	}
	p.remote = nil
	p.logger.Debug("remote object destroyed by host", "global_id", p.globalID)

	if p.onDestroyed != nil {
		p.onDestroyed(p)
	}
}

func (p *Proxy) handleDone(seq int) {
	subs := make([]doneSub, len(p.subs))
	copy(subs, p.subs)
	for _, s := range subs {
		s.fn(seq)
	}
}
