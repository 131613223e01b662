// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package spa

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/devmon/devmon/internal/property"
)

// Error codes produced by Load.
const (
	CodePluginLoadFailed     = "PLUGIN_LOAD_FAILED"
	CodeInterfaceUnavailable = "INTERFACE_UNAVAILABLE"
)

// Object is a shared, reference-counted plugin handle: one loaded module
// instance plus the interface requested from it. The module is unloaded when
// the last reference is released.
type Object struct {
	handle    Handle
	iface     any
	factory   string
	ifaceType InterfaceType
	refs      atomic.Int32
}

// Load loads factory through loader and retrieves the interface t from it.
// The returned Object holds one reference.
func Load(ctx context.Context, loader Loader, factory string, t InterfaceType, props property.ReadOnly) (*Object, error) {
	handle, err := loader.Load(ctx, factory, props)
	if err != nil {
		return nil, oops.Code(CodePluginLoadFailed).
			In("spa").
			With("factory", factory).
			Hint("is it installed?").
			Wrapf(err, "plugin handle '%s' could not be loaded", factory)
	}
	if handle == nil {
		return nil, oops.Code(CodePluginLoadFailed).
			In("spa").
			With("factory", factory).
			Errorf("plugin handle '%s' could not be loaded", factory)
	}

	iface, err := handle.Interface(t)
	if err == nil && iface == nil {
		err = ErrInterfaceNotSupported
	}
	if err != nil {
		if closeErr := handle.Close(); closeErr != nil {
			slog.Warn("failed to unload plugin handle",
				"factory", factory,
				"error", closeErr)
		}
		return nil, oops.Code(CodeInterfaceUnavailable).
			In("spa").
			With("factory", factory).
			With("interface", string(t)).
			Wrapf(err, "could not get interface %s from plugin handle '%s'", t, factory)
	}

	o := &Object{
		handle:    handle,
		iface:     iface,
		factory:   factory,
		ifaceType: t,
	}
	o.refs.Store(1)
	return o, nil
}

// Interface returns the loaded interface.
func (o *Object) Interface() any {
	return o.iface
}

// Factory returns the factory name the module was loaded from.
func (o *Object) Factory() string {
	return o.factory
}

// InterfaceType returns the requested interface type.
func (o *Object) InterfaceType() InterfaceType {
	return o.ifaceType
}

// Ref acquires a reference and returns o.
func (o *Object) Ref() *Object {
	o.refs.Add(1)
	return o
}

// Unref releases a reference. The module is unloaded when the count reaches
// zero; releasing an already unloaded Object does nothing.
func (o *Object) Unref() {
	for {
		n := o.refs.Load()
		if n <= 0 {
			return
		}
		if o.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				o.unload()
			}
			return
		}
	}
}

// Refs returns the current reference count.
func (o *Object) Refs() int32 {
	return o.refs.Load()
}

func (o *Object) unload() {
	if err := o.handle.Close(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("failed to unload plugin handle",
			"factory", o.factory,
			"error", err)
	}
}
