// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package spasdk

import (
	"errors"
	"net/rpc"

	hashiplug "github.com/hashicorp/go-plugin"
)

// Plugin implements go-plugin's Plugin interface for the net/rpc protocol.
type Plugin struct {
	// Impl is used by the plugin side; hosts leave it nil.
	Impl *Server
}

var _ hashiplug.Plugin = (*Plugin)(nil)

// Server returns the RPC server (called by the plugin process).
func (p *Plugin) Server(*hashiplug.MuxBroker) (interface{}, error) {
	if p.Impl == nil {
		return nil, errors.New("spasdk: server is nil")
	}
	return p.Impl, nil
}

// Client returns the typed client (called by the host process).
func (p *Plugin) Client(_ *hashiplug.MuxBroker, c *rpc.Client) (interface{}, error) {
	return NewClient(c), nil
}

// PluginMap is the set of plugins a host dispenses.
var PluginMap = map[string]hashiplug.Plugin{
	PluginName: &Plugin{},
}

// ServeConfig configures the plugin server.
type ServeConfig struct {
	// Factories are the factories served. Required; Serve panics without.
	Factories []Factory
}

// Serve starts the plugin server. This should be called from main().
// It blocks until the host closes the plugin.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("spasdk: config cannot be nil")
	}
	if len(config.Factories) == 0 {
		panic("spasdk: config.Factories cannot be empty")
	}
	srv, err := NewServer(config.Factories...)
	if err != nil {
		panic("spasdk: " + err.Error())
	}
	defer srv.Shutdown()

	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			PluginName: &Plugin{Impl: srv},
		},
	})
}
