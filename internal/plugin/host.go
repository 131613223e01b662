// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package plugin discovers out-of-process plugin modules and hands them to a
// runtime host.
package plugin

import "context"

// Host runs plugin modules of one runtime type.
type Host interface {
	// Register starts a plugin from its manifest and makes its factories
	// loadable.
	Register(ctx context.Context, manifest *Manifest, dir string) error

	// Unregister stops offering a plugin's factories. Handles already
	// loaded stay valid until closed.
	Unregister(ctx context.Context, name string) error

	// Plugins returns names of all registered plugins.
	Plugins() []string

	// Close shuts down the host and all plugins.
	Close(ctx context.Context) error
}
