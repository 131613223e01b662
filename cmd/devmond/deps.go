// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/devmon/devmon/internal/observability"
	"github.com/devmon/devmon/internal/plugin"
	"github.com/devmon/devmon/internal/spa"
)

// RunDeps contains injectable dependencies for the run command.
// All fields with nil values will use their default implementations.
type RunDeps struct {
	// PluginHostFactory creates the host running backend plugin processes.
	// Default: goplugin.NewLoader with a fresh capability enforcer
	PluginHostFactory func(invoker Invoker, logger *slog.Logger) PluginHost

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer serving the status and event endpoints
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, status observability.StatusFunc, events *observability.EventHub) ObservabilityServer

	// StaticFactories are in-process plugin factories, looked up before
	// backend plugins.
	// Default: none
	StaticFactories map[string]spa.FactoryFunc

	// RetryBase is the first delay between monitor start attempts.
	// Default: defaultRetryBase
	RetryBase time.Duration

	// LogOutput receives the daemon's log records.
	// Default: os.Stderr
	LogOutput io.Writer

	// OnReady is called once every monitor start has been attempted.
	// Default: nil
	OnReady func(d *daemon)
}

// Invoker schedules work on the control loop.
type Invoker interface {
	Invoke(fn func()) bool
}

// PluginHost runs backend plugins and loads their factories.
type PluginHost interface {
	plugin.Host
	spa.Loader
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}
