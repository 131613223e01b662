// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/devmon/devmon/internal/config"
	"github.com/devmon/devmon/internal/host"
	"github.com/devmon/devmon/internal/logging"
	"github.com/devmon/devmon/internal/loop"
	"github.com/devmon/devmon/internal/monitor"
	"github.com/devmon/devmon/internal/observability"
	"github.com/devmon/devmon/internal/plugin"
	"github.com/devmon/devmon/internal/plugin/capability"
	"github.com/devmon/devmon/internal/plugin/goplugin"
	"github.com/devmon/devmon/internal/policy"
	"github.com/devmon/devmon/internal/spa"
	"github.com/devmon/devmon/pkg/errutil"
)

const (
	serviceName      = "devmond"
	defaultRetryBase = 500 * time.Millisecond
	shutdownTimeout  = 5 * time.Second
)

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the device monitor daemon",
		Long: `Run the daemon: load backend plugins, start every configured monitor
and export the devices and nodes they announce until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runDaemonWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	addDaemonFlags(cmd.Flags())

	return cmd
}

// daemon holds the running components.
type daemon struct {
	loop     *loop.Loop
	core     *host.Host
	plugins  *plugin.Manager
	monitors []*monitor.Monitor
	logger   *slog.Logger
}

// ready reports whether every monitor is running. Safe for concurrent use.
func (d *daemon) ready() bool {
	for _, m := range d.monitors {
		if m.State() != monitor.StateRunning {
			return false
		}
	}
	return true
}

// status reports the monitors and the exported objects. Monitor state is
// read on the control loop.
func (d *daemon) status(ctx context.Context) (*observability.Status, error) {
	st := &observability.Status{Ready: d.ready()}
	err := d.loop.InvokeSync(ctx, func() error {
		for _, m := range d.monitors {
			st.Monitors = append(st.Monitors, observability.MonitorStatus{
				Factory: m.FactoryName(),
				Flags:   m.Flags().String(),
				State:   m.State().String(),
				Devices: len(m.Devices()),
				Nodes:   m.NodeCount(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	st.Objects = d.core.Objects()
	return st, nil
}

// runDaemonWithDeps runs the daemon with injectable dependencies.
// If deps is nil, default implementations are used.
func runDaemonWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *RunDeps) error {
	if deps == nil {
		deps = &RunDeps{}
	}

	// Set up default factories
	if deps.PluginHostFactory == nil {
		deps.PluginHostFactory = func(invoker Invoker, logger *slog.Logger) PluginHost {
			return goplugin.NewLoader(capability.NewEnforcer(), invoker, goplugin.WithLogger(logger))
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker, status observability.StatusFunc, events *observability.EventHub) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker,
				observability.WithStatus(status),
				observability.WithEvents(events),
			)
		}
	}
	if deps.RetryBase <= 0 {
		deps.RetryBase = defaultRetryBase
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := setupLogging(cfg.Log, deps.LogOutput)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	pol, err := loadPolicy(cfg.Policy, logger)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	logger.Info("starting daemon",
		"plugins_dir", cfg.Plugins.Dir,
		"monitors", len(cfg.Monitors),
		"rules", pol.Len(),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d := &daemon{
		loop:   loop.New(loop.WithLogger(logger)),
		logger: logger,
	}
	// The loop outlives ctx so monitors can be stopped on it during shutdown.
	go func() {
		if runErr := d.loop.Run(context.WithoutCancel(ctx)); runErr != nil {
			logger.Error("control loop stopped", "error", runErr)
		}
	}()
	defer func() {
		d.loop.Close()
		<-d.loop.Done()
	}()

	static := spa.NewStaticLoader()
	names := make([]string, 0, len(deps.StaticFactories))
	for name := range deps.StaticFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := static.Register(name, deps.StaticFactories[name]); err != nil {
			return fmt.Errorf("failed to register static factory: %w", err)
		}
	}

	backends := deps.PluginHostFactory(d.loop, logger)
	hostOpts := []host.Option{host.WithLogger(logger)}
	var events *observability.EventHub
	if cfg.Metrics.Addr != "" {
		events = observability.NewEventHub(func() []host.ObjectInfo { return d.core.Objects() }, logger)
		hostOpts = append(hostOpts, host.WithObserver(events.Publish))
	}
	d.core = host.New(spa.MultiLoader{static, backends}, d.loop, hostOpts...)
	d.plugins = plugin.NewManager(cfg.Plugins.Dir,
		plugin.WithHost(backends),
		plugin.WithLogger(logger),
		plugin.WithHostAPI(cfg.Plugins.APIVersion),
	)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()
		if closeErr := d.plugins.Close(closeCtx); closeErr != nil {
			errutil.LogWarn(logger, "failed to close plugins", closeErr)
		}
		if closeErr := d.core.Close(); closeErr != nil {
			errutil.LogWarn(logger, "failed to close host", closeErr)
		}
	}()

	if err := d.plugins.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load plugins: %w", err)
	}
	logger.Info("plugins loaded", "plugins", d.plugins.ListPlugins())

	// Start observability server if configured
	var obsServer ObservabilityServer
	var recorder monitor.Recorder
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, d.ready, d.status, events)
		recorder = obsServer.Metrics()
	}

	for _, mc := range cfg.Monitors {
		opts := []monitor.Option{
			monitor.WithDeviceHook(pol.DeviceHook()),
			monitor.WithNodeHook(pol.NodeHook()),
			monitor.WithLogger(logger),
		}
		if recorder != nil {
			opts = append(opts, monitor.WithMetrics(recorder))
		}
		d.monitors = append(d.monitors, monitor.New(d.core, mc.Factory, mc.MonitorFlags(), opts...))
	}
	defer d.stopMonitors()

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := obsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
		// Monitor observability server errors - cancel context on error
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	for i, m := range d.monitors {
		if err := d.startMonitor(ctx, m, cfg.Monitors[i].StartRetries, deps.RetryBase); err != nil {
			if ctx.Err() != nil {
				break
			}
			errutil.LogError(logger, "monitor failed to start", err)
		}
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("devmond started")
	logger.Info("daemon ready", "ready", d.ready())
	if deps.OnReady != nil {
		deps.OnReady(d)
	}

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	return nil
}

// startMonitor starts m on the control loop, retrying with exponential
// backoff up to retries times.
func (d *daemon) startMonitor(ctx context.Context, m *monitor.Monitor, retries int, base time.Duration) error {
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewExponential(base))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := d.loop.InvokeSync(ctx, func() error {
			return m.Start(ctx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, loop.ErrClosed) || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt <= retries {
			errutil.LogWarnContext(ctx, d.logger, "monitor start failed, retrying", oops.
				With("attempt", attempt).
				With("factory", m.FactoryName()).
				Wrap(err))
		}
		return retry.RetryableError(err)
	})
}

// stopMonitors stops every monitor on the control loop.
func (d *daemon) stopMonitors() {
	if len(d.monitors) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := d.loop.InvokeSync(ctx, func() error {
		for _, m := range d.monitors {
			m.Stop()
		}
		return nil
	})
	if err != nil {
		d.logger.Warn("failed to stop monitors", "error", err)
	}
}

// setupLogging installs the default logger writing to w, or stderr when w
// is nil.
func setupLogging(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	format, err := logging.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  format,
		Level:   level,
		Output:  w,
	}), nil
}

// loadPolicy compiles the configured rules and script.
func loadPolicy(cfg config.PolicyConfig, logger *slog.Logger) (*policy.Policy, error) {
	opts := []policy.Option{policy.WithLogger(logger)}
	if cfg.Script != "" {
		script, err := policy.LoadScript(cfg.Script)
		if err != nil {
			return nil, err
		}
		opts = append(opts, policy.WithScript(script))
	}
	return policy.New(cfg.Rules, opts...)
}

// monitorServerErrors watches for server errors and triggers shutdown.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
