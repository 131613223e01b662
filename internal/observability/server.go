// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package observability serves the daemon's metrics, health probes and
// views of the exported object graph.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/devmon/devmon/internal/host"
)

// Endpoint paths.
const (
	PathMetrics   = "/metrics"
	PathLiveness  = "/healthz/liveness"
	PathReadiness = "/healthz/readiness"
	PathStatus    = "/debug/status"
)

// statusTimeout bounds how long a status request waits for the daemon.
const statusTimeout = 2 * time.Second

// ReadinessChecker returns whether the daemon is ready. It must be safe to
// call from any goroutine.
type ReadinessChecker func() bool

// MonitorStatus describes one configured monitor.
type MonitorStatus struct {
	Factory string `json:"factory"`
	Flags   string `json:"flags,omitempty"`
	State   string `json:"state"`
	Devices int    `json:"devices"`
	Nodes   int    `json:"nodes"`
}

// Status is the daemon state served on PathStatus.
type Status struct {
	Ready    bool              `json:"ready"`
	Monitors []MonitorStatus   `json:"monitors"`
	Objects  []host.ObjectInfo `json:"objects"`
}

// StatusFunc collects the daemon status. ctx is cancelled when the request
// goes away or statusTimeout passes.
type StatusFunc func(ctx context.Context) (*Status, error)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithStatus serves PathStatus from fn. Without it the endpoint is not
// registered.
func WithStatus(fn StatusFunc) ServerOption {
	return func(s *Server) {
		s.status = fn
	}
}

// WithEvents serves hub on PathEvents. Stop closes the hub.
func WithEvents(hub *EventHub) ServerOption {
	return func(s *Server) {
		s.events = hub
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server serves the observability endpoints on a private registry.
type Server struct {
	addr     string
	registry *prometheus.Registry
	metrics  *Metrics
	ready    ReadinessChecker
	status   StatusFunc
	events   *EventHub
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// NewServer creates a server listening on addr ("host:port"; port 0 picks a
// free one) once started.
func NewServer(addr string, ready ReadinessChecker, opts ...ServerOption) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		ready:    ready,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the monitor lifecycle metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(PathMetrics, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc(PathLiveness, func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	mux.HandleFunc(PathReadiness, s.handleReadiness)
	if s.status != nil {
		mux.HandleFunc(PathStatus, s.handleStatus)
	}
	if s.events != nil {
		mux.Handle(PathEvents, s.events)
	}
	return mux
}

// Start listens and serves in the background. The returned channel receives
// a serve error, if any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil, oops.In("observability").Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, oops.In("observability").With("addr", s.addr).Wrapf(err, "listen")
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener = listener
	s.srv = srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", "error", err)
			errCh <- err
		}
	}()

	s.logger.Info("observability server listening", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down gracefully. Stopping a server that is not
// running does nothing. After a failed shutdown Stop may be called again.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return oops.In("observability").Wrapf(err, "shutdown")
	}
	// Shutdown does not track hijacked websocket connections.
	if s.events != nil {
		s.events.Close()
	}
	s.srv = nil
	s.listener = nil
	return nil
}

// Addr returns the listening address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		writeText(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	status, err := s.status(ctx)
	if err != nil {
		s.logger.Warn("status unavailable", "error", err)
		writeText(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		s.logger.Debug("failed to write status", "error", err)
	}
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body + "\n"))
}
