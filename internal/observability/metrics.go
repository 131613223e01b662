// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/devmon/devmon/internal/monitor"
)

// Start results.
const (
	resultOK     = "ok"
	resultFailed = "failed"
)

// Compile-time interface check.
var _ monitor.Recorder = (*Metrics)(nil)

// Metrics records device and node lifecycle counts per monitor.
type Metrics struct {
	Devices        *prometheus.GaugeVec
	Nodes          *prometheus.GaugeVec
	ObjectsCreated *prometheus.CounterVec
	ObjectFailures *prometheus.CounterVec
	MonitorStarts  *prometheus.CounterVec
}

// NewMetrics creates and registers the devmon metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Devices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devmon_devices",
				Help: "Number of live devices by monitor",
			},
			[]string{"monitor"},
		),
		Nodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devmon_nodes",
				Help: "Number of live nodes by monitor",
			},
			[]string{"monitor"},
		),
		ObjectsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devmon_objects_created_total",
				Help: "Total number of devices and nodes created by monitor and kind",
			},
			[]string{"monitor", "kind"},
		),
		ObjectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devmon_object_failures_total",
				Help: "Total number of abandoned device and node creations by monitor, kind and error code",
			},
			[]string{"monitor", "kind", "code"},
		),
		MonitorStarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devmon_monitor_starts_total",
				Help: "Total number of monitor start attempts by monitor and result",
			},
			[]string{"monitor", "result"},
		),
	}

	reg.MustRegister(m.Devices, m.Nodes, m.ObjectsCreated, m.ObjectFailures, m.MonitorStarts)
	return m
}

func (m *Metrics) gauge(kind string) *prometheus.GaugeVec {
	if kind == monitor.KindNode {
		return m.Nodes
	}
	return m.Devices
}

// MonitorStarted implements monitor.Recorder.
func (m *Metrics) MonitorStarted(name string, ok bool) {
	result := resultOK
	if !ok {
		result = resultFailed
	}
	m.MonitorStarts.WithLabelValues(name, result).Inc()
}

// ObjectAdded implements monitor.Recorder.
func (m *Metrics) ObjectAdded(name, kind string) {
	m.ObjectsCreated.WithLabelValues(name, kind).Inc()
	m.gauge(kind).WithLabelValues(name).Inc()
}

// ObjectRemoved implements monitor.Recorder.
func (m *Metrics) ObjectRemoved(name, kind string) {
	m.gauge(kind).WithLabelValues(name).Dec()
}

// ObjectFailed implements monitor.Recorder.
func (m *Metrics) ObjectFailed(name, kind, code string) {
	if code == "" {
		code = "UNKNOWN"
	}
	m.ObjectFailures.WithLabelValues(name, kind, code).Inc()
}
