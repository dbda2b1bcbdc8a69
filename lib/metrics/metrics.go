// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the server's Prometheus metrics.
//
// A nil *Metrics is valid and records nothing, so library code can
// take one unconditionally and tests can pass nil.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/driverfleet/lib/protocol"
)

// StatusOther is the status label for results whose status is not one
// of the defined values.
const StatusOther = "other"

// Transfer directions.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Metrics holds the server's collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	deployments        *prometheus.CounterVec
	deploymentDuration *prometheus.HistogramVec
	transferBytes      *prometheus.CounterVec
	connections        prometheus.Counter
}

// New registers the collectors with registry. sessions reports the
// current number of registered sessions whenever the gauge is scraped.
func New(registry *prometheus.Registry, sessions func() int) *Metrics {
	factory := promauto.With(registry)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "driverfleet_sessions",
			Help: "Number of registered agent sessions",
		},
		func() float64 { return float64(sessions()) },
	)

	return &Metrics{
		gatherer: registry,
		deployments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driverfleet_deployments_total",
				Help: "Deployment attempts by result status",
			},
			[]string{"status"},
		),
		deploymentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "driverfleet_deployment_duration_seconds",
				Help:    "Time from install command to result, by status",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 180},
			},
			[]string{"status"},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driverfleet_transfer_bytes_total",
				Help: "Package bytes sent to agents or received into the store by upload",
			},
			[]string{"direction"},
		),
		connections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "driverfleet_connections_total",
				Help: "Agent connections accepted",
			},
		),
	}
}

// RecordDeployment counts one deployment outcome.
func (m *Metrics) RecordDeployment(status protocol.Status, duration time.Duration) {
	if m == nil {
		return
	}
	label := string(status)
	if !status.Valid() {
		label = StatusOther
	}
	m.deployments.WithLabelValues(label).Inc()
	m.deploymentDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// AddTransferBytes counts payload bytes moved in direction.
func (m *Metrics) AddTransferBytes(direction string, n int) {
	if m == nil {
		return
	}
	m.transferBytes.WithLabelValues(direction).Add(float64(n))
}

// ConnectionAccepted counts one accepted agent connection.
func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
