package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	FramesTotal      prometheus.CounterVec
	ErrorFramesTotal prometheus.CounterVec
	ConnectionsTotal prometheus.CounterVec

	ConnectionsActive prometheus.Gauge

	DispatchDuration prometheus.HistogramVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// InitMetrics initializes the global Prometheus metrics.
func InitMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			FramesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "circuit_frames_total",
					Help: "Total inbound frames routed, by message type and status",
				},
				[]string{"type", "status"},
			),
			ErrorFramesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "circuit_error_frames_total",
					Help: "Total protocol error frames sent, by kind",
				},
				[]string{"kind"},
			),
			ConnectionsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "circuit_connections_total",
					Help: "Total connections by status (accepted/rejected)",
				},
				[]string{"status"},
			),
			ConnectionsActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "circuit_connections_active",
					Help: "Current active WebSocket connections",
				},
			),
			DispatchDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "circuit_dispatch_duration_seconds",
					Help:    "Frame dispatch duration by message type",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"type"},
			),
		}
	})
	return globalMetrics
}

// GetMetrics returns the global metrics instance, or nil before
// InitMetrics runs (all record methods tolerate nil).
func GetMetrics() *Metrics {
	return globalMetrics
}

func (m *Metrics) RecordFrame(msgType, status string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(msgType, status).Inc()
}

func (m *Metrics) RecordErrorFrame(kind string) {
	if m == nil {
		return
	}
	m.ErrorFramesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordConnection(status string) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetConnectionsActive(n float64) {
	if m == nil {
		return
	}
	m.ConnectionsActive.Set(n)
}

func (m *Metrics) RecordDispatchDuration(msgType string, seconds float64) {
	if m == nil {
		return
	}
	m.DispatchDuration.WithLabelValues(msgType).Observe(seconds)
}
