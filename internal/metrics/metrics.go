// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline counters. The zero value is not usable; call New.
type Metrics struct {
	// Frame path
	FramesProcessed atomic.Uint64
	HandsDetected   atomic.Uint64
	AnalysisErrors  atomic.Uint64
	ActiveSessions  atomic.Int64

	// State machine output
	HandStatusEvents atomic.Uint64
	GestureEvents    atomic.Uint64
	ResetEvents      atomic.Uint64

	// Bus sink
	BusPublished atomic.Uint64
	BusDropped   atomic.Uint64
	BusFailed    atomic.Uint64

	// Session sink
	BridgeDelivered  atomic.Uint64
	BridgeFailed     atomic.Uint64
	BridgeReconnects atomic.Uint64
	BridgeQueueDrops atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) register() {
	m.counter("gestalyze_frames_processed_total", "Frames run through the gesture pipeline", &m.FramesProcessed)
	m.counter("gestalyze_hands_detected_total", "Frames that carried an analyzable hand", &m.HandsDetected)
	m.counter("gestalyze_analysis_errors_total", "Frames dropped because landmarks or classification failed", &m.AnalysisErrors)

	m.counter("gestalyze_hand_status_events_total", "Stable hand status events emitted", &m.HandStatusEvents)
	m.counter("gestalyze_gesture_events_total", "Stable gesture events emitted", &m.GestureEvents)
	m.counter("gestalyze_reset_events_total", "Hand lost reset events emitted", &m.ResetEvents)

	m.counter("gestalyze_bus_published_total", "Messages handed to the bus", &m.BusPublished)
	m.counter("gestalyze_bus_dropped_total", "Messages dropped because the bus was disconnected", &m.BusDropped)
	m.counter("gestalyze_bus_failed_total", "Bus publishes that reported an error", &m.BusFailed)

	m.counter("gestalyze_bridge_delivered_total", "Messages delivered to the remote session", &m.BridgeDelivered)
	m.counter("gestalyze_bridge_failed_total", "Messages lost after exhausting delivery attempts", &m.BridgeFailed)
	m.counter("gestalyze_bridge_reconnects_total", "Remote session reconnects", &m.BridgeReconnects)
	m.counter("gestalyze_bridge_queue_drops_total", "Messages dropped because the bridge queue was full", &m.BridgeQueueDrops)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "gestalyze_active_sessions",
			Help: "Frame-processing sessions currently open",
		},
		func() float64 { return float64(m.ActiveSessions.Load()) },
	))
}

// Handler returns an HTTP handler serving the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
