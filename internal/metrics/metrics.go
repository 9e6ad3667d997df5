// Package metrics provides Prometheus metrics for the clnode daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsTotal           *prometheus.CounterVec
	DispatchErrorsTotal   *prometheus.CounterVec
	DispatchDuration      *prometheus.HistogramVec
	RankerSourceFailures  *prometheus.CounterVec
	ContextBundleBytes    *prometheus.HistogramVec
	BroadcastSubscribers  prometheus.Gauge
	BroadcastDroppedTotal prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clnode_events_total",
				Help: "Hook events received by event name.",
			},
			[]string{"event"},
		),
		DispatchErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clnode_dispatch_errors_total",
				Help: "Hook events whose handling failed or panicked.",
			},
			[]string{"event"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clnode_dispatch_duration_seconds",
				Help:    "Hook event handling duration by event name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event"},
		),
		RankerSourceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clnode_ranker_source_failures_total",
				Help: "Context ranker source queries that failed and were skipped.",
			},
			[]string{"source"},
		),
		ContextBundleBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clnode_context_bundle_bytes",
				Help:    "Size of generated context bundles.",
				Buckets: prometheus.ExponentialBuckets(64, 2, 10),
			},
			[]string{"kind"},
		),
		BroadcastSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clnode_broadcast_subscribers",
				Help: "Live broadcast subscribers.",
			},
		),
		BroadcastDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clnode_broadcast_dropped_total",
				Help: "Broadcast messages dropped because a subscriber was slow.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.EventsTotal)
	reg.MustRegister(m.DispatchErrorsTotal)
	reg.MustRegister(m.DispatchDuration)
	reg.MustRegister(m.RankerSourceFailures)
	reg.MustRegister(m.ContextBundleBytes)
	reg.MustRegister(m.BroadcastSubscribers)
	reg.MustRegister(m.BroadcastDroppedTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent increments the received-event counter.
func (m *Metrics) RecordEvent(event string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event).Inc()
}

// RecordDispatchError increments the dispatch error counter.
func (m *Metrics) RecordDispatchError(event string) {
	if m == nil {
		return
	}
	m.DispatchErrorsTotal.WithLabelValues(event).Inc()
}

// ObserveDispatch records how long an event took to handle.
func (m *Metrics) ObserveDispatch(event string, seconds float64) {
	if m == nil {
		return
	}
	m.DispatchDuration.WithLabelValues(event).Observe(seconds)
}

// RecordSourceFailure counts a failed ranker source.
func (m *Metrics) RecordSourceFailure(source string) {
	if m == nil {
		return
	}
	m.RankerSourceFailures.WithLabelValues(source).Inc()
}

// ObserveBundle records the size of a generated context bundle.
func (m *Metrics) ObserveBundle(kind string, size int) {
	if m == nil {
		return
	}
	m.ContextBundleBytes.WithLabelValues(kind).Observe(float64(size))
}

// SetSubscribers sets the live subscriber gauge.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.BroadcastSubscribers.Set(float64(n))
}

// RecordDropped counts a dropped broadcast message.
func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.BroadcastDroppedTotal.Inc()
}
