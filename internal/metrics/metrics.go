// Package metrics exposes Prometheus instruments for ingestion, replay and
// archiving on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hookdock"

// Replay outcomes.
const (
	ReplayDelivered = "delivered"
	ReplayTransport = "transport_error"
)

// Metrics groups the service's collectors.
type Metrics struct {
	registry *prometheus.Registry

	EventsIngested  *prometheus.CounterVec
	IngestRejected  *prometheus.CounterVec
	BinsCreated     prometheus.Counter
	Replays         *prometheus.CounterVec
	ReplayDuration  prometheus.Histogram
	ReplaysInFlight prometheus.Gauge
	Archives        *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Captured requests stored as events, by method.",
		}, []string{"method"}),
		IngestRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rejected_total",
			Help:      "Inbound requests that did not produce an event, by reason.",
		}, []string{"reason"}),
		BinsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bins_created_total",
			Help:      "Bins created.",
		}),
		Replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_total",
			Help:      "Replay attempts, by outcome.",
		}, []string{"outcome"}),
		ReplayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replay_duration_seconds",
			Help:      "Time spent waiting on replay targets.",
			Buckets:   prometheus.DefBuckets,
		}),
		ReplaysInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replays_in_flight",
			Help:      "Outbound replay calls currently in progress.",
		}),
		Archives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_total",
			Help:      "Bin archive uploads, by outcome.",
		}, []string{"outcome"}),
	}
	r.MustRegister(
		m.EventsIngested,
		m.IngestRejected,
		m.BinsCreated,
		m.Replays,
		m.ReplayDuration,
		m.ReplaysInFlight,
		m.Archives,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
