package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the ambient counters/gauges SPEC_FULL.md's domain-stack
// assigns to this package, grounded on claircore's own
// promauto.NewCounterVec/NewGaugeVec usage (datastore/postgres/store_metrics.go).
// Each Service owns its own prometheus.Registry rather than registering
// against the global DefaultRegisterer, so constructing more than one
// Service in a process (or a test) never collides on metric names.
//
// Nothing in the core resolve/fetch/assemble path reads these back; they
// exist for an operator scraping /metrics on whatever HTTP server embeds
// this Service, same as claircore's own query counters are never consulted
// by claircore itself.
type metrics struct {
	registry *prometheus.Registry

	cacheHitRatio     prometheus.Gauge
	inFlightDownloads prometheus.Gauge
	conflicts         prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		cacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bundle",
			Subsystem: "rpc",
			Name:      "cache_hit_ratio",
			Help:      "Fraction of cache lookups served from the in-memory/disk cache since startup.",
		}),
		inFlightDownloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bundle",
			Subsystem: "rpc",
			Name:      "downloads_in_flight",
			Help:      "Number of download.start sessions currently running.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bundle",
			Subsystem: "rpc",
			Name:      "resolve_conflicts_total",
			Help:      "Version-mismatch and circular-dependency conflicts recorded across all resolve calls.",
		}),
	}
	m.registry.MustRegister(m.cacheHitRatio, m.inFlightDownloads, m.conflicts)
	return m
}

// Registry exposes the Service's metric registry so a transport layer can
// mount /metrics (promhttp.HandlerFor(s.metrics.Registry(), ...)).
func (s *Service) Registry() *prometheus.Registry { return s.metrics.registry }
