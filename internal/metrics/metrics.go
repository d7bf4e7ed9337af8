// Package metrics exposes Prometheus instrumentation for ingestion and classification.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsIngested counts events taken off the queue by kind
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_events_ingested_total",
		Help: "Events handled by the ingest consumer by kind",
	}, []string{"kind"})

	// EventsDropped counts events rejected because the queue was full
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_events_dropped_total",
		Help: "Events dropped because the ingest queue was full",
	})

	// EventErrors counts per-event failures by stage
	EventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_event_errors_total",
		Help: "Per-event failures by stage",
	}, []string{"stage"})

	// QueueDepth tracks the number of queued events
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_ingest_queue_depth",
		Help: "Events waiting in the ingest queue",
	})

	// PeriodsWritten counts activity states by classification and window phase
	PeriodsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_periods_total",
		Help: "Activity states written by state and window phase",
	}, []string{"state", "phase"})

	// TickFailures counts scheduler ticks that wrote nothing
	TickFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_tick_failures_total",
		Help: "Scheduler ticks abandoned because of an error",
	})

	// TickDuration tracks how long a scheduler tick takes
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_tick_duration_seconds",
		Help:    "Scheduler tick duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	// AppSwitches tracks the switch count recorded per active period
	AppSwitches = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_period_app_switches",
		Help:    "Application switches per active period",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
