package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_aggregates"

// Metrics holds the Prometheus collectors for polling rounds.
type Metrics struct {
	RoundsTotal      prometheus.Counter
	RoundsSkipped    prometheus.Counter
	RoundDuration    prometheus.Histogram
	LocationOutcomes *prometheus.CounterVec // labels: outcome={ok,fetch_failed,validation_failed,store_failed}
	PollingPeriod    prometheus.Gauge
	PublishErrors    prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RoundsTotal,
		m.RoundsSkipped,
		m.RoundDuration,
		m.LocationOutcomes,
		m.PollingPeriod,
		m.PublishErrors,
	)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, so
// tests can build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Completed polling rounds.",
		}),
		RoundsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_skipped_total",
			Help:      "Ticks skipped because the previous round was still running.",
		}),
		RoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Wall time of one fetch-and-aggregate round.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		LocationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_outcomes_total",
			Help:      "Per-location round outcomes.",
		}, []string{"outcome"}),
		PollingPeriod: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "polling_period_seconds",
			Help:      "Currently configured polling period; 0 when stopped.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_publish_errors_total",
			Help:      "Round snapshots that could not be published.",
		}),
	}
}
