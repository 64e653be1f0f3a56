// Package metrics holds the Prometheus collectors for the tracking
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Ingestion metrics
	EventsTotal *prometheus.CounterVec // labelled by outcome

	// Interval pipeline metrics
	IntervalsClosed      prometheus.Counter
	IntervalsFolded      prometheus.Counter
	IntervalsReplayed    prometheus.Counter
	IntervalsQuarantined prometheus.Counter
	WriteRetries         prometheus.Counter

	// Checkpoint metrics
	CheckpointsTotal   prometheus.Counter
	CheckpointDuration prometheus.Histogram

	// Engine state
	QueueDepth prometheus.Gauge
	Tracking   prometheus.Gauge // 1 while an interval is open
}

// Event outcomes for EventsTotal.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDebounced = "debounced"
	OutcomeRejected  = "rejected"
)

// New registers the collectors on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the collectors on the given registry. Tests use a
// private registry to avoid duplicate registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xstalker_events_total",
				Help: "Focus events processed, by outcome",
			},
			[]string{"outcome"},
		),
		IntervalsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "xstalker_intervals_closed_total",
			Help: "Closed intervals emitted by the tracker",
		}),
		IntervalsFolded: factory.NewCounter(prometheus.CounterOpts{
			Name: "xstalker_intervals_folded_total",
			Help: "Closed intervals folded into the bucket table",
		}),
		IntervalsReplayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "xstalker_intervals_replayed_total",
			Help: "Intervals re-folded from the log during recovery",
		}),
		IntervalsQuarantined: factory.NewCounter(prometheus.CounterOpts{
			Name: "xstalker_intervals_quarantined_total",
			Help: "Corrupt interval rows moved to quarantine",
		}),
		WriteRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "xstalker_store_write_retries_total",
			Help: "Retried interval log and checkpoint writes",
		}),
		CheckpointsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "xstalker_checkpoints_total",
			Help: "Bucket table checkpoints written",
		}),
		CheckpointDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "xstalker_checkpoint_duration_seconds",
			Help:    "Time spent writing a checkpoint",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "xstalker_fold_queue_depth",
			Help: "Closed intervals waiting for the fold worker",
		}),
		Tracking: factory.NewGauge(prometheus.GaugeOpts{
			Name: "xstalker_tracking",
			Help: "1 while an interval is open, 0 while idle",
		}),
	}
}
