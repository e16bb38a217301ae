package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeCompleted labels batches that ran the full pipeline.
	OutcomeCompleted = "completed"
	// OutcomeDeadline labels batches abandoned past their deadline.
	OutcomeDeadline = "deadline_exceeded"
	// OutcomeRejected labels batches refused at the scheduler queue.
	OutcomeRejected = "rejected"
)

var (
	batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fusion_engine",
			Name:      "batches_total",
			Help:      "Total number of batches handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	batchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fusion_engine",
			Name:      "batch_seconds",
			Help:      "Batch fusion latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	assessmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fusion_engine",
			Name:      "assessments_total",
			Help:      "Total fused assessments produced.",
		},
	)

	intelligenceEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fusion_engine",
			Name:      "intelligence_emitted_total",
			Help:      "Total intelligence records emitted downstream.",
		},
	)

	recordsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fusion_engine",
			Name:      "records_dropped_total",
			Help:      "Raw records dropped as malformed during normalization.",
		},
	)

	detectorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fusion_engine",
			Name:      "detector_failures_total",
			Help:      "Correlation passes or anomaly detectors that failed and were isolated.",
		},
		[]string{"detector"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fusion_engine",
			Name:      "queue_depth",
			Help:      "Batches waiting in the scheduler queue.",
		},
	)

	tunerAdjustmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fusion_engine",
			Name:      "tuner_adjustments_total",
			Help:      "Snapshot publications performed by the adaptive tuner.",
		},
	)
)

// Register attaches fusion-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		batchesTotal,
		batchDurationSeconds,
		assessmentsTotal,
		intelligenceEmittedTotal,
		recordsDroppedTotal,
		detectorFailuresTotal,
		queueDepth,
		tunerAdjustmentsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveBatch records a batch duration and outcome label.
func ObserveBatch(duration time.Duration, outcome string) {
	batchesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	batchDurationSeconds.Observe(duration.Seconds())
}

// AddAssessments counts fused assessments produced for a batch.
func AddAssessments(n int) {
	if n > 0 {
		assessmentsTotal.Add(float64(n))
	}
}

// IncIntelligenceEmitted counts one emitted intelligence record.
func IncIntelligenceEmitted() {
	intelligenceEmittedTotal.Inc()
}

// AddDroppedRecords counts malformed records dropped during normalization.
func AddDroppedRecords(n int) {
	if n > 0 {
		recordsDroppedTotal.Add(float64(n))
	}
}

// IncDetectorFailure counts one isolated detector or pass failure.
func IncDetectorFailure(detector string) {
	detectorFailuresTotal.WithLabelValues(detector).Inc()
}

// SetQueueDepth publishes the current scheduler queue depth.
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// IncTunerAdjustment counts one tuner snapshot publication.
func IncTunerAdjustment() {
	tunerAdjustmentsTotal.Inc()
}
