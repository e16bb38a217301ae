package models

import "time"

// RawRecord is an analyzer output prior to normalization. Timestamps may
// arrive either as nanosecond epoch values or RFC3339 strings.
type RawRecord struct {
	Source             string             `json:"source"`
	RecordID           string             `json:"record_id"`
	TimestampNanos     int64              `json:"timestamp_ns,omitempty"`
	Timestamp          string             `json:"timestamp,omitempty"`
	Latitude           *float64           `json:"latitude,omitempty"`
	Longitude          *float64           `json:"longitude,omitempty"`
	Features           []float64          `json:"feature_vector"`
	DeclaredConfidence float64            `json:"declared_confidence"`
	UncertaintyMetrics map[string]float64 `json:"uncertainty_metrics,omitempty"`
	BehavioralTags     []string           `json:"behavioral_tags,omitempty"`
}

// Batch is one unit of work submitted to the scheduler.
type Batch struct {
	BatchID  string        `json:"batch_id"`
	Records  []RawRecord   `json:"records"`
	Deadline time.Duration `json:"deadline,omitempty"`
}

// WorkerLoad reports one worker's outstanding estimated cost.
type WorkerLoad struct {
	Worker          int   `json:"worker"`
	OutstandingCost int64 `json:"outstanding_cost"`
}

// StatusReport is the read-only control surface snapshot.
type StatusReport struct {
	QueueDepth       int          `json:"queue_depth"`
	QueueCapacity    int          `json:"queue_capacity"`
	Workers          []WorkerLoad `json:"workers"`
	RollingAccuracy  float64      `json:"rolling_accuracy"`
	FeedbackSamples  int          `json:"feedback_samples"`
	BatchesCompleted int64        `json:"batches_completed"`
	BatchesAbandoned int64        `json:"batches_abandoned"`
}
