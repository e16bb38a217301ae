package models

import (
	"time"

	"github.com/paulmach/orb"
)

// Source identifies which analyzer produced a record.
type Source string

const (
	SourceProbabilistic Source = "probabilistic"
	SourceDeterministic Source = "deterministic"
)

// Valid reports whether the source tag is one of the known analyzers.
func (s Source) Valid() bool {
	return s == SourceProbabilistic || s == SourceDeterministic
}

// AnalysisRecord is one normalized observation from either analyzer.
// Records are immutable once created and owned by the pipeline instance
// processing them until emitted or discarded.
type AnalysisRecord struct {
	Source             Source     `json:"source"`
	RecordID           string     `json:"record_id"`
	Timestamp          time.Time  `json:"timestamp"`
	Location           *orb.Point `json:"location,omitempty"`
	Features           []float64  `json:"feature_vector"`
	DeclaredConfidence float64    `json:"declared_confidence"`
	// Uncertainty is the declared per-source uncertainty metrics collapsed
	// onto a common 0-1 scale by the normalizer.
	Uncertainty    float64  `json:"uncertainty"`
	BehavioralTags []string `json:"behavioral_tags,omitempty"`
}
