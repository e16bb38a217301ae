package models

import "time"

// FusedAssessment is the unified fusion output for one correlated cluster.
// FusedConfidence is monotonically non-decreasing in the number of
// independently-corroborating high-strength findings.
type FusedAssessment struct {
	AssessmentID    string               `json:"assessment_id"`
	BatchID         string               `json:"batch_id"`
	MemberRecordIDs []string             `json:"member_record_ids"`
	Correlations    []CorrelationFinding `json:"contributing_correlations"`
	Anomalies       []AnomalyFinding     `json:"contributing_anomalies"`
	FusedConfidence float64              `json:"fused_confidence"`
	Severity        int                  `json:"severity"`
	// DominantSource names the analyzer contributing the larger share of the
	// fused confidence; the tuner uses it to attribute accuracy per source.
	DominantSource Source    `json:"dominant_source"`
	GeneratedAt    time.Time `json:"generation_timestamp"`
}

// IntelligenceRecord is the externally emitted artifact derived from an
// assessment that cleared the emission thresholds. Immutable once emitted.
type IntelligenceRecord struct {
	AssessmentID    string    `json:"assessment_id"`
	BatchID         string    `json:"batch_id"`
	MemberRecordIDs []string  `json:"member_record_ids"`
	FusedConfidence float64   `json:"fused_confidence"`
	Severity        int       `json:"severity"`
	Summary         string    `json:"summary"`
	EmittedAt       time.Time `json:"emitted_at"`
}

// Feedback is an asynchronous ground-truth label for a prior assessment.
type Feedback struct {
	AssessmentID string    `json:"assessment_id"`
	Correct      bool      `json:"correct"`
	Notes        string    `json:"notes,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// BatchResult is the per-batch outcome handed to the result consumer.
type BatchResult struct {
	BatchID          string            `json:"batch_id"`
	Assessments      []FusedAssessment `json:"assessments"`
	DroppedRecords   int               `json:"dropped_records"`
	DeadlineExceeded bool              `json:"deadline_exceeded"`
	Elapsed          time.Duration     `json:"elapsed"`
}
