package models

// Dimension enumerates the independent correlation passes.
type Dimension string

const (
	DimensionTemporal    Dimension = "temporal"
	DimensionSpatial     Dimension = "spatial"
	DimensionCrossSignal Dimension = "cross_signal"
	DimensionBehavioral  Dimension = "behavioral"
)

// ConfidenceTier grades a correlation finding by its strength.
type ConfidenceTier string

const (
	TierMedium   ConfidenceTier = "medium"
	TierHigh     ConfidenceTier = "high"
	TierVerified ConfidenceTier = "verified"
)

// TierForStrength maps a correlation strength onto its confidence tier.
func TierForStrength(strength float64) ConfidenceTier {
	switch {
	case strength > 0.8:
		return TierVerified
	case strength > 0.6:
		return TierHigh
	default:
		return TierMedium
	}
}

// CorrelationFinding is the scored output of one correlation pass.
// MemberRecordIDs always holds at least two sorted record IDs.
type CorrelationFinding struct {
	Dimension       Dimension      `json:"dimension"`
	MemberRecordIDs []string       `json:"member_record_ids"`
	Strength        float64        `json:"strength"`
	Tier            ConfidenceTier `json:"confidence_tier"`
}

// AnomalyClass names the category an anomaly detector assigned.
type AnomalyClass string

const (
	AnomalyStatisticalOutlier AnomalyClass = "STATISTICAL_OUTLIER"
	AnomalyTiming             AnomalyClass = "TIMING_ANOMALY"
)

// AnomalyFinding is one detector hit against a single record.
type AnomalyFinding struct {
	DetectorName   string       `json:"detector_name"`
	TargetRecordID string       `json:"target_record_id"`
	Score          float64      `json:"anomaly_score"`
	Class          AnomalyClass `json:"anomaly_class"`
}
