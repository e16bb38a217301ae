package engine

import (
	"math"
	"testing"

	"github.com/sentinelstack/fusion-engine/internal/models"
	"github.com/sentinelstack/fusion-engine/internal/tuner"
)

func fusionRecord(id string, source models.Source, confidence, uncertainty float64) models.AnalysisRecord {
	rec := recordAt(id, source, 0)
	rec.DeclaredConfidence = confidence
	rec.Uncertainty = uncertainty
	return rec
}

func pairFinding(strength float64, ids ...string) models.CorrelationFinding {
	return models.CorrelationFinding{
		Dimension:       models.DimensionTemporal,
		MemberRecordIDs: ids,
		Strength:        strength,
		Tier:            models.TierForStrength(strength),
	}
}

func TestFuseSingleCluster(t *testing.T) {
	f := NewFuser(nil, FusionConfig{})
	records := []models.AnalysisRecord{
		fusionRecord("p1", models.SourceProbabilistic, 0.8, 0.1),
		fusionRecord("d1", models.SourceDeterministic, 0.9, 0),
	}
	correlations := []models.CorrelationFinding{pairFinding(0.9, "d1", "p1")}

	assessments := f.Fuse("batch-1", records, correlations, nil, tuner.DefaultSnapshot())
	if len(assessments) != 1 {
		t.Fatalf("expected 1 assessment, got %d", len(assessments))
	}
	a := assessments[0]
	if a.BatchID != "batch-1" || a.AssessmentID == "" {
		t.Fatalf("missing identifiers: %+v", a)
	}
	if len(a.MemberRecordIDs) != 2 || a.MemberRecordIDs[0] != "d1" {
		t.Fatalf("unexpected members: %v", a.MemberRecordIDs)
	}

	// Equal weights: (0.5*0.72 + 0.5*0.9) / 1.0 with one strong finding and
	// no corroboration boost.
	want := (0.5*0.8*0.9 + 0.5*0.9)
	if math.Abs(a.FusedConfidence-want) > 1e-9 {
		t.Fatalf("unexpected fused confidence: got %f want %f", a.FusedConfidence, want)
	}
	if a.DominantSource != models.SourceDeterministic {
		t.Fatalf("unexpected dominant source: %s", a.DominantSource)
	}
	if a.Severity != severityBand(want) {
		t.Fatalf("severity does not match band: %d", a.Severity)
	}
}

func TestFuseCorroborationMonotonic(t *testing.T) {
	f := NewFuser(nil, FusionConfig{})
	records := []models.AnalysisRecord{
		fusionRecord("p1", models.SourceProbabilistic, 0.6, 0),
		fusionRecord("p2", models.SourceProbabilistic, 0.6, 0),
	}
	base := []models.CorrelationFinding{pairFinding(0.9, "p1", "p2")}

	previous := 0.0
	for extra := 0; extra <= 7; extra++ {
		anomalies := make([]models.AnomalyFinding, 0, extra)
		for i := 0; i < extra; i++ {
			anomalies = append(anomalies, models.AnomalyFinding{
				DetectorName:   "timing",
				TargetRecordID: "p1",
				Score:          0.9,
				Class:          models.AnomalyTiming,
			})
		}
		assessments := f.Fuse("b", records, base, anomalies, tuner.DefaultSnapshot())
		if len(assessments) != 1 {
			t.Fatalf("expected 1 assessment with %d anomalies, got %d", extra, len(assessments))
		}
		got := assessments[0].FusedConfidence
		if got < previous {
			t.Fatalf("confidence decreased with more corroboration: %f -> %f", previous, got)
		}
		if got > 1 {
			t.Fatalf("confidence exceeded 1: %f", got)
		}
		previous = got
	}

	// Boost caps at five extra strong findings.
	capped := f.Fuse("b", records, base, manyAnomalies("p1", 5), tuner.DefaultSnapshot())
	beyond := f.Fuse("b", records, base, manyAnomalies("p1", 10), tuner.DefaultSnapshot())
	if capped[0].FusedConfidence != beyond[0].FusedConfidence {
		t.Fatalf("boost not capped: %f vs %f", capped[0].FusedConfidence, beyond[0].FusedConfidence)
	}
}

func manyAnomalies(target string, n int) []models.AnomalyFinding {
	out := make([]models.AnomalyFinding, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.AnomalyFinding{
			DetectorName:   "timing",
			TargetRecordID: target,
			Score:          0.9,
			Class:          models.AnomalyTiming,
		})
	}
	return out
}

func TestSourceConfidencePenaltyBounded(t *testing.T) {
	cases := []struct {
		uncertainty float64
		want        float64
	}{
		{0, 0.8},
		{0.2, 0.8 * 0.8},
		{0.5, 0.8 * 0.5},
		{0.9, 0.8 * 0.5},
		{1, 0.8 * 0.5},
	}
	for _, tc := range cases {
		rec := fusionRecord("r", models.SourceProbabilistic, 0.8, tc.uncertainty)
		got := SourceConfidence(rec)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("uncertainty %f: got %f want %f", tc.uncertainty, got, tc.want)
		}
		if got < 0.8*0.5 {
			t.Fatalf("penalty exceeded 50%%: %f", got)
		}
	}
}

func TestFuseSkipsLowConfidenceClusters(t *testing.T) {
	f := NewFuser(nil, FusionConfig{MinRecordConfidence: 0.1})
	records := []models.AnalysisRecord{
		fusionRecord("p1", models.SourceProbabilistic, 0.05, 0),
		fusionRecord("p2", models.SourceProbabilistic, 0.05, 0),
	}
	correlations := []models.CorrelationFinding{pairFinding(0.9, "p1", "p2")}

	if assessments := f.Fuse("b", records, correlations, nil, tuner.DefaultSnapshot()); len(assessments) != 0 {
		t.Fatalf("expected no assessments for below-floor records, got %d", len(assessments))
	}
}

func TestFuseSeparateClusters(t *testing.T) {
	f := NewFuser(nil, FusionConfig{})
	records := []models.AnalysisRecord{
		fusionRecord("a", models.SourceProbabilistic, 0.8, 0),
		fusionRecord("b", models.SourceProbabilistic, 0.8, 0),
		fusionRecord("c", models.SourceDeterministic, 0.8, 0),
		fusionRecord("d", models.SourceDeterministic, 0.8, 0),
	}
	correlations := []models.CorrelationFinding{
		pairFinding(0.9, "a", "b"),
		pairFinding(0.9, "c", "d"),
	}

	assessments := f.Fuse("b", records, correlations, nil, tuner.DefaultSnapshot())
	if len(assessments) != 2 {
		t.Fatalf("expected 2 assessments, got %d", len(assessments))
	}
	// Discovery order follows finding reference order.
	if assessments[0].MemberRecordIDs[0] != "a" || assessments[1].MemberRecordIDs[0] != "c" {
		t.Fatalf("unexpected cluster order: %v / %v",
			assessments[0].MemberRecordIDs, assessments[1].MemberRecordIDs)
	}
}

func TestFuseAnomalyOnlyCluster(t *testing.T) {
	f := NewFuser(nil, FusionConfig{})
	records := []models.AnalysisRecord{
		fusionRecord("lone", models.SourceDeterministic, 0.9, 0),
	}
	anomalies := []models.AnomalyFinding{{
		DetectorName:   "statistical_outlier",
		TargetRecordID: "lone",
		Score:          0.8,
		Class:          models.AnomalyStatisticalOutlier,
	}}

	assessments := f.Fuse("b", records, nil, anomalies, tuner.DefaultSnapshot())
	if len(assessments) != 1 {
		t.Fatalf("expected an anomaly-only assessment, got %d", len(assessments))
	}
	if len(assessments[0].Anomalies) != 1 || len(assessments[0].Correlations) != 0 {
		t.Fatalf("unexpected findings: %+v", assessments[0])
	}
}

func TestSeverityBands(t *testing.T) {
	cases := []struct {
		confidence float64
		want       int
	}{
		{0, 1},
		{0.19, 1},
		{0.2, 2},
		{0.45, 3},
		{0.7, 4},
		{0.85, 5},
		{1, 5},
	}
	for _, tc := range cases {
		if got := severityBand(tc.confidence); got != tc.want {
			t.Fatalf("confidence %f: got band %d want %d", tc.confidence, got, tc.want)
		}
	}
}

func TestCorroborationBoost(t *testing.T) {
	if corroborationBoost(0) != 1 || corroborationBoost(1) != 1 {
		t.Fatalf("expected no boost below two strong findings")
	}
	if got := corroborationBoost(3); math.Abs(got-1.1) > 1e-9 {
		t.Fatalf("expected 1.1 for two extra findings, got %f", got)
	}
	if corroborationBoost(20) != corroborationBoost(6) {
		t.Fatalf("expected boost cap at five extra findings")
	}
}
