package tuner

import (
	"math"
	"testing"

	"github.com/sentinelstack/fusion-engine/internal/models"
)

func TestDefaultSnapshot(t *testing.T) {
	snap := DefaultSnapshot()
	if snap.Thresholds.CrossSignal != 0.5 || snap.Thresholds.Temporal != 0.3 {
		t.Fatalf("unexpected default thresholds: %+v", snap.Thresholds)
	}
	if snap.ProbabilisticWeight+snap.DeterministicWeight != 1 {
		t.Fatalf("default weights must sum to 1")
	}
	if snap.Sensitivity.TimingSigma != 3 {
		t.Fatalf("unexpected timing sigma: %f", snap.Sensitivity.TimingSigma)
	}
}

func TestThresholdsFor(t *testing.T) {
	th := Thresholds{Temporal: 0.1, Spatial: 0.2, CrossSignal: 0.3, Behavioral: 0.4}
	cases := []struct {
		dim  models.Dimension
		want float64
	}{
		{models.DimensionTemporal, 0.1},
		{models.DimensionSpatial, 0.2},
		{models.DimensionCrossSignal, 0.3},
		{models.DimensionBehavioral, 0.4},
	}
	for _, tc := range cases {
		if got := th.For(tc.dim); got != tc.want {
			t.Fatalf("dimension %s: got %f want %f", tc.dim, got, tc.want)
		}
	}
}

func TestAdjustRaisesThresholdsOnFalsePositives(t *testing.T) {
	tun := New(nil, Config{WindowSize: 100, Step: 0.05, MaxErrorRate: 0.10})

	// Every labeled outcome is an emitted assessment the operator rejected.
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		tun.RecordOutcome(Outcome{AssessmentID: id, Confidence: 0.8, Emitted: true})
		tun.ApplyFeedback(models.Feedback{AssessmentID: id, Correct: false})
	}

	before := tun.Snapshot()
	tun.Adjust()
	after := tun.Snapshot()

	if after.Version != before.Version+1 {
		t.Fatalf("expected version bump, got %d -> %d", before.Version, after.Version)
	}
	if after.Thresholds.Temporal <= before.Thresholds.Temporal {
		t.Fatalf("expected thresholds to rise: %f -> %f",
			before.Thresholds.Temporal, after.Thresholds.Temporal)
	}
	// The published snapshot held before Adjust must be untouched.
	if before.Thresholds.Temporal != 0.3 {
		t.Fatalf("prior snapshot mutated: %f", before.Thresholds.Temporal)
	}
}

func TestAdjustLowersThresholdsOnFalseNegatives(t *testing.T) {
	tun := New(nil, Config{WindowSize: 100, Step: 0.05, MaxErrorRate: 0.10})

	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		tun.RecordOutcome(Outcome{AssessmentID: id, Confidence: 0.4, Emitted: false})
		tun.ApplyFeedback(models.Feedback{AssessmentID: id, Correct: true})
	}

	tun.Adjust()
	after := tun.Snapshot()
	if after.Thresholds.CrossSignal >= 0.5 {
		t.Fatalf("expected cross-signal threshold to drop, got %f", after.Thresholds.CrossSignal)
	}
	// Already at the floor; must clamp instead of undershooting.
	if after.Thresholds.Temporal < 0.3 {
		t.Fatalf("threshold undershot the floor: %f", after.Thresholds.Temporal)
	}
}

func TestAdjustNoLabelsIsNoOp(t *testing.T) {
	tun := New(nil, Config{})
	tun.RecordOutcome(Outcome{AssessmentID: "unlabeled", Emitted: true})

	before := tun.Snapshot()
	tun.Adjust()
	if tun.Snapshot() != before {
		t.Fatalf("expected no snapshot publication without labels")
	}
}

func TestAdjustReweightsSources(t *testing.T) {
	tun := New(nil, Config{WindowSize: 100, Step: 0.05, MaxErrorRate: 0.5})

	// Probabilistic-dominant assessments verified, deterministic ones rejected.
	for i := 0; i < 5; i++ {
		id := "p" + string(rune('0'+i))
		tun.RecordOutcome(Outcome{AssessmentID: id, Emitted: true, DominantSource: models.SourceProbabilistic})
		tun.ApplyFeedback(models.Feedback{AssessmentID: id, Correct: true})
	}
	for i := 0; i < 5; i++ {
		id := "d" + string(rune('0'+i))
		tun.RecordOutcome(Outcome{AssessmentID: id, Emitted: true, DominantSource: models.SourceDeterministic})
		tun.ApplyFeedback(models.Feedback{AssessmentID: id, Correct: false})
	}

	tun.Adjust()
	snap := tun.Snapshot()
	if snap.ProbabilisticWeight <= snap.DeterministicWeight {
		t.Fatalf("expected probabilistic weight to grow: %f vs %f",
			snap.ProbabilisticWeight, snap.DeterministicWeight)
	}
	if sum := snap.ProbabilisticWeight + snap.DeterministicWeight; math.Abs(sum-1) > 1e-9 {
		t.Fatalf("weights must renormalize to 1, got %f", sum)
	}
}

func TestNormalizeWeightsFloor(t *testing.T) {
	wp, wd := normalizeWeights(0.001, 2)
	if wp < minWeight/(minWeight+2) {
		t.Fatalf("weight collapsed below floor: %f", wp)
	}
	if math.Abs(wp+wd-1) > 1e-9 {
		t.Fatalf("weights must sum to 1, got %f", wp+wd)
	}
}

func TestRecordOutcomeWindowEviction(t *testing.T) {
	tun := New(nil, Config{WindowSize: 2})
	tun.RecordOutcome(Outcome{AssessmentID: "a"})
	tun.RecordOutcome(Outcome{AssessmentID: "b"})
	tun.RecordOutcome(Outcome{AssessmentID: "c"})

	tun.mu.Lock()
	defer tun.mu.Unlock()
	if len(tun.outcomes) != 2 {
		t.Fatalf("expected window of 2, got %d", len(tun.outcomes))
	}
	if tun.outcomes[0].AssessmentID != "b" || tun.outcomes[1].AssessmentID != "c" {
		t.Fatalf("expected oldest outcome evicted, got %+v", tun.outcomes)
	}
}

func TestAccuracy(t *testing.T) {
	tun := New(nil, Config{WindowSize: 10})
	tun.RecordOutcome(Outcome{AssessmentID: "a", Emitted: true})
	tun.RecordOutcome(Outcome{AssessmentID: "b", Emitted: true})
	tun.RecordOutcome(Outcome{AssessmentID: "c", Emitted: false})
	tun.ApplyFeedback(models.Feedback{AssessmentID: "a", Correct: true})
	tun.ApplyFeedback(models.Feedback{AssessmentID: "b", Correct: false})

	acc, labeled := tun.Accuracy()
	if labeled != 2 {
		t.Fatalf("expected 2 labeled samples, got %d", labeled)
	}
	if acc != 0.5 {
		t.Fatalf("expected accuracy 0.5, got %f", acc)
	}
}

func TestSnapshotIsolationAcrossAdjust(t *testing.T) {
	tun := New(nil, Config{WindowSize: 10, Step: 0.05, MaxErrorRate: 0.10})
	held := tun.Snapshot()

	tun.RecordOutcome(Outcome{AssessmentID: "x", Emitted: true})
	tun.ApplyFeedback(models.Feedback{AssessmentID: "x", Correct: false})
	tun.Adjust()

	if held.Version != 1 || held.Thresholds.Temporal != 0.3 {
		t.Fatalf("held snapshot changed under reader: %+v", held)
	}
	if tun.Snapshot().Version != 2 {
		t.Fatalf("expected new snapshot version 2, got %d", tun.Snapshot().Version)
	}
}
