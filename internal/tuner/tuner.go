package tuner

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sentinelstack/fusion-engine/internal/metrics"
	"github.com/sentinelstack/fusion-engine/internal/models"
)

const (
	minThreshold = 0.3
	maxThreshold = 0.95
	minWeight    = 0.05
)

// Thresholds holds the per-dimension correlation keep cutoffs.
type Thresholds struct {
	Temporal    float64 `json:"temporal"`
	Spatial     float64 `json:"spatial"`
	CrossSignal float64 `json:"cross_signal"`
	Behavioral  float64 `json:"behavioral"`
}

// For returns the cutoff for one correlation dimension.
func (t Thresholds) For(dim models.Dimension) float64 {
	switch dim {
	case models.DimensionTemporal:
		return t.Temporal
	case models.DimensionSpatial:
		return t.Spatial
	case models.DimensionCrossSignal:
		return t.CrossSignal
	case models.DimensionBehavioral:
		return t.Behavioral
	default:
		return maxThreshold
	}
}

// Sensitivity holds anomaly detector tuning parameters.
type Sensitivity struct {
	OutlierPercentile  float64 `json:"outlier_percentile"`
	TimingSigma        float64 `json:"timing_sigma"`
	PatternMinStrength float64 `json:"pattern_min_strength"`
}

// Snapshot is an immutable view of the tunable parameters. Readers hold a
// snapshot for the duration of one fusion and never observe partial updates.
type Snapshot struct {
	Version             int64       `json:"version"`
	UpdatedAt           time.Time   `json:"updated_at"`
	Thresholds          Thresholds  `json:"thresholds"`
	ProbabilisticWeight float64     `json:"probabilistic_weight"`
	DeterministicWeight float64     `json:"deterministic_weight"`
	Sensitivity         Sensitivity `json:"sensitivity"`
}

// DefaultSnapshot returns the boot-time parameter set.
func DefaultSnapshot() *Snapshot {
	return &Snapshot{
		Version:   1,
		UpdatedAt: time.Now().UTC(),
		Thresholds: Thresholds{
			Temporal:    0.3,
			Spatial:     0.3,
			CrossSignal: 0.5,
			Behavioral:  0.3,
		},
		ProbabilisticWeight: 0.5,
		DeterministicWeight: 0.5,
		Sensitivity: Sensitivity{
			OutlierPercentile:  95,
			TimingSigma:        3,
			PatternMinStrength: 0.5,
		},
	}
}

// Outcome is one completed fusion result observed by the tuner.
type Outcome struct {
	AssessmentID   string
	Confidence     float64
	Emitted        bool
	DominantSource models.Source
	RecordedAt     time.Time
}

// Config controls the adjustment loop.
type Config struct {
	Schedule     string
	WindowSize   int
	Step         float64
	MaxErrorRate float64
}

// Tuner owns the mutable parameter state. It is the sole writer; all other
// components read through atomically swapped snapshots.
type Tuner struct {
	logger *slog.Logger
	cfg    Config

	snap atomic.Pointer[Snapshot]

	mu       sync.Mutex
	outcomes []Outcome
	feedback map[string]bool

	cron *cron.Cron
}

// New constructs a Tuner and publishes the default snapshot.
func New(logger *slog.Logger, cfg Config) *Tuner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 1000
	}
	if cfg.Step <= 0 {
		cfg.Step = 0.05
	}
	if cfg.MaxErrorRate <= 0 {
		cfg.MaxErrorRate = 0.10
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 30s"
	}

	t := &Tuner{
		logger:   logger,
		cfg:      cfg,
		feedback: make(map[string]bool),
	}
	t.snap.Store(DefaultSnapshot())
	return t
}

// Snapshot returns the current immutable parameter view.
func (t *Tuner) Snapshot() *Snapshot {
	return t.snap.Load()
}

// Start begins the background adjustment loop on the configured cadence.
func (t *Tuner) Start() error {
	t.cron = cron.New()
	if _, err := t.cron.AddFunc(t.cfg.Schedule, t.Adjust); err != nil {
		return err
	}
	t.cron.Start()
	return nil
}

// Stop halts the adjustment loop, waiting for a running adjustment to finish.
func (t *Tuner) Stop() {
	if t.cron == nil {
		return
	}
	ctx := t.cron.Stop()
	<-ctx.Done()
}

// RecordOutcome appends a fusion outcome to the bounded history window.
func (t *Tuner) RecordOutcome(o Outcome) {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.outcomes = append(t.outcomes, o)
	if len(t.outcomes) > t.cfg.WindowSize {
		evicted := t.outcomes[0]
		copy(t.outcomes[0:], t.outcomes[1:])
		t.outcomes = t.outcomes[:t.cfg.WindowSize]
		delete(t.feedback, evicted.AssessmentID)
	}
}

// ApplyFeedback records a ground-truth label for a prior assessment.
// Labels for unknown assessments are kept; they attach when the outcome
// arrives late, and are pruned with the window otherwise.
func (t *Tuner) ApplyFeedback(fb models.Feedback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.feedback[fb.AssessmentID] = fb.Correct
	if len(t.feedback) > 2*t.cfg.WindowSize {
		t.pruneFeedbackLocked()
	}
}

func (t *Tuner) pruneFeedbackLocked() {
	known := make(map[string]struct{}, len(t.outcomes))
	for _, o := range t.outcomes {
		known[o.AssessmentID] = struct{}{}
	}
	for id := range t.feedback {
		if _, ok := known[id]; !ok {
			delete(t.feedback, id)
		}
	}
}

// Accuracy returns the rolling labeled accuracy and the labeled sample count.
func (t *Tuner) Accuracy() (float64, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	labeled, correct := 0, 0
	for _, o := range t.outcomes {
		verdict, ok := t.feedback[o.AssessmentID]
		if !ok {
			continue
		}
		labeled++
		if verdict == o.Emitted {
			correct++
		}
	}
	if labeled == 0 {
		return 0, 0
	}
	return float64(correct) / float64(labeled), labeled
}

// Adjust runs one adjustment cycle: it computes observed false-positive and
// false-negative rates over the labeled window and publishes a new snapshot.
// With no labeled outcomes the cycle is a no-op.
func (t *Tuner) Adjust() {
	t.mu.Lock()
	var (
		labeled, falsePos, falseNeg int
		probLabeled, probCorrect    int
		detLabeled, detCorrect      int
	)
	for _, o := range t.outcomes {
		verdict, ok := t.feedback[o.AssessmentID]
		if !ok {
			continue
		}
		labeled++
		if o.Emitted && !verdict {
			falsePos++
		}
		if !o.Emitted && verdict {
			falseNeg++
		}
		switch o.DominantSource {
		case models.SourceProbabilistic:
			probLabeled++
			if verdict == o.Emitted {
				probCorrect++
			}
		case models.SourceDeterministic:
			detLabeled++
			if verdict == o.Emitted {
				detCorrect++
			}
		}
	}
	t.mu.Unlock()

	if labeled == 0 {
		return
	}

	fpRate := float64(falsePos) / float64(labeled)
	fnRate := float64(falseNeg) / float64(labeled)

	current := t.Snapshot()
	next := *current

	if fpRate > t.cfg.MaxErrorRate {
		next.Thresholds = shiftThresholds(next.Thresholds, t.cfg.Step)
	}
	if fnRate > t.cfg.MaxErrorRate {
		next.Thresholds = shiftThresholds(next.Thresholds, -t.cfg.Step)
	}

	probAcc := accuracy(probCorrect, probLabeled)
	detAcc := accuracy(detCorrect, detLabeled)
	if probLabeled > 0 && detLabeled > 0 {
		switch {
		case probAcc > detAcc:
			next.ProbabilisticWeight += t.cfg.Step
		case detAcc > probAcc:
			next.DeterministicWeight += t.cfg.Step
		}
		next.ProbabilisticWeight, next.DeterministicWeight = normalizeWeights(
			next.ProbabilisticWeight, next.DeterministicWeight)
	}

	next.Version = current.Version + 1
	next.UpdatedAt = time.Now().UTC()
	t.snap.Store(&next)
	metrics.IncTunerAdjustment()

	t.logger.Info("tuner snapshot published",
		slog.Int64("version", next.Version),
		slog.Float64("fp_rate", fpRate),
		slog.Float64("fn_rate", fnRate),
		slog.Float64("w_probabilistic", next.ProbabilisticWeight),
		slog.Float64("w_deterministic", next.DeterministicWeight),
	)
}

func shiftThresholds(th Thresholds, delta float64) Thresholds {
	th.Temporal = clampThreshold(th.Temporal + delta)
	th.Spatial = clampThreshold(th.Spatial + delta)
	th.CrossSignal = clampThreshold(th.CrossSignal + delta)
	th.Behavioral = clampThreshold(th.Behavioral + delta)
	return th
}

func clampThreshold(v float64) float64 {
	return math.Min(maxThreshold, math.Max(minThreshold, v))
}

func normalizeWeights(wp, wd float64) (float64, float64) {
	wp = math.Max(minWeight, wp)
	wd = math.Max(minWeight, wd)
	sum := wp + wd
	return wp / sum, wd / sum
}

func accuracy(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}
