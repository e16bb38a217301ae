package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelstack/fusion-engine/internal/emit"
	"github.com/sentinelstack/fusion-engine/internal/models"
	"github.com/sentinelstack/fusion-engine/internal/scheduler"
	"github.com/sentinelstack/fusion-engine/internal/storage"
	"github.com/sentinelstack/fusion-engine/internal/tuner"
	"github.com/sentinelstack/fusion-engine/internal/utils"
)

// FusionService fronts the scheduler, tuner, and history store for the API
// layer and consumes batch results off the worker pool.
type FusionService struct {
	logger    *slog.Logger
	sched     *scheduler.Scheduler
	tuner     *tuner.Tuner
	history   *storage.History
	emitter   *emit.Emitter
	latencies *utils.LatencyTracker
}

// NewFusionService constructs the service facade.
func NewFusionService(
	logger *slog.Logger,
	sched *scheduler.Scheduler,
	tun *tuner.Tuner,
	history *storage.History,
	emitter *emit.Emitter,
) *FusionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FusionService{
		logger:    logger,
		sched:     sched,
		tuner:     tun,
		history:   history,
		emitter:   emitter,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// SubmitBatch validates and enqueues one batch. A full queue surfaces
// CAPACITY_EXCEEDED to the caller, who owns retry and backoff.
func (s *FusionService) SubmitBatch(_ context.Context, batch models.Batch) (string, error) {
	if len(batch.Records) == 0 {
		return "", fmt.Errorf("batch must contain at least one record")
	}
	if batch.BatchID == "" {
		batch.BatchID = uuid.NewString()
	}
	if err := s.sched.Submit(batch); err != nil {
		return "", err
	}
	return batch.BatchID, nil
}

// HandleResult is the scheduler's result callback: it observes latency,
// hands assessments to the emitter, and feeds outcomes to the tuner.
func (s *FusionService) HandleResult(ctx context.Context, result models.BatchResult, err error) {
	if err != nil {
		return
	}

	s.latencies.Observe(result.Elapsed)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("batch latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", count),
		)
	}

	if result.DeadlineExceeded {
		return
	}

	if s.emitter != nil {
		s.emitter.HandleResult(ctx, result)
	}

	if s.tuner != nil {
		for _, assessment := range result.Assessments {
			emitted := false
			if s.emitter != nil {
				_, emitted = s.emitter.Promote(assessment)
			}
			s.tuner.RecordOutcome(tuner.Outcome{
				AssessmentID:   assessment.AssessmentID,
				Confidence:     assessment.FusedConfidence,
				Emitted:        emitted,
				DominantSource: assessment.DominantSource,
			})
		}
	}
}

// SubmitFeedback stores a ground-truth label and forwards it to the tuner.
// Labels may arrive late or never; absence never blocks tuning.
func (s *FusionService) SubmitFeedback(_ context.Context, fb models.Feedback) error {
	if fb.AssessmentID == "" {
		return fmt.Errorf("assessment_id is required")
	}
	if fb.SubmittedAt.IsZero() {
		fb.SubmittedAt = time.Now().UTC()
	}
	if s.history != nil {
		if err := s.history.PutFeedback(fb); err != nil {
			return fmt.Errorf("persist feedback: %w", err)
		}
	}
	if s.tuner != nil {
		s.tuner.ApplyFeedback(fb)
	}
	return nil
}

// TunerSnapshot returns the current immutable parameter snapshot.
func (s *FusionService) TunerSnapshot() *tuner.Snapshot {
	if s.tuner == nil {
		return tuner.DefaultSnapshot()
	}
	return s.tuner.Snapshot()
}

// Status reports queue depth, per-worker load, and rolling accuracy.
// Reads never affect hot-path behaviour.
func (s *FusionService) Status() models.StatusReport {
	report := models.StatusReport{}
	if s.sched != nil {
		report.QueueDepth = s.sched.QueueDepth()
		report.QueueCapacity = s.sched.QueueCapacity()
		report.Workers = s.sched.WorkerLoads()
		report.BatchesCompleted, report.BatchesAbandoned = s.sched.Counters()
	}
	if s.tuner != nil {
		report.RollingAccuracy, report.FeedbackSamples = s.tuner.Accuracy()
	}
	return report
}

// LatencySummary returns rolling batch latency percentiles.
func (s *FusionService) LatencySummary() utils.LatencySummary {
	return s.latencies.Summary()
}

// GetAssessment fetches one persisted assessment by ID.
func (s *FusionService) GetAssessment(id string) (models.FusedAssessment, error) {
	if s.history == nil {
		return models.FusedAssessment{}, storage.ErrNotFound
	}
	return s.history.GetAssessment(id)
}

// ListIntelligence returns up to limit emitted intelligence records.
func (s *FusionService) ListIntelligence(limit int) ([]models.IntelligenceRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListIntelligence(limit)
}
