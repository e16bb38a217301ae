package emit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinelstack/fusion-engine/internal/metrics"
	"github.com/sentinelstack/fusion-engine/internal/models"
	"github.com/sentinelstack/fusion-engine/internal/storage"
)

// Sink receives emitted intelligence records. Delivery is fire-and-forget
// with an at-least-once expectation; consumers deduplicate by assessment ID.
type Sink interface {
	Emit(ctx context.Context, rec models.IntelligenceRecord) error
}

// LogSink writes emitted records to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

// Emit logs the record.
func (s LogSink) Emit(_ context.Context, rec models.IntelligenceRecord) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("intelligence record emitted",
		slog.String("assessment_id", rec.AssessmentID),
		slog.Float64("confidence", rec.FusedConfidence),
		slog.Int("severity", rec.Severity),
		slog.Int("members", len(rec.MemberRecordIDs)),
	)
	return nil
}

// ChannelSink forwards records to a buffered channel without ever blocking
// the fusion path; a full channel drops the record for that consumer.
type ChannelSink struct {
	ch chan models.IntelligenceRecord
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{ch: make(chan models.IntelligenceRecord, buffer)}
}

// Emit forwards the record, reporting an error when the consumer is behind.
func (s *ChannelSink) Emit(_ context.Context, rec models.IntelligenceRecord) error {
	select {
	case s.ch <- rec:
		return nil
	default:
		return fmt.Errorf("channel sink full, record %s dropped", rec.AssessmentID)
	}
}

// Records exposes the consumer side of the sink.
func (s *ChannelSink) Records() <-chan models.IntelligenceRecord {
	return s.ch
}

// Emitter packages high-confidence assessments into intelligence records
// and fans them out to the configured sinks.
type Emitter struct {
	logger        *slog.Logger
	history       *storage.History
	sinks         []Sink
	minConfidence float64
	minSeverity   int
}

// NewEmitter constructs an Emitter. History may be nil when persistence is
// not wired (tests); sinks may be empty.
func NewEmitter(logger *slog.Logger, history *storage.History, minConfidence float64, minSeverity int, sinks ...Sink) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if minSeverity < 1 {
		minSeverity = 1
	}
	return &Emitter{
		logger:        logger,
		history:       history,
		sinks:         sinks,
		minConfidence: minConfidence,
		minSeverity:   minSeverity,
	}
}

// HandleResult persists a batch's assessments and emits every assessment
// that clears the confidence and severity thresholds.
func (e *Emitter) HandleResult(ctx context.Context, result models.BatchResult) {
	for _, assessment := range result.Assessments {
		if e.history != nil {
			if err := e.history.PutAssessment(assessment); err != nil {
				e.logger.Warn("failed to persist assessment",
					slog.String("assessment_id", assessment.AssessmentID),
					slog.Any("error", err),
				)
			}
		}

		rec, ok := e.Promote(assessment)
		if !ok {
			continue
		}
		e.emit(ctx, rec)
	}
}

// Promote derives an IntelligenceRecord from an assessment that clears the
// emission thresholds.
func (e *Emitter) Promote(a models.FusedAssessment) (models.IntelligenceRecord, bool) {
	if a.FusedConfidence < e.minConfidence || a.Severity < e.minSeverity {
		return models.IntelligenceRecord{}, false
	}
	return models.IntelligenceRecord{
		AssessmentID:    a.AssessmentID,
		BatchID:         a.BatchID,
		MemberRecordIDs: a.MemberRecordIDs,
		FusedConfidence: a.FusedConfidence,
		Severity:        a.Severity,
		Summary: fmt.Sprintf("severity %d cluster of %d records (%d correlations, %d anomalies)",
			a.Severity, len(a.MemberRecordIDs), len(a.Correlations), len(a.Anomalies)),
		EmittedAt: time.Now().UTC(),
	}, true
}

func (e *Emitter) emit(ctx context.Context, rec models.IntelligenceRecord) {
	if e.history != nil {
		if err := e.history.PutIntelligence(rec); err != nil {
			e.logger.Warn("failed to persist intelligence record",
				slog.String("assessment_id", rec.AssessmentID),
				slog.Any("error", err),
			)
		}
	}
	for _, sink := range e.sinks {
		if err := sink.Emit(ctx, rec); err != nil {
			e.logger.Warn("sink emit failed", slog.Any("error", err))
		}
	}
	metrics.IncIntelligenceEmitted()
}
