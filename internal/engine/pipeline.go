package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelstack/fusion-engine/internal/metrics"
	"github.com/sentinelstack/fusion-engine/internal/models"
	"github.com/sentinelstack/fusion-engine/internal/normalize"
	"github.com/sentinelstack/fusion-engine/internal/tuner"
)

// TunerSource provides the immutable parameter snapshot a batch fuses under.
type TunerSource interface {
	Snapshot() *tuner.Snapshot
}

// Pipeline runs one batch through normalize -> {correlate, detect} -> fuse.
// The four correlation passes and three anomaly detectors fan out against
// the immutable record slice and join before fusion, the only mandatory
// synchronization point per batch.
type Pipeline struct {
	logger      *slog.Logger
	normalizer  *normalize.Normalizer
	correlator  *Correlator
	detectors   *AnomalyDetectors
	fuser       *Fuser
	tunerSource TunerSource
}

// NewPipeline constructs a pipeline instance.
func NewPipeline(
	logger *slog.Logger,
	normalizer *normalize.Normalizer,
	correlator *Correlator,
	detectors *AnomalyDetectors,
	fuser *Fuser,
	tunerSource TunerSource,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if normalizer == nil {
		normalizer = normalize.NewNormalizer(logger, 0)
	}
	if correlator == nil {
		correlator = NewCorrelator(logger, CorrelatorConfig{})
	}
	if detectors == nil {
		detectors = NewAnomalyDetectors(logger, nil)
	}
	if fuser == nil {
		fuser = NewFuser(logger, FusionConfig{})
	}
	return &Pipeline{
		logger:      logger,
		normalizer:  normalizer,
		correlator:  correlator,
		detectors:   detectors,
		fuser:       fuser,
		tunerSource: tunerSource,
	}
}

// Process fuses one batch. A batch past its deadline is abandoned with a
// DEADLINE_EXCEEDED event and zero assessments; no partial state leaks into
// subsequent batches. Batch-level errors occur only for empty or oversized
// input.
func (p *Pipeline) Process(ctx context.Context, batch models.Batch) (models.BatchResult, error) {
	start := time.Now()
	result := models.BatchResult{BatchID: batch.BatchID}

	if batch.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, batch.Deadline)
		defer cancel()
	}

	// One snapshot per batch: in-flight fusions never observe mid-flight
	// parameter changes.
	snap := p.tunerSource.Snapshot()

	records, dropped, err := p.normalizer.Normalize(batch.Records)
	if err != nil {
		return result, err
	}
	result.DroppedRecords = dropped
	metrics.AddDroppedRecords(dropped)

	correlations, anomalies, ok := p.fanOut(ctx, records, snap)
	if !ok || ctx.Err() != nil {
		return p.abandon(result, start), nil
	}

	result.Assessments = p.fuser.Fuse(batch.BatchID, records, correlations, anomalies, snap)
	result.Elapsed = time.Since(start)
	return result, nil
}

func (p *Pipeline) abandon(result models.BatchResult, start time.Time) models.BatchResult {
	result.DeadlineExceeded = true
	result.Assessments = nil
	result.Elapsed = time.Since(start)
	p.logger.Warn("batch abandoned",
		slog.String("event", "DEADLINE_EXCEEDED"),
		slog.String("batch_id", result.BatchID),
		slog.Duration("elapsed", result.Elapsed),
	)
	return result
}

// fanOut runs the correlation passes and anomaly detectors concurrently and
// joins them. It returns ok=false when the context expires before the join
// completes.
func (p *Pipeline) fanOut(ctx context.Context, records []models.AnalysisRecord, snap *tuner.Snapshot) ([]models.CorrelationFinding, []models.AnomalyFinding, bool) {
	th := snap.Thresholds
	sens := snap.Sensitivity

	correlationTasks := []struct {
		name string
		run  func() []models.CorrelationFinding
	}{
		{"temporal", func() []models.CorrelationFinding { return p.correlator.Temporal(records, th.Temporal) }},
		{"spatial", func() []models.CorrelationFinding { return p.correlator.Spatial(records, th.Spatial) }},
		{"cross_signal", func() []models.CorrelationFinding { return p.correlator.CrossSignal(records, th.CrossSignal) }},
		{"behavioral", func() []models.CorrelationFinding { return p.correlator.Behavioral(records, th.Behavioral) }},
	}
	anomalyTasks := []struct {
		name string
		run  func() []models.AnomalyFinding
	}{
		{"statistical_outlier", func() []models.AnomalyFinding { return p.detectors.StatisticalOutliers(records, sens) }},
		{"domain_pattern", func() []models.AnomalyFinding { return p.detectors.DomainPatterns(records, sens) }},
		{"timing", func() []models.AnomalyFinding { return p.detectors.Timing(records, sens) }},
	}

	// Results land in per-pass slots so the joined order is fixed regardless
	// of goroutine scheduling; cluster discovery order stays deterministic.
	correlationSlots := make([][]models.CorrelationFinding, len(correlationTasks))
	anomalySlots := make([][]models.AnomalyFinding, len(anomalyTasks))

	var wg sync.WaitGroup
	for i, task := range correlationTasks {
		wg.Add(1)
		go func(slot int, name string, run func() []models.CorrelationFinding) {
			defer wg.Done()
			defer p.isolate(name)
			correlationSlots[slot] = run()
		}(i, task.name, task.run)
	}
	for i, task := range anomalyTasks {
		wg.Add(1)
		go func(slot int, name string, run func() []models.AnomalyFinding) {
			defer wg.Done()
			defer p.isolate(name)
			anomalySlots[slot] = run()
		}(i, task.name, task.run)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, nil, false
	}

	var correlations []models.CorrelationFinding
	for _, slot := range correlationSlots {
		correlations = append(correlations, slot...)
	}
	var anomalies []models.AnomalyFinding
	for _, slot := range anomalySlots {
		anomalies = append(anomalies, slot...)
	}
	return correlations, anomalies, true
}

// isolate converts a detector panic into an empty-findings outcome so one
// faulty pass never aborts the batch or its siblings.
func (p *Pipeline) isolate(name string) {
	if r := recover(); r != nil {
		metrics.IncDetectorFailure(name)
		p.logger.Error("detector failed, findings discarded",
			slog.String("detector", name),
			slog.Any("panic", r),
		)
	}
}
