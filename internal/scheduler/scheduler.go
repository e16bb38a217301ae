package scheduler

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinelstack/fusion-engine/internal/metrics"
	"github.com/sentinelstack/fusion-engine/internal/models"
	"github.com/sentinelstack/fusion-engine/internal/utils"
)

// Runner processes one batch; the engine pipeline satisfies this.
type Runner interface {
	Process(ctx context.Context, batch models.Batch) (models.BatchResult, error)
}

// ResultHandler consumes completed batch results off the worker goroutines.
type ResultHandler func(ctx context.Context, result models.BatchResult, err error)

// Config controls pool sizing and backpressure limits.
type Config struct {
	Workers            int
	QueueCapacity      int
	MaxOutstandingCost int64
	DefaultDeadline    time.Duration
}

// Scheduler partitions incoming batches across a pool of identical pipeline
// instances using greedy least-loaded assignment. Submissions beyond the
// bounded queue fail with CAPACITY_EXCEEDED rather than blocking or being
// dropped silently.
type Scheduler struct {
	logger  *slog.Logger
	cfg     Config
	runners []Runner
	handler ResultHandler

	queue chan models.Batch
	work  []chan models.Batch
	loads []atomic.Int64
	freed chan struct{}

	completed atomic.Int64
	abandoned atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a scheduler with cfg.Workers pipeline instances created by the
// factory. Workers <= 0 resolves to the available parallelism.
func New(logger *slog.Logger, cfg Config, factory func() Runner, handler ResultHandler) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 100
	}
	if cfg.MaxOutstandingCost <= 0 {
		cfg.MaxOutstandingCost = 2_000_000
	}

	s := &Scheduler{
		logger:  logger,
		cfg:     cfg,
		handler: handler,
		queue:   make(chan models.Batch, cfg.QueueCapacity),
		work:    make([]chan models.Batch, cfg.Workers),
		loads:   make([]atomic.Int64, cfg.Workers),
		freed:   make(chan struct{}, 1),
	}
	s.runners = make([]Runner, cfg.Workers)
	for i := range s.runners {
		s.runners[i] = factory()
		s.work[i] = make(chan models.Batch, cfg.QueueCapacity)
	}
	return s
}

// Start launches the dispatcher and worker goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.dispatch()

	for i := range s.runners {
		s.wg.Add(1)
		go s.runWorker(i)
	}
}

// Stop halts dispatching and waits for workers to drain their current batch.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Submit enqueues a batch. It fails fast with CAPACITY_EXCEEDED when the
// queue is full; the caller owns retry and backoff.
func (s *Scheduler) Submit(batch models.Batch) error {
	select {
	case s.queue <- batch:
		metrics.SetQueueDepth(len(s.queue))
		return nil
	default:
		metrics.ObserveBatch(0, metrics.OutcomeRejected)
		return utils.NewAppError("scheduler.submit", utils.CodeCapacityExceeded,
			"queue full, batch rejected", nil)
	}
}

// QueueDepth reports the number of batches waiting for dispatch.
func (s *Scheduler) QueueDepth() int {
	return len(s.queue)
}

// QueueCapacity reports the bounded queue size.
func (s *Scheduler) QueueCapacity() int {
	return s.cfg.QueueCapacity
}

// WorkerLoads reports each worker's outstanding estimated cost.
func (s *Scheduler) WorkerLoads() []models.WorkerLoad {
	loads := make([]models.WorkerLoad, len(s.loads))
	for i := range s.loads {
		loads[i] = models.WorkerLoad{Worker: i, OutstandingCost: s.loads[i].Load()}
	}
	return loads
}

// Counters reports completed and abandoned batch totals.
func (s *Scheduler) Counters() (completed, abandoned int64) {
	return s.completed.Load(), s.abandoned.Load()
}

func (s *Scheduler) dispatch() {
	defer s.wg.Done()
	for {
		var batch models.Batch
		select {
		case <-s.ctx.Done():
			return
		case batch = <-s.queue:
		}
		metrics.SetQueueDepth(len(s.queue))

		cost := batchCost(batch)
		for {
			worker := s.leastLoaded()
			load := s.loads[worker].Load()
			// An idle worker always admits the batch so oversized batches
			// cannot wedge the dispatcher.
			if load == 0 || load+cost <= s.cfg.MaxOutstandingCost {
				s.loads[worker].Add(cost)
				select {
				case s.work[worker] <- batch:
				case <-s.ctx.Done():
					return
				}
				break
			}
			select {
			case <-s.freed:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Scheduler) leastLoaded() int {
	best, bestLoad := 0, s.loads[0].Load()
	for i := 1; i < len(s.loads); i++ {
		if load := s.loads[i].Load(); load < bestLoad {
			best, bestLoad = i, load
		}
	}
	return best
}

func (s *Scheduler) runWorker(id int) {
	defer s.wg.Done()
	for {
		var batch models.Batch
		select {
		case <-s.ctx.Done():
			return
		case batch = <-s.work[id]:
		}

		if batch.Deadline <= 0 {
			batch.Deadline = s.cfg.DefaultDeadline
		}

		result, err := s.runners[id].Process(s.ctx, batch)
		switch {
		case err != nil:
			s.logger.Error("batch failed",
				slog.String("batch_id", batch.BatchID),
				slog.Int("worker", id),
				slog.Any("error", err),
			)
		case result.DeadlineExceeded:
			s.abandoned.Add(1)
			metrics.ObserveBatch(result.Elapsed, metrics.OutcomeDeadline)
		default:
			s.completed.Add(1)
			metrics.ObserveBatch(result.Elapsed, metrics.OutcomeCompleted)
			metrics.AddAssessments(len(result.Assessments))
		}

		s.loads[id].Add(-batchCost(batch))
		select {
		case s.freed <- struct{}{}:
		default:
		}

		if s.handler != nil {
			s.handler(s.ctx, result, err)
		}
	}
}

// batchCost estimates work as record count times average feature
// dimensionality, which reduces to the total feature count.
func batchCost(batch models.Batch) int64 {
	totalFeatures := 0
	for _, record := range batch.Records {
		totalFeatures += len(record.Features)
	}
	cost := int64(totalFeatures)
	if minimum := int64(len(batch.Records)); cost < minimum {
		cost = minimum
	}
	if cost == 0 {
		cost = 1
	}
	return cost
}
