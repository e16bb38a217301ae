package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelstack/fusion-engine/internal/api"
	"github.com/sentinelstack/fusion-engine/internal/config"
	"github.com/sentinelstack/fusion-engine/internal/emit"
	"github.com/sentinelstack/fusion-engine/internal/engine"
	"github.com/sentinelstack/fusion-engine/internal/metrics"
	"github.com/sentinelstack/fusion-engine/internal/models"
	"github.com/sentinelstack/fusion-engine/internal/normalize"
	"github.com/sentinelstack/fusion-engine/internal/scheduler"
	"github.com/sentinelstack/fusion-engine/internal/services"
	"github.com/sentinelstack/fusion-engine/internal/storage"
	"github.com/sentinelstack/fusion-engine/internal/tuner"
	"github.com/sentinelstack/fusion-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting fusion-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		logger.Error("failed to open history store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()
	history := storage.NewHistory(store)

	tun := tuner.New(utils.ComponentLogger(logger, "tuner"), tuner.Config{
		Schedule:     cfg.Tuner.Schedule,
		WindowSize:   cfg.Tuner.WindowSize,
		Step:         cfg.Tuner.Step,
		MaxErrorRate: cfg.Tuner.MaxErrorRate,
	})
	if err := tun.Start(); err != nil {
		logger.Error("failed to start tuner", slog.Any("error", err))
		os.Exit(1)
	}
	defer tun.Stop()

	emitter := emit.NewEmitter(
		utils.ComponentLogger(logger, "emitter"),
		history,
		cfg.Emission.MinConfidence,
		cfg.Emission.MinSeverity,
		emit.LogSink{Logger: utils.ComponentLogger(logger, "emitter")},
	)

	pipelineFactory := func() scheduler.Runner {
		pipelineLogger := utils.ComponentLogger(logger, "pipeline")
		return engine.NewPipeline(
			pipelineLogger,
			normalize.NewNormalizer(pipelineLogger, cfg.Pipeline.MaxBatchSize),
			engine.NewCorrelator(pipelineLogger, engine.CorrelatorConfig{
				TemporalWindow:     cfg.Pipeline.TemporalWindow,
				SpatialThresholdKm: cfg.Pipeline.SpatialThresholdKm,
			}),
			engine.NewAnomalyDetectors(pipelineLogger, nil),
			engine.NewFuser(pipelineLogger, engine.FusionConfig{
				MinRecordConfidence: cfg.Pipeline.MinRecordConfidence,
			}),
			tun,
		)
	}

	var fusionService *services.FusionService
	sched := scheduler.New(
		utils.ComponentLogger(logger, "scheduler"),
		scheduler.Config{
			Workers:            cfg.Scheduler.Workers,
			QueueCapacity:      cfg.Scheduler.QueueCapacity,
			MaxOutstandingCost: cfg.Scheduler.MaxOutstandingCost,
			DefaultDeadline:    cfg.Scheduler.BatchDeadline,
		},
		pipelineFactory,
		func(ctx context.Context, result models.BatchResult, err error) {
			fusionService.HandleResult(ctx, result, err)
		},
	)

	fusionService = services.NewFusionService(logger, sched, tun, history, emitter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	defer sched.Stop()

	server, err := api.NewServer(cfg.Server, fusionService, logger)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("fusion-engine stopped")
}
