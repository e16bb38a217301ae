package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the fusion engine.
type Config struct {
	Server    ServerConfig    `yaml:"server" validate:"required"`
	Pipeline  PipelineConfig  `yaml:"pipeline" validate:"required"`
	Scheduler SchedulerConfig `yaml:"scheduler" validate:"required"`
	Tuner     TunerConfig     `yaml:"tuner" validate:"required"`
	Emission  EmissionConfig  `yaml:"emission" validate:"required"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" validate:"gt=0"`
}

// PipelineConfig controls normalization and correlation windows.
type PipelineConfig struct {
	MaxBatchSize        int           `yaml:"maxBatchSize" validate:"gt=0,lte=10000"`
	TemporalWindow      time.Duration `yaml:"temporalWindow" validate:"gt=0"`
	SpatialThresholdKm  float64       `yaml:"spatialThresholdKm" validate:"gt=0"`
	MinRecordConfidence float64       `yaml:"minRecordConfidence" validate:"gte=0,lte=1"`
}

// SchedulerConfig controls the worker pool and backpressure limits.
type SchedulerConfig struct {
	Workers            int           `yaml:"workers" validate:"gte=0"`
	QueueCapacity      int           `yaml:"queueCapacity" validate:"gt=0"`
	MaxOutstandingCost int64         `yaml:"maxOutstandingCost" validate:"gt=0"`
	BatchDeadline      time.Duration `yaml:"batchDeadline" validate:"gt=0"`
}

// TunerConfig controls the adaptive tuning loop.
type TunerConfig struct {
	Schedule     string  `yaml:"schedule" validate:"required"`
	WindowSize   int     `yaml:"windowSize" validate:"gt=0"`
	Step         float64 `yaml:"step" validate:"gt=0,lt=1"`
	MaxErrorRate float64 `yaml:"maxErrorRate" validate:"gt=0,lt=1"`
}

// EmissionConfig controls promotion of assessments into intelligence records.
type EmissionConfig struct {
	MinConfidence float64 `yaml:"minConfidence" validate:"gte=0,lte=1"`
	MinSeverity   int     `yaml:"minSeverity" validate:"gte=1,lte=5"`
	ChannelBuffer int     `yaml:"channelBuffer" validate:"gte=0"`
}

// StorageConfig controls the badger-backed history store.
// An empty path selects an in-memory store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FUSION_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural constraints on the configuration.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8087",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Pipeline: PipelineConfig{
			MaxBatchSize:        10000,
			TemporalWindow:      300 * time.Second,
			SpatialThresholdKm:  50,
			MinRecordConfidence: 0.1,
		},
		Scheduler: SchedulerConfig{
			Workers:            0, // 0 resolves to available parallelism
			QueueCapacity:      100,
			MaxOutstandingCost: 2_000_000,
			BatchDeadline:      2 * time.Second,
		},
		Tuner: TunerConfig{
			Schedule:     "@every 30s",
			WindowSize:   1000,
			Step:         0.05,
			MaxErrorRate: 0.10,
		},
		Emission: EmissionConfig{
			MinConfidence: 0.7,
			MinSeverity:   3,
			ChannelBuffer: 256,
		},
		Storage: StorageConfig{Path: ""},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FUSION_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("FUSION_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("FUSION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FUSION_LOG_FORMAT"); strings.EqualFold(v, "json") {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("FUSION_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("FUSION_WORKERS"); v != "" {
		if workers, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.Workers = workers
		}
	}
	if v := os.Getenv("FUSION_QUEUE_CAPACITY"); v != "" {
		if capa, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.QueueCapacity = capa
		}
	}
	if v := os.Getenv("FUSION_BATCH_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.BatchDeadline = d
		}
	}
	if v := os.Getenv("FUSION_TEMPORAL_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.TemporalWindow = d
		}
	}
	if v := os.Getenv("FUSION_SPATIAL_THRESHOLD_KM"); v != "" {
		if km, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pipeline.SpatialThresholdKm = km
		}
	}
	if v := os.Getenv("FUSION_TUNER_SCHEDULE"); v != "" {
		cfg.Tuner.Schedule = v
	}
	if v := os.Getenv("FUSION_TUNER_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tuner.WindowSize = n
		}
	}
	if v := os.Getenv("FUSION_EMISSION_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Emission.MinConfidence = f
		}
	}
}
