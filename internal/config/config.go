package config

import "context"

// Package config provides configuration management for pipetune.
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (PIPETUNE_* prefix)
//   2. YAML config file (default: /etc/pipetune/config.yaml)
//   3. Built-in defaults
//
// Invalid bounds (history size, forecast horizon, unknown forecasting method)
// fail fast at load time; the engine is never constructed from an invalid
// configuration.

// Config contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port               int
		TLSEnabled         bool
		TLSCertPath        string
		TLSKeyPath         string
		RateLimitPerMinute int
	}

	// Engine configuration
	Engine struct {
		// MinConfidenceScore gates whether a recommendation is actionable.
		MinConfidenceScore float64

		// Batch sizing bounds for PredictOptimalBatchSize.
		DefaultBatchSize int
		MaxBatchSize     int

		// ModelUpdateIntervalSeconds is the retraining timer period.
		ModelUpdateIntervalSeconds int

		// MetricsCollectionIntervalSeconds is the collection timer period.
		MetricsCollectionIntervalSeconds int

		// HighExecutionTimeThresholdMs marks a request type as slow.
		HighExecutionTimeThresholdMs float64

		// Cache TTL bounds for caching recommendations.
		MinCacheTTLSeconds int
		MaxCacheTTLSeconds int

		// MaxHistorySize bounds each time-series bucket (1..1000000).
		MaxHistorySize int

		// ForecastHorizon is the default forecast step count (1..1000).
		ForecastHorizon int

		// ForecastingMethod selects the default strategy
		// ("exponential_smoothing" or "ssa").
		ForecastingMethod string

		// SeasonalSeriesKey is the metric scanned for seasonal patterns.
		SeasonalSeriesKey string

		// LearningEnabled toggles the feedback loop at startup.
		LearningEnabled bool
	}

	// Database configuration
	Database struct {
		Type       string // "sqlite" or "none"
		SQLitePath string
	}

	// Logging configuration
	Logging struct {
		Level    string
		Format   string
		FilePath string
	}
}

// Manager defines the interface for configuration access.
type Manager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewManager creates a new configuration manager.
func NewManager(configPath string) Manager {
	return &viperManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
}

// NewManagerWithDefaults creates a config manager with the default config path.
func NewManagerWithDefaults() Manager {
	return NewManager("/etc/pipetune/config.yaml")
}
