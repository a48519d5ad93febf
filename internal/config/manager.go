package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperManager implements Manager using Viper.
type viperManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("PIPETUNE")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// Config file is optional: defaults + env vars are a valid setup.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// File not found via viper - OK, use defaults
		} else if os.IsNotExist(err) {
			// File not found via os - OK, use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	m.unmarshalConfig()
	return nil
}

// Get returns the current configuration.
func (m *viperManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		m.unmarshalConfig()
		if len(m.config.Validate()) > 0 {
			// Invalid on-disk edits are ignored until fixed.
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	m.unmarshalConfig()
	return nil
}

// setDefaults sets default values in viper.
func (m *viperManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.rate_limit_per_minute", defaults.Server.RateLimitPerMinute)

	// Engine defaults
	m.viper.SetDefault("engine.min_confidence_score", defaults.Engine.MinConfidenceScore)
	m.viper.SetDefault("engine.default_batch_size", defaults.Engine.DefaultBatchSize)
	m.viper.SetDefault("engine.max_batch_size", defaults.Engine.MaxBatchSize)
	m.viper.SetDefault("engine.model_update_interval_seconds", defaults.Engine.ModelUpdateIntervalSeconds)
	m.viper.SetDefault("engine.metrics_collection_interval_seconds", defaults.Engine.MetricsCollectionIntervalSeconds)
	m.viper.SetDefault("engine.high_execution_time_threshold_ms", defaults.Engine.HighExecutionTimeThresholdMs)
	m.viper.SetDefault("engine.min_cache_ttl_seconds", defaults.Engine.MinCacheTTLSeconds)
	m.viper.SetDefault("engine.max_cache_ttl_seconds", defaults.Engine.MaxCacheTTLSeconds)
	m.viper.SetDefault("engine.max_history_size", defaults.Engine.MaxHistorySize)
	m.viper.SetDefault("engine.forecast_horizon", defaults.Engine.ForecastHorizon)
	m.viper.SetDefault("engine.forecasting_method", defaults.Engine.ForecastingMethod)
	m.viper.SetDefault("engine.seasonal_series_key", defaults.Engine.SeasonalSeriesKey)
	m.viper.SetDefault("engine.learning_enabled", defaults.Engine.LearningEnabled)

	// Database defaults
	m.viper.SetDefault("database.type", defaults.Database.Type)
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file_path", defaults.Logging.FilePath)
}

// unmarshalConfig unmarshals viper config into the Config struct.
func (m *viperManager) unmarshalConfig() {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.RateLimitPerMinute = m.viper.GetInt("server.rate_limit_per_minute")

	// Engine
	cfg.Engine.MinConfidenceScore = m.viper.GetFloat64("engine.min_confidence_score")
	cfg.Engine.DefaultBatchSize = m.viper.GetInt("engine.default_batch_size")
	cfg.Engine.MaxBatchSize = m.viper.GetInt("engine.max_batch_size")
	cfg.Engine.ModelUpdateIntervalSeconds = m.viper.GetInt("engine.model_update_interval_seconds")
	cfg.Engine.MetricsCollectionIntervalSeconds = m.viper.GetInt("engine.metrics_collection_interval_seconds")
	cfg.Engine.HighExecutionTimeThresholdMs = m.viper.GetFloat64("engine.high_execution_time_threshold_ms")
	cfg.Engine.MinCacheTTLSeconds = m.viper.GetInt("engine.min_cache_ttl_seconds")
	cfg.Engine.MaxCacheTTLSeconds = m.viper.GetInt("engine.max_cache_ttl_seconds")
	cfg.Engine.MaxHistorySize = m.viper.GetInt("engine.max_history_size")
	cfg.Engine.ForecastHorizon = m.viper.GetInt("engine.forecast_horizon")
	cfg.Engine.ForecastingMethod = m.viper.GetString("engine.forecasting_method")
	cfg.Engine.SeasonalSeriesKey = m.viper.GetString("engine.seasonal_series_key")
	cfg.Engine.LearningEnabled = m.viper.GetBool("engine.learning_enabled")

	// Database
	cfg.Database.Type = m.viper.GetString("database.type")
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.FilePath = m.viper.GetString("logging.file_path")

	m.config = cfg
}
