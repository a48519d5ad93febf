package config

import (
	"fmt"
	"os"

	"github.com/pipetune/pipetune/internal/forecasting"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	if c.Server.RateLimitPerMinute < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_minute",
			Message: fmt.Sprintf("rate limit must be at least 1, got %d", c.Server.RateLimitPerMinute),
		})
	}

	// Validate engine configuration
	if c.Engine.MinConfidenceScore < 0 || c.Engine.MinConfidenceScore > 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine.min_confidence_score",
			Message: fmt.Sprintf("must be in [0, 1], got %g", c.Engine.MinConfidenceScore),
		})
	}

	if c.Engine.DefaultBatchSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine.default_batch_size",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Engine.DefaultBatchSize),
		})
	}

	if c.Engine.MaxBatchSize < c.Engine.DefaultBatchSize {
		errs = append(errs, &ValidationError{
			Field:   "engine.max_batch_size",
			Message: fmt.Sprintf("must be >= default_batch_size (%d), got %d", c.Engine.DefaultBatchSize, c.Engine.MaxBatchSize),
		})
	}

	if c.Engine.ModelUpdateIntervalSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine.model_update_interval_seconds",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Engine.ModelUpdateIntervalSeconds),
		})
	}

	if c.Engine.MetricsCollectionIntervalSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine.metrics_collection_interval_seconds",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Engine.MetricsCollectionIntervalSeconds),
		})
	}

	if c.Engine.MinCacheTTLSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "engine.min_cache_ttl_seconds",
			Message: fmt.Sprintf("must not be negative, got %d", c.Engine.MinCacheTTLSeconds),
		})
	}

	if c.Engine.MaxCacheTTLSeconds < c.Engine.MinCacheTTLSeconds {
		errs = append(errs, &ValidationError{
			Field:   "engine.max_cache_ttl_seconds",
			Message: fmt.Sprintf("must be >= min_cache_ttl_seconds (%d), got %d", c.Engine.MinCacheTTLSeconds, c.Engine.MaxCacheTTLSeconds),
		})
	}

	if c.Engine.MaxHistorySize < 1 || c.Engine.MaxHistorySize > 1000000 {
		errs = append(errs, &ValidationError{
			Field:   "engine.max_history_size",
			Message: fmt.Sprintf("must be between 1 and 1000000, got %d", c.Engine.MaxHistorySize),
		})
	}

	if c.Engine.ForecastHorizon < 1 || c.Engine.ForecastHorizon > 1000 {
		errs = append(errs, &ValidationError{
			Field:   "engine.forecast_horizon",
			Message: fmt.Sprintf("must be between 1 and 1000, got %d", c.Engine.ForecastHorizon),
		})
	}

	if _, err := forecasting.ParseMethod(c.Engine.ForecastingMethod); err != nil {
		errs = append(errs, &ValidationError{
			Field:   "engine.forecasting_method",
			Message: err.Error(),
		})
	}

	if c.Engine.SeasonalSeriesKey == "" {
		errs = append(errs, &ValidationError{
			Field:   "engine.seasonal_series_key",
			Message: "seasonal series key must not be empty",
		})
	}

	// Validate database configuration
	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, &ValidationError{
				Field:   "database.sqlite_path",
				Message: "sqlite_path is required when database type is sqlite",
			})
		}
	case "none":
	default:
		errs = append(errs, &ValidationError{
			Field:   "database.type",
			Message: fmt.Sprintf("unknown database type %q (expected sqlite or none)", c.Database.Type),
		})
	}

	// Validate logging configuration
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown log level %q", c.Logging.Level),
		})
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown log format %q (expected json or console)", c.Logging.Format),
		})
	}

	return errs
}
