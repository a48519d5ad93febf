package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8082
	cfg.Server.TLSEnabled = false
	cfg.Server.TLSCertPath = ""
	cfg.Server.TLSKeyPath = ""
	cfg.Server.RateLimitPerMinute = 120

	// Engine defaults
	cfg.Engine.MinConfidenceScore = 0.7
	cfg.Engine.DefaultBatchSize = 10
	cfg.Engine.MaxBatchSize = 100
	cfg.Engine.ModelUpdateIntervalSeconds = 900 // 15 minutes
	cfg.Engine.MetricsCollectionIntervalSeconds = 30
	cfg.Engine.HighExecutionTimeThresholdMs = 1000
	cfg.Engine.MinCacheTTLSeconds = 60
	cfg.Engine.MaxCacheTTLSeconds = 3600
	cfg.Engine.MaxHistorySize = 10000
	cfg.Engine.ForecastHorizon = 12
	cfg.Engine.ForecastingMethod = "exponential_smoothing"
	cfg.Engine.SeasonalSeriesKey = "throughput_per_second"
	cfg.Engine.LearningEnabled = true

	// Database defaults
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLitePath = "/var/lib/pipetune/pipetune.db"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.FilePath = "logs/pipetune.log"

	return cfg
}
