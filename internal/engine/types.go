package engine

import (
	"context"
	"time"
)

// Well-known store series. Per-request series are prefixed with the request
// type, e.g. "request_exec_time:GetUser".
const (
	MetricThroughput  = "throughput_per_second"
	MetricCPU         = "cpu_utilization"
	MetricMemory      = "memory_utilization"
	MetricErrorRate   = "error_rate"
	MetricAvgResponse = "avg_response_time_ms"

	execTimePrefix = "request_exec_time:"
	errorPrefix    = "request_errors:"
)

// ExecTimeSeries returns the store key holding execution times for a request type.
func ExecTimeSeries(requestType string) string { return execTimePrefix + requestType }

// ErrorSeries returns the store key holding error observations for a request type.
func ErrorSeries(requestType string) string { return errorPrefix + requestType }

// RequestExecutionMetrics is one completed request observation, supplied by
// the pipeline. Consumed, never mutated.
type RequestExecutionMetrics struct {
	ExecutionTimeMs  float64   `json:"execution_time_ms"`
	MemoryBytes      int64     `json:"memory_bytes"`
	ConcurrencyLevel int       `json:"concurrency_level"`
	Failed           bool      `json:"failed"`
	Timestamp        time.Time `json:"timestamp"`
}

// SystemLoadMetrics is a point-in-time snapshot of system-wide load,
// supplied by an external metrics aggregator. Consumed, never mutated.
type SystemLoadMetrics struct {
	CPUUtilization      float64   `json:"cpu_utilization"`    // [0, 1]
	MemoryUtilization   float64   `json:"memory_utilization"` // [0, 1]
	ActiveRequests      int       `json:"active_requests"`
	ThroughputPerSecond float64   `json:"throughput_per_second"`
	AvgResponseTimeMs   float64   `json:"avg_response_time_ms"`
	ErrorRate           float64   `json:"error_rate"` // [0, 1]
	Timestamp           time.Time `json:"timestamp"`
}

// MetricsSource is the external collaborator polled by the collection timer.
type MetricsSource interface {
	// Collect returns the current system load snapshot.
	Collect(ctx context.Context) (*SystemLoadMetrics, error)
}

// PredictionResult is one recorded engine decision, retained in a bounded
// queue for learning and load-pattern analysis.
type PredictionResult struct {
	ID                  string    `json:"id"`
	RequestType         string    `json:"request_type"`
	PredictedStrategies []string  `json:"predicted_strategies"`
	Confidence          float64   `json:"confidence"`
	Timestamp           time.Time `json:"timestamp"`
}

// AccessPattern describes observed access behavior for one cache key
// candidate, supplied by the caller of ShouldCache.
type AccessPattern struct {
	Key             string    `json:"key"`
	AccessCount     int       `json:"access_count"`
	RepeatedReads   int       `json:"repeated_reads"`
	LastAccess      time.Time `json:"last_access"`
	MeanIntervalMs  float64   `json:"mean_interval_ms"`
	MutationsPerDay float64   `json:"mutations_per_day"`
}

// CacheScope says where a cached entry should live.
type CacheScope string

const (
	CacheScopeLocal       CacheScope = "local"
	CacheScopeDistributed CacheScope = "distributed"
)

// CachingRecommendation is the engine's answer to ShouldCache.
type CachingRecommendation struct {
	ShouldCache     bool          `json:"should_cache"`
	TTL             time.Duration `json:"ttl"`
	Strategy        string        `json:"strategy"` // lru, lfu or ttl
	ExpectedHitRate float64       `json:"expected_hit_rate"`
	CacheKey        string        `json:"cache_key"`
	Scope           CacheScope    `json:"scope"`
	ConfidenceScore float64       `json:"confidence_score"`
}

// Bottleneck is one identified performance constraint.
type Bottleneck struct {
	Component   string  `json:"component"`
	Metric      string  `json:"metric"`
	Severity    string  `json:"severity"`
	Value       float64 `json:"value"`
	Threshold   float64 `json:"threshold"`
	Description string  `json:"description"`
}

// Opportunity is one identified optimization opening.
type Opportunity struct {
	Strategy    string  `json:"strategy"`
	Target      string  `json:"target"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

// SystemPerformanceInsights summarizes system health over a time window.
type SystemPerformanceInsights struct {
	Bottlenecks      []Bottleneck  `json:"bottlenecks"`
	Opportunities    []Opportunity `json:"opportunities"`
	HealthScore      float64       `json:"health_score"`
	PerformanceGrade string        `json:"performance_grade"`
	Window           time.Duration `json:"window"`
	GeneratedAt      time.Time     `json:"generated_at"`
}
