package pattern

import "fmt"

// Package pattern maps statistical signals onto optimization recommendations
// through a fixed decision table evaluated in priority order. Error rate is
// evaluated first: a failing endpoint must trip the breaker no matter how
// good its raw performance looks.

// Strategy is an action the pipeline can apply.
type Strategy string

const (
	StrategyNone               Strategy = "none"
	StrategyCaching            Strategy = "caching"
	StrategyBatchProcessing    Strategy = "batch_processing"
	StrategyParallelProcessing Strategy = "parallel_processing"
	StrategyCircuitBreaker     Strategy = "circuit_breaker"
	StrategyMemoryPooling      Strategy = "memory_pooling"
	StrategyCustom             Strategy = "custom"
)

// Priority ranks how urgently a recommendation should be applied.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Risk estimates the downside of applying a recommendation.
type Risk string

const (
	RiskVeryLow Risk = "very_low"
	RiskLow     Risk = "low"
	RiskMedium  Risk = "medium"
	RiskHigh    Risk = "high"
)

// Recommendation is the analyzer's output. Produced fresh per call, never
// mutated afterwards.
type Recommendation struct {
	Strategy             Strategy           `json:"strategy"`
	ConfidenceScore      float64            `json:"confidence_score"`
	Priority             Priority           `json:"priority"`
	Risk                 Risk               `json:"risk"`
	EstimatedGainPercent float64            `json:"estimated_gain_percent"`
	EstimatedImprovement float64            `json:"estimated_improvement"`
	Reasoning            string             `json:"reasoning"`
	Parameters           map[string]float64 `json:"parameters"`
}

// ShouldOptimize reports whether the recommendation proposes an action.
func (r *Recommendation) ShouldOptimize() bool {
	return r.Strategy != StrategyNone
}

// Context carries the signals the decision table evaluates.
type Context struct {
	AvgExecutionTime float64 // milliseconds
	VarianceRatio    float64 // stddev / mean of execution time
	ErrorRate        float64 // [0, 1]
	HistoricalTrend  float64 // normalized load trend slope
	CPUUtilization   float64 // [0, 1]
}

// Rule thresholds and per-rule scoring constants. These are tuned defaults,
// not derived values.
const (
	errorRateThreshold = 0.05
	varianceThreshold  = 0.3
	trendThreshold     = 0.2
	cpuThreshold       = 0.8
)

// Analyzer is the deterministic rule engine. It is stateless and safe for
// concurrent use.
type Analyzer struct{}

// NewAnalyzer creates a pattern analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze evaluates the decision table against ctx. The first matching rule
// wins; the fallthrough recommendation is StrategyNone with high confidence.
func (a *Analyzer) Analyze(ctx Context) *Recommendation {
	switch {
	case ctx.ErrorRate > errorRateThreshold:
		return &Recommendation{
			Strategy:             StrategyCircuitBreaker,
			ConfidenceScore:      0.90,
			Priority:             PriorityCritical,
			Risk:                 RiskVeryLow,
			EstimatedGainPercent: 0.5,
			EstimatedImprovement: ctx.AvgExecutionTime * 0.5,
			Reasoning:            fmt.Sprintf("error rate %.1f%% exceeds %.1f%% threshold", ctx.ErrorRate*100, errorRateThreshold*100),
			Parameters: map[string]float64{
				"error_rate": ctx.ErrorRate,
			},
		}
	case ctx.VarianceRatio > varianceThreshold:
		return &Recommendation{
			Strategy:             StrategyParallelProcessing,
			ConfidenceScore:      0.85,
			Priority:             PriorityHigh,
			Risk:                 RiskLow,
			EstimatedGainPercent: 0.4,
			EstimatedImprovement: ctx.AvgExecutionTime * 0.4,
			Reasoning:            fmt.Sprintf("execution time variance ratio %.2f indicates high dispersion", ctx.VarianceRatio),
			Parameters: map[string]float64{
				"variance_ratio": ctx.VarianceRatio,
			},
		}
	case ctx.HistoricalTrend > trendThreshold:
		return &Recommendation{
			Strategy:             StrategyBatchProcessing,
			ConfidenceScore:      0.75,
			Priority:             PriorityMedium,
			Risk:                 RiskMedium,
			EstimatedGainPercent: 0.3,
			EstimatedImprovement: ctx.AvgExecutionTime * 0.3,
			Reasoning:            fmt.Sprintf("load trend slope %.2f shows sustained growth", ctx.HistoricalTrend),
			Parameters: map[string]float64{
				"trend_slope": ctx.HistoricalTrend,
			},
		}
	case ctx.CPUUtilization > cpuThreshold:
		return &Recommendation{
			Strategy:             StrategyMemoryPooling,
			ConfidenceScore:      0.70,
			Priority:             PriorityMedium,
			Risk:                 RiskLow,
			EstimatedGainPercent: 0.2,
			EstimatedImprovement: ctx.AvgExecutionTime * 0.2,
			Reasoning:            fmt.Sprintf("CPU utilization %.0f%% above %.0f%% threshold", ctx.CPUUtilization*100, cpuThreshold*100),
			Parameters: map[string]float64{
				"cpu_utilization": ctx.CPUUtilization,
			},
		}
	default:
		return &Recommendation{
			Strategy:             StrategyNone,
			ConfidenceScore:      0.95,
			Priority:             PriorityLow,
			Risk:                 RiskVeryLow,
			EstimatedGainPercent: 0,
			EstimatedImprovement: 0,
			Reasoning:            "metrics within acceptable range",
			Parameters:           map[string]float64{},
		}
	}
}
