package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Health score penalty per bottleneck severity. The score floors at zero.
var severityPenalty = map[string]float64{
	"critical": 0.25,
	"high":     0.15,
	"medium":   0.10,
	"low":      0.05,
}

// GradeFromScore maps a health score onto the letter grade bands.
func GradeFromScore(score float64) string {
	switch {
	case score >= 0.9:
		return "A"
	case score >= 0.8:
		return "B"
	case score >= 0.7:
		return "C"
	case score >= 0.6:
		return "D"
	default:
		return "F"
	}
}

// GetSystemInsights scans the full store for bottlenecks and optimization
// opportunities over the trailing window. Results are cached briefly and
// invalidated on ingest, so dashboard bursts cost one walk.
func (e *Engine) GetSystemInsights(ctx context.Context, window time.Duration) (*SystemPerformanceInsights, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	if window <= 0 {
		window = time.Hour
	}

	cacheKey := fmt.Sprintf("insights:%s", window)
	if v, ok := e.results.Get(cacheKey); ok {
		if cached, ok := v.(*SystemPerformanceInsights); ok {
			return cached, nil
		}
	}

	insights := &SystemPerformanceInsights{
		Bottlenecks:   e.findBottlenecks(window),
		Opportunities: e.findOpportunities(),
		Window:        window,
		GeneratedAt:   time.Now(),
	}

	score := 1.0
	for _, b := range insights.Bottlenecks {
		score -= severityPenalty[b.Severity]
	}
	if score < 0 {
		score = 0
	}
	insights.HealthScore = score
	insights.PerformanceGrade = GradeFromScore(score)

	e.results.Set(cacheKey, insights)
	return insights, nil
}

// findBottlenecks walks every stored series and flags the ones breaching
// their thresholds over the window.
func (e *Engine) findBottlenecks(window time.Duration) []Bottleneck {
	bottlenecks := make([]Bottleneck, 0)

	names := e.store.MetricNames()
	sort.Strings(names)

	for _, name := range names {
		if !strings.HasPrefix(name, execTimePrefix) {
			continue
		}
		st := e.statistics.ComputeWindow(name, window)
		if st == nil || st.Mean <= e.opts.HighExecutionTimeThresholdMs {
			continue
		}
		requestType := strings.TrimPrefix(name, execTimePrefix)
		bottlenecks = append(bottlenecks, Bottleneck{
			Component:   requestType,
			Metric:      name,
			Severity:    thresholdSeverity(st.Mean, e.opts.HighExecutionTimeThresholdMs),
			Value:       st.Mean,
			Threshold:   e.opts.HighExecutionTimeThresholdMs,
			Description: fmt.Sprintf("%s averages %.0fms per request, above the %.0fms threshold", requestType, st.Mean, e.opts.HighExecutionTimeThresholdMs),
		})
	}

	type systemCheck struct {
		metric    string
		component string
		threshold float64
		describe  func(mean float64) string
	}
	checks := []systemCheck{
		{MetricErrorRate, "pipeline", 0.05, func(mean float64) string {
			return fmt.Sprintf("system error rate %.1f%% above 5%%", mean*100)
		}},
		{MetricCPU, "host", 0.80, func(mean float64) string {
			return fmt.Sprintf("CPU utilization averaging %.0f%%", mean*100)
		}},
		{MetricMemory, "host", 0.85, func(mean float64) string {
			return fmt.Sprintf("memory utilization averaging %.0f%%", mean*100)
		}},
		{MetricAvgResponse, "pipeline", e.opts.HighExecutionTimeThresholdMs, func(mean float64) string {
			return fmt.Sprintf("average response time %.0fms above the %.0fms threshold", mean, e.opts.HighExecutionTimeThresholdMs)
		}},
	}
	for _, c := range checks {
		st := e.statistics.ComputeWindow(c.metric, window)
		if st == nil || st.Mean <= c.threshold {
			continue
		}
		bottlenecks = append(bottlenecks, Bottleneck{
			Component:   c.component,
			Metric:      c.metric,
			Severity:    thresholdSeverity(st.Mean, c.threshold),
			Value:       st.Mean,
			Threshold:   c.threshold,
			Description: c.describe(st.Mean),
		})
	}

	// Recent throughput outliers point at instability even when the means
	// look healthy.
	for _, a := range e.anomalies.Detect(MetricThroughput, 0) {
		if a.Severity != "high" && a.Severity != "critical" {
			continue
		}
		bottlenecks = append(bottlenecks, Bottleneck{
			Component:   "pipeline",
			Metric:      MetricThroughput,
			Severity:    string(a.Severity),
			Value:       a.Value,
			Threshold:   a.Expected,
			Description: fmt.Sprintf("throughput outlier %.1f against expected %.1f (z=%.1f)", a.Value, a.Expected, a.ZScore),
		})
		break // one instability flag is enough
	}

	return bottlenecks
}

// thresholdSeverity buckets how far a mean overshoots its threshold.
func thresholdSeverity(value, threshold float64) string {
	if threshold <= 0 {
		return "medium"
	}
	switch ratio := value / threshold; {
	case ratio > 2.0:
		return "critical"
	case ratio > 1.5:
		return "high"
	default:
		return "medium"
	}
}

// findOpportunities derives optimization openings from the decision table,
// seasonal structure and the throughput forecast.
func (e *Engine) findOpportunities() []Opportunity {
	opportunities := make([]Opportunity, 0)

	// Per-request-type openings from the decision table.
	names := e.store.MetricNames()
	sort.Strings(names)
	for _, name := range names {
		if !strings.HasPrefix(name, execTimePrefix) {
			continue
		}
		requestType := strings.TrimPrefix(name, execTimePrefix)
		rec := e.analyzer.Analyze(e.patternContext(requestType))
		if !rec.ShouldOptimize() {
			continue
		}
		opportunities = append(opportunities, Opportunity{
			Strategy:    string(rec.Strategy),
			Target:      requestType,
			Confidence:  rec.ConfidenceScore,
			Description: rec.Reasoning,
		})
	}

	// Strong seasonal structure means load is predictable enough to schedule
	// around.
	if patterns := e.seasonality.Detect(); len(patterns) > 0 {
		strongest := patterns[0]
		for _, p := range patterns[1:] {
			if p.Strength > strongest.Strength {
				strongest = p
			}
		}
		opportunities = append(opportunities, Opportunity{
			Strategy:    "scheduled_scaling",
			Target:      e.opts.SeasonalSeriesKey,
			Confidence:  strongest.Strength,
			Description: fmt.Sprintf("%s cycle every %dh (strength %.2f), batch windows can align with troughs", strongest.Type, strongest.PeriodHours, strongest.Strength),
		})
	}

	// A rising throughput forecast is a pre-scaling opening.
	if fc := e.forecaster.Forecast(MetricThroughput, e.opts.ForecastHorizon); fc != nil && len(fc.Values) > 0 {
		recent := e.store.Recent(MetricThroughput, len(fc.Values))
		var recentMean float64
		for _, s := range recent {
			recentMean += s.Value
		}
		if len(recent) > 0 {
			recentMean /= float64(len(recent))
		}
		var forecastMean float64
		for _, v := range fc.Values {
			forecastMean += v
		}
		forecastMean /= float64(len(fc.Values))

		if recentMean > 0 && forecastMean > 1.2*recentMean {
			opportunities = append(opportunities, Opportunity{
				Strategy:    "pre_scaling",
				Target:      MetricThroughput,
				Confidence:  fc.Confidence,
				Description: fmt.Sprintf("forecast throughput %.1f/s vs recent %.1f/s, capacity should be added ahead of the ramp", forecastMean, recentMean),
			})
		}
	}

	return opportunities
}
