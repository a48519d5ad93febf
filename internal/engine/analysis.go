package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipetune/pipetune/internal/db"
	"github.com/pipetune/pipetune/internal/metrics"
	"github.com/pipetune/pipetune/internal/pattern"
	"github.com/pipetune/pipetune/internal/timeseries"
)

// errEmptyRequestType is returned when a decision method gets no request type.
var errEmptyRequestType = errors.New("request type must not be empty")

// AnalyzeRequest ingests one request observation and returns an optimization
// recommendation for the request type. Actionable recommendations at or above
// the configured confidence floor are recorded for learning and persisted.
func (e *Engine) AnalyzeRequest(ctx context.Context, requestType string, m RequestExecutionMetrics) (*pattern.Recommendation, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	if requestType == "" {
		return nil, errEmptyRequestType
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	e.storeExecution(requestType, m.ExecutionTimeMs, m.Failed, ts)

	rec := e.analyzer.Analyze(e.patternContext(requestType))
	metrics.PredictionsTotal.WithLabelValues(requestType, string(rec.Strategy)).Inc()
	metrics.RecommendationConfidence.Observe(rec.ConfidenceScore)

	if rec.ShouldOptimize() && rec.ConfidenceScore >= e.opts.MinConfidenceScore {
		e.recordPrediction(ctx, requestType, rec)
	}
	return rec, nil
}

// PredictOptimalBatchSize sizes the next batch for a request type from its
// execution profile and the throughput forecast. pendingItems caps the result
// when positive; the result is always within [1, MaxBatchSize].
func (e *Engine) PredictOptimalBatchSize(ctx context.Context, requestType string, pendingItems int) (int, error) {
	if err := e.guard(ctx); err != nil {
		return 0, err
	}
	if requestType == "" {
		return 0, errEmptyRequestType
	}

	size := float64(e.opts.DefaultBatchSize)

	// Rising forecast load favors larger batches to amortize per-batch cost.
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

		if recentMean > 0 && !math.IsNaN(forecastMean) && !math.IsInf(forecastMean, 0) {
			factor := forecastMean / recentMean
			if factor < 0.5 {
				factor = 0.5
			}
			if factor > 2.0 {
				factor = 2.0
			}
			size *= factor
		}
	}

	// Slow handlers get smaller batches so a single batch never stalls the
	// pipeline for long.
	if st := e.statistics.Compute(ExecTimeSeries(requestType)); st != nil &&
		st.Mean > e.opts.HighExecutionTimeThresholdMs {
		size /= 2
	}

	batch := int(math.Round(size))
	if pendingItems > 0 && pendingItems < batch {
		batch = pendingItems
	}
	if batch < 1 {
		batch = 1
	}
	if batch > e.opts.MaxBatchSize {
		batch = e.opts.MaxBatchSize
	}
	return batch, nil
}

// Caller-observed access behavior thresholds for ShouldCache.
const (
	cacheMinAccesses   = 10
	cacheMinRepeatRate = 0.5
	// TTL is a multiple of the observed mean re-access interval so an entry
	// usually survives several reads before expiring.
	cacheTTLIntervalFactor = 10
)

// ShouldCache recommends whether and how to cache responses for a request
// type, from the caller-observed access patterns. With no patterns the answer
// is a confident no.
func (e *Engine) ShouldCache(ctx context.Context, requestType string, patterns []AccessPattern) (*CachingRecommendation, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	if requestType == "" {
		return nil, errEmptyRequestType
	}

	rec := &CachingRecommendation{
		Strategy:        "lru",
		Scope:           CacheScopeLocal,
		CacheKey:        requestType,
		ConfidenceScore: 0.9,
	}
	if len(patterns) == 0 {
		return rec, nil
	}

	var totalAccess, totalRepeats, maxAccess int
	var intervalSum, intervalWeight float64
	for _, p := range patterns {
		totalAccess += p.AccessCount
		totalRepeats += p.RepeatedReads
		if p.AccessCount > maxAccess {
			maxAccess = p.AccessCount
		}
		if p.MeanIntervalMs > 0 && p.AccessCount > 0 {
			intervalSum += p.MeanIntervalMs * float64(p.AccessCount)
			intervalWeight += float64(p.AccessCount)
		}
	}
	if totalAccess == 0 {
		return rec, nil
	}

	repeatRate := float64(totalRepeats) / float64(totalAccess)
	rec.ExpectedHitRate = repeatRate
	rec.ShouldCache = totalAccess >= cacheMinAccesses && repeatRate >= cacheMinRepeatRate

	// TTL follows the observed re-access cadence, clamped to configured bounds.
	ttl := e.opts.MinCacheTTL
	if intervalWeight > 0 {
		meanInterval := time.Duration(intervalSum/intervalWeight) * time.Millisecond
		ttl = meanInterval * cacheTTLIntervalFactor
	}
	if ttl < e.opts.MinCacheTTL {
		ttl = e.opts.MinCacheTTL
	}
	if ttl > e.opts.MaxCacheTTL {
		ttl = e.opts.MaxCacheTTL
	}
	rec.TTL = ttl

	// A few hot keys dominating the traffic favor frequency-based eviction.
	if len(patterns) >= 3 && float64(maxAccess) >= 0.5*float64(totalAccess) {
		rec.Strategy = "lfu"
	}
	if totalAccess >= 1000 {
		rec.Scope = CacheScopeDistributed
	}

	// Confidence grows with observation volume.
	conf := 0.5 + 0.45*math.Min(1, float64(totalAccess)/500)
	rec.ConfidenceScore = conf
	return rec, nil
}

// LearnFromExecution reports back the outcome of applying strategies to a
// request. The outcome always lands in the store and persistence; the model
// statistics move only while learning is enabled.
func (e *Engine) LearnFromExecution(ctx context.Context, requestType string, applied []pattern.Strategy, outcome RequestExecutionMetrics) error {
	if err := e.guard(ctx); err != nil {
		return err
	}
	if requestType == "" {
		return errEmptyRequestType
	}

	ts := outcome.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	e.storeExecution(requestType, outcome.ExecutionTimeMs, outcome.Failed, ts)

	success := !outcome.Failed && outcome.ExecutionTimeMs <= e.opts.HighExecutionTimeThresholdMs

	// Improvement proxy: how far below the slow threshold the request landed.
	improvement := 0.0
	if success && e.opts.HighExecutionTimeThresholdMs > 0 {
		improvement = 1 - outcome.ExecutionTimeMs/e.opts.HighExecutionTimeThresholdMs
		if improvement < 0 {
			improvement = 0
		}
	}

	e.mu.Lock()
	learning := e.learningEnabled
	for _, s := range applied {
		e.effSum[string(s)] += improvement
		e.effCount[string(s)]++
	}
	e.mu.Unlock()

	if learning {
		e.adjuster.RecordOutcome(success)
		metrics.ModelAccuracy.Set(e.adjuster.Statistics().AccuracyScore)
	}

	result := "failure"
	if success {
		result = "success"
	}
	metrics.PredictionOutcomes.WithLabelValues(result).Inc()

	if e.persistence != nil {
		strategies := make([]string, len(applied))
		for i, s := range applied {
			strategies[i] = string(s)
		}
		rec := &db.OutcomeRecord{
			RequestType:     requestType,
			Strategies:      strategies,
			Successful:      success,
			ExecutionTimeMs: outcome.ExecutionTimeMs,
			RecordedAt:      ts,
		}
		if err := e.persistence.SaveOutcome(ctx, rec); err != nil {
			e.logger.Warn("persisting outcome failed",
				zap.String("request_type", requestType),
				zap.Error(err))
		}
	}
	return nil
}

// storeExecution appends one request observation to the per-type series.
func (e *Engine) storeExecution(requestType string, execTimeMs float64, failed bool, ts time.Time) {
	execSeries := ExecTimeSeries(requestType)
	recent := e.store.Recent(execSeries, 4)
	ma := movingAverage(recent, execTimeMs)
	if err := e.store.Store(execSeries, execTimeMs, ts, timeseries.SampleOptions{
		MA5:   &ma,
		Trend: trendOf(recent, execTimeMs),
	}); err != nil {
		e.logger.Warn("storing execution sample failed", zap.Error(err))
		return
	}

	errVal := 0.0
	if failed {
		errVal = 1.0
	}
	if err := e.store.Store(ErrorSeries(requestType), errVal, ts, timeseries.SampleOptions{}); err != nil {
		e.logger.Warn("storing error sample failed", zap.Error(err))
	}

	metrics.SamplesStoredTotal.WithLabelValues(execSeries).Inc()
	e.results.Clear()
}

// patternContext assembles the decision-table signals for a request type from
// its stored history and the latest system snapshot.
func (e *Engine) patternContext(requestType string) pattern.Context {
	var c pattern.Context

	if st := e.statistics.Compute(ExecTimeSeries(requestType)); st != nil {
		c.AvgExecutionTime = st.Mean
		if st.Mean != 0 {
			c.VarianceRatio = st.StdDev / math.Abs(st.Mean)
		}
	}
	if es := e.statistics.Compute(ErrorSeries(requestType)); es != nil {
		c.ErrorRate = es.Mean
	}
	c.HistoricalTrend = normalizedTrendSlope(e.store.Recent(MetricThroughput, 60))

	e.mu.Lock()
	if e.lastLoad != nil {
		c.CPUUtilization = e.lastLoad.CPUUtilization
	}
	e.mu.Unlock()
	return c
}

// recordPrediction appends a decision to the bounded in-memory queue and the
// persistence layer.
func (e *Engine) recordPrediction(ctx context.Context, requestType string, rec *pattern.Recommendation) {
	p := PredictionResult{
		ID:                  uuid.NewString(),
		RequestType:         requestType,
		PredictedStrategies: []string{string(rec.Strategy)},
		Confidence:          rec.ConfidenceScore,
		Timestamp:           time.Now(),
	}

	e.mu.Lock()
	e.predictions = append(e.predictions, p)
	if len(e.predictions) > maxRecordedPredictions {
		e.predictions = e.predictions[len(e.predictions)-maxRecordedPredictions:]
	}
	e.mu.Unlock()

	if e.persistence != nil {
		dbRec := &db.PredictionRecord{
			ID:          p.ID,
			RequestType: requestType,
			Strategies:  p.PredictedStrategies,
			Confidence:  rec.ConfidenceScore,
			Reasoning:   rec.Reasoning,
			CreatedAt:   p.Timestamp,
		}
		if err := e.persistence.SavePrediction(ctx, dbRec); err != nil {
			e.logger.Warn("persisting prediction failed",
				zap.String("request_type", requestType),
				zap.Error(err))
		}
	}
}

// movingAverage folds the incoming value into the mean of the recent samples.
func movingAverage(recent []timeseries.MetricSample, value float64) float64 {
	sum := value
	n := 1
	for _, s := range recent {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		sum += s.Value
		n++
	}
	return sum / float64(n)
}

// trendOf tags the incoming value against the recent mean. Movement within a
// 2% band counts as stable.
func trendOf(recent []timeseries.MetricSample, value float64) timeseries.TrendDirection {
	if len(recent) == 0 {
		return timeseries.TrendStable
	}
	var sum float64
	var n int
	for _, s := range recent {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		sum += s.Value
		n++
	}
	if n == 0 {
		return timeseries.TrendStable
	}
	mean := sum / float64(n)
	band := 0.02 * math.Abs(mean)
	switch {
	case value > mean+band:
		return timeseries.TrendIncreasing
	case value < mean-band:
		return timeseries.TrendDecreasing
	default:
		return timeseries.TrendStable
	}
}

// normalizedTrendSlope fits a least-squares line through the sample values and
// normalizes the slope by the mean magnitude, yielding a unitless growth rate
// per step.
func normalizedTrendSlope(samples []timeseries.MetricSample) float64 {
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		values = append(values, s.Value)
	}
	n := len(values)
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (fn*sumXY - sumX*sumY) / denom

	mean := sumY / fn
	if mean == 0 {
		return 0
	}
	return slope / math.Abs(mean)
}
