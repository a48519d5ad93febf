package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pipetune/pipetune/internal/pattern"
)

// quietOptions keeps the background loops effectively idle during tests.
func quietOptions() Options {
	return Options{
		MetricsCollectionInterval: time.Hour,
		ModelUpdateInterval:       time.Hour,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(quietOptions(), nil, nil, nil)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.DefaultBatchSize != 10 || o.MaxBatchSize != 100 {
		t.Errorf("Expected batch defaults 10/100, got %d/%d", o.DefaultBatchSize, o.MaxBatchSize)
	}
	if o.MinConfidenceScore != 0.7 {
		t.Errorf("Expected confidence floor 0.7, got %.2f", o.MinConfidenceScore)
	}
	if o.MaxHistorySize != 10000 {
		t.Errorf("Expected history size 10000, got %d", o.MaxHistorySize)
	}
	if o.ForecastHorizon != 12 {
		t.Errorf("Expected horizon 12, got %d", o.ForecastHorizon)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	e := New(quietOptions(), nil, nil, nil)
	if err := e.Close(); err != nil {
		t.Fatalf("First Close() error: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Second Close() error: %v", err)
	}
}

func TestMethodsReturnErrEngineClosedAfterClose(t *testing.T) {
	e := New(quietOptions(), nil, nil, nil)
	e.Close()
	ctx := context.Background()

	calls := map[string]func() error{
		"RecordSystemLoad": func() error { return e.RecordSystemLoad(ctx, SystemLoadMetrics{}) },
		"IngestMetric":     func() error { return e.IngestMetric(ctx, "m", 1, time.Time{}) },
		"Statistics":       func() error { _, err := e.Statistics(ctx, "m", 0); return err },
		"Forecast":         func() error { _, err := e.Forecast(ctx, "m", 5); return err },
		"DetectAnomalies":  func() error { _, err := e.DetectAnomalies(ctx, "m", 0); return err },
		"SeasonalPatterns": func() error { _, err := e.SeasonalPatterns(ctx); return err },
		"AnalyzeRequest": func() error {
			_, err := e.AnalyzeRequest(ctx, "GetUser", RequestExecutionMetrics{})
			return err
		},
		"PredictOptimalBatchSize": func() error {
			_, err := e.PredictOptimalBatchSize(ctx, "GetUser", 0)
			return err
		},
		"ShouldCache": func() error { _, err := e.ShouldCache(ctx, "GetUser", nil); return err },
		"LearnFromExecution": func() error {
			return e.LearnFromExecution(ctx, "GetUser", nil, RequestExecutionMetrics{})
		},
		"GetSystemInsights":      func() error { _, err := e.GetSystemInsights(ctx, time.Hour); return err },
		"GetLoadPatternAnalysis": func() error { _, err := e.GetLoadPatternAnalysis(ctx); return err },
		"SetLearningMode":        func() error { return e.SetLearningMode(ctx, true) },
		"ModelStatistics":        func() error { _, err := e.ModelStatistics(ctx); return err },
		"RecentPredictions":      func() error { _, err := e.RecentPredictions(ctx, 10); return err },
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, ErrEngineClosed) {
			t.Errorf("%s after Close: expected ErrEngineClosed, got %v", name, err)
		}
	}
}

func TestCancelledContextRejectedBeforeWork(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.AnalyzeRequest(ctx, "GetUser", RequestExecutionMetrics{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	// The cancelled call must not have stored any samples.
	if e.store.Len(ExecTimeSeries("GetUser")) != 0 {
		t.Error("Cancelled call stored samples")
	}
}

func TestAnalyzeRequestHealthyPath(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rec, err := e.AnalyzeRequest(ctx, "GetUser", RequestExecutionMetrics{ExecutionTimeMs: 50})
	if err != nil {
		t.Fatalf("AnalyzeRequest() error: %v", err)
	}
	if rec.Strategy != pattern.StrategyNone {
		t.Errorf("Healthy metrics should recommend none, got %s", rec.Strategy)
	}

	// Non-actionable decisions are not recorded.
	preds, err := e.RecentPredictions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentPredictions() error: %v", err)
	}
	if len(preds) != 0 {
		t.Errorf("Expected no recorded predictions, got %d", len(preds))
	}
}

func TestAnalyzeRequestHighErrorRateRecordsPrediction(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var last *pattern.Recommendation
	for i := 0; i < 10; i++ {
		rec, err := e.AnalyzeRequest(ctx, "Checkout", RequestExecutionMetrics{
			ExecutionTimeMs: 200,
			Failed:          true,
		})
		if err != nil {
			t.Fatalf("AnalyzeRequest() error: %v", err)
		}
		last = rec
	}

	if last.Strategy != pattern.StrategyCircuitBreaker {
		t.Fatalf("All-failing request type must trip the breaker, got %s", last.Strategy)
	}

	preds, _ := e.RecentPredictions(ctx, 10)
	if len(preds) == 0 {
		t.Fatal("Actionable high-confidence decision was not recorded")
	}
	p := preds[0]
	if p.RequestType != "Checkout" {
		t.Errorf("Expected request type Checkout, got %s", p.RequestType)
	}
	if len(p.PredictedStrategies) != 1 || p.PredictedStrategies[0] != string(pattern.StrategyCircuitBreaker) {
		t.Errorf("Expected recorded strategy circuit_breaker, got %v", p.PredictedStrategies)
	}
	if p.ID == "" {
		t.Error("Recorded prediction must carry an ID")
	}
}

func TestAnalyzeRequestEmptyTypeRejected(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.AnalyzeRequest(context.Background(), "", RequestExecutionMetrics{}); err == nil {
		t.Error("Expected error for empty request type")
	}
}

func TestPredictOptimalBatchSizeBounds(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	size, err := e.PredictOptimalBatchSize(ctx, "Bulk", 0)
	if err != nil {
		t.Fatalf("PredictOptimalBatchSize() error: %v", err)
	}
	if size != e.opts.DefaultBatchSize {
		t.Errorf("Cold start should use the default batch size %d, got %d", e.opts.DefaultBatchSize, size)
	}

	// Pending items cap the batch.
	size, _ = e.PredictOptimalBatchSize(ctx, "Bulk", 3)
	if size != 3 {
		t.Errorf("Expected pending items to cap the batch at 3, got %d", size)
	}

	// A slow request type halves the batch.
	for i := 0; i < 5; i++ {
		e.AnalyzeRequest(ctx, "Slow", RequestExecutionMetrics{ExecutionTimeMs: 5000})
	}
	size, _ = e.PredictOptimalBatchSize(ctx, "Slow", 0)
	if size >= e.opts.DefaultBatchSize {
		t.Errorf("Slow handler should get a smaller batch than %d, got %d", e.opts.DefaultBatchSize, size)
	}
	if size < 1 {
		t.Errorf("Batch size must never drop below 1, got %d", size)
	}
}

func TestShouldCacheNoPatterns(t *testing.T) {
	e := newTestEngine(t)
	rec, err := e.ShouldCache(context.Background(), "GetUser", nil)
	if err != nil {
		t.Fatalf("ShouldCache() error: %v", err)
	}
	if rec.ShouldCache {
		t.Error("No observed patterns must yield a no")
	}
}

func TestShouldCacheHotRepeatedReads(t *testing.T) {
	e := newTestEngine(t)
	rec, err := e.ShouldCache(context.Background(), "GetCatalog", []AccessPattern{
		{Key: "catalog:1", AccessCount: 600, RepeatedReads: 540, MeanIntervalMs: 2000},
		{Key: "catalog:2", AccessCount: 200, RepeatedReads: 150, MeanIntervalMs: 5000},
	})
	if err != nil {
		t.Fatalf("ShouldCache() error: %v", err)
	}

	if !rec.ShouldCache {
		t.Fatal("Heavily re-read patterns must yield a yes")
	}
	if rec.ExpectedHitRate < 0.5 {
		t.Errorf("Expected hit rate above 0.5, got %.2f", rec.ExpectedHitRate)
	}
	if rec.TTL < e.opts.MinCacheTTL || rec.TTL > e.opts.MaxCacheTTL {
		t.Errorf("TTL %v outside configured bounds [%v, %v]", rec.TTL, e.opts.MinCacheTTL, e.opts.MaxCacheTTL)
	}
	if rec.Scope != CacheScopeLocal {
		t.Errorf("800 accesses stay local, got %s", rec.Scope)
	}
	if rec.ConfidenceScore <= 0.5 {
		t.Errorf("High-volume observation should score confident, got %.2f", rec.ConfidenceScore)
	}
}

func TestShouldCacheDistributedScopeAndLFU(t *testing.T) {
	e := newTestEngine(t)
	rec, _ := e.ShouldCache(context.Background(), "GetCatalog", []AccessPattern{
		{Key: "hot", AccessCount: 900, RepeatedReads: 800, MeanIntervalMs: 500},
		{Key: "warm", AccessCount: 200, RepeatedReads: 100, MeanIntervalMs: 500},
		{Key: "cold", AccessCount: 100, RepeatedReads: 10, MeanIntervalMs: 500},
	})

	if rec.Scope != CacheScopeDistributed {
		t.Errorf("1200 accesses should go distributed, got %s", rec.Scope)
	}
	if rec.Strategy != "lfu" {
		t.Errorf("Skewed key popularity favors lfu, got %s", rec.Strategy)
	}
}

func TestLearnFromExecutionMovesModelStatistics(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	strategies := []pattern.Strategy{pattern.StrategyCaching}
	e.LearnFromExecution(ctx, "GetUser", strategies, RequestExecutionMetrics{ExecutionTimeMs: 100})
	e.LearnFromExecution(ctx, "GetUser", strategies, RequestExecutionMetrics{ExecutionTimeMs: 100})
	e.LearnFromExecution(ctx, "GetUser", strategies, RequestExecutionMetrics{ExecutionTimeMs: 100, Failed: true})

	stats, err := e.ModelStatistics(ctx)
	if err != nil {
		t.Fatalf("ModelStatistics() error: %v", err)
	}
	if stats.TotalPredictions != 3 {
		t.Errorf("Expected 3 outcomes, got %d", stats.TotalPredictions)
	}
	if stats.CorrectPredictions != 2 {
		t.Errorf("Expected 2 successes, got %d", stats.CorrectPredictions)
	}
}

func TestLearnFromExecutionSlowSuccessIsFailure(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// Not failed, but far above the slow threshold: counts against the model.
	e.LearnFromExecution(ctx, "Slow", nil, RequestExecutionMetrics{ExecutionTimeMs: 50000})

	stats, _ := e.ModelStatistics(ctx)
	if stats.CorrectPredictions != 0 {
		t.Errorf("Slow execution must count as a failed prediction, got %d correct", stats.CorrectPredictions)
	}
}

func TestSetLearningModeFreezesStatistics(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.SetLearningMode(ctx, false); err != nil {
		t.Fatalf("SetLearningMode() error: %v", err)
	}
	e.LearnFromExecution(ctx, "GetUser", nil, RequestExecutionMetrics{ExecutionTimeMs: 100})

	stats, _ := e.ModelStatistics(ctx)
	if stats.TotalPredictions != 0 {
		t.Errorf("Outcomes with learning off must not move the counters, got %d", stats.TotalPredictions)
	}

	e.SetLearningMode(ctx, true)
	e.LearnFromExecution(ctx, "GetUser", nil, RequestExecutionMetrics{ExecutionTimeMs: 100})
	stats, _ = e.ModelStatistics(ctx)
	if stats.TotalPredictions != 1 {
		t.Errorf("Expected counters to move again after re-enabling, got %d", stats.TotalPredictions)
	}
}

func TestGetSystemInsightsEmptyEngine(t *testing.T) {
	e := newTestEngine(t)
	insights, err := e.GetSystemInsights(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("GetSystemInsights() error: %v", err)
	}

	if len(insights.Bottlenecks) != 0 {
		t.Errorf("Empty engine has no bottlenecks, got %d", len(insights.Bottlenecks))
	}
	if insights.HealthScore != 1.0 {
		t.Errorf("Expected perfect health with no data, got %.2f", insights.HealthScore)
	}
	if insights.PerformanceGrade != "A" {
		t.Errorf("Expected grade A, got %s", insights.PerformanceGrade)
	}
}

func TestGetSystemInsightsFlagsSlowRequestType(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		e.AnalyzeRequest(ctx, "Report", RequestExecutionMetrics{ExecutionTimeMs: 3000})
	}

	insights, err := e.GetSystemInsights(ctx, time.Hour)
	if err != nil {
		t.Fatalf("GetSystemInsights() error: %v", err)
	}
	if len(insights.Bottlenecks) == 0 {
		t.Fatal("Expected the slow request type to surface as a bottleneck")
	}

	b := insights.Bottlenecks[0]
	if b.Component != "Report" {
		t.Errorf("Expected component Report, got %s", b.Component)
	}
	// 3000ms against a 1000ms threshold is a 3x overshoot.
	if b.Severity != "critical" {
		t.Errorf("Expected critical severity, got %s", b.Severity)
	}
	if insights.HealthScore >= 1.0 {
		t.Errorf("Health must drop below 1.0 with a bottleneck, got %.2f", insights.HealthScore)
	}
	if insights.PerformanceGrade == "A" {
		t.Error("Grade should fall below A with a critical bottleneck")
	}
}

func TestGetSystemInsightsCachedUntilIngest(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, _ := e.GetSystemInsights(ctx, time.Hour)
	second, _ := e.GetSystemInsights(ctx, time.Hour)
	if first != second {
		t.Error("Back-to-back insight calls should return the cached result")
	}

	e.IngestMetric(ctx, MetricThroughput, 100, time.Now())
	third, _ := e.GetSystemInsights(ctx, time.Hour)
	if first == third {
		t.Error("Ingest must invalidate the cached insights")
	}
}

func TestGradeFromScoreBands(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{1.0, "A"}, {0.9, "A"},
		{0.89, "B"}, {0.8, "B"},
		{0.79, "C"}, {0.7, "C"},
		{0.69, "D"}, {0.6, "D"},
		{0.59, "F"}, {0, "F"},
	}
	for _, c := range cases {
		if got := GradeFromScore(c.score); got != c.want {
			t.Errorf("GradeFromScore(%.2f): expected %s, got %s", c.score, c.want, got)
		}
	}
}

func TestGetLoadPatternAnalysis(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// High CPU snapshot drives the observed level up.
	e.RecordSystemLoad(ctx, SystemLoadMetrics{
		CPUUtilization:      0.9,
		ThroughputPerSecond: 120,
	})
	e.LearnFromExecution(ctx, "GetUser", []pattern.Strategy{pattern.StrategyCaching},
		RequestExecutionMetrics{ExecutionTimeMs: 100})

	data, err := e.GetLoadPatternAnalysis(ctx)
	if err != nil {
		t.Fatalf("GetLoadPatternAnalysis() error: %v", err)
	}
	if data.Level.String() != "high" {
		t.Errorf("Expected high observed load to win the merge, got %s", data.Level)
	}
	if data.StrategyEffectiveness == nil {
		t.Error("Effectiveness map must be non-nil")
	}
	if _, ok := data.StrategyEffectiveness["caching"]; !ok {
		t.Error("Applied strategy missing from effectiveness map")
	}
	if data.TotalPredictions != 1 {
		t.Errorf("Expected 1 recorded outcome, got %d", data.TotalPredictions)
	}
}

func TestRecordSystemLoadStoresAllSeries(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.RecordSystemLoad(ctx, SystemLoadMetrics{
		CPUUtilization:      0.5,
		MemoryUtilization:   0.4,
		ThroughputPerSecond: 80,
		AvgResponseTimeMs:   120,
		ErrorRate:           0.01,
	})
	if err != nil {
		t.Fatalf("RecordSystemLoad() error: %v", err)
	}

	for _, name := range []string{MetricCPU, MetricMemory, MetricThroughput, MetricAvgResponse, MetricErrorRate} {
		if e.store.Len(name) != 1 {
			t.Errorf("Series %s: expected 1 sample, got %d", name, e.store.Len(name))
		}
	}
}

func TestStatisticsThroughEngine(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		e.IngestMetric(ctx, "latency", float64(i*10), time.Now())
	}

	st, err := e.Statistics(ctx, "latency", 0)
	if err != nil {
		t.Fatalf("Statistics() error: %v", err)
	}
	if st == nil || st.Mean != 30 {
		t.Errorf("Expected mean 30, got %+v", st)
	}

	st, err = e.Statistics(ctx, "missing", 0)
	if err != nil {
		t.Fatalf("Statistics() on unknown metric error: %v", err)
	}
	if st != nil {
		t.Errorf("Unknown metric yields nil statistics, got %+v", st)
	}
}

func TestForecastUntrainedMetricNil(t *testing.T) {
	e := newTestEngine(t)
	result, err := e.Forecast(context.Background(), "m", 5)
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}
	if result != nil {
		t.Errorf("Untrained metric must forecast nil, got %+v", result)
	}
}

func TestCloseClearsStore(t *testing.T) {
	e := New(quietOptions(), nil, nil, nil)
	ctx := context.Background()
	e.IngestMetric(ctx, "m", 1, time.Now())

	store := e.store
	e.Close()
	if store.Len("m") != 0 {
		t.Error("Close must clear the time-series store")
	}
}
