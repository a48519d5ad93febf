package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pipetune/pipetune/internal/anomaly"
	"github.com/pipetune/pipetune/internal/cache"
	"github.com/pipetune/pipetune/internal/config"
	"github.com/pipetune/pipetune/internal/db"
	"github.com/pipetune/pipetune/internal/forecasting"
	"github.com/pipetune/pipetune/internal/learning"
	"github.com/pipetune/pipetune/internal/loadpattern"
	"github.com/pipetune/pipetune/internal/metrics"
	"github.com/pipetune/pipetune/internal/pattern"
	"github.com/pipetune/pipetune/internal/seasonal"
	"github.com/pipetune/pipetune/internal/stats"
	"github.com/pipetune/pipetune/internal/timeseries"
)

// Package engine is the optimization engine facade. It owns the time-series
// store and every analytic service, runs the two background loops (metrics
// collection and model retraining) and exposes the decision API the pipeline
// calls.
//
// Lifecycle is one-way: Active until Close, then Closed forever. Every public
// method checks the closed flag before touching any state and returns
// ErrEngineClosed afterwards; background loop failures are logged and counted,
// never fatal.

// ErrEngineClosed is returned by every public method after Close.
var ErrEngineClosed = errors.New("optimization engine is closed")

// maxRecordedPredictions bounds the in-memory prediction queue.
const maxRecordedPredictions = 500

// Options carries the engine's tunables. Zero values fall back to the same
// defaults the configuration layer ships.
type Options struct {
	MinConfidenceScore           float64
	DefaultBatchSize             int
	MaxBatchSize                 int
	ModelUpdateInterval          time.Duration
	MetricsCollectionInterval    time.Duration
	HighExecutionTimeThresholdMs float64
	MinCacheTTL                  time.Duration
	MaxCacheTTL                  time.Duration
	MaxHistorySize               int
	ForecastHorizon              int
	ForecastingMethod            forecasting.Method
	SeasonalSeriesKey            string
	LearningEnabled              bool
}

// OptionsFromConfig maps the validated engine configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	method, _ := forecasting.ParseMethod(cfg.Engine.ForecastingMethod)
	return Options{
		MinConfidenceScore:           cfg.Engine.MinConfidenceScore,
		DefaultBatchSize:             cfg.Engine.DefaultBatchSize,
		MaxBatchSize:                 cfg.Engine.MaxBatchSize,
		ModelUpdateInterval:          time.Duration(cfg.Engine.ModelUpdateIntervalSeconds) * time.Second,
		MetricsCollectionInterval:    time.Duration(cfg.Engine.MetricsCollectionIntervalSeconds) * time.Second,
		HighExecutionTimeThresholdMs: cfg.Engine.HighExecutionTimeThresholdMs,
		MinCacheTTL:                  time.Duration(cfg.Engine.MinCacheTTLSeconds) * time.Second,
		MaxCacheTTL:                  time.Duration(cfg.Engine.MaxCacheTTLSeconds) * time.Second,
		MaxHistorySize:               cfg.Engine.MaxHistorySize,
		ForecastHorizon:              cfg.Engine.ForecastHorizon,
		ForecastingMethod:            method,
		SeasonalSeriesKey:            cfg.Engine.SeasonalSeriesKey,
		LearningEnabled:              cfg.Engine.LearningEnabled,
	}
}

func (o Options) withDefaults() Options {
	d := config.DefaultConfig()
	if o.MinConfidenceScore <= 0 || o.MinConfidenceScore > 1 {
		o.MinConfidenceScore = d.Engine.MinConfidenceScore
	}
	if o.DefaultBatchSize < 1 {
		o.DefaultBatchSize = d.Engine.DefaultBatchSize
	}
	if o.MaxBatchSize < o.DefaultBatchSize {
		o.MaxBatchSize = d.Engine.MaxBatchSize
		if o.MaxBatchSize < o.DefaultBatchSize {
			o.MaxBatchSize = o.DefaultBatchSize
		}
	}
	if o.ModelUpdateInterval <= 0 {
		o.ModelUpdateInterval = time.Duration(d.Engine.ModelUpdateIntervalSeconds) * time.Second
	}
	if o.MetricsCollectionInterval <= 0 {
		o.MetricsCollectionInterval = time.Duration(d.Engine.MetricsCollectionIntervalSeconds) * time.Second
	}
	if o.HighExecutionTimeThresholdMs <= 0 {
		o.HighExecutionTimeThresholdMs = d.Engine.HighExecutionTimeThresholdMs
	}
	if o.MinCacheTTL <= 0 {
		o.MinCacheTTL = time.Duration(d.Engine.MinCacheTTLSeconds) * time.Second
	}
	if o.MaxCacheTTL < o.MinCacheTTL {
		o.MaxCacheTTL = time.Duration(d.Engine.MaxCacheTTLSeconds) * time.Second
		if o.MaxCacheTTL < o.MinCacheTTL {
			o.MaxCacheTTL = o.MinCacheTTL
		}
	}
	if o.MaxHistorySize < 1 || o.MaxHistorySize > 1000000 {
		o.MaxHistorySize = d.Engine.MaxHistorySize
	}
	if o.ForecastHorizon < 1 || o.ForecastHorizon > 1000 {
		o.ForecastHorizon = d.Engine.ForecastHorizon
	}
	if o.ForecastingMethod == "" {
		o.ForecastingMethod = forecasting.MethodExponentialSmoothing
	}
	if o.SeasonalSeriesKey == "" {
		o.SeasonalSeriesKey = seasonal.DefaultSeriesKey
	}
	return o
}

// Engine is the optimization engine. Construct with New, release with Close.
type Engine struct {
	opts   Options
	logger *zap.Logger

	store       *timeseries.Store
	statistics  *stats.Service
	forecaster  *forecasting.Service
	anomalies   *anomaly.Detector
	seasonality *seasonal.Detector
	analyzer    *pattern.Analyzer
	adjuster    *learning.Adjuster
	results     *cache.Cache

	source      MetricsSource // optional, polled by the collection loop
	persistence db.Store      // optional, nil runs fully in-memory

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	stopCh    chan struct{}
	wg        sync.WaitGroup

	mu              sync.Mutex
	learningEnabled bool
	lastLoad        *SystemLoadMetrics
	predictions     []PredictionResult
	effSum          map[string]float64
	effCount        map[string]int
}

// New constructs the engine and starts its background loops. source and
// persistence may be nil; the collection loop idles without a source and
// decisions stay in-memory without persistence.
func New(opts Options, logger *zap.Logger, source MetricsSource, persistence db.Store) *Engine {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	store := timeseries.NewStore(opts.MaxHistorySize)
	e := &Engine{
		opts:            opts,
		logger:          logger,
		store:           store,
		statistics:      stats.NewService(store),
		forecaster:      forecasting.NewService(store, logger, opts.ForecastingMethod, opts.ForecastHorizon),
		anomalies:       anomaly.NewDetector(store, logger),
		seasonality:     seasonal.NewDetector(store, opts.SeasonalSeriesKey, logger),
		analyzer:        pattern.NewAnalyzer(),
		adjuster:        learning.NewAdjuster(),
		results:         cache.New(opts.MinCacheTTL),
		source:          source,
		persistence:     persistence,
		stopCh:          make(chan struct{}),
		learningEnabled: opts.LearningEnabled,
		effSum:          make(map[string]float64),
		effCount:        make(map[string]int),
	}

	e.wg.Add(2)
	go e.collectLoop()
	go e.retrainLoop()

	logger.Info("optimization engine started",
		zap.Duration("collection_interval", opts.MetricsCollectionInterval),
		zap.Duration("retrain_interval", opts.ModelUpdateInterval),
		zap.String("forecasting_method", string(opts.ForecastingMethod)),
		zap.Bool("learning_enabled", opts.LearningEnabled))
	return e
}

// guard rejects calls on a closed engine or an already-cancelled context,
// before any work is done.
func (e *Engine) guard(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the background loops, clears the store and releases the
// persistence layer. Idempotent; concurrent in-flight calls observe
// ErrEngineClosed on their next engine call.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.stopCh)
		e.wg.Wait()

		e.store.Clear()
		e.results.Clear()

		if e.persistence != nil {
			if err := e.persistence.Close(); err != nil {
				e.logger.Warn("closing persistence failed", zap.Error(err))
				e.closeErr = err
			}
		}
		e.logger.Info("optimization engine closed")
	})
	return e.closeErr
}

// collectLoop polls the metrics source on the collection interval.
func (e *Engine) collectLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.MetricsCollectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.collectOnce(context.Background())
		}
	}
}

// collectOnce performs a single source poll. Failures are counted and logged.
func (e *Engine) collectOnce(ctx context.Context) {
	if e.source == nil {
		return
	}
	load, err := e.source.Collect(ctx)
	if err != nil {
		metrics.CollectionErrorsTotal.Inc()
		e.logger.Warn("metrics collection failed", zap.Error(err))
		return
	}
	if load == nil {
		metrics.CollectionErrorsTotal.Inc()
		e.logger.Warn("metrics source returned no snapshot")
		return
	}
	e.ingestLoad(*load)
}

// retrainLoop retrains all forecast models on the model-update interval.
func (e *Engine) retrainLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.ModelUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.retrainOnce()
		}
	}
}

func (e *Engine) retrainOnce() {
	start := time.Now()
	e.forecaster.TrainAll()
	metrics.ModelTrainingDuration.Observe(time.Since(start).Seconds())
	metrics.ModelAccuracy.Set(e.adjuster.Statistics().AccuracyScore)

	if patterns := e.seasonality.Detect(); len(patterns) > 0 {
		e.logger.Info("seasonal patterns present",
			zap.Int("count", len(patterns)),
			zap.Int("strongest_period_hours", patterns[0].PeriodHours))
	}
	e.logger.Debug("forecast models retrained",
		zap.Duration("took", time.Since(start)))
}

// ingestLoad stores one load snapshot across the well-known series and
// refreshes the cached last snapshot.
func (e *Engine) ingestLoad(load SystemLoadMetrics) {
	ts := load.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	values := map[string]float64{
		MetricCPU:         load.CPUUtilization,
		MetricMemory:      load.MemoryUtilization,
		MetricThroughput:  load.ThroughputPerSecond,
		MetricAvgResponse: load.AvgResponseTimeMs,
		MetricErrorRate:   load.ErrorRate,
	}

	mas := make(map[string]float64, len(values))
	trends := make(map[string]timeseries.TrendDirection, len(values))
	for name, v := range values {
		recent := e.store.Recent(name, 4)
		mas[name] = movingAverage(recent, v)
		trends[name] = trendOf(recent, v)
	}

	if err := e.store.StoreBatch(values, ts, mas, trends); err != nil {
		e.logger.Warn("storing load snapshot failed", zap.Error(err))
		return
	}
	for name := range values {
		metrics.SamplesStoredTotal.WithLabelValues(name).Inc()
	}

	e.mu.Lock()
	e.lastLoad = &load
	e.mu.Unlock()

	// Derived views are stale now.
	e.results.Clear()
}

// RecordSystemLoad ingests a load snapshot pushed by the caller, bypassing the
// polling loop. Both paths may be active at once.
func (e *Engine) RecordSystemLoad(ctx context.Context, load SystemLoadMetrics) error {
	if err := e.guard(ctx); err != nil {
		return err
	}
	e.ingestLoad(load)
	return nil
}

// IngestMetric stores a single raw sample for an arbitrary metric series.
func (e *Engine) IngestMetric(ctx context.Context, name string, value float64, ts time.Time) error {
	if err := e.guard(ctx); err != nil {
		return err
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	recent := e.store.Recent(name, 4)
	ma := movingAverage(recent, value)
	if err := e.store.Store(name, value, ts, timeseries.SampleOptions{
		MA5:   &ma,
		Trend: trendOf(recent, value),
	}); err != nil {
		return err
	}
	metrics.SamplesStoredTotal.WithLabelValues(name).Inc()
	e.results.Clear()
	return nil
}

// Statistics returns descriptive statistics for a metric. A zero window means
// full history; no samples yields nil, not an error.
func (e *Engine) Statistics(ctx context.Context, name string, window time.Duration) (*stats.Statistics, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	if window <= 0 {
		return e.statistics.Compute(name), nil
	}
	return e.statistics.ComputeWindow(name, window), nil
}

// Forecast evaluates the metric's trained model. An untrained metric yields
// nil, not an error.
func (e *Engine) Forecast(ctx context.Context, name string, horizon int) (*forecasting.Result, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	return e.forecaster.Forecast(name, horizon), nil
}

// TrainForecastModel trains the metric's model immediately, outside the
// retraining loop.
func (e *Engine) TrainForecastModel(ctx context.Context, name string) error {
	if err := e.guard(ctx); err != nil {
		return err
	}
	e.forecaster.Train(name)
	return nil
}

// DetectAnomalies scans a metric's recent samples for statistical outliers.
func (e *Engine) DetectAnomalies(ctx context.Context, name string, lookbackPoints int) ([]anomaly.Anomaly, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	found := e.anomalies.Detect(name, lookbackPoints)
	for _, a := range found {
		metrics.AnomaliesDetectedTotal.WithLabelValues(a.MetricName, string(a.Severity)).Inc()
	}
	return found, nil
}

// SeasonalPatterns scans the configured series for recurring periods.
func (e *Engine) SeasonalPatterns(ctx context.Context) ([]seasonal.Pattern, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	return e.seasonality.Detect(), nil
}

// SetLearningMode toggles the feedback loop. Outcomes reported while learning
// is off are persisted but do not move the model statistics.
func (e *Engine) SetLearningMode(ctx context.Context, enabled bool) error {
	if err := e.guard(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.learningEnabled = enabled
	e.mu.Unlock()
	e.logger.Info("learning mode changed", zap.Bool("enabled", enabled))
	return nil
}

// ModelStatistics returns a snapshot of the learning loop's running counters.
func (e *Engine) ModelStatistics(ctx context.Context) (learning.ModelStatistics, error) {
	if err := e.guard(ctx); err != nil {
		return learning.ModelStatistics{}, err
	}
	return e.adjuster.Statistics(), nil
}

// RecentPredictions returns the most recent recorded decisions, newest first.
func (e *Engine) RecentPredictions(ctx context.Context, limit int) ([]PredictionResult, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.predictions)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]PredictionResult, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.predictions[i])
	}
	return out, nil
}

// CacheStats reports the derived-result cache counters.
func (e *Engine) CacheStats(ctx context.Context) (cache.Stats, error) {
	if err := e.guard(ctx); err != nil {
		return cache.Stats{}, err
	}
	return e.results.GetStats(), nil
}

// GetLoadPatternAnalysis merges the system-observed load assessment with the
// prediction-derived one.
func (e *Engine) GetLoadPatternAnalysis(ctx context.Context) (*loadpattern.Data, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	merged := loadpattern.Merge(e.observedLoadData(), e.predictiveLoadData())
	return &merged, nil
}

// observedLoadData derives the load assessment from the latest system snapshot
// and the recorded decision history.
func (e *Engine) observedLoadData() loadpattern.Data {
	modelStats := e.adjuster.Statistics()

	e.mu.Lock()
	level := loadpattern.LevelLow
	if e.lastLoad != nil {
		switch {
		case e.lastLoad.CPUUtilization > 0.8 || e.lastLoad.ErrorRate > 0.05:
			level = loadpattern.LevelHigh
		case e.lastLoad.CPUUtilization > 0.5:
			level = loadpattern.LevelMedium
		}
	}

	preds := make([]loadpattern.Prediction, len(e.predictions))
	for i, p := range e.predictions {
		preds[i] = loadpattern.Prediction{
			RequestType: p.RequestType,
			Strategies:  p.PredictedStrategies,
			Timestamp:   p.Timestamp,
		}
	}

	eff := make(map[string]float64, len(e.effSum))
	var effTotal float64
	for k, sum := range e.effSum {
		avg := sum / float64(e.effCount[k])
		eff[k] = avg
		effTotal += avg
	}
	var avgImprovement float64
	if len(eff) > 0 {
		avgImprovement = effTotal / float64(len(eff))
	}
	e.mu.Unlock()

	return loadpattern.Data{
		Level:                 level,
		Predictions:           preds,
		SuccessRate:           modelStats.AccuracyScore,
		AverageImprovement:    avgImprovement,
		TotalPredictions:      int(modelStats.TotalPredictions),
		StrategyEffectiveness: eff,
	}
}

// predictiveLoadData derives the load assessment from the throughput forecast.
// Without a trained model it contributes a neutral low-load view.
func (e *Engine) predictiveLoadData() loadpattern.Data {
	data := loadpattern.Data{
		Level:                 loadpattern.LevelLow,
		StrategyEffectiveness: map[string]float64{},
	}

	fc := e.forecaster.Forecast(MetricThroughput, e.opts.ForecastHorizon)
	if fc == nil || len(fc.Values) == 0 {
		return data
	}

	recent := e.store.Recent(MetricThroughput, len(fc.Values))
	var recentMean float64
	if len(recent) > 0 {
		for _, s := range recent {
			recentMean += s.Value
		}
		recentMean /= float64(len(recent))
	}

	var forecastMean float64
	for _, v := range fc.Values {
		forecastMean += v
	}
	forecastMean /= float64(len(fc.Values))

	if recentMean > 0 {
		switch ratio := forecastMean / recentMean; {
		case ratio > 1.25:
			data.Level = loadpattern.LevelHigh
		case ratio > 1.0:
			data.Level = loadpattern.LevelMedium
		}
	}
	data.SuccessRate = fc.Confidence
	return data
}
