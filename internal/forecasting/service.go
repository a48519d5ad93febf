package forecasting

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pipetune/pipetune/internal/timeseries"
)

// Package forecasting trains and evaluates one forecasting model per metric.
// The strategy is pluggable per metric from a small closed set; training
// requires a minimum sample count and an untrained metric simply yields no
// forecast rather than an error, so cold-start callers need no special casing.

// Method selects the forecasting strategy for a metric.
type Method string

const (
	MethodExponentialSmoothing Method = "exponential_smoothing"
	MethodSSA                  Method = "ssa"
)

// ParseMethod validates a configured method name.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodExponentialSmoothing, MethodSSA:
		return Method(s), nil
	default:
		return "", fmt.Errorf("unknown forecasting method %q", s)
	}
}

// MinTrainingSamples is the minimum history length required to train a model.
const MinTrainingSamples = 10

var (
	errInsufficientData = errors.New("insufficient data points for model")
	errDegenerateModel  = errors.New("degenerate model state")
)

// model is the closed strategy set shared by all methods.
type model interface {
	Fit(data []float64) error
	Forecast(steps int) []float64
	StdError() float64
}

// Result is one forecast evaluation. Ephemeral, derived on demand.
type Result struct {
	MetricName  string    `json:"metric_name"`
	Method      Method    `json:"method"`
	Values      []float64 `json:"values"`
	StdError    float64   `json:"std_error"`
	Confidence  float64   `json:"confidence"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Service owns per-metric forecasting state.
type Service struct {
	store          *timeseries.Store
	logger         *zap.Logger
	defaultMethod  Method
	defaultHorizon int

	mu      sync.RWMutex
	methods map[string]Method
	models  map[string]model
}

// NewService creates a forecasting service. defaultHorizon bounds Forecast
// calls that pass no explicit horizon.
func NewService(store *timeseries.Store, logger *zap.Logger, defaultMethod Method, defaultHorizon int) *Service {
	if defaultMethod == "" {
		defaultMethod = MethodExponentialSmoothing
	}
	if defaultHorizon < 1 || defaultHorizon > 1000 {
		defaultHorizon = 12
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:          store,
		logger:         logger,
		defaultMethod:  defaultMethod,
		defaultHorizon: defaultHorizon,
		methods:        make(map[string]Method),
		models:         make(map[string]model),
	}
}

// Method reports the strategy selected for a metric.
func (s *Service) Method(name string) Method {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.methods[name]; ok {
		return m
	}
	return s.defaultMethod
}

// SetMethod selects the strategy for a metric. The existing trained model is
// discarded so the next Train call fits the new strategy.
func (s *Service) SetMethod(name string, m Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[name] = m
	delete(s.models, name)
}

// Trained reports whether a metric currently has a fitted model.
func (s *Service) Trained(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.models[name]
	return ok
}

func (s *Service) newModel(m Method) model {
	if m == MethodSSA {
		return newSSA()
	}
	return newExponentialSmoothing()
}

// Train fits the metric's model from its stored history. With fewer than
// MinTrainingSamples points the metric is left untrained and an error is
// logged; the call itself never fails the caller.
func (s *Service) Train(name string) {
	samples := s.store.FullHistory(name)
	if len(samples) < MinTrainingSamples {
		s.logger.Error("not enough history to train forecast model",
			zap.String("metric", name),
			zap.Int("samples", len(samples)),
			zap.Int("required", MinTrainingSamples))
		return
	}

	values := make([]float64, len(samples))
	for i, sm := range samples {
		values[i] = sm.Value
	}

	method := s.Method(name)
	mdl := s.newModel(method)
	if err := mdl.Fit(values); err != nil {
		s.logger.Error("forecast model training failed",
			zap.String("metric", name),
			zap.String("method", string(method)),
			zap.Error(err))
		return
	}

	s.mu.Lock()
	s.models[name] = mdl
	s.mu.Unlock()

	s.logger.Debug("forecast model trained",
		zap.String("metric", name),
		zap.String("method", string(method)),
		zap.Int("samples", len(values)))
}

// TrainAll retrains every metric currently present in the store. Metrics with
// insufficient history are skipped by Train.
func (s *Service) TrainAll() {
	for _, name := range s.store.MetricNames() {
		s.Train(name)
	}
}

// Forecast evaluates the metric's trained model horizon steps ahead. An
// untrained metric yields nil, not an error. A non-positive horizon falls back
// to the service default; horizons above 1000 are clamped.
func (s *Service) Forecast(name string, horizon int) *Result {
	if horizon <= 0 {
		horizon = s.defaultHorizon
	}
	if horizon > 1000 {
		horizon = 1000
	}

	s.mu.RLock()
	mdl, ok := s.models[name]
	method := s.defaultMethod
	if m, has := s.methods[name]; has {
		method = m
	}
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	values := mdl.Forecast(horizon)
	if len(values) == 0 {
		return nil
	}

	return &Result{
		MetricName:  name,
		Method:      method,
		Values:      values,
		StdError:    mdl.StdError(),
		Confidence:  confidenceFromStdError(mdl.StdError(), values),
		GeneratedAt: time.Now(),
	}
}

// confidenceFromStdError maps fit error relative to forecast magnitude onto
// [0.1, 0.95]: a tight fit scores high, a noisy one low.
func confidenceFromStdError(stdErr float64, values []float64) float64 {
	var magnitude float64
	for _, v := range values {
		if av := math.Abs(v); av > magnitude {
			magnitude = av
		}
	}
	if magnitude == 0 || math.IsNaN(stdErr) || math.IsInf(stdErr, 0) {
		return 0.5
	}
	ratio := stdErr / magnitude
	conf := 0.95 - ratio
	if conf < 0.1 {
		conf = 0.1
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}
