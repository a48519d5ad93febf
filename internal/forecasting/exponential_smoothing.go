package forecasting

import "math"

// Default Holt smoothing factors. Level reacts fairly quickly, trend slowly,
// which suits noisy per-request execution metrics.
const (
	defaultAlpha = 0.3
	defaultBeta  = 0.1
)

// exponentialSmoothing implements Holt double exponential smoothing
// (level + trend, no seasonal component).
type exponentialSmoothing struct {
	alpha  float64
	beta   float64
	level  float64
	trend  float64
	stdErr float64
	fitted bool
}

func newExponentialSmoothing() *exponentialSmoothing {
	return &exponentialSmoothing{alpha: defaultAlpha, beta: defaultBeta}
}

func (es *exponentialSmoothing) Fit(data []float64) error {
	if len(data) < 2 {
		return errInsufficientData
	}

	level := data[0]
	trend := data[1] - data[0]

	var residualSq float64
	for t := 1; t < len(data); t++ {
		predicted := level + trend
		v := data[t]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			// NaN/Inf samples are carried by the store but would poison the
			// smoothed state; treat them as the one-step prediction.
			v = predicted
		}
		newLevel := es.alpha*v + (1-es.alpha)*(level+trend)
		newTrend := es.beta*(newLevel-level) + (1-es.beta)*trend
		level = newLevel
		trend = newTrend
		residualSq += (v - predicted) * (v - predicted)
	}

	es.level = level
	es.trend = trend
	es.stdErr = math.Sqrt(residualSq / float64(len(data)-1))
	es.fitted = true
	return nil
}

func (es *exponentialSmoothing) Forecast(steps int) []float64 {
	if !es.fitted || steps <= 0 {
		return nil
	}
	out := make([]float64, steps)
	for i := 0; i < steps; i++ {
		out[i] = es.level + float64(i+1)*es.trend
	}
	return out
}

func (es *exponentialSmoothing) StdError() float64 {
	return es.stdErr
}
