package stats

import (
	"math"
	"sort"
	"time"

	"github.com/pipetune/pipetune/internal/timeseries"
)

// Statistics holds the descriptive statistics of one metric window.
type Statistics struct {
	MetricName string  `json:"metric_name"`
	Count      int     `json:"count"`
	Mean       float64 `json:"mean"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Median     float64 `json:"median"`
	StdDev     float64 `json:"std_dev"`
	P95        float64 `json:"p95"`
	P99        float64 `json:"p99"`
}

// Service computes descriptive statistics over store snapshots.
type Service struct {
	store *timeseries.Store
}

// NewService creates a statistics service over the given store.
func NewService(store *timeseries.Store) *Service {
	return &Service{store: store}
}

// Compute returns statistics for the full history of a metric, or nil when
// the metric has no samples.
func (s *Service) Compute(name string) *Statistics {
	return fromSamples(name, s.store.FullHistory(name))
}

// ComputeWindow returns statistics over the trailing lookback window, or nil
// when the window holds no samples. A zero lookback always yields nil.
func (s *Service) ComputeWindow(name string, lookback time.Duration) *Statistics {
	return fromSamples(name, s.store.History(name, lookback))
}

func fromSamples(name string, samples []timeseries.MetricSample) *Statistics {
	if len(samples) == 0 {
		return nil
	}
	values := make([]float64, len(samples))
	for i, sm := range samples {
		values[i] = sm.Value
	}
	return Compute(name, values)
}

// Compute calculates statistics over raw values. Returns nil for an empty set.
func Compute(name string, values []float64) *Statistics {
	n := len(values)
	if n == 0 {
		return nil
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(n)

	return &Statistics{
		MetricName: name,
		Count:      n,
		Mean:       mean,
		Min:        sorted[0],
		Max:        sorted[n-1],
		Median:     Percentile(sorted, 50),
		StdDev:     math.Sqrt(variance),
		P95:        Percentile(sorted, 95),
		P99:        Percentile(sorted, 99),
	}
}

// Percentile returns the nearest-rank percentile of sorted data:
// index = round(n*p/100), 1-based, clamped to [1, n].
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Round(float64(n) * p / 100.0))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

// Mean returns the arithmetic mean of values (0 for an empty set).
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}
