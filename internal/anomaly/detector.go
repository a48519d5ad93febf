package anomaly

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/pipetune/pipetune/internal/timeseries"
)

// Package anomaly flags recent samples whose deviation from the metric's
// rolling baseline exceeds a z-score threshold. NaN and extreme values are
// data, not faults: NaN points are skipped in the baseline and never abort a
// scan.

// Severity buckets a deviation magnitude relative to the threshold.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Anomaly is one flagged sample.
type Anomaly struct {
	MetricName string    `json:"metric_name"`
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
	Expected   float64   `json:"expected"`
	ZScore     float64   `json:"z_score"`
	Severity   Severity  `json:"severity"`
}

const (
	// zScoreThreshold is the deviation (in standard deviations from the
	// rolling baseline) beyond which a point is flagged.
	zScoreThreshold = 3.0

	// baselineWindow is how many preceding points form the rolling baseline.
	baselineWindow = 20

	minScanPoints = 3
)

// Detector scans store history for statistical outliers.
type Detector struct {
	store  *timeseries.Store
	logger *zap.Logger
}

// NewDetector creates a detector over the given store.
func NewDetector(store *timeseries.Store, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{store: store, logger: logger}
}

// Detect scans the most recent lookbackPoints samples of a metric. Any
// non-positive or oversized lookback is clamped to the available history.
// Returns an empty slice when there is too little data to form a baseline.
func (d *Detector) Detect(name string, lookbackPoints int) []Anomaly {
	available := d.store.Len(name)
	if lookbackPoints <= 0 || lookbackPoints > available {
		lookbackPoints = available
	}
	samples := d.store.Recent(name, lookbackPoints)
	if len(samples) < minScanPoints {
		return []Anomaly{}
	}

	anomalies := make([]Anomaly, 0)
	for i := range samples {
		v := samples[i].Value
		if math.IsNaN(v) {
			continue
		}

		mean, stdDev, n := rollingBaseline(samples, i)
		if n < minScanPoints-1 || stdDev == 0 || math.IsNaN(stdDev) || math.IsInf(stdDev, 0) {
			continue
		}

		z := (v - mean) / stdDev
		if math.IsNaN(z) || math.IsInf(z, 0) {
			continue
		}
		if math.Abs(z) > zScoreThreshold {
			anomalies = append(anomalies, Anomaly{
				MetricName: name,
				Timestamp:  samples[i].Timestamp,
				Value:      v,
				Expected:   mean,
				ZScore:     z,
				Severity:   severityOf(math.Abs(z)),
			})
		}
	}

	if len(anomalies) > 0 {
		d.logger.Debug("anomalies detected",
			zap.String("metric", name),
			zap.Int("count", len(anomalies)))
	}
	return anomalies
}

// rollingBaseline computes mean and population stddev of the finite values in
// the window of points preceding index i (falling back to the surrounding
// window at the start of the scan). NaN and Inf values are skipped.
func rollingBaseline(samples []timeseries.MetricSample, i int) (mean, stdDev float64, n int) {
	start := i - baselineWindow
	if start < 0 {
		start = 0
	}
	end := i
	if end-start < minScanPoints {
		// Too few predecessors: use the leading window excluding the point.
		end = start + baselineWindow
		if end > len(samples) {
			end = len(samples)
		}
	}

	var sum float64
	for j := start; j < end; j++ {
		if j == i {
			continue
		}
		v := samples[j].Value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, 0, 0
	}
	mean = sum / float64(n)

	var variance float64
	for j := start; j < end; j++ {
		if j == i {
			continue
		}
		v := samples[j].Value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		variance += (v - mean) * (v - mean)
	}
	stdDev = math.Sqrt(variance / float64(n))
	return mean, stdDev, n
}

func severityOf(absZ float64) Severity {
	ratio := absZ / zScoreThreshold
	switch {
	case ratio > 2.0:
		return SeverityCritical
	case ratio > 1.5:
		return SeverityHigh
	case ratio > 1.0:
		return SeverityMedium
	}
	return SeverityLow
}
