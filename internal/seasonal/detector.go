package seasonal

import (
	"math"

	"go.uber.org/zap"

	"github.com/pipetune/pipetune/internal/timeseries"
)

// Package seasonal detects recurring hourly periods in a metric series by
// scanning candidate lags with autocorrelation. The detector holds no state
// across calls; every scan reads the store fresh and the most recent scan
// wins.

// DefaultSeriesKey is the metric scanned for seasonality unless configured
// otherwise.
const DefaultSeriesKey = "throughput_per_second"

// MinHourlySamples is the minimum series length before any scan is attempted.
const MinHourlySamples = 24

// strengthThreshold gates which candidate periods are surfaced.
const strengthThreshold = 0.7

// Pattern is one surviving seasonal period.
type Pattern struct {
	// PeriodHours is the candidate lag, in hours.
	PeriodHours int `json:"period_hours"`
	// Strength is the autocorrelation coefficient at that lag, in [-1, 1].
	Strength float64 `json:"strength"`
	// Type is the classification bucket of the period.
	Type string `json:"type"`
}

// Detector scans a configured metric series for seasonal periods.
type Detector struct {
	store     *timeseries.Store
	seriesKey string
	logger    *zap.Logger
}

// NewDetector creates a detector reading the given series key (empty key
// falls back to DefaultSeriesKey).
func NewDetector(store *timeseries.Store, seriesKey string, logger *zap.Logger) *Detector {
	if seriesKey == "" {
		seriesKey = DefaultSeriesKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{store: store, seriesKey: seriesKey, logger: logger}
}

// Detect scans candidate period lengths up to half the available history and
// returns every period whose autocorrelation is strictly above 0.7. With
// fewer than 24 hourly samples it returns an empty slice, not an error.
func (d *Detector) Detect() []Pattern {
	samples := d.store.FullHistory(d.seriesKey)
	if len(samples) < MinHourlySamples {
		return []Pattern{}
	}

	series := make([]float64, len(samples))
	for i, s := range samples {
		series[i] = s.Value
	}

	patterns := make([]Pattern, 0)
	maxPeriod := len(series) / 2
	for period := 1; period <= maxPeriod; period++ {
		strength := Autocorrelation(series, period)
		if strength > strengthThreshold {
			patterns = append(patterns, Pattern{
				PeriodHours: period,
				Strength:    strength,
				Type:        ClassifyPeriod(period),
			})
		}
	}

	if len(patterns) > 0 {
		d.logger.Debug("seasonal patterns detected",
			zap.String("metric", d.seriesKey),
			zap.Int("count", len(patterns)))
	}
	return patterns
}

// Autocorrelation computes the Pearson correlation between the series and a
// lagged copy of itself. A series shorter than twice the lag has no support
// and scores 0; a constant series is perfectly self-similar and scores 1.
func Autocorrelation(series []float64, lag int) float64 {
	n := len(series)
	if lag <= 0 || n < 2*lag {
		return 0
	}

	if isConstant(series) {
		return 1.0
	}

	m := n - lag
	var meanA, meanB float64
	for i := 0; i < m; i++ {
		meanA += series[i]
		meanB += series[i+lag]
	}
	meanA /= float64(m)
	meanB /= float64(m)

	var cov, varA, varB float64
	for i := 0; i < m; i++ {
		da := series[i] - meanA
		db := series[i+lag] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

func isConstant(series []float64) bool {
	for i := 1; i < len(series); i++ {
		if series[i] != series[0] {
			return false
		}
	}
	return true
}

// ClassifyPeriod maps a period length in hours onto its seasonal bucket.
func ClassifyPeriod(hours int) string {
	switch {
	case hours <= 11:
		return "Intraday"
	case hours <= 35:
		return "Daily"
	case hours <= 99:
		return "Semi-weekly"
	case hours <= 199:
		return "Weekly"
	case hours <= 399:
		return "Bi-weekly"
	default:
		return "Monthly"
	}
}
