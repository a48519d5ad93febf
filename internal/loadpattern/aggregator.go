package loadpattern

import "time"

// Package loadpattern merges two independently-sourced load assessments, one
// observed from current system metrics, one derived from time-series
// predictions, into a single view. The merge is pure and deterministic.

// Level is the coarse load classification, ordered by severity.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelHigh:
		return "high"
	case LevelMedium:
		return "medium"
	default:
		return "low"
	}
}

// Prediction summarizes one recorded engine decision for load analysis.
type Prediction struct {
	RequestType string    `json:"request_type"`
	Strategies  []string  `json:"strategies"`
	Timestamp   time.Time `json:"timestamp"`
}

// Data is one load assessment.
type Data struct {
	Level                 Level              `json:"level"`
	Predictions           []Prediction       `json:"predictions"`
	SuccessRate           float64            `json:"success_rate"`
	AverageImprovement    float64            `json:"average_improvement"`
	TotalPredictions      int                `json:"total_predictions"`
	StrategyEffectiveness map[string]float64 `json:"strategy_effectiveness"`
}

// Merge combines a system-observed assessment with a predictive one.
// Severity wins on level; rates are weighted by each side's prediction count
// and fall back to the unweighted midpoint when both counts are zero;
// effectiveness maps are unioned with overlapping keys averaged.
func Merge(observed, predictive Data) Data {
	level := observed.Level
	if predictive.Level > level {
		level = predictive.Level
	}

	predictions := make([]Prediction, 0, len(observed.Predictions)+len(predictive.Predictions))
	predictions = append(predictions, observed.Predictions...)
	predictions = append(predictions, predictive.Predictions...)

	total := observed.TotalPredictions + predictive.TotalPredictions

	return Data{
		Level:                 level,
		Predictions:           predictions,
		SuccessRate:           weightedAverage(observed.SuccessRate, observed.TotalPredictions, predictive.SuccessRate, predictive.TotalPredictions),
		AverageImprovement:    weightedAverage(observed.AverageImprovement, observed.TotalPredictions, predictive.AverageImprovement, predictive.TotalPredictions),
		TotalPredictions:      total,
		StrategyEffectiveness: mergeEffectiveness(observed.StrategyEffectiveness, predictive.StrategyEffectiveness),
	}
}

func weightedAverage(a float64, wa int, b float64, wb int) float64 {
	if wa+wb == 0 {
		return (a + b) / 2
	}
	return (a*float64(wa) + b*float64(wb)) / float64(wa+wb)
}

func mergeEffectiveness(a, b map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if existing, ok := out[k]; ok {
			out[k] = (existing + v) / 2
		} else {
			out[k] = v
		}
	}
	return out
}
