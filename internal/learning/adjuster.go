package learning

import (
	"sync"
	"time"
)

// Package learning closes the feedback loop: each completed prediction
// outcome updates running accuracy statistics with closed-form bookkeeping.
// No weights are trained; the "model" is the counter set itself.

// ModelStatistics is a snapshot of the running prediction quality counters.
// TotalPredictions grows monotonically.
type ModelStatistics struct {
	AccuracyScore      float64   `json:"accuracy_score"`
	PrecisionScore     float64   `json:"precision_score"`
	RecallScore        float64   `json:"recall_score"`
	F1Score            float64   `json:"f1_score"`
	ModelConfidence    float64   `json:"model_confidence"`
	TotalPredictions   int64     `json:"total_predictions"`
	CorrectPredictions int64     `json:"correct_predictions"`
	LastUpdate         time.Time `json:"last_update"`
}

// Adjuster folds prediction outcomes into the running statistics and nudges
// the derived confidence. Safe under arbitrary concurrent call patterns:
// counters are never lost or double-counted.
type Adjuster struct {
	mu    sync.Mutex
	stats ModelStatistics

	// Exponential moving averages of recent outcomes, used to weight
	// confidence towards recent behavior.
	recentAccuracy float64
	emaInitialized bool
}

// recentWeight controls how fast the recent-accuracy EMA reacts.
const recentWeight = 0.1

// NewAdjuster creates an adjuster with zeroed statistics.
func NewAdjuster() *Adjuster {
	return &Adjuster{
		stats: ModelStatistics{
			ModelConfidence: 0.5,
		},
	}
}

// RecordOutcome registers one completed prediction outcome and recomputes the
// derived scores from the running counts.
func (a *Adjuster) RecordOutcome(wasSuccessful bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalPredictions++
	if wasSuccessful {
		a.stats.CorrectPredictions++
	}

	accuracy := float64(a.stats.CorrectPredictions) / float64(a.stats.TotalPredictions)
	a.stats.AccuracyScore = accuracy

	// With a single success/failure signal per outcome, precision and recall
	// both collapse to the accuracy ratio; they are tracked separately so a
	// richer outcome signal can diverge them later without an API change.
	a.stats.PrecisionScore = accuracy
	a.stats.RecallScore = accuracy
	if a.stats.PrecisionScore+a.stats.RecallScore > 0 {
		a.stats.F1Score = 2 * a.stats.PrecisionScore * a.stats.RecallScore /
			(a.stats.PrecisionScore + a.stats.RecallScore)
	} else {
		a.stats.F1Score = 0
	}

	outcome := 0.0
	if wasSuccessful {
		outcome = 1.0
	}
	if !a.emaInitialized {
		a.recentAccuracy = outcome
		a.emaInitialized = true
	} else {
		a.recentAccuracy = recentWeight*outcome + (1-recentWeight)*a.recentAccuracy
	}

	// Confidence blends lifetime accuracy with recent behavior so a model
	// that has degraded lately loses confidence faster than its lifetime
	// average would suggest.
	a.stats.ModelConfidence = 0.7*accuracy + 0.3*a.recentAccuracy
	a.stats.LastUpdate = time.Now()
}

// Statistics returns a snapshot of the current model statistics.
func (a *Adjuster) Statistics() ModelStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Confidence returns the current blended model confidence.
func (a *Adjuster) Confidence() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.ModelConfidence
}
