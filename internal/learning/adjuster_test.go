package learning

import (
	"math"
	"sync"
	"testing"
)

func TestNewAdjusterDefaults(t *testing.T) {
	a := NewAdjuster()
	stats := a.Statistics()

	if stats.TotalPredictions != 0 || stats.CorrectPredictions != 0 {
		t.Errorf("Expected zeroed counters, got %+v", stats)
	}
	if stats.ModelConfidence != 0.5 {
		t.Errorf("Expected neutral starting confidence 0.5, got %.2f", stats.ModelConfidence)
	}
}

func TestRecordOutcomeCounts(t *testing.T) {
	a := NewAdjuster()
	for i := 0; i < 8; i++ {
		a.RecordOutcome(true)
	}
	for i := 0; i < 2; i++ {
		a.RecordOutcome(false)
	}

	stats := a.Statistics()
	if stats.TotalPredictions != 10 {
		t.Errorf("Expected 10 total, got %d", stats.TotalPredictions)
	}
	if stats.CorrectPredictions != 8 {
		t.Errorf("Expected 8 correct, got %d", stats.CorrectPredictions)
	}
	if math.Abs(stats.AccuracyScore-0.8) > 1e-9 {
		t.Errorf("Expected accuracy 0.8, got %.4f", stats.AccuracyScore)
	}
	// With a single success signal, F1 collapses to accuracy.
	if math.Abs(stats.F1Score-0.8) > 1e-9 {
		t.Errorf("Expected F1 0.8, got %.4f", stats.F1Score)
	}
	if stats.LastUpdate.IsZero() {
		t.Error("LastUpdate must be set after an outcome")
	}
}

func TestConfidenceBlendsRecentBehavior(t *testing.T) {
	a := NewAdjuster()

	// A long run of successes, then a burst of failures: confidence must
	// fall below lifetime accuracy alone.
	for i := 0; i < 50; i++ {
		a.RecordOutcome(true)
	}
	highConfidence := a.Confidence()

	for i := 0; i < 10; i++ {
		a.RecordOutcome(false)
	}
	stats := a.Statistics()

	if a.Confidence() >= highConfidence {
		t.Error("Confidence must drop after a failure burst")
	}
	// 0.7*accuracy + 0.3*recentEMA: the EMA is well below the lifetime
	// accuracy after 10 straight failures.
	if a.Confidence() >= stats.AccuracyScore {
		t.Errorf("Blended confidence %.3f should sit below lifetime accuracy %.3f after recent failures",
			a.Confidence(), stats.AccuracyScore)
	}
}

func TestTotalPredictionsMonotonic(t *testing.T) {
	a := NewAdjuster()
	prev := int64(0)
	for i := 0; i < 20; i++ {
		a.RecordOutcome(i%3 == 0)
		total := a.Statistics().TotalPredictions
		if total != prev+1 {
			t.Fatalf("Total must grow by exactly one per outcome: %d -> %d", prev, total)
		}
		prev = total
	}
}

func TestConcurrentOutcomesNeverLost(t *testing.T) {
	a := NewAdjuster()

	const goroutines = 10
	const perGoroutine = 10
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(success bool) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				a.RecordOutcome(success)
			}
		}(g%2 == 0)
	}
	wg.Wait()

	stats := a.Statistics()
	if stats.TotalPredictions != goroutines*perGoroutine {
		t.Errorf("Expected %d outcomes recorded, got %d", goroutines*perGoroutine, stats.TotalPredictions)
	}
	if stats.CorrectPredictions != goroutines/2*perGoroutine {
		t.Errorf("Expected %d successes, got %d", goroutines/2*perGoroutine, stats.CorrectPredictions)
	}
}

func TestStatisticsIsSnapshot(t *testing.T) {
	a := NewAdjuster()
	a.RecordOutcome(true)

	snap := a.Statistics()
	a.RecordOutcome(false)

	if snap.TotalPredictions != 1 {
		t.Errorf("Snapshot must not change after later outcomes, got %d", snap.TotalPredictions)
	}
}
