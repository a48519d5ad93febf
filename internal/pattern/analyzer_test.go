package pattern

import "testing"

func TestAnalyzeErrorRateWinsFirst(t *testing.T) {
	a := NewAnalyzer()

	// Every rule's condition is met; error rate must win.
	rec := a.Analyze(Context{
		AvgExecutionTime: 500,
		VarianceRatio:    0.9,
		ErrorRate:        0.10,
		HistoricalTrend:  0.5,
		CPUUtilization:   0.95,
	})

	if rec.Strategy != StrategyCircuitBreaker {
		t.Fatalf("Expected circuit_breaker, got %s", rec.Strategy)
	}
	if rec.ConfidenceScore != 0.90 {
		t.Errorf("Expected confidence 0.90, got %.2f", rec.ConfidenceScore)
	}
	if rec.Priority != PriorityCritical {
		t.Errorf("Expected critical priority, got %s", rec.Priority)
	}
	if rec.Risk != RiskVeryLow {
		t.Errorf("Expected very_low risk, got %s", rec.Risk)
	}
	if rec.EstimatedGainPercent != 0.5 {
		t.Errorf("Expected gain 0.5, got %.2f", rec.EstimatedGainPercent)
	}
	if rec.EstimatedImprovement != 250 {
		t.Errorf("Expected improvement 250ms, got %.1f", rec.EstimatedImprovement)
	}
	if !rec.ShouldOptimize() {
		t.Error("Circuit breaker recommendation must be actionable")
	}
}

func TestAnalyzeVarianceRule(t *testing.T) {
	a := NewAnalyzer()
	rec := a.Analyze(Context{
		AvgExecutionTime: 200,
		VarianceRatio:    0.5,
		ErrorRate:        0.01,
	})

	if rec.Strategy != StrategyParallelProcessing {
		t.Fatalf("Expected parallel_processing, got %s", rec.Strategy)
	}
	if rec.ConfidenceScore != 0.85 || rec.Priority != PriorityHigh || rec.Risk != RiskLow {
		t.Errorf("Wrong rule constants: %+v", rec)
	}
	if rec.EstimatedImprovement != 80 {
		t.Errorf("Expected improvement 200*0.4=80, got %.1f", rec.EstimatedImprovement)
	}
}

func TestAnalyzeTrendRule(t *testing.T) {
	a := NewAnalyzer()
	rec := a.Analyze(Context{
		AvgExecutionTime: 100,
		HistoricalTrend:  0.3,
	})

	if rec.Strategy != StrategyBatchProcessing {
		t.Fatalf("Expected batch_processing, got %s", rec.Strategy)
	}
	if rec.ConfidenceScore != 0.75 || rec.Priority != PriorityMedium || rec.Risk != RiskMedium {
		t.Errorf("Wrong rule constants: %+v", rec)
	}
}

func TestAnalyzeCPURule(t *testing.T) {
	a := NewAnalyzer()
	rec := a.Analyze(Context{
		AvgExecutionTime: 100,
		CPUUtilization:   0.9,
	})

	if rec.Strategy != StrategyMemoryPooling {
		t.Fatalf("Expected memory_pooling, got %s", rec.Strategy)
	}
	if rec.ConfidenceScore != 0.70 || rec.Priority != PriorityMedium || rec.Risk != RiskLow {
		t.Errorf("Wrong rule constants: %+v", rec)
	}
	if rec.Parameters["cpu_utilization"] != 0.9 {
		t.Errorf("Expected cpu parameter 0.9, got %v", rec.Parameters)
	}
}

func TestAnalyzeHealthyFallthrough(t *testing.T) {
	a := NewAnalyzer()
	rec := a.Analyze(Context{
		AvgExecutionTime: 50,
		VarianceRatio:    0.1,
		ErrorRate:        0.01,
		HistoricalTrend:  0.05,
		CPUUtilization:   0.4,
	})

	if rec.Strategy != StrategyNone {
		t.Fatalf("Expected none, got %s", rec.Strategy)
	}
	if rec.ConfidenceScore != 0.95 {
		t.Errorf("Expected confidence 0.95, got %.2f", rec.ConfidenceScore)
	}
	if rec.Reasoning != "metrics within acceptable range" {
		t.Errorf("Unexpected reasoning: %q", rec.Reasoning)
	}
	if rec.ShouldOptimize() {
		t.Error("None recommendation must not be actionable")
	}
	if rec.Parameters == nil {
		t.Error("Parameters must never be nil")
	}
}

func TestAnalyzeThresholdsAreExclusive(t *testing.T) {
	a := NewAnalyzer()

	// Exactly at each threshold is still healthy; rules fire strictly above.
	rec := a.Analyze(Context{
		ErrorRate:       0.05,
		VarianceRatio:   0.3,
		HistoricalTrend: 0.2,
		CPUUtilization:  0.8,
	})
	if rec.Strategy != StrategyNone {
		t.Errorf("Boundary values must not trip any rule, got %s", rec.Strategy)
	}
}
