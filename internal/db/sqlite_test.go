package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenAndPing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	first, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("First open error: %v", err)
	}
	first.Close()

	// Reopening must not re-apply migrations.
	second, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Second open error: %v", err)
	}
	second.Close()
}

func TestSaveAndListPredictions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	records := []*PredictionRecord{
		{ID: "p1", RequestType: "GetUser", Strategies: []string{"caching"}, Confidence: 0.9, Reasoning: "high repeat rate", CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "p2", RequestType: "GetUser", Strategies: []string{"batch_processing"}, Confidence: 0.75, Reasoning: "rising load", CreatedAt: now.Add(-time.Minute)},
		{ID: "p3", RequestType: "Checkout", Strategies: []string{"circuit_breaker"}, Confidence: 0.9, Reasoning: "error rate", CreatedAt: now},
	}
	for _, rec := range records {
		if err := store.SavePrediction(ctx, rec); err != nil {
			t.Fatalf("SavePrediction(%s) error: %v", rec.ID, err)
		}
	}

	// Filtered by request type, newest first.
	got, err := store.ListPredictions(ctx, "GetUser", 10)
	if err != nil {
		t.Fatalf("ListPredictions() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 GetUser predictions, got %d", len(got))
	}
	if got[0].ID != "p2" || got[1].ID != "p1" {
		t.Errorf("Expected newest first [p2 p1], got [%s %s]", got[0].ID, got[1].ID)
	}
	if len(got[0].Strategies) != 1 || got[0].Strategies[0] != "batch_processing" {
		t.Errorf("Strategies not round-tripped: %v", got[0].Strategies)
	}
	if got[0].Confidence != 0.75 {
		t.Errorf("Expected confidence 0.75, got %.2f", got[0].Confidence)
	}

	// Empty request type lists everything.
	all, err := store.ListPredictions(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListPredictions(all) error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 predictions, got %d", len(all))
	}

	// Limit is honored.
	limited, _ := store.ListPredictions(ctx, "", 1)
	if len(limited) != 1 || limited[0].ID != "p3" {
		t.Errorf("Expected only the newest prediction, got %v", limited)
	}
}

func TestSaveOutcomeAndSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	outcomes := []*OutcomeRecord{
		{RequestType: "GetUser", Strategies: []string{"caching"}, Successful: true, ExecutionTimeMs: 80, RecordedAt: now.Add(-3 * time.Minute)},
		{RequestType: "GetUser", Strategies: []string{"caching"}, Successful: true, ExecutionTimeMs: 90, RecordedAt: now.Add(-2 * time.Minute)},
		{RequestType: "GetUser", Strategies: []string{"caching"}, Successful: false, ExecutionTimeMs: 2500, RecordedAt: now.Add(-time.Minute)},
		{RequestType: "Checkout", Strategies: nil, Successful: true, ExecutionTimeMs: 120, RecordedAt: now},
	}
	for i, rec := range outcomes {
		if err := store.SaveOutcome(ctx, rec); err != nil {
			t.Fatalf("SaveOutcome(%d) error: %v", i, err)
		}
	}

	summary, err := store.OutcomeSummary(ctx, now.Add(-10*time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("OutcomeSummary() error: %v", err)
	}

	if summary["GetUser:success"] != 2 {
		t.Errorf("Expected 2 GetUser successes, got %d", summary["GetUser:success"])
	}
	if summary["GetUser:failure"] != 1 {
		t.Errorf("Expected 1 GetUser failure, got %d", summary["GetUser:failure"])
	}
	if summary["Checkout:success"] != 1 {
		t.Errorf("Expected 1 Checkout success, got %d", summary["Checkout:success"])
	}
}

func TestOutcomeSummaryWindowExcludesOutside(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	store.SaveOutcome(ctx, &OutcomeRecord{
		RequestType: "Old", Successful: true, RecordedAt: now.Add(-2 * time.Hour),
	})
	store.SaveOutcome(ctx, &OutcomeRecord{
		RequestType: "Fresh", Successful: true, RecordedAt: now,
	})

	summary, err := store.OutcomeSummary(ctx, now.Add(-time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("OutcomeSummary() error: %v", err)
	}
	if _, ok := summary["Old:success"]; ok {
		t.Error("Outcome outside the window must be excluded")
	}
	if summary["Fresh:success"] != 1 {
		t.Errorf("Expected the in-window outcome, got %v", summary)
	}
}

func TestListPredictionsEmptyStore(t *testing.T) {
	store := newTestStore(t)
	got, err := store.ListPredictions(context.Background(), "GetUser", 10)
	if err != nil {
		t.Fatalf("ListPredictions() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no predictions, got %d", len(got))
	}
}
