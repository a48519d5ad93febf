package db

import (
	"context"
	"time"
)

// Store is the persistence interface for the optimization engine. It records
// predictions and their observed outcomes so decision history survives
// process restarts; the engine treats it as optional and runs fully in-memory
// without one.
type Store interface {
	PredictionStore
	OutcomeStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// PredictionRecord is one persisted engine decision.
type PredictionRecord struct {
	ID          string    `json:"id"`
	RequestType string    `json:"request_type"`
	Strategies  []string  `json:"strategies"`
	Confidence  float64   `json:"confidence"`
	Reasoning   string    `json:"reasoning"`
	CreatedAt   time.Time `json:"created_at"`
}

// PredictionStore persists engine decisions.
type PredictionStore interface {
	// SavePrediction appends one prediction record.
	SavePrediction(ctx context.Context, rec *PredictionRecord) error

	// ListPredictions returns the most recent predictions for a request type
	// (all types when requestType is empty), newest first.
	ListPredictions(ctx context.Context, requestType string, limit int) ([]*PredictionRecord, error)
}

// OutcomeRecord is one persisted execution outcome reported back to the
// engine's learning loop.
type OutcomeRecord struct {
	ID              int64     `json:"id"`
	RequestType     string    `json:"request_type"`
	Strategies      []string  `json:"strategies"`
	Successful      bool      `json:"successful"`
	ExecutionTimeMs float64   `json:"execution_time_ms"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// OutcomeStore persists learning outcomes.
type OutcomeStore interface {
	// SaveOutcome appends one outcome record.
	SaveOutcome(ctx context.Context, rec *OutcomeRecord) error

	// OutcomeSummary returns success/failure counts per request type within
	// the window, keyed "requestType:success" / "requestType:failure".
	OutcomeSummary(ctx context.Context, from, to time.Time) (map[string]int, error)
}
