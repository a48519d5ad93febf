package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Optimization engine metrics for production monitoring
var (
	// Prediction metrics
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipetune_predictions_total",
			Help: "Total number of optimization predictions made",
		},
		[]string{"request_type", "strategy"},
	)

	PredictionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipetune_prediction_outcomes_total",
			Help: "Total number of prediction outcomes reported back",
		},
		[]string{"result"}, // result: success/failure
	)

	RecommendationConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipetune_recommendation_confidence",
			Help:    "Confidence score distribution of issued recommendations",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9), // 0.1 to 0.9
		},
	)

	// Model metrics
	ModelAccuracy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipetune_model_accuracy",
			Help: "Current running prediction accuracy",
		},
	)

	ModelTrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipetune_model_training_duration_seconds",
			Help:    "Forecast model retraining duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	// Store metrics
	SamplesStoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipetune_samples_stored_total",
			Help: "Total number of metric samples stored",
		},
		[]string{"metric"},
	)

	// Anomaly metrics
	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipetune_anomalies_detected_total",
			Help: "Total number of anomalies flagged",
		},
		[]string{"metric", "severity"},
	)

	// Background loop metrics
	CollectionErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipetune_collection_errors_total",
			Help: "Total number of failed metrics-collection ticks",
		},
	)

	// API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipetune_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"endpoint", "status"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipetune_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)
)
