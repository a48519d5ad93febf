package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pipetune/pipetune/internal/engine"
	"github.com/pipetune/pipetune/internal/metrics"
	"github.com/pipetune/pipetune/internal/pattern"
)

// jsonOK writes a JSON response with status 200.
func (s *Server) jsonOK(w http.ResponseWriter, endpoint string, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response failed", zap.String("endpoint", endpoint), zap.Error(err))
	}
	metrics.HTTPRequestsTotal.WithLabelValues(endpoint, "200").Inc()
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, endpoint, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
	metrics.HTTPRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// engineError maps engine failures onto HTTP statuses.
func (s *Server) engineError(w http.ResponseWriter, endpoint string, err error) {
	if errors.Is(err, engine.ErrEngineClosed) {
		s.jsonError(w, endpoint, "engine is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.jsonError(w, endpoint, err.Error(), http.StatusInternalServerError)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.jsonOK(w, "health", map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.IsRunning() {
		s.jsonError(w, "ready", "not ready", http.StatusServiceUnavailable)
		return
	}
	s.jsonOK(w, "ready", map[string]string{"status": "ready"})
}

// IngestRequest carries raw samples for arbitrary metric series.
type IngestRequest struct {
	Samples []struct {
		Metric    string    `json:"metric"`
		Value     float64   `json:"value"`
		Timestamp time.Time `json:"timestamp,omitempty"`
	} `json:"samples"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "ingest", fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Samples) == 0 {
		s.jsonError(w, "ingest", "samples cannot be empty", http.StatusBadRequest)
		return
	}

	for _, sample := range req.Samples {
		if sample.Metric == "" {
			s.jsonError(w, "ingest", "metric name cannot be empty", http.StatusBadRequest)
			return
		}
	}
	for _, sample := range req.Samples {
		if err := s.engine.IngestMetric(r.Context(), sample.Metric, sample.Value, sample.Timestamp); err != nil {
			s.engineError(w, "ingest", err)
			return
		}
	}
	s.jsonOK(w, "ingest", map[string]int{"stored": len(req.Samples)})
}

func (s *Server) handleSystemLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var load engine.SystemLoadMetrics
	if err := json.NewDecoder(r.Body).Decode(&load); err != nil {
		s.jsonError(w, "system_load", fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.engine.RecordSystemLoad(r.Context(), load); err != nil {
		s.engineError(w, "system_load", err)
		return
	}
	s.jsonOK(w, "system_load", map[string]string{"status": "stored"})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("metric")
	if name == "" {
		s.jsonError(w, "statistics", "metric query parameter is required", http.StatusBadRequest)
		return
	}
	window, err := parseWindow(r.URL.Query().Get("window"))
	if err != nil {
		s.jsonError(w, "statistics", err.Error(), http.StatusBadRequest)
		return
	}

	st, err := s.engine.Statistics(r.Context(), name, window)
	if err != nil {
		s.engineError(w, "statistics", err)
		return
	}
	if st == nil {
		s.jsonError(w, "statistics", fmt.Sprintf("no samples for metric %q", name), http.StatusNotFound)
		return
	}
	s.jsonOK(w, "statistics", st)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("metric")
	if name == "" {
		s.jsonError(w, "forecast", "metric query parameter is required", http.StatusBadRequest)
		return
	}
	horizon := 0
	if h := r.URL.Query().Get("horizon"); h != "" {
		var err error
		horizon, err = strconv.Atoi(h)
		if err != nil {
			s.jsonError(w, "forecast", "horizon must be an integer", http.StatusBadRequest)
			return
		}
	}

	result, err := s.engine.Forecast(r.Context(), name, horizon)
	if err != nil {
		s.engineError(w, "forecast", err)
		return
	}
	if result == nil {
		s.jsonError(w, "forecast", fmt.Sprintf("no trained model for metric %q", name), http.StatusNotFound)
		return
	}
	s.jsonOK(w, "forecast", result)
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Metric string `json:"metric"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "train", fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Metric == "" {
		s.jsonError(w, "train", "metric cannot be empty", http.StatusBadRequest)
		return
	}
	if err := s.engine.TrainForecastModel(r.Context(), req.Metric); err != nil {
		s.engineError(w, "train", err)
		return
	}
	s.jsonOK(w, "train", map[string]string{"status": "training triggered"})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("metric")
	if name == "" {
		s.jsonError(w, "anomalies", "metric query parameter is required", http.StatusBadRequest)
		return
	}
	lookback := 0
	if lb := r.URL.Query().Get("lookback"); lb != "" {
		var err error
		lookback, err = strconv.Atoi(lb)
		if err != nil {
			s.jsonError(w, "anomalies", "lookback must be an integer", http.StatusBadRequest)
			return
		}
	}

	found, err := s.engine.DetectAnomalies(r.Context(), name, lookback)
	if err != nil {
		s.engineError(w, "anomalies", err)
		return
	}
	s.jsonOK(w, "anomalies", map[string]interface{}{
		"metric":    name,
		"anomalies": found,
		"count":     len(found),
	})
}

func (s *Server) handleSeasonality(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	patterns, err := s.engine.SeasonalPatterns(r.Context())
	if err != nil {
		s.engineError(w, "seasonality", err)
		return
	}
	s.jsonOK(w, "seasonality", map[string]interface{}{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

// AnalyzeRequestBody carries one request observation for analysis.
type AnalyzeRequestBody struct {
	RequestType string                         `json:"request_type"`
	Metrics     engine.RequestExecutionMetrics `json:"metrics"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AnalyzeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "analyze", fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.RequestType == "" {
		s.jsonError(w, "analyze", "request_type cannot be empty", http.StatusBadRequest)
		return
	}

	rec, err := s.engine.AnalyzeRequest(r.Context(), req.RequestType, req.Metrics)
	if err != nil {
		s.engineError(w, "analyze", err)
		return
	}
	s.jsonOK(w, "analyze", rec)
}

func (s *Server) handleBatchSize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestType := r.URL.Query().Get("request_type")
	if requestType == "" {
		s.jsonError(w, "batch_size", "request_type query parameter is required", http.StatusBadRequest)
		return
	}
	pending := 0
	if p := r.URL.Query().Get("pending"); p != "" {
		var err error
		pending, err = strconv.Atoi(p)
		if err != nil {
			s.jsonError(w, "batch_size", "pending must be an integer", http.StatusBadRequest)
			return
		}
	}

	size, err := s.engine.PredictOptimalBatchSize(r.Context(), requestType, pending)
	if err != nil {
		s.engineError(w, "batch_size", err)
		return
	}
	s.jsonOK(w, "batch_size", map[string]interface{}{
		"request_type": requestType,
		"batch_size":   size,
	})
}

// ShouldCacheRequest carries the observed access patterns for a request type.
type ShouldCacheRequest struct {
	RequestType    string                 `json:"request_type"`
	AccessPatterns []engine.AccessPattern `json:"access_patterns"`
}

func (s *Server) handleShouldCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ShouldCacheRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "should_cache", fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.RequestType == "" {
		s.jsonError(w, "should_cache", "request_type cannot be empty", http.StatusBadRequest)
		return
	}

	rec, err := s.engine.ShouldCache(r.Context(), req.RequestType, req.AccessPatterns)
	if err != nil {
		s.engineError(w, "should_cache", err)
		return
	}
	s.jsonOK(w, "should_cache", rec)
}

// LearnRequest reports an execution outcome back to the engine.
type LearnRequest struct {
	RequestType string                         `json:"request_type"`
	Strategies  []pattern.Strategy             `json:"strategies"`
	Outcome     engine.RequestExecutionMetrics `json:"outcome"`
}

func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LearnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "learn", fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.RequestType == "" {
		s.jsonError(w, "learn", "request_type cannot be empty", http.StatusBadRequest)
		return
	}

	if err := s.engine.LearnFromExecution(r.Context(), req.RequestType, req.Strategies, req.Outcome); err != nil {
		s.engineError(w, "learn", err)
		return
	}
	s.jsonOK(w, "learn", map[string]string{"status": "recorded"})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	window, err := parseWindow(r.URL.Query().Get("window"))
	if err != nil {
		s.jsonError(w, "insights", err.Error(), http.StatusBadRequest)
		return
	}

	insights, err := s.engine.GetSystemInsights(r.Context(), window)
	if err != nil {
		s.engineError(w, "insights", err)
		return
	}
	s.jsonOK(w, "insights", insights)
}

func (s *Server) handleLoadPattern(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := s.engine.GetLoadPatternAnalysis(r.Context())
	if err != nil {
		s.engineError(w, "load_pattern", err)
		return
	}
	s.jsonOK(w, "load_pattern", data)
}

func (s *Server) handleModelStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.engine.ModelStatistics(r.Context())
	if err != nil {
		s.engineError(w, "model_statistics", err)
		return
	}
	s.jsonOK(w, "model_statistics", stats)
}

func (s *Server) handleLearningMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "learning_mode", fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.engine.SetLearningMode(r.Context(), req.Enabled); err != nil {
		s.engineError(w, "learning_mode", err)
		return
	}
	s.jsonOK(w, "learning_mode", map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			s.jsonError(w, "predictions", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
	}

	preds, err := s.engine.RecentPredictions(r.Context(), limit)
	if err != nil {
		s.engineError(w, "predictions", err)
		return
	}
	s.jsonOK(w, "predictions", map[string]interface{}{
		"predictions": preds,
		"count":       len(preds),
	})
}

// parseWindow parses an optional duration query parameter. Empty means "use
// the endpoint default".
func parseWindow(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("window must be a duration like 30m or 2h: %v", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("window must not be negative")
	}
	return d, nil
}
