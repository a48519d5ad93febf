package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pipetune/pipetune/internal/config"
	"github.com/pipetune/pipetune/internal/engine"
	"github.com/pipetune/pipetune/internal/middleware"
)

// Server exposes the optimization engine over HTTP and WebSocket.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	engine *engine.Engine

	limiter    *middleware.RateLimiter
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// NewServer creates a server around an already-constructed engine.
func NewServer(cfg *config.Config, logger *zap.Logger, eng *engine.Engine) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		logger:  logger,
		engine:  eng,
		limiter: middleware.NewRateLimiter(cfg.Server.RateLimitPerMinute),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins serving. Returns once the listener goroutine is running.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("http server listening", zap.Int("port", s.cfg.Server.Port))

		var err error
		if s.cfg.Server.TLSEnabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLSCertPath, s.cfg.Server.TLSKeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the server down. The engine is not
// closed here; ownership stays with the caller that constructed it.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping http server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown incomplete", zap.Error(err))
		}
	}

	s.cancel()
	s.wg.Wait()
	s.limiter.Stop()

	s.logger.Info("http server stopped")
	return nil
}

// IsRunning reports whether the server is accepting requests.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// registerHandlers wires all routes. API routes go through the rate limiter;
// health and Prometheus scrapes do not.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())

	limited := s.limiter.Middleware

	// Ingestion
	mux.HandleFunc("/api/v1/metrics/ingest", limited(s.handleIngest))
	mux.HandleFunc("/api/v1/metrics/load", limited(s.handleSystemLoad))

	// Analytics
	mux.HandleFunc("/api/v1/analytics/statistics", limited(s.handleStatistics))
	mux.HandleFunc("/api/v1/analytics/forecast", limited(s.handleForecast))
	mux.HandleFunc("/api/v1/analytics/train", limited(s.handleTrain))
	mux.HandleFunc("/api/v1/analytics/anomalies", limited(s.handleAnomalies))
	mux.HandleFunc("/api/v1/analytics/seasonality", limited(s.handleSeasonality))

	// Decisions
	mux.HandleFunc("/api/v1/optimize/analyze", limited(s.handleAnalyze))
	mux.HandleFunc("/api/v1/optimize/batch-size", limited(s.handleBatchSize))
	mux.HandleFunc("/api/v1/optimize/should-cache", limited(s.handleShouldCache))
	mux.HandleFunc("/api/v1/optimize/learn", limited(s.handleLearn))

	// Aggregate views
	mux.HandleFunc("/api/v1/insights", limited(s.handleInsights))
	mux.HandleFunc("/api/v1/load-pattern", limited(s.handleLoadPattern))
	mux.HandleFunc("/api/v1/model/statistics", limited(s.handleModelStatistics))
	mux.HandleFunc("/api/v1/model/learning-mode", limited(s.handleLearningMode))
	mux.HandleFunc("/api/v1/predictions", limited(s.handlePredictions))

	// Live insight stream
	mux.HandleFunc("/ws/insights", s.handleInsightsStream)
}
