package main

// Package main is the entry point for the pipetune server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Build the structured logger
//   - Open the SQLite decision store when persistence is configured
//   - Construct the optimization engine with its background loops
//   - Start the HTTP/WebSocket API and the Prometheus metrics endpoint
//   - Implement graceful shutdown: drain HTTP, then close the engine

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/pipetune/pipetune/internal/config"
	"github.com/pipetune/pipetune/internal/db"
	"github.com/pipetune/pipetune/internal/engine"
	"github.com/pipetune/pipetune/internal/logging"
	"github.com/pipetune/pipetune/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/pipetune/config.yaml", "path to the configuration file")
	flag.Parse()

	ctx := context.Background()

	mgr := config.NewManager(*configPath)
	if err := mgr.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get(ctx)

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.FilePath = cfg.Logging.FilePath
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var persistence db.Store
	if cfg.Database.Type == "sqlite" {
		persistence, err = db.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			logger.Fatal("opening decision store failed",
				zap.String("path", cfg.Database.SQLitePath), zap.Error(err))
		}
		logger.Info("decision store opened", zap.String("path", cfg.Database.SQLitePath))
	}

	eng := engine.New(engine.OptionsFromConfig(cfg), logger, nil, persistence)

	srv, err := server.NewServer(cfg, logger, eng)
	if err != nil {
		logger.Fatal("creating server failed", zap.Error(err))
	}
	if err := srv.Start(); err != nil {
		logger.Fatal("starting server failed", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	if err := srv.Stop(); err != nil {
		logger.Warn("stopping server failed", zap.Error(err))
	}
	// The engine closes last so in-flight handlers fail fast rather than
	// touching a half-released store.
	if err := eng.Close(); err != nil {
		logger.Warn("closing engine failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
