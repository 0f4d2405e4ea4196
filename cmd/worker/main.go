// Package main is the worker-tier entry point: one process that dequeues
// training jobs and runs them to completion, per SPEC_FULL.md §5's
// worker-tier contract. Structured after the donor cmd/server/main.go's
// flag-parse/logger/graceful-shutdown shape, trimmed to this service's
// single responsibility.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/internal/data"
	"github.com/atlas-desktop/training-core/internal/metrics"
	"github.com/atlas-desktop/training-core/internal/progress"
	"github.com/atlas-desktop/training-core/internal/queue"
	"github.com/atlas-desktop/training-core/internal/runtime"
	"github.com/atlas-desktop/training-core/internal/store"
	"github.com/atlas-desktop/training-core/pkg/config"
	"github.com/atlas-desktop/training-core/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting training worker",
		zap.String("binary", cfg.Worker.BinaryName),
		zap.Duration("poll_interval", cfg.Worker.PollInterval),
		zap.Duration("job_timeout", cfg.Worker.JobTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	jobs := store.NewJobStore(pool)
	configs := store.NewConfigStore(pool)
	q := queue.New(pool, queue.Config{
		Name:              cfg.Queue.Name,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		FailedRetention:   cfg.Queue.FailedRetention,
	})
	dataStore := data.NewStore(pool)

	reg := metrics.New(prometheus.DefaultRegisterer)

	worker := runtime.New(runtime.Deps{
		Jobs:         jobs,
		Configs:      configs,
		Queue:        q,
		DataStore:    dataStore,
		Metrics:      reg,
		Logger:       logger,
		Engine:       types.DefaultEngineConfig(),
		BinaryName:   cfg.Worker.BinaryName,
		PollInterval: cfg.Worker.PollInterval,
		JobTimeout:   cfg.Worker.JobTimeout,
		Throttle: progress.Throttle{
			Log:    cfg.Progress.LogThrottle,
			DB:     cfg.Progress.DBThrottle,
			FineDB: cfg.Progress.FineDBThrottle,
		},
	})

	if err := runtime.OrphanSweep(ctx, jobs, cfg.Worker.BinaryName, nil, logger); err != nil {
		logger.Warn("orphan sweep failed at startup", zap.Error(err))
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- worker.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
		cancel()
	case err := <-runDone:
		if err != nil && err != context.Canceled {
			logger.Error("worker loop exited", zap.Error(err))
		}
		return
	}

	select {
	case <-runDone:
	case <-time.After(30 * time.Second):
		logger.Warn("worker did not shut down cleanly within timeout")
	}

	logger.Info("worker stopped")
}
