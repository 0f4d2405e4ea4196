// Package main is the API-tier entry point: the single, event-driven
// process that accepts submit_job/cancel_job/get_job requests and streams
// progress over websocket, per SPEC_FULL.md §5. It never runs a trial
// itself; all optimization happens in the separate worker-tier process
// (cmd/worker).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/internal/api"
	"github.com/atlas-desktop/training-core/internal/metrics"
	"github.com/atlas-desktop/training-core/internal/queue"
	"github.com/atlas-desktop/training-core/internal/store"
	"github.com/atlas-desktop/training-core/pkg/config"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	jobs := store.NewJobStore(pool)
	q := queue.New(pool, queue.Config{
		Name:              cfg.Queue.Name,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		FailedRetention:   cfg.Queue.FailedRetention,
	})

	reg := metrics.New(prometheus.DefaultRegisterer)

	apiCfg := api.DefaultConfig()
	apiCfg.Host = cfg.API.Host
	apiCfg.Port = cfg.API.Port

	srv := api.NewServer(logger, apiCfg, jobs, q)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Port, reg, logger)
	}

	go pollJobProgress(ctx, jobs, srv.Hub(), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("api server exited", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	cancel()
	logger.Info("api server stopped")
}

func serveMetrics(port int, reg *metrics.Registry, logger *zap.Logger) {
	_ = reg
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server exited", zap.Error(err))
	}
}

// pollJobProgress is the bridge between the worker tier's DB-persisted
// progress rows and the API tier's websocket hub: since the two run as
// separate processes (SPEC_FULL.md §5), there is no in-process channel to
// relay progress over, so the hub's subscribed job IDs are polled
// periodically instead.
func pollJobProgress(ctx context.Context, jobs *store.JobStore, hub *api.Hub, logger *zap.Logger) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, jobID := range hub.SubscribedJobIDs() {
				job, err := jobs.Get(ctx, jobID)
				if err != nil {
					continue
				}
				if job.Status.Terminal() {
					hub.BroadcastJobTerminal(job)
					continue
				}
				hub.BroadcastJobProgress(job)
			}
		}
	}
}
