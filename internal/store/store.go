// Package store implements C6's relational persistence: the training-job
// record a worker claims and advances, and the trained-configuration
// artifact a successful job writes at most once. Grounded on
// NitinKhare-trader's pgx pool/query pattern, adapted to this schema.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/training-core/pkg/errs"
	"github.com/atlas-desktop/training-core/pkg/types"
)

// ErrNotFound is returned when a job_id or config_id has no matching row.
var ErrNotFound = errors.New("store: not found")

// JobStore owns the training_jobs table.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore wraps an existing pool; the pool's lifecycle is owned by the caller.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Insert writes a new PENDING job row and returns its generated job_id.
func (s *JobStore) Insert(ctx context.Context, req types.SubmitJobRequest) (string, error) {
	jobID := uuid.New().String()
	filterJSON, err := json.Marshal(req.FilterConfig)
	if err != nil {
		return "", &errs.SystemError{Component: "store.Insert", Cause: err}
	}

	const q = `
		INSERT INTO training_jobs
			(job_id, status, strategy_name, symbol, exchange, timeframe, regime,
			 optimizer_kind, lookback_candles, n_iterations, seed, filter_config,
			 progress_pct, current_episode, total_episodes, current_candle, total_candles,
			 created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, 0, $13, 0, 0, now())`

	_, err = s.pool.Exec(ctx, q, jobID, types.JobPending, req.StrategyName, req.Symbol,
		req.Exchange, req.Timeframe, req.Regime, req.OptimizerKind, req.LookbackCandles,
		req.NIterations, req.Seed, filterJSON, req.NIterations)
	if err != nil {
		return "", &errs.SystemError{Component: "store.Insert", Cause: err}
	}
	return jobID, nil
}

// Get reads one job by id.
func (s *JobStore) Get(ctx context.Context, jobID string) (types.TrainingJob, error) {
	const q = `
		SELECT job_id, status, strategy_name, symbol, exchange, timeframe, regime,
		       optimizer_kind, lookback_candles, n_iterations, seed, filter_config,
		       progress_pct, current_episode, total_episodes, current_candle, total_candles,
		       best_score, error_message, created_at, started_at, completed_at, config_id
		FROM training_jobs WHERE job_id = $1`

	row := s.pool.QueryRow(ctx, q, jobID)
	var j types.TrainingJob
	var filterJSON []byte
	var bestScore *decimal.Decimal
	if err := row.Scan(&j.JobID, &j.Status, &j.StrategyName, &j.Symbol, &j.Exchange,
		&j.Timeframe, &j.Regime, &j.OptimizerKind, &j.LookbackCandles, &j.NIterations,
		&j.Seed, &filterJSON, &j.ProgressPct, &j.CurrentEpisode, &j.TotalEpisodes,
		&j.CurrentCandle, &j.TotalCandles, &bestScore, &j.ErrorMessage, &j.CreatedAt,
		&j.StartedAt, &j.CompletedAt, &j.ConfigID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.TrainingJob{}, ErrNotFound
		}
		return types.TrainingJob{}, &errs.SystemError{Component: "store.Get", Cause: err}
	}
	j.BestScore = bestScore
	_ = json.Unmarshal(filterJSON, &j.FilterConfig)
	return j, nil
}

// Status reads only the status column, used by the worker's cancellation
// poller so liveness checks don't pay for the full row every tick.
func (s *JobStore) Status(ctx context.Context, jobID string) (types.JobStatus, error) {
	const q = `SELECT status FROM training_jobs WHERE job_id = $1`
	var status types.JobStatus
	if err := s.pool.QueryRow(ctx, q, jobID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", &errs.SystemError{Component: "store.Status", Cause: err}
	}
	return status, nil
}

// ClaimPending performs the CAS PENDING -> RUNNING transition (step 2 of the
// worker loop). Returns true if this call made the transition, and false
// with a nil error if the row is absent or already past PENDING (duplicate
// delivery from an at-least-once queue is a no-op, not an error, at the
// caller).
func (s *JobStore) ClaimPending(ctx context.Context, jobID string) (bool, error) {
	const q = `
		UPDATE training_jobs
		SET status = $2, started_at = now()
		WHERE job_id = $1 AND status = $3`
	tag, err := s.pool.Exec(ctx, q, jobID, types.JobRunning, types.JobPending)
	if err != nil {
		return false, &errs.SystemError{Component: "store.ClaimPending", Cause: err}
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateProgress applies L1/L2/L3 fields with GREATEST() semantics on the
// monotone fields, so out-of-order writes from concurrent trial workers
// never move progress backwards (SPEC_FULL.md §5).
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progressPct decimal.Decimal, currentEpisode, totalEpisodes, currentCandle, totalCandles int, bestScore *decimal.Decimal) error {
	const q = `
		UPDATE training_jobs
		SET progress_pct    = GREATEST(progress_pct, $2),
		    current_episode = GREATEST(current_episode, $3),
		    total_episodes  = $4,
		    current_candle  = $5,
		    total_candles   = $6,
		    best_score      = COALESCE($7, best_score)
		WHERE job_id = $1 AND status = $8`
	_, err := s.pool.Exec(ctx, q, jobID, progressPct, currentEpisode, totalEpisodes,
		currentCandle, totalCandles, bestScore, types.JobRunning)
	if err != nil {
		return &errs.SystemError{Component: "store.UpdateProgress", Cause: err}
	}
	return nil
}

// Complete performs the terminal RUNNING -> COMPLETED transition, setting config_id.
func (s *JobStore) Complete(ctx context.Context, jobID, configID string) error {
	const q = `
		UPDATE training_jobs
		SET status = $2, completed_at = now(), config_id = $3, progress_pct = 100
		WHERE job_id = $1 AND status = $4`
	tag, err := s.pool.Exec(ctx, q, jobID, types.JobCompleted, configID, types.JobRunning)
	if err != nil {
		return &errs.SystemError{Component: "store.Complete", Cause: err}
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("store.Complete: job %s not in RUNNING state", jobID)
	}
	return nil
}

// Fail performs the terminal transition to FAILED with a bounded error message.
func (s *JobStore) Fail(ctx context.Context, jobID, reason string) error {
	const q = `
		UPDATE training_jobs
		SET status = $2, completed_at = now(), error_message = $3
		WHERE job_id = $1 AND status NOT IN ($4, $5, $6)`
	_, err := s.pool.Exec(ctx, q, jobID, types.JobFailed, errs.Truncate(reason, errs.MaxErrorMessageLen),
		types.JobCompleted, types.JobFailed, types.JobCancelled)
	if err != nil {
		return &errs.SystemError{Component: "store.Fail", Cause: err}
	}
	return nil
}

// Cancel marks a job CANCELLED if it has not already reached a terminal
// state (invariant #2: status finality).
func (s *JobStore) Cancel(ctx context.Context, jobID string) (bool, error) {
	const q = `
		UPDATE training_jobs
		SET status = $2, completed_at = now()
		WHERE job_id = $1 AND status NOT IN ($3, $4, $5)`
	tag, err := s.pool.Exec(ctx, q, jobID, types.JobCancelled,
		types.JobCompleted, types.JobFailed, types.JobCancelled)
	if err != nil {
		return false, &errs.SystemError{Component: "store.Cancel", Cause: err}
	}
	return tag.RowsAffected() == 1, nil
}

// SweepOrphans transitions any job still RUNNING whose job_id is not present
// in liveJobIDs (the set of jobs actually claimed by a live worker process)
// to CANCELLED. Called by the orphan sweep after a worker restart.
func (s *JobStore) SweepOrphans(ctx context.Context, liveJobIDs []string) (int, error) {
	const q = `
		UPDATE training_jobs
		SET status = $1, completed_at = now(), error_message = 'orphaned: no live worker after restart'
		WHERE status = $2 AND NOT (job_id = ANY($3))`
	tag, err := s.pool.Exec(ctx, q, types.JobCancelled, types.JobRunning, liveJobIDs)
	if err != nil {
		return 0, &errs.SystemError{Component: "store.SweepOrphans", Cause: err}
	}
	return int(tag.RowsAffected()), nil
}

// ConfigStore owns the trained_configurations table.
type ConfigStore struct {
	pool *pgxpool.Pool
}

func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

// Upsert writes cfg, updating metrics/parameters in place on a
// (strategy, symbol, exchange, timeframe, regime) conflict. Returns the
// config_id (generated fresh on insert, preserved on update).
func (s *ConfigStore) Upsert(ctx context.Context, cfg types.TrainedConfiguration) (string, error) {
	if cfg.ConfigID == "" {
		cfg.ConfigID = uuid.New().String()
	}
	paramsJSON, err := json.Marshal(cfg.Parameters)
	if err != nil {
		return "", &errs.SystemError{Component: "store.Upsert", Cause: err}
	}
	metricsJSON, err := json.Marshal(struct {
		types.BacktestMetrics
		MonteCarlo  *types.MonteCarloResult  `json:"monte_carlo,omitempty"`
		WalkForward *types.WalkForwardResult `json:"walk_forward,omitempty"`
	}{cfg.Metrics, cfg.MonteCarlo, cfg.WalkForward})
	if err != nil {
		return "", &errs.SystemError{Component: "store.Upsert", Cause: err}
	}
	filterJSON, err := json.Marshal(cfg.FilterConfig)
	if err != nil {
		return "", &errs.SystemError{Component: "store.Upsert", Cause: err}
	}

	const q = `
		INSERT INTO trained_configurations
			(config_id, strategy_name, symbol, exchange, timeframe, regime,
			 parameters, metrics, lifecycle_stage, filter_config, seed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (strategy_name, symbol, exchange, timeframe, regime)
		DO UPDATE SET
			parameters      = EXCLUDED.parameters,
			metrics         = EXCLUDED.metrics,
			lifecycle_stage = EXCLUDED.lifecycle_stage,
			filter_config   = EXCLUDED.filter_config,
			seed            = EXCLUDED.seed
		RETURNING config_id`

	row := s.pool.QueryRow(ctx, q, cfg.ConfigID, cfg.StrategyName, cfg.Symbol, cfg.Exchange,
		cfg.Timeframe, cfg.Regime, paramsJSON, metricsJSON, cfg.LifecycleStage, filterJSON, cfg.Seed)

	var configID string
	if err := row.Scan(&configID); err != nil {
		return "", &errs.SystemError{Component: "store.Upsert", Cause: err}
	}
	return configID, nil
}

// Get reads one trained configuration by id.
func (s *ConfigStore) Get(ctx context.Context, configID string) (types.TrainedConfiguration, error) {
	const q = `
		SELECT config_id, strategy_name, symbol, exchange, timeframe, regime,
		       parameters, metrics, lifecycle_stage, filter_config, seed, created_at
		FROM trained_configurations WHERE config_id = $1`

	row := s.pool.QueryRow(ctx, q, configID)
	var cfg types.TrainedConfiguration
	var paramsJSON, metricsJSON, filterJSON []byte
	if err := row.Scan(&cfg.ConfigID, &cfg.StrategyName, &cfg.Symbol, &cfg.Exchange,
		&cfg.Timeframe, &cfg.Regime, &paramsJSON, &metricsJSON, &cfg.LifecycleStage,
		&filterJSON, &cfg.Seed, &cfg.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.TrainedConfiguration{}, ErrNotFound
		}
		return types.TrainedConfiguration{}, &errs.SystemError{Component: "store.Get", Cause: err}
	}
	_ = json.Unmarshal(paramsJSON, &cfg.Parameters)
	_ = json.Unmarshal(metricsJSON, &cfg.Metrics)
	_ = json.Unmarshal(filterJSON, &cfg.FilterConfig)
	return cfg, nil
}
