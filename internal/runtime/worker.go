// Package runtime implements C6's worker tier: the blocking dequeue loop,
// the PENDING->RUNNING->terminal job lifecycle, and the pipeline that
// wires C1 (data) through C5 (optimizer) into a persisted
// TrainedConfiguration. Grounded on the donor's plain blocking worker
// loop (no async wrapper around the algorithmic core) and its
// registry/engine composition in cmd/server/main.go.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/internal/backtester"
	"github.com/atlas-desktop/training-core/internal/data"
	"github.com/atlas-desktop/training-core/internal/metrics"
	"github.com/atlas-desktop/training-core/internal/optimization"
	"github.com/atlas-desktop/training-core/internal/progress"
	"github.com/atlas-desktop/training-core/internal/queue"
	"github.com/atlas-desktop/training-core/internal/store"
	"github.com/atlas-desktop/training-core/internal/strategy"
	"github.com/atlas-desktop/training-core/pkg/errs"
	"github.com/atlas-desktop/training-core/pkg/types"
)

// validationSalt derives the Monte Carlo RNG from the job seed independent
// of the optimizer's own salted RNGs (internal/optimization.randomSalt,
// bayesianSalt), so enabling run_validation never perturbs trial order.
const validationSalt = 0x4d43 // "MC"

// degradationThreshold is the walk-forward in/out-of-sample degradation
// above which a configuration is held at DISCOVERY rather than promoted,
// per SPEC_FULL.md §12.
const degradationThreshold = 0.5

// cancelPollInterval bounds cancellation liveness (SPEC_FULL.md §8's
// Testable Property #6: cancel_job takes effect within 30s) well under
// the 30s budget.
const cancelPollInterval = 2 * time.Second

// errJobCancelled is runJob's sentinel for "observed CANCELLED on the job
// row mid-run", distinguishing an externally cancelled job from one that
// failed or timed out so processToken never re-writes a terminal status.
var errJobCancelled = errors.New("runtime: job cancelled externally")

// Deps bundles the Worker's collaborators, each already constructed by
// cmd/worker/main.go.
type Deps struct {
	Jobs         *store.JobStore
	Configs      *store.ConfigStore
	Queue        *queue.Queue
	DataStore    *data.Store
	Metrics      *metrics.Registry
	Logger       *zap.Logger
	Engine       types.EngineConfig
	BinaryName   string
	PollInterval time.Duration
	JobTimeout   time.Duration
	Throttle     progress.Throttle
}

// Worker runs one job at a time (SPEC_FULL.md §5's worker-tier contract),
// polling the durable queue between jobs.
type Worker struct {
	deps Deps

	activeMu sync.Mutex
	activeID string
}

func New(deps Deps) *Worker {
	if deps.PollInterval <= 0 {
		deps.PollInterval = 2 * time.Second
	}
	if deps.JobTimeout <= 0 {
		deps.JobTimeout = 12 * time.Hour
	}
	return &Worker{deps: deps}
}

// Run blocks until ctx is cancelled, dequeuing and executing one job at a
// time. Call OrphanSweep once before Run on service startup.
func (w *Worker) Run(ctx context.Context) error {
	go w.watchQueueDepth(ctx)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		tok, err := w.deps.Queue.Dequeue(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.deps.PollInterval):
			}
			continue
		}
		if err != nil {
			w.deps.Logger.Error("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.deps.PollInterval):
			}
			continue
		}

		w.processToken(ctx, tok)
	}
}

func (w *Worker) processToken(ctx context.Context, tok queue.Token) {
	claimed, err := w.deps.Jobs.ClaimPending(ctx, tok.JobID)
	if err != nil {
		w.deps.Logger.Error("claim failed", zap.String("job_id", tok.JobID), zap.Error(err))
		return
	}
	if !claimed {
		// Duplicate delivery of an already-running/terminal job, or a job
		// cancelled before this worker reached it. Idempotent: just drop
		// the token.
		_ = w.deps.Queue.Ack(ctx, tok)
		return
	}

	w.setActive(tok.JobID)
	jobCtx, cancel := context.WithTimeout(ctx, w.deps.JobTimeout)
	w.deps.Metrics.ActiveWorkers.Inc()

	runErr := w.runJob(jobCtx, tok.JobID)

	w.deps.Metrics.ActiveWorkers.Dec()
	timedOut := jobCtx.Err() == context.DeadlineExceeded
	cancelled := errors.Is(runErr, errJobCancelled)
	cancel()
	w.setActive("")

	switch {
	case cancelled:
		// The job row already carries CANCELLED, written by the API's
		// cancel_job handler; don't call Jobs.Fail and clobber it. Ack so
		// the token is never redelivered.
		_ = w.deps.Queue.Ack(ctx, tok)
		w.deps.Metrics.JobsTotal.WithLabelValues("cancelled").Inc()
		w.deps.Logger.Info("job cancelled mid-run", zap.String("job_id", tok.JobID))
	case timedOut:
		_ = w.deps.Jobs.Fail(ctx, tok.JobID, "TIMEOUT: job exceeded its soft timeout budget")
		_ = w.deps.Queue.Nack(ctx, tok)
		w.deps.Metrics.JobsTotal.WithLabelValues("failed").Inc()
		if _, killErr := KillRunaways(ctx, w.deps.BinaryName, w.deps.Logger); killErr != nil {
			w.deps.Logger.Warn("runaway kill after timeout failed", zap.Error(killErr))
		}
	case runErr != nil:
		_ = w.deps.Jobs.Fail(ctx, tok.JobID, runErr.Error())
		_ = w.deps.Queue.Nack(ctx, tok)
		w.deps.Metrics.JobsTotal.WithLabelValues("failed").Inc()
		w.deps.Logger.Error("job failed", zap.String("job_id", tok.JobID), zap.Error(runErr))
	default:
		_ = w.deps.Queue.Ack(ctx, tok)
		w.deps.Metrics.JobsTotal.WithLabelValues("completed").Inc()
	}
}

// watchQueueDepth samples the durable queue's visible-plus-in-flight token
// count on the same cadence as the dequeue poll, feeding the QueueDepth
// gauge so it reflects backlog rather than sitting at its zero value.
func (w *Worker) watchQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(w.deps.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := w.deps.Queue.Depth(ctx)
			if err != nil {
				continue
			}
			w.deps.Metrics.QueueDepth.Set(float64(depth))
		}
	}
}

func (w *Worker) setActive(jobID string) {
	w.activeMu.Lock()
	w.activeID = jobID
	w.activeMu.Unlock()
}

// ActiveJobID reports the job this worker is currently processing, or "".
// Nothing in this module calls it; both orphan sweeps pass a nil job list.
func (w *Worker) ActiveJobID() string {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	return w.activeID
}

// jobStatusReader is the narrow seam pollForCancellation needs. *store.
// JobStore satisfies it structurally; tests supply a fake so the polling
// logic is exercised without a live Postgres connection.
type jobStatusReader interface {
	Status(ctx context.Context, jobID string) (types.JobStatus, error)
}

// watchForCancellation polls the job's own status row on cancelPollInterval
// and cancels runCancel the moment it observes CANCELLED, closing cancelled
// so the caller can tell a deliberate cancel apart from any other ctx.Err().
// It also fires the OS-level backstop (KillRunaways) for trials that don't
// check ctx.Err() promptly, and an orphan sweep for symmetry with the
// startup sweep in cmd/worker/main.go.
func (w *Worker) watchForCancellation(ctx context.Context, jobID string, runCancel context.CancelFunc, cancelled chan<- struct{}) {
	pollForCancellation(ctx, w.deps.Jobs, jobID, cancelPollInterval, func() {
		close(cancelled)
		runCancel()
		bg := context.Background()
		if _, killErr := KillRunaways(bg, w.deps.BinaryName, w.deps.Logger); killErr != nil {
			w.deps.Logger.Warn("runaway kill after cancellation failed", zap.Error(killErr))
		}
		// Same nil-activeJobIDs simplification as the startup sweep in
		// cmd/worker/main.go: accepted for the single/low-worker-count
		// deployment this fleet targets.
		if err := OrphanSweep(bg, w.deps.Jobs, w.deps.BinaryName, nil, w.deps.Logger); err != nil {
			w.deps.Logger.Warn("orphan sweep after cancellation failed", zap.Error(err))
		}
	})
}

// pollForCancellation polls jobs.Status on interval until ctx is done or the
// job is observed CANCELLED, invoking onCancelled exactly once in the
// latter case. Split out from watchForCancellation so the liveness bound
// (SPEC_FULL.md §8 Testable Property #6: cancel_job takes effect within
// 30s) is testable without a live JobStore/Postgres connection.
func pollForCancellation(ctx context.Context, jobs jobStatusReader, jobID string, interval time.Duration, onCancelled func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := jobs.Status(ctx, jobID)
			if err != nil {
				continue
			}
			if status != types.JobCancelled {
				continue
			}
			onCancelled()
			return
		}
	}
}

// runJob executes the full C1->C5 pipeline for one job: fetch, select
// strategy, select optimizer, optimize, persist, as laid out in
// SPEC_FULL.md §4.6 step 3. The named return lets a deferred check
// override any in-flight error with errJobCancelled once the watcher
// observes an externally cancelled job, regardless of which return
// statement below actually fired.
func (w *Worker) runJob(parentCtx context.Context, jobID string) (err error) {
	ctx, runCancel := context.WithCancel(parentCtx)
	defer runCancel()

	cancelled := make(chan struct{})
	go w.watchForCancellation(ctx, jobID, runCancel, cancelled)

	defer func() {
		select {
		case <-cancelled:
			err = errJobCancelled
		default:
		}
	}()

	job, err := w.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return &errs.SystemError{Component: "runtime.runJob", Cause: err}
	}

	strat, err := strategy.Create(string(job.StrategyName))
	if err != nil {
		return &errs.InvalidRequestError{Field: "strategy_name", Reason: err.Error()}
	}

	minRequired := w.deps.Engine.MaxHoldingPeriods * 10
	series, stats, err := w.deps.DataStore.Fetch(ctx, job.Symbol, job.Exchange, job.Timeframe,
		job.LookbackCandles, job.FilterConfig, minRequired)
	if err != nil {
		return err // already typed (InsufficientDataError or SystemError) by data.Store.Fetch
	}
	w.deps.Logger.Info("fetched bar series",
		zap.String("job_id", jobID),
		zap.Int("bars", len(series.Bars)),
		zap.Int("filtered", stats.FilteredCount),
		zap.Float64("quality_score", stats.QualityScore))

	space := strat.ParameterSpace()
	pub := progress.New(jobID, w.deps.Jobs, w.deps.Logger, w.deps.Throttle, job.NIterations, w.deps.Metrics)

	var bestMu sync.Mutex
	bestScore := types.NegativeSentinel

	objective := func(ctx context.Context, params types.ParameterVector) (float64, int, error) {
		signals, err := strat.GenerateSignals(series.Bars, params, pub.BarScanCallback(ctx))
		if err != nil {
			return 0, 0, &errs.TrialError{Params: fmt.Sprint(params), Cause: err}
		}
		result := backtester.Run(ctx, series.Bars, signals, w.deps.Engine, pub.BarScanCallback(ctx))
		score := result.Metrics.Score(w.deps.Engine.Objective)

		bestMu.Lock()
		isBest := score > bestScore && result.Metrics.SampleSize >= w.deps.Engine.MinTradesForScore
		if isBest {
			bestScore = score
		}
		bestMu.Unlock()

		pub.TrialCompleted(ctx, decimalFromFloat(score), isBest)
		return score, result.Metrics.SampleSize, nil
	}

	optResult, err := optimization.Optimize(ctx, space, objective, optimization.Config{
		Kind:              job.OptimizerKind,
		NIterations:       job.NIterations,
		Seed:              job.Seed,
		Objective:         w.deps.Engine.Objective,
		MinTradesForScore: w.deps.Engine.MinTradesForScore,
		Logger:            w.deps.Logger,
		Metrics:           w.deps.Metrics,
	})
	if err != nil {
		return &errs.SystemError{Component: "optimization.Optimize", Cause: err}
	}

	if len(optResult.Trials) > 0 {
		failureRate := float64(optResult.Failed) / float64(len(optResult.Trials))
		if failureRate >= errs.TrialFailureRateThreshold {
			return fmt.Errorf("trial failure rate %.0f%% exceeds threshold", failureRate*100)
		}
	}
	if optResult.BestParams == nil {
		return errors.New("no trial produced a scoreable result")
	}

	finalSignals, err := strat.GenerateSignals(series.Bars, optResult.BestParams, nil)
	if err != nil {
		return &errs.TrialError{Params: fmt.Sprint(optResult.BestParams), Cause: err}
	}
	finalResult := backtester.Run(ctx, series.Bars, finalSignals, w.deps.Engine, nil)

	stage := types.StageDiscovery
	var mc *types.MonteCarloResult
	var wf *types.WalkForwardResult
	if job.RunValidation {
		rng := rand.New(rand.NewSource(job.Seed ^ validationSalt))
		mcResult := backtester.RunMonteCarlo(finalResult.Trades, 1000, rng, w.deps.Logger)
		mc = &mcResult

		wfResult := backtester.RunWalkForward(ctx, series.Bars, optResult.BestParams,
			strat.GenerateSignals, w.deps.Engine, w.deps.Engine.Objective, 5, w.deps.Logger)
		wf = &wfResult

		if wfResult.Degradation <= degradationThreshold && wfResult.Folds > 0 {
			stage = types.StageValidation
		}
	}

	viability := backtester.CheckViability(finalResult.Metrics, backtester.DefaultViabilityThresholds())
	if !viability.IsViable {
		w.deps.Logger.Info("configuration failed viability gate (persisted anyway)",
			zap.String("job_id", jobID), zap.Strings("issues", viability.Issues))
	}

	pub.Flush(ctx, decimalFromFloat(100))

	configID, err := w.deps.Configs.Upsert(ctx, types.TrainedConfiguration{
		StrategyName:   job.StrategyName,
		Symbol:         job.Symbol,
		Exchange:       job.Exchange,
		Timeframe:      job.Timeframe,
		Regime:         job.Regime,
		Parameters:     optResult.BestParams,
		Metrics:        finalResult.Metrics,
		MonteCarlo:     mc,
		WalkForward:    wf,
		LifecycleStage: stage,
		FilterConfig:   job.FilterConfig,
		Seed:           job.Seed,
	})
	if err != nil {
		return err
	}

	return w.deps.Jobs.Complete(ctx, jobID, configID)
}

// decimalFromFloat guards against NaN/Inf scores (e.g. a zero-stdev sharpe
// edge case) before they reach a decimal column.
func decimalFromFloat(f float64) decimal.Decimal {
	if f != f || f > 1e18 || f < -1e18 {
		return decimal.NewFromFloat(types.NegativeSentinel)
	}
	return decimal.NewFromFloat(f)
}
