// Package progress implements C6's three-level throttled progress
// publication (SPEC_FULL.md §4.6): L1 job percent, L2 trial counters, L3
// bar-scan position within the active trial. A small sendable value
// carries the job identifier and throttling timestamps so it crosses the
// worker/DB boundary without pinning a connection per callback.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/internal/metrics"
	"github.com/atlas-desktop/training-core/internal/store"
	"github.com/atlas-desktop/training-core/pkg/types"
)

// Throttle bounds how often the publisher logs and writes to the DB, so
// progress reporting never dominates a trial's runtime (target overhead
// <= 3%, SPEC_FULL.md §4.6).
type Throttle struct {
	Log     time.Duration
	DB      time.Duration
	FineDB  time.Duration // used for L3 bar-scan writes, typically tighter than DB
}

// Publisher is held by one worker for the duration of one job. Not safe
// for concurrent use by multiple jobs; a single job's trial fan-out shares
// one Publisher instance under mu.
type Publisher struct {
	mu      sync.Mutex
	jobID   string
	jobs    *store.JobStore
	log     *zap.Logger
	th      Throttle
	metrics *metrics.Registry

	lastLogAt time.Time
	lastDBAt  time.Time

	totalTrials     int
	completedTrials int
	bestScore       *decimal.Decimal
}

// New constructs a Publisher. reg may be nil (e.g. in tests), in which case
// progress-write counters are simply not recorded.
func New(jobID string, jobs *store.JobStore, log *zap.Logger, th Throttle, totalTrials int, reg *metrics.Registry) *Publisher {
	return &Publisher{
		jobID:       jobID,
		jobs:        jobs,
		log:         log,
		th:          th,
		metrics:     reg,
		totalTrials: totalTrials,
	}
}

// TrialCompleted records L2 (a finished trial) and folds its score into
// the running best-so-far, then flushes at the DB throttle interval.
func (p *Publisher) TrialCompleted(ctx context.Context, score decimal.Decimal, isBest bool) {
	p.mu.Lock()
	p.completedTrials++
	if isBest {
		s := score
		p.bestScore = &s
	}
	pct := p.overallPercent(0)
	completed, total := p.completedTrials, p.totalTrials
	p.mu.Unlock()

	p.maybeLog(pct, completed, total)
	p.flush(ctx, pct, completed, total, 0, 0, "trial")
}

// BarScanProgress records L3 (current/total candle within the active
// trial) and flushes at the finer L3 throttle interval, never more often
// than 100 calls per trial per the strategy/engine progress contract
// (enforced by the caller, not here).
func (p *Publisher) BarScanProgress(ctx context.Context, currentCandle, totalCandles int) {
	p.mu.Lock()
	fraction := 0.0
	if totalCandles > 0 {
		fraction = float64(currentCandle) / float64(totalCandles)
	}
	pct := p.overallPercent(fraction)
	completed, total := p.completedTrials, p.totalTrials
	p.mu.Unlock()

	p.flushFine(ctx, pct, completed, total, currentCandle, totalCandles, "bar")
}

// overallPercent implements the formula from SPEC_FULL.md §4.6:
// ((completed_trials + current_trial_fraction) / total_trials) * 100.
// Must be called with mu held.
func (p *Publisher) overallPercent(currentTrialFraction float64) decimal.Decimal {
	if p.totalTrials == 0 {
		return decimal.Zero
	}
	raw := (float64(p.completedTrials) + currentTrialFraction) / float64(p.totalTrials) * 100
	if raw > 100 {
		raw = 100
	}
	return decimal.NewFromFloat(raw).Round(2)
}

func (p *Publisher) maybeLog(pct decimal.Decimal, completed, total int) {
	p.mu.Lock()
	due := time.Since(p.lastLogAt) >= p.th.Log
	if due {
		p.lastLogAt = time.Now()
	}
	p.mu.Unlock()
	if due && p.log != nil {
		p.log.Info("job progress",
			zap.String("job_id", p.jobID),
			zap.String("progress_pct", pct.String()),
			zap.Int("completed_trials", completed),
			zap.Int("total_trials", total))
	}
}

func (p *Publisher) flush(ctx context.Context, pct decimal.Decimal, completed, total, currentCandle, totalCandles int, level string) {
	p.mu.Lock()
	due := time.Since(p.lastDBAt) >= p.th.DB
	best := p.bestScore
	if due {
		p.lastDBAt = time.Now()
	}
	p.mu.Unlock()
	if !due {
		return
	}
	p.write(ctx, pct, completed, total, currentCandle, totalCandles, best, level)
}

func (p *Publisher) flushFine(ctx context.Context, pct decimal.Decimal, completed, total, currentCandle, totalCandles int, level string) {
	p.mu.Lock()
	due := time.Since(p.lastDBAt) >= p.th.FineDB
	best := p.bestScore
	if due {
		p.lastDBAt = time.Now()
	}
	p.mu.Unlock()
	if !due {
		return
	}
	p.write(ctx, pct, completed, total, currentCandle, totalCandles, best, level)
}

func (p *Publisher) write(ctx context.Context, pct decimal.Decimal, completed, total, currentCandle, totalCandles int, best *decimal.Decimal, level string) {
	if err := p.jobs.UpdateProgress(ctx, p.jobID, pct, completed, total, currentCandle, totalCandles, best); err != nil {
		if p.log != nil {
			p.log.Warn("progress write failed", zap.String("job_id", p.jobID), zap.Error(err))
		}
		return
	}
	if p.metrics != nil {
		p.metrics.ProgressWriteTotal.WithLabelValues(level).Inc()
	}
}

// Flush forces an immediate write regardless of throttle state, used at
// job completion/failure to guarantee the final value is persisted.
func (p *Publisher) Flush(ctx context.Context, pct decimal.Decimal) {
	p.mu.Lock()
	completed, total := p.completedTrials, p.totalTrials
	best := p.bestScore
	p.mu.Unlock()
	p.write(ctx, pct, completed, total, 0, 0, best, "job")
}

// BarScanCallback adapts Publisher to the types.ProgressFunc shape that C3
// (strategy signal generation) and C4 (backtest engine) call directly.
func (p *Publisher) BarScanCallback(ctx context.Context) types.ProgressFunc {
	return func(current, total int) {
		p.BarScanProgress(ctx, current, total)
	}
}
