package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus is the lifecycle state of a TrainingJob. Transitions:
// PENDING -> RUNNING exactly once, then terminally to one of
// COMPLETED/FAILED/CANCELLED.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether status is one from which no further transition
// is allowed (invariant #2 in SPEC_FULL.md §8).
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// OptimizerKind selects which of the three C5 search strategies a job uses.
type OptimizerKind string

const (
	OptimizerGrid     OptimizerKind = "grid"
	OptimizerRandom   OptimizerKind = "random"
	OptimizerBayesian OptimizerKind = "bayesian"
)

// StrategyName is one of the three closed-set registered strategies.
type StrategyName string

const (
	StrategyLiquiditySweep     StrategyName = "LIQUIDITY_SWEEP"
	StrategyCapitulationRvrsl  StrategyName = "CAPITULATION_REVERSAL"
	StrategyFailedBreakdown    StrategyName = "FAILED_BREAKDOWN"
)

// RegisteredStrategyNames lists the closed set, in registry order, for
// error messages naming valid names on an unknown-strategy rejection.
var RegisteredStrategyNames = []StrategyName{
	StrategyLiquiditySweep,
	StrategyCapitulationRvrsl,
	StrategyFailedBreakdown,
}

// LifecycleStage is an externally-assigned label summarizing a
// TrainedConfiguration's track record.
type LifecycleStage string

const (
	StageDiscovery LifecycleStage = "DISCOVERY"
	StagePaper     LifecycleStage = "PAPER"
	StageValidation LifecycleStage = "VALIDATION"
	StageMature    LifecycleStage = "MATURE"
	StageDecay     LifecycleStage = "DECAY"
)

// TrainingJob is the job-store record a worker claims, advances, and
// terminates. Owned by the job store; mutated only by the worker
// processing it, except for status -> CANCELLED which the submitter sets.
type TrainingJob struct {
	JobID        string
	Status       JobStatus
	StrategyName StrategyName
	Symbol       string
	Exchange     string
	Timeframe    Timeframe
	Regime       Regime

	OptimizerKind   OptimizerKind
	LookbackCandles int
	NIterations     int
	Seed            int64
	FilterConfig    FilterConfig
	RunValidation   bool

	ProgressPct    decimal.Decimal
	CurrentEpisode int
	TotalEpisodes  int
	CurrentCandle  int
	TotalCandles   int
	BestScore      *decimal.Decimal

	ErrorMessage string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	ConfigID    *string
}

// SubmitJobRequest is the external submission-boundary payload (SPEC_FULL.md
// §6). seed and lookback_candles/n_iterations carry the package-level
// defaults when zero.
type SubmitJobRequest struct {
	StrategyName    StrategyName  `json:"strategy_name"`
	Symbol          string        `json:"symbol"`
	Exchange        string        `json:"exchange"`
	Timeframe       Timeframe     `json:"timeframe"`
	Regime          Regime        `json:"regime"`
	OptimizerKind   OptimizerKind `json:"optimizer_kind"`
	LookbackCandles int           `json:"lookback_candles"`
	NIterations     int           `json:"n_iterations"`
	Seed            int64         `json:"seed"`
	FilterConfig    FilterConfig  `json:"filter_config"`
	RunValidation   bool          `json:"run_validation"`
}

// Defaults for optional submission fields, per SPEC_FULL.md §6.
const (
	DefaultLookbackCandles = 10_000
	DefaultNIterations     = 200
	DefaultSeed            = 42
)

// ApplyDefaults fills zero-valued optional fields with their spec defaults.
func (r *SubmitJobRequest) ApplyDefaults() {
	if r.LookbackCandles == 0 {
		r.LookbackCandles = DefaultLookbackCandles
	}
	if r.NIterations == 0 {
		r.NIterations = DefaultNIterations
	}
	if r.Seed == 0 {
		r.Seed = DefaultSeed
	}
}

// TrainedConfiguration is the immutable output artifact written at most
// once per successful job. Unique on (strategy, symbol, exchange,
// timeframe, regime); the write path is upsert on that key.
type TrainedConfiguration struct {
	ConfigID       string
	StrategyName   StrategyName
	Symbol         string
	Exchange       string
	Timeframe      Timeframe
	Regime         Regime
	Parameters     ParameterVector
	Metrics        BacktestMetrics
	MonteCarlo     *MonteCarloResult
	WalkForward    *WalkForwardResult
	LifecycleStage LifecycleStage
	FilterConfig   FilterConfig
	Seed           int64
	CreatedAt      time.Time
}
