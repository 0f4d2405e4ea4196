// Package optimization implements C5: the three registered optimizer
// kinds (GRID, RANDOM, BAYESIAN) that search a strategy's parameter space
// for the vector maximizing a chosen objective metric, following the
// donor optimizer's trial/objective/best-so-far shape.
package optimization

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/internal/metrics"
	"github.com/atlas-desktop/training-core/pkg/types"
)

// Kind is one of the three registered optimizer algorithms.
type Kind = types.OptimizerKind

// ObjectiveFunc evaluates one parameter vector, returning its score and
// the sample size (trade count) that produced it, or an error if the
// trial itself failed (e.g. strategy panic, invalid params).
type ObjectiveFunc func(ctx context.Context, params types.ParameterVector) (score float64, sampleSize int, err error)

// Config parameterizes one optimization run. Seed threads every source of
// randomness per the reproducibility contract: RANDOM's sampling RNG and
// BAYESIAN's internal GP random state are both derived from it.
type Config struct {
	Kind              Kind
	NIterations       int
	Seed              int64
	Objective         string
	MinTradesForScore int
	Logger            *zap.Logger
	// Metrics is optional; nil (e.g. in tests) simply skips instrumentation.
	Metrics *metrics.Registry
}

// TrialResult is one evaluated parameter vector. Index is the trial's
// submission order, independent of which goroutine finishes first, so GRID
// and RANDOM can reduce results deterministically rather than by
// worker-pool completion order.
type TrialResult struct {
	Index      int
	Params     types.ParameterVector
	Score      float64
	SampleSize int
	Failed     bool
}

// Result is C5's full output: the best trial found plus the complete
// trial history (used for the GP surrogate and for diagnostics).
type Result struct {
	BestParams types.ParameterVector
	BestScore  float64
	Trials     []TrialResult
	Failed     int
}

// Optimize dispatches to the named kind. GRID and RANDOM parallelize
// trial evaluation over a worker pool; BAYESIAN runs single-threaded
// because its acquisition function depends on the cumulative surrogate.
func Optimize(ctx context.Context, space types.ParameterSpace, objective ObjectiveFunc, cfg Config) (*Result, error) {
	switch cfg.Kind {
	case types.OptimizerGrid:
		return runGrid(ctx, space, objective, cfg)
	case types.OptimizerRandom:
		return runRandom(ctx, space, objective, cfg)
	case types.OptimizerBayesian:
		return runBayesian(ctx, space, objective, cfg)
	default:
		return nil, fmt.Errorf("unknown optimizer kind %q", cfg.Kind)
	}
}

// newSeededRNG derives a *rand.Rand for a specific purpose (trial
// sampling vs. GP internals) from the job seed, so the same job seed
// always yields the same trial sequence regardless of which optimizer
// kind consumed it first.
func newSeededRNG(seed int64, purposeSalt int64) *rand.Rand {
	return rand.New(rand.NewSource(seed ^ purposeSalt))
}

// recordBest folds a trial into result's running best-so-far, applying
// the min-trade filter and the "prefer higher sample_size on ties" rule.
func recordBest(result *Result, trial TrialResult, minTrades int) {
	result.Trials = append(result.Trials, trial)
	if trial.Failed {
		result.Failed++
		return
	}
	if trial.SampleSize < minTrades {
		return
	}
	if result.BestParams == nil {
		result.BestParams = trial.Params
		result.BestScore = trial.Score
		return
	}
	if trial.Score > result.BestScore || (trial.Score == result.BestScore && trial.SampleSize > bestSampleSize(result)) {
		result.BestParams = trial.Params
		result.BestScore = trial.Score
	}
}

func bestSampleSize(result *Result) int {
	for _, t := range result.Trials {
		if !t.Failed && t.Params != nil && sameParams(t.Params, result.BestParams) {
			return t.SampleSize
		}
	}
	return 0
}

func sameParams(a, b types.ParameterVector) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// sampleUniform draws one uniform value in [lo, hi) from rng.
func sampleUniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// sampleParam draws one value for def from rng, respecting its kind.
func sampleParam(rng *rand.Rand, def types.ParamDef) float64 {
	switch def.Kind {
	case types.ParamEnum:
		if len(def.Choices) == 0 {
			return 0
		}
		return def.Choices[rng.Intn(len(def.Choices))]
	case types.ParamInteger:
		return float64(int(sampleUniform(rng, def.Lo, def.Hi+1)))
	default:
		return sampleUniform(rng, def.Lo, def.Hi)
	}
}

// randomVector draws one parameter vector from space using rng.
func randomVector(rng *rand.Rand, space types.ParameterSpace) types.ParameterVector {
	v := make(types.ParameterVector, len(space.Params))
	for _, def := range space.Params {
		v[def.Name] = sampleParam(rng, def)
	}
	return v
}

// observeTrial records one trial's duration and outcome against reg, a
// no-op when reg is nil (e.g. in tests that construct Config directly).
func observeTrial(reg *metrics.Registry, kind string, start time.Time, failed bool) {
	if reg == nil {
		return
	}
	reg.TrialDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	reg.TrialsTotal.WithLabelValues(kind, outcome).Inc()
}

// effectiveLogger substitutes a no-op logger when none was supplied, since
// the worker pool logs unconditionally.
func effectiveLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
