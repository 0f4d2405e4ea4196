package optimization

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/internal/workers"
	"github.com/atlas-desktop/training-core/pkg/types"
)

// gridResolution is the number of discretized steps for a continuous
// parameter axis under GRID search.
const gridResolution = 10

// runGrid evaluates the full Cartesian product of discretized parameter
// axes over a trial worker pool. Deterministic by construction — no RNG
// involved — satisfying the reproducibility contract trivially.
func runGrid(ctx context.Context, space types.ParameterSpace, objective ObjectiveFunc, cfg Config) (*Result, error) {
	combos := gridCombinations(space)
	if cfg.Logger != nil {
		cfg.Logger.Info("starting grid search", zap.Int("combinations", len(combos)))
	}

	pool := workers.NewPool(effectiveLogger(cfg.Logger), workers.TrialPoolConfig("grid-optimizer"))
	pool.Start()
	defer pool.Stop()

	result := &Result{BestScore: types.NegativeSentinel}
	// Dense, pre-sized by submission index rather than a completion-order
	// channel: each task writes only its own slot, so the final reduction
	// below is byte-reproducible regardless of which goroutine finishes
	// first under real scheduling jitter.
	results := make([]TrialResult, len(combos))
	var wg sync.WaitGroup

	for i, params := range combos {
		i, params := i, params
		wg.Add(1)
		task := workers.TaskFunc(func() error {
			defer wg.Done()
			if ctx.Err() != nil {
				results[i] = TrialResult{Index: i, Failed: true}
				return ctx.Err()
			}
			start := time.Now()
			score, sampleSize, err := objective(ctx, params)
			observeTrial(cfg.Metrics, "grid", start, err != nil)
			if err != nil {
				results[i] = TrialResult{Index: i, Params: params, Failed: true}
				return nil
			}
			results[i] = TrialResult{Index: i, Params: params, Score: score, SampleSize: sampleSize}
			return nil
		})
		if err := pool.Submit(task); err != nil {
			results[i] = TrialResult{Index: i, Failed: true}
			wg.Done()
		}
	}

	wg.Wait()
	for i := range results {
		recordBest(result, results[i], cfg.MinTradesForScore)
	}
	return result, nil
}

// gridCombinations discretizes every axis (continuous -> gridResolution
// steps, integer -> unit steps, enum -> its choices) and returns the full
// Cartesian product.
func gridCombinations(space types.ParameterSpace) []types.ParameterVector {
	axisValues := make([][]float64, len(space.Params))
	for i, def := range space.Params {
		axisValues[i] = discretizeAxis(def)
	}
	return cartesianProduct(space.Params, axisValues, 0, types.ParameterVector{})
}

func discretizeAxis(def types.ParamDef) []float64 {
	switch def.Kind {
	case types.ParamEnum:
		return def.Choices
	case types.ParamInteger:
		var vals []float64
		for v := def.Lo; v <= def.Hi; v++ {
			vals = append(vals, v)
		}
		return vals
	default:
		var vals []float64
		step := (def.Hi - def.Lo) / float64(gridResolution)
		if step <= 0 {
			return []float64{def.Lo}
		}
		for v := def.Lo; v <= def.Hi+1e-9; v += step {
			vals = append(vals, math.Round(v*1e6)/1e6)
		}
		return vals
	}
}

func cartesianProduct(defs []types.ParamDef, axisValues [][]float64, idx int, current types.ParameterVector) []types.ParameterVector {
	if idx == len(defs) {
		return []types.ParameterVector{current.Clone()}
	}
	var out []types.ParameterVector
	for _, v := range axisValues[idx] {
		current[defs[idx].Name] = v
		out = append(out, cartesianProduct(defs, axisValues, idx+1, current)...)
	}
	return out
}
