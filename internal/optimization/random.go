package optimization

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/internal/workers"
	"github.com/atlas-desktop/training-core/pkg/types"
)

// randomSalt distinguishes RANDOM's trial-sampling RNG from BAYESIAN's
// internal GP RNG when both are derived from the same job seed.
const randomSalt = 0x5247 // "RG"

// runRandom draws cfg.NIterations uniform IID parameter vectors from a
// seeded RNG and evaluates them over a trial worker pool. The RNG itself
// is single-threaded (sampling happens before dispatch), so the sampled
// vectors are reproducible regardless of evaluation concurrency.
func runRandom(ctx context.Context, space types.ParameterSpace, objective ObjectiveFunc, cfg Config) (*Result, error) {
	rng := newSeededRNG(cfg.Seed, randomSalt)
	vectors := make([]types.ParameterVector, cfg.NIterations)
	for i := range vectors {
		vectors[i] = randomVector(rng, space)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("starting random search", zap.Int("iterations", len(vectors)))
	}

	pool := workers.NewPool(effectiveLogger(cfg.Logger), workers.TrialPoolConfig("random-optimizer"))
	pool.Start()
	defer pool.Stop()

	result := &Result{BestScore: types.NegativeSentinel}
	// Dense, pre-sized by submission index rather than a completion-order
	// channel: each task writes only its own slot, so the final reduction
	// below is byte-reproducible regardless of which goroutine finishes
	// first under real scheduling jitter.
	results := make([]TrialResult, len(vectors))
	var wg sync.WaitGroup

	for i, params := range vectors {
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
			observeTrial(cfg.Metrics, "random", start, err != nil)
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
