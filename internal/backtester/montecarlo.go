package backtester

import (
	"math"
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/pkg/types"
)

// RunMonteCarlo bootstrap-resamples a completed trade list's returns to
// estimate the distribution of outcomes a strategy might have produced
// under a different draw of its trades, supplementing the core backtest with
// a validation artifact when a job's run_validation flag is set. The rng
// is seeded by the caller from the job's own seed, so re-running the same
// job reproduces the same simulated paths.
func RunMonteCarlo(trades []types.Trade, iterations int, rng *rand.Rand, logger *zap.Logger) types.MonteCarloResult {
	if len(trades) == 0 {
		return types.MonteCarloResult{}
	}
	if iterations <= 0 {
		iterations = 1000
	}

	returns := make([]float64, len(trades))
	for i, t := range trades {
		f, _ := t.PnLPct.Float64()
		returns[i] = f
	}

	simReturns := make([]float64, iterations)
	simMaxDD := make([]float64, iterations)
	ruinCount := 0
	const ruinThreshold = 0.5

	for i := 0; i < iterations; i++ {
		sample := resampleReturns(returns, rng)
		total, maxDD, ruin := simulatePath(sample, ruinThreshold)
		simReturns[i] = total
		simMaxDD[i] = maxDD
		if ruin {
			ruinCount++
		}
	}
	sort.Float64s(simReturns)
	sort.Float64s(simMaxDD)

	result := types.MonteCarloResult{
		Iterations:      iterations,
		MedianReturnPct: decimal.NewFromFloat(percentile(simReturns, 50)),
		P5ReturnPct:     decimal.NewFromFloat(percentile(simReturns, 5)),
		P95ReturnPct:    decimal.NewFromFloat(percentile(simReturns, 95)),
		MedianMaxDD:     decimal.NewFromFloat(percentile(simMaxDD, 50)),
		ProbabilityRuin: decimal.NewFromFloat(float64(ruinCount) / float64(iterations)),
	}

	if logger != nil {
		logger.Debug("monte carlo validation complete",
			zap.Int("iterations", iterations),
			zap.String("median_return_pct", result.MedianReturnPct.String()),
			zap.String("probability_ruin", result.ProbabilityRuin.String()),
		)
	}
	return result
}

// resampleReturns draws len(returns) returns uniformly with replacement.
func resampleReturns(returns []float64, rng *rand.Rand) []float64 {
	sample := make([]float64, len(returns))
	for i := range sample {
		sample[i] = returns[rng.Intn(len(returns))]
	}
	return sample
}

func simulatePath(returns []float64, ruinThreshold float64) (totalReturn, maxDD float64, isRuin bool) {
	equity := 1.0
	peak := equity
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
		if equity <= ruinThreshold {
			return equity - 1.0, maxDD, true
		}
	}
	return equity - 1.0, maxDD, false
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
