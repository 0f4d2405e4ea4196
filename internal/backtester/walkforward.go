package backtester

import (
	"context"

	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/pkg/types"
)

// SignalGenerator is the subset of strategy.Strategy the walk-forward
// check needs, kept narrow to avoid an import cycle with internal/strategy.
type SignalGenerator func(bars []types.Bar, params types.ParameterVector, progress types.ProgressFunc) ([]types.Signal, error)

// RunWalkForward splits bars into foldCount contiguous windows, each an
// 80/20 in-sample/out-of-sample split, backtests the same winning
// parameter vector on both halves of every fold, and reports the average
// degradation — a validation artifact produced when run_validation is
// set, distinct from the optimizer's own trial loop.
func RunWalkForward(ctx context.Context, bars []types.Bar, params types.ParameterVector, generate SignalGenerator, cfg types.EngineConfig, objective string, foldCount int, logger *zap.Logger) types.WalkForwardResult {
	if foldCount <= 0 {
		foldCount = 5
	}
	n := len(bars)
	foldSize := n / foldCount
	if foldSize < 20 {
		return types.WalkForwardResult{}
	}

	var isScores, oosScores []float64
	for f := 0; f < foldCount; f++ {
		select {
		case <-ctx.Done():
			return types.WalkForwardResult{Folds: f}
		default:
		}

		start := f * foldSize
		end := start + foldSize
		if end > n {
			end = n
		}
		window := bars[start:end]
		if len(window) < 20 {
			continue
		}
		split := int(float64(len(window)) * 0.8)
		inSample := window[:split]
		outSample := window[split:]
		if len(outSample) < 5 {
			continue
		}

		isScore, ok1 := foldScore(inSample, params, generate, cfg, objective)
		oosScore, ok2 := foldScore(outSample, params, generate, cfg, objective)
		if !ok1 || !ok2 {
			continue
		}
		isScores = append(isScores, isScore)
		oosScores = append(oosScores, oosScore)
	}

	if len(isScores) == 0 {
		return types.WalkForwardResult{}
	}

	avgIS := mean(isScores)
	avgOOS := mean(oosScores)
	degradation := 0.0
	if avgIS != 0 {
		degradation = (avgIS - avgOOS) / absFloat(avgIS)
	}

	result := types.WalkForwardResult{
		Folds:             len(isScores),
		AvgInSampleScore:  avgIS,
		AvgOutSampleScore: avgOOS,
		Degradation:       degradation,
	}
	if logger != nil {
		logger.Debug("walk-forward validation complete",
			zap.Int("folds", result.Folds),
			zap.Float64("avg_in_sample", avgIS),
			zap.Float64("avg_out_sample", avgOOS),
			zap.Float64("degradation", degradation),
		)
	}
	return result
}

func foldScore(window []types.Bar, params types.ParameterVector, generate SignalGenerator, cfg types.EngineConfig, objective string) (float64, bool) {
	signals, err := generate(window, params, nil)
	if err != nil {
		return 0, false
	}
	result := Run(context.Background(), window, signals, cfg, nil)
	if result.Metrics.TotalTrades == 0 {
		return 0, false
	}
	return result.Metrics.Score(objective), true
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
