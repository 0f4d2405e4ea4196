package optimization_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/internal/optimization"
	"github.com/atlas-desktop/training-core/pkg/types"
)

// sameTrial compares two TrialResults field by field; optimization.TrialResult
// embeds a map (ParameterVector) and so isn't comparable with ==.
func sameTrial(a, b optimization.TrialResult) bool {
	return a.Index == b.Index &&
		a.Score == b.Score &&
		a.SampleSize == b.SampleSize &&
		a.Failed == b.Failed &&
		reflect.DeepEqual(a.Params, b.Params)
}

func jitterSpace() types.ParameterSpace {
	return types.ParameterSpace{Params: []types.ParamDef{
		{Name: "x", Kind: types.ParamContinuous, Lo: 0, Hi: 100},
	}}
}

// jitteredObjective sleeps longer for smaller x, so trials submitted later
// (with larger x, under a fixed seed) tend to finish first — real
// worker-pool completion-order jitter, not just a theoretical race.
func jitteredObjective(ctx context.Context, params types.ParameterVector) (float64, int, error) {
	delay := time.Duration(100-int(params["x"])) * 100 * time.Microsecond
	time.Sleep(delay)
	return params["x"], 10, nil
}

func runReproducibleConfig(kind types.OptimizerKind, seed int64) optimization.Config {
	return optimization.Config{
		Kind:              kind,
		NIterations:       12,
		Seed:              seed,
		Objective:         "net_profit_pct",
		MinTradesForScore: 1,
		Logger:            zap.NewNop(),
	}
}

func TestRandomOptimizeIsIndexOrderedAcrossRuns(t *testing.T) {
	space := jitterSpace()
	cfg := runReproducibleConfig(types.OptimizerRandom, 42)

	first, err := optimization.Optimize(context.Background(), space, jitteredObjective, cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := optimization.Optimize(context.Background(), space, jitteredObjective, cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first.Trials) != cfg.NIterations || len(second.Trials) != cfg.NIterations {
		t.Fatalf("expected %d trials each, got %d and %d", cfg.NIterations, len(first.Trials), len(second.Trials))
	}
	for i := range first.Trials {
		if first.Trials[i].Index != i {
			t.Fatalf("trial %d has Index %d, want submission-order index %d", i, first.Trials[i].Index, i)
		}
		if !sameTrial(first.Trials[i], second.Trials[i]) {
			t.Fatalf("trial %d differs across runs with identical seed: %+v vs %+v", i, first.Trials[i], second.Trials[i])
		}
	}
	if first.BestParams["x"] != second.BestParams["x"] || first.BestScore != second.BestScore {
		t.Fatalf("best trial not reproducible: %+v/%v vs %+v/%v",
			first.BestParams, first.BestScore, second.BestParams, second.BestScore)
	}
}

func TestGridOptimizeIsIndexOrderedAcrossRuns(t *testing.T) {
	space := jitterSpace()
	cfg := optimization.Config{
		Kind:              types.OptimizerGrid,
		Objective:         "net_profit_pct",
		MinTradesForScore: 1,
		Logger:            zap.NewNop(),
	}

	first, err := optimization.Optimize(context.Background(), space, jitteredObjective, cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := optimization.Optimize(context.Background(), space, jitteredObjective, cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first.Trials) == 0 {
		t.Fatal("expected at least one grid combination")
	}
	for i := range first.Trials {
		if first.Trials[i].Index != i {
			t.Fatalf("trial %d has Index %d, want submission-order index %d", i, first.Trials[i].Index, i)
		}
		if !sameTrial(first.Trials[i], second.Trials[i]) {
			t.Fatalf("trial %d differs across runs: %+v vs %+v", i, first.Trials[i], second.Trials[i])
		}
	}
}
