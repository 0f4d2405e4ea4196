package optimization

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/pkg/types"
)

// bayesianSalt distinguishes BAYESIAN's internal GP random state from
// RANDOM's trial-sampling RNG when both derive from the same job seed.
const bayesianSalt = 0x4259 // "BY"

const (
	bayesianInitPoints   = 20
	gpLengthScale        = 0.3
	gpSignalVariance     = 1.0
	gpNoiseVariance      = 1e-6
	eiCandidatePoolSize  = 2000
)

// runBayesian is a sequential Gaussian-process surrogate optimizer with
// Expected-Improvement acquisition, hand-rolled on stdlib math since no
// GP/Bayesian-optimization library is available to this codebase. It runs
// single-threaded by design: each trial's surrogate update depends on the
// complete history of prior trials.
func runBayesian(ctx context.Context, space types.ParameterSpace, objective ObjectiveFunc, cfg Config) (*Result, error) {
	rng := newSeededRNG(cfg.Seed, bayesianSalt)
	result := &Result{BestScore: types.NegativeSentinel}

	initPoints := bayesianInitPoints
	if initPoints > cfg.NIterations {
		initPoints = cfg.NIterations
	}

	var observedX [][]float64
	var observedY []float64

	evalAt := func(index int, norm []float64) (TrialResult, bool) {
		if ctx.Err() != nil {
			return TrialResult{}, false
		}
		params := denormalize(space, norm)
		start := time.Now()
		score, sampleSize, err := objective(ctx, params)
		observeTrial(cfg.Metrics, "bayesian", start, err != nil)
		if err != nil {
			return TrialResult{Index: index, Params: params, Failed: true}, true
		}
		return TrialResult{Index: index, Params: params, Score: score, SampleSize: sampleSize}, true
	}

	for i := 0; i < initPoints; i++ {
		norm := randomNormVector(rng, len(space.Params))
		trial, ok := evalAt(i, norm)
		if !ok {
			break
		}
		recordBest(result, trial, cfg.MinTradesForScore)
		if !trial.Failed {
			observedX = append(observedX, norm)
			observedY = append(observedY, trial.Score)
		}
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("bayesian optimization: random init complete",
			zap.Int("init_points", len(observedX)))
	}

	for i := initPoints; i < cfg.NIterations; i++ {
		if ctx.Err() != nil {
			break
		}
		if len(observedX) < 2 {
			norm := randomNormVector(rng, len(space.Params))
			trial, ok := evalAt(i, norm)
			if !ok {
				break
			}
			recordBest(result, trial, cfg.MinTradesForScore)
			if !trial.Failed {
				observedX = append(observedX, norm)
				observedY = append(observedY, trial.Score)
			}
			continue
		}

		gp := fitGP(observedX, observedY)
		best := maxFloat(observedY)
		next := selectNextByEI(rng, gp, len(space.Params), best)

		trial, ok := evalAt(i, next)
		if !ok {
			break
		}
		recordBest(result, trial, cfg.MinTradesForScore)
		if !trial.Failed {
			observedX = append(observedX, next)
			observedY = append(observedY, trial.Score)
		}
	}

	return result, nil
}

// randomNormVector draws dims uniform values in [0,1).
func randomNormVector(rng *rand.Rand, dims int) []float64 {
	v := make([]float64, dims)
	for i := range v {
		v[i] = rng.Float64()
	}
	return v
}

// denormalize maps a [0,1]^n vector back to the parameter space's native
// ranges, in def order.
func denormalize(space types.ParameterSpace, norm []float64) types.ParameterVector {
	out := make(types.ParameterVector, len(space.Params))
	for i, def := range space.Params {
		u := norm[i]
		switch def.Kind {
		case types.ParamEnum:
			idx := int(u * float64(len(def.Choices)))
			if idx >= len(def.Choices) {
				idx = len(def.Choices) - 1
			}
			out[def.Name] = def.Choices[idx]
		case types.ParamInteger:
			out[def.Name] = math.Round(def.Lo + u*(def.Hi-def.Lo))
		default:
			out[def.Name] = def.Lo + u*(def.Hi-def.Lo)
		}
	}
	return out
}

// gpModel is a fitted Gaussian-process regression over normalized inputs:
// the training points, their Cholesky-free inverse-covariance-weighted
// targets (alpha = K^-1 y), and the inverse covariance matrix itself
// (needed for the posterior variance term).
type gpModel struct {
	x     [][]float64
	alpha []float64
	kInv  [][]float64
}

func rbfKernel(a, b []float64) float64 {
	var sumSq float64
	for i := range a {
		d := a[i] - b[i]
		sumSq += d * d
	}
	return gpSignalVariance * math.Exp(-sumSq/(2*gpLengthScale*gpLengthScale))
}

// fitGP builds the covariance matrix K over x, inverts it (Gauss-Jordan,
// stdlib-only), and precomputes alpha = K^-1 y.
func fitGP(x [][]float64, y []float64) *gpModel {
	n := len(x)
	k := make([][]float64, n)
	for i := range k {
		k[i] = make([]float64, n)
		for j := range k[i] {
			k[i][j] = rbfKernel(x[i], x[j])
			if i == j {
				k[i][j] += gpNoiseVariance
			}
		}
	}
	kInv := invertMatrix(k)
	alpha := matVec(kInv, y)
	return &gpModel{x: x, alpha: alpha, kInv: kInv}
}

// predict returns the posterior mean and standard deviation at point.
func (gp *gpModel) predict(point []float64) (mean, stdev float64) {
	kStar := make([]float64, len(gp.x))
	for i, xi := range gp.x {
		kStar[i] = rbfKernel(point, xi)
	}
	for i, k := range kStar {
		mean += k * gp.alpha[i]
	}

	kInvKStar := matVec(gp.kInv, kStar)
	variance := gpSignalVariance
	for i, k := range kStar {
		variance -= k * kInvKStar[i]
	}
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// expectedImprovement scores a candidate point against the current best
// observed score, per the standard EI acquisition formula.
func expectedImprovement(mean, stdev, best float64) float64 {
	if stdev <= 0 {
		return 0
	}
	z := (mean - best) / stdev
	return (mean-best)*normalCDF(z) + stdev*normalPDF(z)
}

// selectNextByEI samples a candidate pool uniformly and returns the point
// maximizing Expected Improvement under gp.
func selectNextByEI(rng *rand.Rand, gp *gpModel, dims int, best float64) []float64 {
	var bestPoint []float64
	bestEI := math.Inf(-1)
	for i := 0; i < eiCandidatePoolSize; i++ {
		candidate := randomNormVector(rng, dims)
		mean, stdev := gp.predict(candidate)
		ei := expectedImprovement(mean, stdev, best)
		if ei > bestEI {
			bestEI = ei
			bestPoint = candidate
		}
	}
	return bestPoint
}

func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

func normalPDF(z float64) float64 {
	return math.Exp(-0.5*z*z) / math.Sqrt(2*math.Pi)
}

func maxFloat(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

// invertMatrix computes the inverse of a square matrix by Gauss-Jordan
// elimination with partial pivoting.
func invertMatrix(m [][]float64) [][]float64 {
	n := len(m)
	aug := make([][]float64, n)
	for i := range aug {
		aug[i] = make([]float64, 2*n)
		copy(aug[i], m[i])
		aug[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		pivotVal := aug[col][col]
		if math.Abs(pivotVal) < 1e-12 {
			pivotVal = 1e-12
		}
		for c := 0; c < 2*n; c++ {
			aug[col][c] /= pivotVal
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := aug[r][col]
			for c := 0; c < 2*n; c++ {
				aug[r][c] -= factor * aug[col][c]
			}
		}
	}

	inv := make([][]float64, n)
	for i := range inv {
		inv[i] = make([]float64, n)
		copy(inv[i], aug[i][n:])
	}
	return inv
}

func matVec(m [][]float64, v []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		var sum float64
		for j, val := range row {
			sum += val * v[j]
		}
		out[i] = sum
	}
	return out
}
