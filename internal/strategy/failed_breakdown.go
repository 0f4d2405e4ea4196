package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/training-core/internal/indicators"
	"github.com/atlas-desktop/training-core/pkg/types"
)

// failedBreakdown detects Wyckoff springs: a tight trading range,
// a breakdown below its floor on weak volume, followed by a strong-volume
// recovery back into the range. Only the LONG (spring) side is traded;
// the mirror upthrust is symmetric but springs are the canonical pattern.
type failedBreakdown struct{}

func newFailedBreakdown() *failedBreakdown { return &failedBreakdown{} }

func (s *failedBreakdown) Name() string { return "FAILED_BREAKDOWN" }

func (s *failedBreakdown) ParameterSpace() types.ParameterSpace {
	return types.ParameterSpace{Params: []types.ParamDef{
		{Name: "range_lookback", Kind: types.ParamInteger, Lo: 10, Hi: 60},
		{Name: "range_tightness_pct", Kind: types.ParamContinuous, Lo: 0.01, Hi: 0.08},
		{Name: "breakdown_depth_pct", Kind: types.ParamContinuous, Lo: 0.001, Hi: 0.02},
		{Name: "weak_volume_ratio", Kind: types.ParamContinuous, Lo: 0.3, Hi: 0.9},
		{Name: "recovery_volume_ratio", Kind: types.ParamContinuous, Lo: 1.2, Hi: 3.0},
		{Name: "recovery_candles", Kind: types.ParamInteger, Lo: 1, Hi: 5},
		{Name: "atr_multiplier_sl", Kind: types.ParamContinuous, Lo: 1.0, Hi: 3.0},
		{Name: "risk_reward_ratio", Kind: types.ParamContinuous, Lo: 1.5, Hi: 4.0},
	}}
}

func (s *failedBreakdown) GenerateSignals(bars []types.Bar, p types.ParameterVector, progress types.ProgressFunc) ([]types.Signal, error) {
	lookback := p.Int("range_lookback")
	tightness := decimal.NewFromFloat(p["range_tightness_pct"])
	breakdownDepth := decimal.NewFromFloat(p["breakdown_depth_pct"])
	weakVolRatio := decimal.NewFromFloat(p["weak_volume_ratio"])
	recoveryVolRatio := decimal.NewFromFloat(p["recovery_volume_ratio"])
	recoveryWindow := p.Int("recovery_candles")
	atrMultSL := decimal.NewFromFloat(p["atr_multiplier_sl"])
	rr := decimal.NewFromFloat(p["risk_reward_ratio"])

	n := len(bars)
	signals := make([]types.Signal, n)
	for i := range signals {
		signals[i] = types.Signal{Timestamp: bars[i].Timestamp, Side: types.SideNone}
	}

	for i := lookback; i < n; i++ {
		reportProgress(progress, i, n)

		rangeLow, rangeHigh := rangeExtent(bars, i-lookback, i-1)
		if rangeHigh.IsZero() {
			continue
		}
		width := rangeHigh.Sub(rangeLow).Div(rangeHigh)
		if width.GreaterThan(tightness) {
			continue
		}

		b := bars[i]
		if b.Low.GreaterThanOrEqual(rangeLow) {
			continue
		}
		depth := rangeLow.Sub(b.Low).Div(rangeLow)
		if depth.GreaterThan(breakdownDepth) {
			continue
		}

		trailingVol := indicators.TrailingMeanVolume(bars, i, lookback)
		if trailingVol.IsZero() || b.Volume.GreaterThan(weakVolRatio.Mul(trailingVol)) {
			continue
		}

		recoverIdx, ok := confirmSpringRecovery(bars, i, rangeLow, recoveryVolRatio, trailingVol, recoveryWindow)
		if !ok {
			continue
		}

		entry := bars[recoverIdx].Close
		atr := bars[recoverIdx].ATR14
		sl := entry.Sub(atrMultSL.Mul(atr))
		tp := entry.Add(rr.Mul(entry.Sub(sl)))
		sig := types.Signal{Timestamp: bars[recoverIdx].Timestamp, Side: types.SideLong, EntryPrice: entry, StopLoss: sl, TakeProfit: tp}
		if sig.Valid() {
			signals[recoverIdx] = sig
		}
	}
	return signals, nil
}

func rangeExtent(bars []types.Bar, start, end int) (lo, hi decimal.Decimal) {
	if start < 0 {
		start = 0
	}
	lo, hi = bars[start].Low, bars[start].High
	for j := start + 1; j <= end; j++ {
		if bars[j].Low.LessThan(lo) {
			lo = bars[j].Low
		}
		if bars[j].High.GreaterThan(hi) {
			hi = bars[j].High
		}
	}
	return lo, hi
}

// confirmSpringRecovery looks for a strong-volume bar closing back above
// rangeLow within window bars of the spring breakdown.
func confirmSpringRecovery(bars []types.Bar, springIdx int, rangeLow, recoveryVolRatio, trailingVol decimal.Decimal, window int) (int, bool) {
	for k := springIdx + 1; k < len(bars) && k <= springIdx+window; k++ {
		b := bars[k]
		if b.Close.GreaterThan(rangeLow) && b.Volume.GreaterThanOrEqual(recoveryVolRatio.Mul(trailingVol)) {
			return k, true
		}
	}
	return 0, false
}
