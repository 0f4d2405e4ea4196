package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/training-core/internal/indicators"
	"github.com/atlas-desktop/training-core/pkg/types"
)

// level is a valid support or resistance price identified from local
// extrema, carrying the touch count that qualified it.
type level struct {
	price  decimal.Decimal
	touches int
	isHigh bool // true = resistance (from a high extremum), false = support
}

// liquiditySweep is the canonical, fully-specified strategy: it waits for
// a brief pierce through a touched key level on a volume spike, then
// confirms reversal before emitting a signal.
type liquiditySweep struct{}

func newLiquiditySweep() *liquiditySweep { return &liquiditySweep{} }

func (s *liquiditySweep) Name() string { return "LIQUIDITY_SWEEP" }

func (s *liquiditySweep) ParameterSpace() types.ParameterSpace {
	return types.ParameterSpace{Params: []types.ParamDef{
		{Name: "key_level_lookback", Kind: types.ParamInteger, Lo: 50, Hi: 200},
		{Name: "min_level_touches", Kind: types.ParamInteger, Lo: 2, Hi: 6},
		{Name: "min_distance_from_level_pct", Kind: types.ParamContinuous, Lo: 0.0005, Hi: 0.005},
		{Name: "pierce_depth_pct", Kind: types.ParamContinuous, Lo: 0.0005, Hi: 0.005},
		{Name: "volume_spike_threshold", Kind: types.ParamContinuous, Lo: 1.5, Hi: 5.0},
		{Name: "reversal_candles", Kind: types.ParamInteger, Lo: 1, Hi: 5},
		{Name: "atr_multiplier_sl", Kind: types.ParamContinuous, Lo: 1.0, Hi: 3.0},
		{Name: "risk_reward_ratio", Kind: types.ParamContinuous, Lo: 1.5, Hi: 4.0},
	}}
}

func (s *liquiditySweep) GenerateSignals(bars []types.Bar, p types.ParameterVector, progress types.ProgressFunc) ([]types.Signal, error) {
	lookback := p.Int("key_level_lookback")
	minTouches := p.Int("min_level_touches")
	minDist := decimal.NewFromFloat(p["min_distance_from_level_pct"])
	pierceDepth := decimal.NewFromFloat(p["pierce_depth_pct"])
	volSpike := decimal.NewFromFloat(p["volume_spike_threshold"])
	reversalWindow := p.Int("reversal_candles")
	atrMultSL := decimal.NewFromFloat(p["atr_multiplier_sl"])
	rr := decimal.NewFromFloat(p["risk_reward_ratio"])

	n := len(bars)
	signals := make([]types.Signal, n)
	for i := range signals {
		signals[i] = types.Signal{Timestamp: bars[i].Timestamp, Side: types.SideNone}
	}

	for i := 0; i < n; i++ {
		reportProgress(progress, i, n)
		if i < lookback {
			continue
		}

		levels := findKeyLevels(bars, i, lookback, minTouches, minDist)
		bar := bars[i]
		trailingVol := indicators.TrailingMeanVolume(bars, i, 20)
		if trailingVol.IsZero() {
			continue
		}

		for _, lv := range levels {
			side, pierced := detectPierce(bar, lv, pierceDepth)
			if !pierced {
				continue
			}
			if bar.Volume.LessThan(volSpike.Mul(trailingVol)) {
				continue
			}
			reversalIdx, ok := confirmReversal(bars, i, side, lv.price, reversalWindow)
			if !ok {
				continue
			}

			entry := bars[reversalIdx].Close
			atr := bars[reversalIdx].ATR14
			var sig types.Signal
			if side == types.SideLong {
				sl := entry.Sub(atrMultSL.Mul(atr))
				tp := entry.Add(rr.Mul(entry.Sub(sl)))
				sig = types.Signal{Timestamp: bars[reversalIdx].Timestamp, Side: types.SideLong, EntryPrice: entry, StopLoss: sl, TakeProfit: tp}
			} else {
				sl := entry.Add(atrMultSL.Mul(atr))
				tp := entry.Sub(rr.Mul(sl.Sub(entry)))
				sig = types.Signal{Timestamp: bars[reversalIdx].Timestamp, Side: types.SideShort, EntryPrice: entry, StopLoss: sl, TakeProfit: tp}
			}
			if sig.Valid() {
				signals[reversalIdx] = sig
			}
			break
		}
	}
	return signals, nil
}

// findKeyLevels scans the lookback window ending at i for 3-bar symmetric
// local extrema and keeps those touched at least minTouches times.
func findKeyLevels(bars []types.Bar, i, lookback, minTouches int, minDist decimal.Decimal) []level {
	start := i - lookback
	if start < 1 {
		start = 1
	}
	end := i - 1 // last fully-formed bar before the current one

	var candidates []level
	for j := start + 1; j < end; j++ {
		if isLocalHigh(bars, j) {
			candidates = append(candidates, level{price: bars[j].High, isHigh: true})
		}
		if isLocalLow(bars, j) {
			candidates = append(candidates, level{price: bars[j].Low, isHigh: false})
		}
	}

	var valid []level
	for _, c := range candidates {
		touches := countTouches(bars, start, end, c.price, minDist, c.isHigh)
		if touches >= minTouches {
			c.touches = touches
			valid = append(valid, c)
		}
	}
	return valid
}

func isLocalHigh(bars []types.Bar, j int) bool {
	return bars[j].High.GreaterThanOrEqual(bars[j-1].High) && bars[j].High.GreaterThanOrEqual(bars[j+1].High)
}

func isLocalLow(bars []types.Bar, j int) bool {
	return bars[j].Low.LessThanOrEqual(bars[j-1].Low) && bars[j].Low.LessThanOrEqual(bars[j+1].Low)
}

// countTouches counts bars whose range crosses within minDist of price
// without closing through it.
func countTouches(bars []types.Bar, start, end int, price, minDist decimal.Decimal, isHigh bool) int {
	threshold := price.Mul(minDist)
	count := 0
	for j := start; j <= end; j++ {
		b := bars[j]
		if isHigh {
			dist := price.Sub(b.High).Abs()
			if dist.LessThanOrEqual(threshold) && b.Close.LessThanOrEqual(price) {
				count++
			}
		} else {
			dist := b.Low.Sub(price).Abs()
			if dist.LessThanOrEqual(threshold) && b.Close.GreaterThanOrEqual(price) {
				count++
			}
		}
	}
	return count
}

// detectPierce checks whether bar's wick breaches lv by no more than
// pierceDepth (a fraction of the level price); the bar's close is not
// checked. Support breach => LONG candidate; resistance breach => SHORT
// candidate.
func detectPierce(bar types.Bar, lv level, pierceDepth decimal.Decimal) (types.Side, bool) {
	if !lv.isHigh {
		if bar.Low.GreaterThanOrEqual(lv.price) {
			return types.SideNone, false
		}
		depth := lv.price.Sub(bar.Low).Div(lv.price)
		if depth.GreaterThan(pierceDepth) {
			return types.SideNone, false
		}
		return types.SideLong, true
	}
	if bar.High.LessThanOrEqual(lv.price) {
		return types.SideNone, false
	}
	depth := bar.High.Sub(lv.price).Div(lv.price)
	if depth.GreaterThan(pierceDepth) {
		return types.SideNone, false
	}
	return types.SideShort, true
}

// confirmReversal looks ahead up to window bars for a close back on the
// origin side of level with a body >= 0.5x ATR, returning its index.
func confirmReversal(bars []types.Bar, pierceIdx int, side types.Side, levelPrice decimal.Decimal, window int) (int, bool) {
	half := decimal.NewFromFloat(0.5)
	for k := pierceIdx; k < len(bars) && k <= pierceIdx+window; k++ {
		b := bars[k]
		body := b.Close.Sub(b.Open).Abs()
		if body.LessThan(half.Mul(b.ATR14)) {
			continue
		}
		if side == types.SideLong && b.Close.GreaterThan(levelPrice) {
			return k, true
		}
		if side == types.SideShort && b.Close.LessThan(levelPrice) {
			return k, true
		}
	}
	return 0, false
}
