package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/training-core/internal/indicators"
	"github.com/atlas-desktop/training-core/pkg/types"
)

// capitulationReversal looks for a washout bar — a volume explosion,
// extreme velocity move, and an exhaustion wick — confirmed by an RSI
// extreme, and trades the reversal on the next bar's close.
type capitulationReversal struct{}

func newCapitulationReversal() *capitulationReversal { return &capitulationReversal{} }

func (s *capitulationReversal) Name() string { return "CAPITULATION_REVERSAL" }

func (s *capitulationReversal) ParameterSpace() types.ParameterSpace {
	return types.ParameterSpace{Params: []types.ParamDef{
		{Name: "rsi_period", Kind: types.ParamInteger, Lo: 7, Hi: 21},
		{Name: "rsi_oversold", Kind: types.ParamContinuous, Lo: 15, Hi: 30},
		{Name: "rsi_overbought", Kind: types.ParamContinuous, Lo: 70, Hi: 85},
		{Name: "volume_explosion_threshold", Kind: types.ParamContinuous, Lo: 2.0, Hi: 6.0},
		{Name: "velocity_atr_multiplier", Kind: types.ParamContinuous, Lo: 1.5, Hi: 4.0},
		{Name: "exhaustion_wick_ratio", Kind: types.ParamContinuous, Lo: 0.3, Hi: 0.7},
		{Name: "atr_multiplier_sl", Kind: types.ParamContinuous, Lo: 1.0, Hi: 3.0},
		{Name: "risk_reward_ratio", Kind: types.ParamContinuous, Lo: 1.5, Hi: 4.0},
	}}
}

func (s *capitulationReversal) GenerateSignals(bars []types.Bar, p types.ParameterVector, progress types.ProgressFunc) ([]types.Signal, error) {
	rsiPeriod := p.Int("rsi_period")
	oversold := decimal.NewFromFloat(p["rsi_oversold"])
	overbought := decimal.NewFromFloat(p["rsi_overbought"])
	volThresh := decimal.NewFromFloat(p["volume_explosion_threshold"])
	velocityMult := decimal.NewFromFloat(p["velocity_atr_multiplier"])
	wickRatio := decimal.NewFromFloat(p["exhaustion_wick_ratio"])
	atrMultSL := decimal.NewFromFloat(p["atr_multiplier_sl"])
	rr := decimal.NewFromFloat(p["risk_reward_ratio"])

	n := len(bars)
	signals := make([]types.Signal, n)
	for i := range signals {
		signals[i] = types.Signal{Timestamp: bars[i].Timestamp, Side: types.SideNone}
	}
	rsi := indicators.RSISeries(bars, rsiPeriod)

	for i := 1; i < n-1; i++ {
		reportProgress(progress, i, n)
		b := bars[i]
		trailingVol := indicators.TrailingMeanVolume(bars, i, 20)
		if trailingVol.IsZero() || b.ATR14.IsZero() {
			continue
		}
		if b.Volume.LessThan(volThresh.Mul(trailingVol)) {
			continue
		}

		move := b.Close.Sub(bars[i-1].Close).Abs()
		if move.LessThan(velocityMult.Mul(b.ATR14)) {
			continue
		}

		side := washoutSide(b, wickRatio, rsi[i], oversold, overbought)
		if side == types.SideNone {
			continue
		}

		confirmIdx := i + 1
		confirm := bars[confirmIdx]
		var entryOK bool
		if side == types.SideLong {
			entryOK = confirm.Close.GreaterThan(b.Close)
		} else {
			entryOK = confirm.Close.LessThan(b.Close)
		}
		if !entryOK {
			continue
		}

		entry := confirm.Close
		atr := confirm.ATR14
		var sig types.Signal
		if side == types.SideLong {
			sl := entry.Sub(atrMultSL.Mul(atr))
			tp := entry.Add(rr.Mul(entry.Sub(sl)))
			sig = types.Signal{Timestamp: confirm.Timestamp, Side: types.SideLong, EntryPrice: entry, StopLoss: sl, TakeProfit: tp}
		} else {
			sl := entry.Add(atrMultSL.Mul(atr))
			tp := entry.Sub(rr.Mul(sl.Sub(entry)))
			sig = types.Signal{Timestamp: confirm.Timestamp, Side: types.SideShort, EntryPrice: entry, StopLoss: sl, TakeProfit: tp}
		}
		if sig.Valid() {
			signals[confirmIdx] = sig
		}
	}
	return signals, nil
}

// washoutSide classifies a washout bar by exhaustion wick direction
// combined with an RSI extreme: a long lower wick + RSI oversold signals
// a LONG reversal; a long upper wick + RSI overbought signals SHORT.
func washoutSide(b types.Bar, wickRatio, rsi, oversold, overbought decimal.Decimal) types.Side {
	rng := b.High.Sub(b.Low)
	if rng.IsZero() {
		return types.SideNone
	}
	lowerWick := decimal.Min(b.Open, b.Close).Sub(b.Low)
	upperWick := b.High.Sub(decimal.Max(b.Open, b.Close))

	if lowerWick.Div(rng).GreaterThanOrEqual(wickRatio) && rsi.LessThanOrEqual(oversold) {
		return types.SideLong
	}
	if upperWick.Div(rng).GreaterThanOrEqual(wickRatio) && rsi.GreaterThanOrEqual(overbought) {
		return types.SideShort
	}
	return types.SideNone
}
