// Package types provides the shared data model for the training core:
// bars, signals, trades, parameter spaces, and the job/configuration
// records that cross the store boundary.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is one of the supported bar intervals.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Seconds returns the bar duration of the timeframe in seconds.
func (t Timeframe) Seconds() int64 {
	switch t {
	case Timeframe1m:
		return 60
	case Timeframe5m:
		return 5 * 60
	case Timeframe15m:
		return 15 * 60
	case Timeframe1h:
		return 60 * 60
	case Timeframe4h:
		return 4 * 60 * 60
	case Timeframe1d:
		return 24 * 60 * 60
	default:
		return 0
	}
}

// BarsPerYear returns how many bars of this timeframe occur in a 365-day
// year. The backtest metrics do not call it; they derive their
// annualization factor from the bar timestamps.
func (t Timeframe) BarsPerYear() float64 {
	secs := t.Seconds()
	if secs == 0 {
		return 0
	}
	return float64(365*24*60*60) / float64(secs)
}

// Valid reports whether t is one of the six supported timeframes.
func (t Timeframe) Valid() bool {
	switch t {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d:
		return true
	default:
		return false
	}
}

// Regime is the externally-assigned market regime a job trains against.
type Regime string

const (
	RegimeBull     Regime = "bull"
	RegimeBear     Regime = "bear"
	RegimeSideways Regime = "sideways"
	RegimeVolatile Regime = "volatile"
)

// Bar is one OHLCV time-series row, optionally enriched with indicators.
// Invariant: Low <= min(Open, Close) <= max(Open, Close) <= High; Volume >= 0.
type Bar struct {
	Timestamp int64 // seconds since epoch

	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal

	// Populated by enrichment; zero value means "undefined" (leading bars).
	ATR14  decimal.Decimal
	SMA20  decimal.Decimal
	hasATR bool
	hasSMA bool
}

// HasATR reports whether ATR14 has been computed for this bar.
func (b Bar) HasATR() bool { return b.hasATR }

// HasSMA reports whether SMA20 has been computed for this bar.
func (b Bar) HasSMA() bool { return b.hasSMA }

// WithATR returns a copy of b carrying the given ATR14 value.
func (b Bar) WithATR(v decimal.Decimal) Bar {
	b.ATR14 = v
	b.hasATR = true
	return b
}

// WithSMA returns a copy of b carrying the given SMA20 value.
func (b Bar) WithSMA(v decimal.Decimal) Bar {
	b.SMA20 = v
	b.hasSMA = true
	return b
}

// Valid checks the bar's internal OHLCV invariant.
func (b Bar) Valid() bool {
	hi := decimal.Max(b.Open, b.Close)
	lo := decimal.Min(b.Open, b.Close)
	return b.Low.LessThanOrEqual(lo) && lo.LessThanOrEqual(hi) && hi.LessThanOrEqual(b.High) && !b.Volume.IsNegative()
}

// BarSeries is an ordered, immutable sequence of Bars for one
// (symbol, exchange, timeframe) tuple.
type BarSeries struct {
	Symbol    string
	Exchange  string
	Timeframe Timeframe
	Bars      []Bar
}

// Len returns the number of bars in the series.
func (s BarSeries) Len() int { return len(s.Bars) }

// Side is a position or signal direction.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideNone  Side = "NONE"
)

// Signal is produced one-per-bar by a strategy: either a trade setup
// (LONG/SHORT with entry/stop/target) or NONE.
type Signal struct {
	Timestamp  int64
	Side       Side
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// IsActionable reports whether the signal carries a tradeable setup.
func (s Signal) IsActionable() bool { return s.Side == SideLong || s.Side == SideShort }

// Valid checks the entry/stop/target ordering invariant for the signal's side.
func (s Signal) Valid() bool {
	switch s.Side {
	case SideLong:
		return s.StopLoss.LessThan(s.EntryPrice) && s.EntryPrice.LessThan(s.TakeProfit)
	case SideShort:
		return s.TakeProfit.LessThan(s.EntryPrice) && s.EntryPrice.LessThan(s.StopLoss)
	default:
		return true
	}
}

// ExitReason classifies how a Trade was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "SL"
	ExitTakeProfit ExitReason = "TP"
	ExitTimeout    ExitReason = "TIMEOUT"
)

// Trade is one completed round-trip position.
type Trade struct {
	Side       Side
	EntryTS    int64
	EntryPrice decimal.Decimal // signal-space, unadjusted
	ExitTS     int64
	ExitPrice  decimal.Decimal
	Qty        decimal.Decimal
	PnLPct     decimal.Decimal
	ExitReason ExitReason
}

// EquityCurvePoint is one sample of the cumulative-product equity curve.
type EquityCurvePoint struct {
	Timestamp int64
	Equity    decimal.Decimal
}

// ProgressFunc is the shared callback shape used by C3 (bar scan) and C4
// (bar scan) for their throttled per-bar progress reporting.
type ProgressFunc func(current, total int)

// NowUnix returns the current time in whole seconds, as time.Now().Unix().
func NowUnix() int64 { return time.Now().Unix() }
