// Package backtester implements C4: a single-position FLAT/OPEN walk
// through a bar series applying fee and slippage modeling, and C4's
// derived performance metrics.
package backtester

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/training-core/pkg/types"
)

var bps = decimal.NewFromInt(10000)

// Run walks bars/signals as a single FLAT/OPEN position state machine, no
// pyramiding. See SPEC_FULL.md §4.4 for the exit-priority and sizing
// contracts this function is load-bearing for.
func Run(ctx context.Context, bars []types.Bar, signals []types.Signal, cfg types.EngineConfig, progress types.ProgressFunc) types.BacktestResult {
	if len(bars) != len(signals) {
		return types.ZeroTradeResult()
	}

	feeBps := decimal.NewFromInt(cfg.ExchangeFeeBps)
	slipBps := decimal.NewFromInt(cfg.SlippageBps)

	var trades []types.Trade
	var open *openPosition

	n := len(bars)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		reportProgress(progress, i, n)
		bar := bars[i]

		if open != nil {
			if exitIdx, reason, execPrice := checkExit(*open, bar, cfg.MaxHoldingPeriods, i); exitIdx {
				trade := closeTrade(*open, bar.Timestamp, execPrice, reason, slipBps, feeBps)
				trades = append(trades, trade)
				open = nil
			}
		}

		if open == nil {
			sig := signals[i]
			if sig.IsActionable() {
				open = openFromSignal(sig, i, slipBps, cfg.PositionSizePct)
			}
		}
	}

	if open != nil && n > 0 {
		last := bars[n-1]
		trades = append(trades, closeTrade(*open, last.Timestamp, last.Close, types.ExitTimeout, slipBps, feeBps))
	}

	if len(trades) == 0 {
		return types.ZeroTradeResult()
	}

	equity := buildEquityCurve(trades)
	metrics := ComputeMetrics(trades, equity, bars, cfg.MinTradesForScore)
	return types.BacktestResult{Trades: trades, Metrics: metrics, EquityCurve: equity}
}

// openPosition tracks one live trade's signal-space levels (entry/SL/TP
// are unadjusted, per §4.4's critical sizing rule) plus the slippage-
// adjusted execution entry price used for PnL.
type openPosition struct {
	side           types.Side
	entryIdx       int
	entryTS        int64
	entrySignal    decimal.Decimal // unadjusted signal entry — used for sizing/exit comparisons
	execEntry      decimal.Decimal // slippage-adjusted — used for PnL
	stopLoss       decimal.Decimal
	takeProfit     decimal.Decimal
	sizeMultiplier decimal.Decimal
}

// openFromSignal computes the position's risk-scaled size multiplier from
// the *signal's* unadjusted entry and stop-loss, per §4.4's critical
// sizing rule: sl_distance = |entry_signal - stop_loss| / entry_signal.
// Using the slippage-adjusted exec price here would silently bias the
// risk/reward ratio and must never be done.
func openFromSignal(sig types.Signal, idx int, slipBps, positionSizePct decimal.Decimal) *openPosition {
	adj := decimal.NewFromInt(1)
	var execEntry decimal.Decimal
	if sig.Side == types.SideLong {
		execEntry = sig.EntryPrice.Mul(adj.Add(slipBps.Div(bps)))
	} else {
		execEntry = sig.EntryPrice.Mul(adj.Sub(slipBps.Div(bps)))
	}

	slDistance := sig.EntryPrice.Sub(sig.StopLoss).Abs().Div(sig.EntryPrice)
	sizeMultiplier := decimal.NewFromInt(1)
	if !slDistance.IsZero() {
		sizeMultiplier = positionSizePct.Div(slDistance)
	}

	return &openPosition{
		side:           sig.Side,
		entryIdx:       idx,
		entryTS:        sig.Timestamp,
		entrySignal:    sig.EntryPrice,
		execEntry:      execEntry,
		stopLoss:       sig.StopLoss,
		takeProfit:     sig.TakeProfit,
		sizeMultiplier: sizeMultiplier,
	}
}

// checkExit applies the strict SL -> TP -> TIMEOUT priority order against
// signal-space levels, using the current bar's high/low/close.
func checkExit(pos openPosition, bar types.Bar, maxHolding, curIdx int) (bool, types.ExitReason, decimal.Decimal) {
	barsHeld := curIdx - pos.entryIdx
	if barsHeld <= 0 {
		return false, "", decimal.Zero
	}

	if pos.side == types.SideLong {
		if bar.Low.LessThanOrEqual(pos.stopLoss) {
			return true, types.ExitStopLoss, pos.stopLoss
		}
		if bar.High.GreaterThanOrEqual(pos.takeProfit) {
			return true, types.ExitTakeProfit, pos.takeProfit
		}
	} else {
		if bar.High.GreaterThanOrEqual(pos.stopLoss) {
			return true, types.ExitStopLoss, pos.stopLoss
		}
		if bar.Low.LessThanOrEqual(pos.takeProfit) {
			return true, types.ExitTakeProfit, pos.takeProfit
		}
	}
	if barsHeld >= maxHolding {
		return true, types.ExitTimeout, bar.Close
	}
	return false, "", decimal.Zero
}

func closeTrade(pos openPosition, exitTS int64, exitSignalPrice decimal.Decimal, reason types.ExitReason, slipBps, feeBps decimal.Decimal) types.Trade {
	adj := decimal.NewFromInt(1)
	var execExit decimal.Decimal
	if pos.side == types.SideLong {
		execExit = exitSignalPrice.Mul(adj.Sub(slipBps.Div(bps)))
	} else {
		execExit = exitSignalPrice.Mul(adj.Add(slipBps.Div(bps)))
	}

	var rawPnl decimal.Decimal
	if pos.side == types.SideLong {
		rawPnl = execExit.Sub(pos.execEntry).Div(pos.execEntry)
	} else {
		rawPnl = pos.execEntry.Sub(execExit).Div(pos.execEntry)
	}
	totalFee := decimal.NewFromInt(2).Mul(feeBps).Div(bps)
	pnlPct := rawPnl.Mul(pos.sizeMultiplier).Sub(totalFee.Mul(pos.sizeMultiplier))

	return types.Trade{
		Side:       pos.side,
		EntryTS:    pos.entryTS,
		EntryPrice: pos.entrySignal,
		ExitTS:     exitTS,
		ExitPrice:  execExit,
		Qty:        decimal.NewFromInt(1),
		PnLPct:     pnlPct,
		ExitReason: reason,
	}
}

func buildEquityCurve(trades []types.Trade) []types.EquityCurvePoint {
	curve := make([]types.EquityCurvePoint, len(trades))
	equity := decimal.NewFromInt(1)
	for i, t := range trades {
		equity = equity.Mul(decimal.NewFromInt(1).Add(t.PnLPct))
		curve[i] = types.EquityCurvePoint{Timestamp: t.ExitTS, Equity: equity}
	}
	return curve
}

// reportProgress mirrors the shared at-most-100-calls contract.
func reportProgress(cb types.ProgressFunc, i, n int) {
	if cb == nil {
		return
	}
	freq := (n + 99) / 100
	if freq < 1 {
		freq = 1
	}
	if i%freq == 0 || i == n-1 {
		cb(i, n)
	}
}
