package backtester_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/training-core/internal/backtester"
	"github.com/atlas-desktop/training-core/pkg/types"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func bar(ts int64, o, h, l, c float64) types.Bar {
	return types.Bar{Timestamp: ts, Open: dec(o), High: dec(h), Low: dec(l), Close: dec(c), Volume: dec(100)}
}

func noneSignal(ts int64) types.Signal { return types.Signal{Timestamp: ts, Side: types.SideNone} }

func TestEngineZeroTradesIsWellFormed(t *testing.T) {
	bars := []types.Bar{bar(1, 100, 101, 99, 100), bar(2, 100, 101, 99, 100)}
	signals := []types.Signal{noneSignal(1), noneSignal(2)}

	result := backtester.Run(context.Background(), bars, signals, types.DefaultEngineConfig(), nil)

	if result.Metrics.TotalTrades != 0 {
		t.Fatalf("expected 0 trades, got %d", result.Metrics.TotalTrades)
	}
	if !result.Metrics.Sharpe.Equal(decimal.NewFromFloat(types.NegativeSentinel)) {
		t.Fatalf("expected sentinel sharpe for zero trades, got %s", result.Metrics.Sharpe.String())
	}
}

func TestEngineTakeProfitExit(t *testing.T) {
	bars := []types.Bar{
		bar(1, 100, 101, 99, 100),
		bar(2, 100, 120, 99, 105), // high spikes through TP
		bar(3, 105, 106, 104, 105),
	}
	signals := []types.Signal{
		{Timestamp: 1, Side: types.SideLong, EntryPrice: dec(100), StopLoss: dec(95), TakeProfit: dec(110)},
		noneSignal(2), noneSignal(3),
	}
	cfg := types.DefaultEngineConfig()
	cfg.SlippageBps = 0
	cfg.ExchangeFeeBps = 0

	result := backtester.Run(context.Background(), bars, signals, cfg, nil)

	if result.Metrics.TotalTrades != 1 {
		t.Fatalf("expected 1 trade, got %d", result.Metrics.TotalTrades)
	}
	if result.Trades[0].ExitReason != types.ExitTakeProfit {
		t.Fatalf("expected TP exit, got %s", result.Trades[0].ExitReason)
	}
}

func TestEngineStopLossTakesPriorityOverTakeProfit(t *testing.T) {
	// A bar whose range spans both SL and TP must exit via SL: the strict
	// exit-priority order checks stop-loss first.
	bars := []types.Bar{
		bar(1, 100, 101, 99, 100),
		bar(2, 100, 120, 90, 100), // both SL (95) and TP (110) are crossed
	}
	signals := []types.Signal{
		{Timestamp: 1, Side: types.SideLong, EntryPrice: dec(100), StopLoss: dec(95), TakeProfit: dec(110)},
		noneSignal(2),
	}
	cfg := types.DefaultEngineConfig()
	cfg.SlippageBps = 0
	cfg.ExchangeFeeBps = 0

	result := backtester.Run(context.Background(), bars, signals, cfg, nil)

	if result.Trades[0].ExitReason != types.ExitStopLoss {
		t.Fatalf("expected SL exit priority, got %s", result.Trades[0].ExitReason)
	}
}

func TestEngineTimeoutExit(t *testing.T) {
	bars := make([]types.Bar, 0, 5)
	signals := make([]types.Signal, 0, 5)
	for i := int64(1); i <= 5; i++ {
		bars = append(bars, bar(i, 100, 101, 99, 100))
		signals = append(signals, noneSignal(i))
	}
	signals[0] = types.Signal{Timestamp: 1, Side: types.SideLong, EntryPrice: dec(100), StopLoss: dec(50), TakeProfit: dec(200)}

	cfg := types.DefaultEngineConfig()
	cfg.MaxHoldingPeriods = 2
	cfg.SlippageBps = 0
	cfg.ExchangeFeeBps = 0

	result := backtester.Run(context.Background(), bars, signals, cfg, nil)

	if result.Metrics.TotalTrades != 1 {
		t.Fatalf("expected 1 trade, got %d", result.Metrics.TotalTrades)
	}
	if result.Trades[0].ExitReason != types.ExitTimeout {
		t.Fatalf("expected TIMEOUT exit, got %s", result.Trades[0].ExitReason)
	}
}

func TestEngineNoPyramiding(t *testing.T) {
	bars := []types.Bar{
		bar(1, 100, 101, 99, 100),
		bar(2, 100, 101, 99, 100),
		bar(3, 100, 200, 99, 150),
	}
	signals := []types.Signal{
		{Timestamp: 1, Side: types.SideLong, EntryPrice: dec(100), StopLoss: dec(90), TakeProfit: dec(300)},
		{Timestamp: 2, Side: types.SideLong, EntryPrice: dec(100), StopLoss: dec(90), TakeProfit: dec(300)},
		noneSignal(3),
	}
	cfg := types.DefaultEngineConfig()

	result := backtester.Run(context.Background(), bars, signals, cfg, nil)

	if result.Metrics.TotalTrades != 1 {
		t.Fatalf("expected only 1 position (no pyramiding), got %d", result.Metrics.TotalTrades)
	}
}
