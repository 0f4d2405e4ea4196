package types

import "github.com/shopspring/decimal"

// EngineConfig parameterizes one C4 backtest run. Defaults mirror
// SPEC_FULL.md §4.4's contract signature.
type EngineConfig struct {
	ExchangeFeeBps    int64
	SlippageBps       int64
	PositionSizePct   decimal.Decimal
	MaxHoldingPeriods int
	MinTradesForScore int // trials below this trade count are excluded from "best"
	Objective         string
}

// DefaultEngineConfig returns the contract defaults named in §4.4.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ExchangeFeeBps:    10,
		SlippageBps:       5,
		PositionSizePct:   decimal.NewFromInt(1),
		MaxHoldingPeriods: 48,
		MinTradesForScore: 3,
		Objective:         "sharpe",
	}
}
