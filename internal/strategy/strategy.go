// Package strategy implements the three registered signal generators
// (LIQUIDITY_SWEEP, CAPITULATION_REVERSAL, FAILED_BREAKDOWN) behind a
// static, fail-fast registry, following the donor package's
// registry-of-named-strategies pattern.
package strategy

import (
	"fmt"
	"sort"

	"github.com/atlas-desktop/training-core/pkg/types"
)

// Strategy is the common interface every registered evaluator satisfies.
type Strategy interface {
	Name() string
	ParameterSpace() types.ParameterSpace
	GenerateSignals(bars []types.Bar, params types.ParameterVector, progress types.ProgressFunc) ([]types.Signal, error)
}

var registry = map[string]func() Strategy{}

func register(name string, factory func() Strategy) {
	registry[name] = factory
}

// Create instantiates the named strategy, or returns an error listing the
// valid registered names when name is unknown.
func Create(name string) (Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q: valid names are %v", name, List())
	}
	return factory(), nil
}

// List returns the registered strategy names, sorted for deterministic
// error messages.
func List() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	register("LIQUIDITY_SWEEP", func() Strategy { return newLiquiditySweep() })
	register("CAPITULATION_REVERSAL", func() Strategy { return newCapitulationReversal() })
	register("FAILED_BREAKDOWN", func() Strategy { return newFailedBreakdown() })
}

// reportProgress invokes cb at most 100 times over an N-bar scan, and
// always on the final bar, per the shared progress-callback contract.
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
