// Package builtins provides the trading rules that ship with stocklens.
package builtins

import (
	"stocklens/internal/strategy"
)

// Default strategy names.
const (
	MABandName     = "ma-band"
	SMACrossName   = "sma-cross"
	BuyAndHoldName = "buy-and-hold"
)

// Register adds every built-in strategy to r. short and long are the moving
// average windows used by the average-based rules.
func Register(r *strategy.Registry, short, long int) {
	r.Register(MABandName, func() strategy.Strategy { return NewMABand(short, long) })
	r.Register(SMACrossName, func() strategy.Strategy { return NewSMACross(short, long) })
	r.Register(BuyAndHoldName, func() strategy.Strategy { return NewBuyAndHold() })
}

// NewRegistry returns a registry holding every built-in strategy.
func NewRegistry(short, long int) *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r, short, long)
	return r
}
