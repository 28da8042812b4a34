package builtins

import (
	"context"

	"github.com/shopspring/decimal"

	"stocklens/internal/domain"
	"stocklens/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It generates
// a buy signal when the short-period SMA crosses above the long-period SMA,
// and a sell signal when it crosses below.
type SMACross struct {
	shortPeriod int
	longPeriod  int

	prevDiff decimal.Decimal
	primed   bool
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return SMACrossName
}

// Init resets crossover tracking.
func (s *SMACross) Init(_ context.Context) error {
	s.primed = false
	s.prevDiff = decimal.Zero
	return nil
}

// OnBar signals on the bar where the short SMA crosses the long SMA.
func (s *SMACross) OnBar(_ context.Context, history []domain.PricePoint, pos strategy.Position) (domain.SignalType, error) {
	short, ok := strategy.SMA(history, s.shortPeriod)
	if !ok {
		return domain.SignalHold, nil
	}
	long, ok := strategy.SMA(history, s.longPeriod)
	if !ok {
		return domain.SignalHold, nil
	}

	diff := short.Sub(long)
	prev, primed := s.prevDiff, s.primed
	s.prevDiff, s.primed = diff, true
	if !primed {
		return domain.SignalHold, nil
	}

	switch {
	case pos.Flat() && !prev.IsPositive() && diff.IsPositive():
		return domain.SignalBuy, nil
	case !pos.Flat() && !prev.IsNegative() && diff.IsNegative():
		return domain.SignalSell, nil
	}
	return domain.SignalHold, nil
}
