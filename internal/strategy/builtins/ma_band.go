package builtins

import (
	"context"

	"stocklens/internal/domain"
	"stocklens/internal/strategy"
)

var _ strategy.Strategy = (*MABand)(nil)

// MABand buys when the close dips below the short moving average while
// flat, and sells when the close rises above the long moving average while
// holding. Each average is only consulted once its window is full.
type MABand struct {
	shortPeriod int
	longPeriod  int
}

// NewMABand creates an MABand with the given short and long windows.
func NewMABand(short, long int) *MABand {
	return &MABand{shortPeriod: short, longPeriod: long}
}

// Name returns "ma-band".
func (s *MABand) Name() string { return MABandName }

// Init is a no-op.
func (s *MABand) Init(context.Context) error { return nil }

// OnBar returns buy, sell or hold for the latest bar in history.
func (s *MABand) OnBar(_ context.Context, history []domain.PricePoint, pos strategy.Position) (domain.SignalType, error) {
	price := history[len(history)-1].Close

	if pos.Flat() {
		if short, ok := strategy.SMA(history, s.shortPeriod); ok && price.LessThan(short) {
			return domain.SignalBuy, nil
		}
		return domain.SignalHold, nil
	}
	if long, ok := strategy.SMA(history, s.longPeriod); ok && price.GreaterThan(long) {
		return domain.SignalSell, nil
	}
	return domain.SignalHold, nil
}
