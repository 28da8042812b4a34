package builtins

import (
	"context"

	"stocklens/internal/domain"
	"stocklens/internal/strategy"
)

var _ strategy.Strategy = (*BuyAndHold)(nil)

// BuyAndHold buys on the first bar and never sells; the engine liquidates
// at the end of the series.
type BuyAndHold struct{}

// NewBuyAndHold creates a BuyAndHold strategy.
func NewBuyAndHold() *BuyAndHold { return &BuyAndHold{} }

// Name returns "buy-and-hold".
func (*BuyAndHold) Name() string { return BuyAndHoldName }

// Init is a no-op.
func (*BuyAndHold) Init(context.Context) error { return nil }

// OnBar buys while flat and holds otherwise.
func (*BuyAndHold) OnBar(_ context.Context, _ []domain.PricePoint, pos strategy.Position) (domain.SignalType, error) {
	if pos.Flat() {
		return domain.SignalBuy, nil
	}
	return domain.SignalHold, nil
}
