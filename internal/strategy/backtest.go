package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"stocklens/internal/cache"
	"stocklens/internal/domain"
	"stocklens/internal/store"
	"stocklens/internal/util"
)

// Backtester replays a symbol's stored closes through the Engine and caches
// the result under the backtest namespace.
type Backtester struct {
	store  store.PriceStore
	engine *Engine
	memo   *cache.Memo
}

// NewBacktester creates a Backtester reading bars from ps. memo may be nil.
func NewBacktester(ps store.PriceStore, engine *Engine, memo *cache.Memo) *Backtester {
	return &Backtester{
		store:  ps,
		engine: engine,
		memo:   memo,
	}
}

// Engine returns the underlying simulation engine.
func (bt *Backtester) Engine() *Engine { return bt.engine }

// Run simulates strategyName (the engine default when empty) over every
// stored close for symbol. Input is validated before any I/O; a symbol with
// no bars yields an error wrapping domain.ErrNotFound.
func (bt *Backtester) Run(ctx context.Context, symbol string, initialInvestment decimal.Decimal, strategyName string) (domain.BacktestResult, error) {
	sym, err := util.NormalizeSymbol(symbol)
	if err != nil {
		return domain.BacktestResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if !initialInvestment.IsPositive() {
		return domain.BacktestResult{}, fmt.Errorf("%w: initial investment %s must be positive", domain.ErrInvalidInput, initialInvestment)
	}
	if strategyName == "" {
		strategyName = bt.engine.DefaultStrategy()
	}
	if !bt.engine.registry.Has(strategyName) {
		return domain.BacktestResult{}, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidInput, strategyName)
	}

	run := func(ctx context.Context) (domain.BacktestResult, error) {
		bars, err := bt.store.Query(ctx, sym, nil, nil)
		if err != nil {
			return domain.BacktestResult{}, fmt.Errorf("load history for %s: %w", sym, err)
		}
		if len(bars) == 0 {
			return domain.BacktestResult{}, fmt.Errorf("no price history for %s: %w", sym, domain.ErrNotFound)
		}
		return bt.engine.SimulateWith(ctx, strategyName, domain.Closes(bars), initialInvestment)
	}
	if bt.memo == nil {
		return run(ctx)
	}

	key := cache.NewKey(cache.NamespaceBacktest, sym, strategyName, initialInvestment.StringFixed(domain.PriceScale))
	res, _, err := cache.GetOrComputeJSON(ctx, bt.memo, key, run)
	return res, err
}
