package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"stocklens/internal/domain"
	"stocklens/internal/observability"
)

// Engine replays a price series against a strategy. It holds no state
// between calls and is safe for concurrent use.
type Engine struct {
	registry        *Registry
	defaultStrategy string
	log             *slog.Logger
}

// NewEngine creates an Engine that runs defaultStrategy unless a call names
// another one.
func NewEngine(registry *Registry, defaultStrategy string) *Engine {
	return &Engine{
		registry:        registry,
		defaultStrategy: defaultStrategy,
		log:             slog.Default().With("component", "backtest"),
	}
}

// DefaultStrategy returns the strategy used by Simulate.
func (e *Engine) DefaultStrategy() string { return e.defaultStrategy }

// Simulate runs the default strategy over series.
func (e *Engine) Simulate(ctx context.Context, series []domain.PricePoint, initialInvestment decimal.Decimal) (domain.BacktestResult, error) {
	return e.SimulateWith(ctx, e.defaultStrategy, series, initialInvestment)
}

// SimulateWith runs the named strategy over series, starting with
// initialInvestment in cash.
//
// Buys spend all available cash on whole shares at the bar's close; sells
// liquidate the whole position at the close. Any position still open after
// the last bar is liquidated at the last close; that liquidation is not
// counted as a trade. Portfolio value is marked to market at every close to
// track drawdown.
func (e *Engine) SimulateWith(ctx context.Context, name string, series []domain.PricePoint, initialInvestment decimal.Decimal) (domain.BacktestResult, error) {
	if !initialInvestment.IsPositive() {
		return domain.BacktestResult{}, fmt.Errorf("%w: initial investment %s must be positive", domain.ErrInvalidInput, initialInvestment)
	}
	strat, err := e.registry.New(name)
	if err != nil {
		return domain.BacktestResult{}, err
	}
	if err := validateSeries(series); err != nil {
		return domain.BacktestResult{}, err
	}

	neutral := domain.BacktestResult{FinalCash: initialInvestment.Round(domain.PriceScale)}
	if len(series) < 2 {
		return neutral, nil
	}

	start := time.Now()
	defer func() {
		observability.BacktestSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	if err := strat.Init(ctx); err != nil {
		return domain.BacktestResult{}, fmt.Errorf("init strategy %s: %w", name, err)
	}

	var (
		pos         = Position{Cash: initialInvestment}
		peak        = initialInvestment
		maxDrawdown = decimal.Zero
		trades      int
	)
	for i := range series {
		if err := ctx.Err(); err != nil {
			return domain.BacktestResult{}, err
		}
		price := series[i].Close

		sig, err := strat.OnBar(ctx, series[:i+1], pos)
		if err != nil {
			return domain.BacktestResult{}, fmt.Errorf("strategy %s at %s: %w", name, series[i].Timestamp.Format(domain.DateLayout), err)
		}

		switch sig {
		case domain.SignalBuy:
			if pos.Flat() {
				shares := pos.Cash.Div(price).Floor().IntPart()
				if shares > 0 {
					pos.Cash = pos.Cash.Sub(price.Mul(decimal.NewFromInt(shares)))
					pos.Shares = shares
					trades++
				}
			}
		case domain.SignalSell:
			if !pos.Flat() {
				pos.Cash = pos.Cash.Add(price.Mul(decimal.NewFromInt(pos.Shares)))
				pos.Shares = 0
				trades++
			}
		}

		value := pos.Cash.Add(price.Mul(decimal.NewFromInt(pos.Shares)))
		if value.GreaterThan(peak) {
			peak = value
		}
		if dd := peak.Sub(value).Div(peak); dd.GreaterThan(maxDrawdown) {
			maxDrawdown = dd
		}
	}

	last := series[len(series)-1].Close
	final := pos.Cash.Add(last.Mul(decimal.NewFromInt(pos.Shares)))

	totalReturn, _ := final.Sub(initialInvestment).Div(initialInvestment).Float64()
	dd, _ := maxDrawdown.Float64()
	res := domain.BacktestResult{
		TotalReturn:    totalReturn,
		MaxDrawdown:    dd,
		NumberOfTrades: trades,
		FinalCash:      final.Round(domain.PriceScale),
	}
	e.log.Debug("simulated", "strategy", name, "bars", len(series), "trades", trades, "total_return", totalReturn)
	return res, nil
}

// validateSeries rejects series that are not strictly ascending in time or
// carry a non-positive close.
func validateSeries(series []domain.PricePoint) error {
	for i, p := range series {
		if !p.Close.IsPositive() {
			return fmt.Errorf("%w: close %s at %s is not positive", domain.ErrInvariant, p.Close, p.Timestamp.Format(domain.DateLayout))
		}
		if i > 0 && !p.Timestamp.After(series[i-1].Timestamp) {
			return fmt.Errorf("%w: series not ascending at index %d (%s after %s)", domain.ErrInvariant, i,
				p.Timestamp.Format(domain.DateLayout), series[i-1].Timestamp.Format(domain.DateLayout))
		}
	}
	return nil
}
