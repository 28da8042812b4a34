package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"stocklens/internal/domain"
	"stocklens/internal/gather"
	"stocklens/internal/predict"
	"stocklens/internal/store"
	"stocklens/internal/strategy"
	"stocklens/pkg/stocklens"
)

// ---------------------------------------------------------------------------
// In-process collaborators
// ---------------------------------------------------------------------------

// LocalHistory reads bars from the PriceStore and ingests on a miss.
type LocalHistory struct {
	Store    store.PriceStore
	Ingestor *gather.Ingestor
}

// History implements HistorySource.
func (h *LocalHistory) History(ctx context.Context, symbol string) ([]domain.PriceBar, error) {
	bars, err := h.Store.Query(ctx, symbol, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(bars) > 0 || h.Ingestor == nil {
		return bars, nil
	}
	if _, err := h.Ingestor.Ingest(ctx, symbol); err != nil {
		return nil, err
	}
	return h.Store.Query(ctx, symbol, nil, nil)
}

// LocalPredictions lists persisted predictions and runs the predictor when
// there are none.
type LocalPredictions struct {
	Service *predict.Service
}

// Predictions implements PredictionSource.
func (p *LocalPredictions) Predictions(ctx context.Context, symbol string) ([]domain.Prediction, error) {
	preds, err := p.Service.List(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(preds) > 0 {
		return preds, nil
	}
	return p.Service.Run(ctx, symbol)
}

// LocalBacktest runs a strategy through the in-process Backtester. An empty
// Strategy uses the engine default.
type LocalBacktest struct {
	Backtester *strategy.Backtester
	Strategy   string
}

// Backtest implements BacktestSource.
func (b *LocalBacktest) Backtest(ctx context.Context, symbol string, inv decimal.Decimal) (domain.BacktestResult, error) {
	return b.Backtester.Run(ctx, symbol, inv, b.Strategy)
}

var (
	_ HistorySource    = (*LocalHistory)(nil)
	_ PredictionSource = (*LocalPredictions)(nil)
	_ BacktestSource   = (*LocalBacktest)(nil)
)

// ---------------------------------------------------------------------------
// Remote collaborators (stocklens HTTP API)
// ---------------------------------------------------------------------------

// Remote implements every collaborator against another stocklens server.
type Remote struct {
	Client   *stocklens.Client
	Strategy string
}

var (
	_ HistorySource    = (*Remote)(nil)
	_ PredictionSource = (*Remote)(nil)
	_ BacktestSource   = (*Remote)(nil)
)

// History implements HistorySource, asking the server to fetch the symbol
// when it has no bars.
func (r *Remote) History(ctx context.Context, symbol string) ([]domain.PriceBar, error) {
	resp, err := r.Client.Prices(ctx, symbol)
	if err == nil {
		return resp.Prices, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, remoteErr("prices", err)
	}
	if _, err := r.Client.Fetch(ctx, symbol); err != nil {
		return nil, remoteErr("fetch", err)
	}
	if resp, err = r.Client.Prices(ctx, symbol); err != nil {
		return nil, remoteErr("prices", err)
	}
	return resp.Prices, nil
}

// Predictions implements PredictionSource.
func (r *Remote) Predictions(ctx context.Context, symbol string) ([]domain.Prediction, error) {
	resp, err := r.Client.Predictions(ctx, symbol)
	if err != nil {
		return nil, remoteErr("predictions", err)
	}
	if len(resp.Predictions) > 0 {
		return resp.Predictions, nil
	}
	if resp, err = r.Client.Predict(ctx, symbol); err != nil {
		return nil, remoteErr("predict", err)
	}
	return resp.Predictions, nil
}

// Backtest implements BacktestSource.
func (r *Remote) Backtest(ctx context.Context, symbol string, inv decimal.Decimal) (domain.BacktestResult, error) {
	resp, err := r.Client.Backtest(ctx, stocklens.BacktestRequest{
		Symbol:            symbol,
		InitialInvestment: &inv,
		Strategy:          r.Strategy,
	})
	if err != nil {
		return domain.BacktestResult{}, remoteErr("backtest", err)
	}
	return resp.BacktestResult, nil
}

// remoteErr keeps not-found and invalid-input kinds and reports anything
// else from the remote as an upstream failure.
func remoteErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrUpstream) {
		return fmt.Errorf("remote %s: %w", op, err)
	}
	return fmt.Errorf("remote %s: %w: %v", op, domain.ErrUpstream, err)
}
