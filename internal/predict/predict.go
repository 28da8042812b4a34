// Package predict produces price forecasts from stored history and persists
// them. The forecasting model is pluggable; a least-squares linear trend is
// built in.
package predict

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"stocklens/internal/cache"
	"stocklens/internal/domain"
	"stocklens/internal/store"
	"stocklens/internal/util"
)

// Predictor forecasts closes for the trading days after history.
type Predictor interface {
	// Name returns the model identifier.
	Name() string
	// Predict returns horizon predictions for symbol, one per trading day
	// following the last point of history.
	Predict(ctx context.Context, symbol string, history []domain.PricePoint, horizon int) ([]domain.Prediction, error)
}

// Service runs a Predictor over stored bars, upserts the output and caches
// it under the prediction namespace.
type Service struct {
	prices    store.PriceStore
	preds     store.PredictionStore
	predictor Predictor
	horizon   int
	memo      *cache.Memo
	log       *slog.Logger
}

// NewService creates a Service. memo may be nil to disable caching.
func NewService(prices store.PriceStore, preds store.PredictionStore, p Predictor, horizon int, memo *cache.Memo) *Service {
	if horizon <= 0 {
		horizon = 30
	}
	return &Service{
		prices:    prices,
		preds:     preds,
		predictor: p,
		horizon:   horizon,
		memo:      memo,
		log:       slog.Default().With("component", "predict", "model", p.Name()),
	}
}

// Run forecasts symbol from its stored closes and persists the result. A
// symbol without bars yields an error wrapping domain.ErrNotFound.
func (s *Service) Run(ctx context.Context, symbol string) ([]domain.Prediction, error) {
	sym, err := util.NormalizeSymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if s.memo == nil {
		return s.run(ctx, sym)
	}
	key := cache.NewKey(cache.NamespacePrediction, sym, s.predictor.Name(), strconv.Itoa(s.horizon))
	preds, _, err := cache.GetOrComputeJSON(ctx, s.memo, key, func(ctx context.Context) ([]domain.Prediction, error) {
		return s.run(ctx, sym)
	})
	return preds, err
}

func (s *Service) run(ctx context.Context, sym string) ([]domain.Prediction, error) {
	bars, err := s.prices.Query(ctx, sym, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", sym, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no price history for %s: %w", sym, domain.ErrNotFound)
	}

	preds, err := s.predictor.Predict(ctx, sym, domain.Closes(bars), s.horizon)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", sym, err)
	}
	if err := s.preds.UpsertPredictions(ctx, preds); err != nil {
		return nil, fmt.Errorf("store predictions for %s: %w", sym, err)
	}
	s.log.Info("predicted", "symbol", sym, "points", len(preds))
	return preds, nil
}

// List returns the persisted predictions for symbol.
func (s *Service) List(ctx context.Context, symbol string) ([]domain.Prediction, error) {
	sym, err := util.NormalizeSymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return s.preds.Predictions(ctx, sym)
}
