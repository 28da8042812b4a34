// Package store defines storage interfaces for persisting and retrieving
// price bars, predictions and assembled reports, with SQL and Parquet
// implementations.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"stocklens/internal/domain"
)

// PriceStore persists and retrieves daily bars. A bar is unique on
// (symbol, timestamp); writing an existing pair is a silent no-op.
type PriceStore interface {
	// Upsert inserts bar unless one already exists for its (symbol, timestamp).
	Upsert(ctx context.Context, bar domain.PriceBar) error

	// UpsertBars is the batch form of Upsert. It returns how many bars were
	// actually inserted.
	UpsertBars(ctx context.Context, bars []domain.PriceBar) (int, error)

	// Query returns bars for symbol within the optional [from, to] range in
	// ascending timestamp order. An unknown symbol yields an empty slice.
	Query(ctx context.Context, symbol string, from, to *time.Time) ([]domain.PriceBar, error)

	// Exists reports whether any bar is stored for symbol.
	Exists(ctx context.Context, symbol string) (bool, error)

	// Latest returns the newest stored bar date for symbol. ok is false when
	// the symbol has no bars.
	Latest(ctx context.Context, symbol string) (ts time.Time, ok bool, err error)

	// ListSymbols returns all distinct symbols with stored bars.
	ListSymbols(ctx context.Context) ([]string, error)
}

// PredictionStore persists forecasts. A later prediction for the same
// (symbol, prediction_date) replaces the earlier one.
type PredictionStore interface {
	// UpsertPredictions inserts or replaces each prediction.
	UpsertPredictions(ctx context.Context, preds []domain.Prediction) error

	// Predictions returns the stored predictions for symbol ordered by date.
	Predictions(ctx context.Context, symbol string) ([]domain.Prediction, error)
}

// ReportStore persists the latest report per (symbol, initial investment).
type ReportStore interface {
	// SaveReport inserts or replaces the report.
	SaveReport(ctx context.Context, r *domain.Report) error

	// GetReport returns the stored report or an error wrapping
	// domain.ErrNotFound.
	GetReport(ctx context.Context, symbol string, initialInvestment decimal.Decimal) (*domain.Report, error)
}
