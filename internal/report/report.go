// Package report assembles the per-symbol analytics report: price history,
// forecast and backtest composed into one artifact that is persisted and
// cached.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"stocklens/internal/cache"
	"stocklens/internal/domain"
	"stocklens/internal/observability"
	"stocklens/internal/store"
	"stocklens/internal/util"
)

// HistorySource yields the stored daily bars for a symbol, ingesting them
// first when none are present.
type HistorySource interface {
	History(ctx context.Context, symbol string) ([]domain.PriceBar, error)
}

// PredictionSource yields the forecast for a symbol, deriving it when none
// is persisted.
type PredictionSource interface {
	Predictions(ctx context.Context, symbol string) ([]domain.Prediction, error)
}

// BacktestSource runs the configured strategy for a symbol and investment.
type BacktestSource interface {
	Backtest(ctx context.Context, symbol string, initialInvestment decimal.Decimal) (domain.BacktestResult, error)
}

// Request identifies one report. Format defaults to json.
type Request struct {
	Symbol            string
	InitialInvestment decimal.Decimal
	Format            domain.Format
}

// Result is an assembled report. Data is set for json, PDF for pdf.
type Result struct {
	Symbol   string
	Format   domain.Format
	Data     *domain.ReportData
	PDF      []byte
	Filename string
	Cached   bool
}

// Assembler runs the report pipeline.
type Assembler struct {
	history     HistorySource
	predictions PredictionSource
	backtests   BacktestSource
	reports     store.ReportStore
	memo        *cache.Memo
	renderer    Renderer
	now         func() time.Time
	log         *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithRenderer replaces the default PDF renderer.
func WithRenderer(r Renderer) Option {
	return func(a *Assembler) { a.renderer = r }
}

// WithClock sets the source of GeneratedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// NewAssembler wires an Assembler. memo may be nil to disable caching.
func NewAssembler(h HistorySource, p PredictionSource, b BacktestSource, reports store.ReportStore, memo *cache.Memo, opts ...Option) *Assembler {
	a := &Assembler{
		history:     h,
		predictions: p,
		backtests:   b,
		reports:     reports,
		memo:        memo,
		renderer:    NewPDFRenderer(),
		now:         time.Now,
		log:         slog.Default().With("component", "report"),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Filename returns the download name of a symbol's PDF report.
func Filename(symbol string) string {
	return symbol + "_report.pdf"
}

// Assemble returns the report for req, from cache when possible. A failure
// to obtain history, predictions or the backtest aborts the whole request.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Result, error) {
	sym, err := util.NormalizeSymbol(req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if !req.InitialInvestment.IsPositive() {
		return nil, fmt.Errorf("%w: initial investment %s must be positive", domain.ErrInvalidInput, req.InitialInvestment)
	}
	format := req.Format
	if format == "" {
		format = domain.FormatJSON
	}
	if !format.Valid() {
		return nil, fmt.Errorf("%w: unsupported report format %q", domain.ErrInvalidInput, format)
	}

	res, err := a.assemble(ctx, sym, req.InitialInvestment, format)
	outcome := "built"
	switch {
	case err != nil:
		outcome = "error"
		a.log.Error("report failed", "symbol", sym, "format", format, "error", err)
	case res.Cached:
		outcome = "cached"
	}
	observability.ReportsAssembled.WithLabelValues(string(format), outcome).Inc()
	return res, err
}

func (a *Assembler) assemble(ctx context.Context, sym string, inv decimal.Decimal, format domain.Format) (*Result, error) {
	res := &Result{Symbol: sym, Format: format, Filename: Filename(sym)}

	if format == domain.FormatPDF {
		build := func(ctx context.Context) ([]byte, error) {
			_, pdf, err := a.build(ctx, sym, inv, format)
			return pdf, err
		}
		if a.memo == nil {
			pdf, err := build(ctx)
			if err != nil {
				return nil, err
			}
			res.PDF = pdf
			return res, nil
		}
		key := cache.NewKey(cache.NamespaceReport, sym, inv.StringFixed(domain.PriceScale), string(format))
		pdf, hit, err := a.memo.GetOrCompute(ctx, key, build)
		if err != nil {
			return nil, err
		}
		res.PDF, res.Cached = pdf, hit
		return res, nil
	}

	build := func(ctx context.Context) (domain.ReportData, error) {
		data, _, err := a.build(ctx, sym, inv, format)
		return data, err
	}
	if a.memo == nil {
		data, err := build(ctx)
		if err != nil {
			return nil, err
		}
		res.Data = &data
		return res, nil
	}
	key := cache.NewKey(cache.NamespaceReport, sym, inv.StringFixed(domain.PriceScale), string(format))
	data, hit, err := cache.GetOrComputeJSON(ctx, a.memo, key, build)
	if err != nil {
		return nil, err
	}
	res.Data, res.Cached = &data, hit
	return res, nil
}

// build gathers the three parts, composes and persists the report.
func (a *Assembler) build(ctx context.Context, sym string, inv decimal.Decimal, format domain.Format) (domain.ReportData, []byte, error) {
	bars, err := a.history.History(ctx, sym)
	if err != nil {
		return domain.ReportData{}, nil, fmt.Errorf("history for %s: %w", sym, err)
	}
	if len(bars) == 0 {
		return domain.ReportData{}, nil, fmt.Errorf("no price history for %s: %w", sym, domain.ErrNotFound)
	}

	preds, err := a.predictions.Predictions(ctx, sym)
	if err != nil {
		return domain.ReportData{}, nil, fmt.Errorf("predictions for %s: %w", sym, err)
	}
	if len(preds) == 0 {
		return domain.ReportData{}, nil, fmt.Errorf("no predictions for %s: %w", sym, domain.ErrNotFound)
	}

	bt, err := a.backtests.Backtest(ctx, sym, inv)
	if err != nil {
		return domain.ReportData{}, nil, fmt.Errorf("backtest for %s: %w", sym, err)
	}

	data := domain.ReportData{
		Symbol:            sym,
		GeneratedAt:       a.now().UTC(),
		InitialInvestment: inv,
		Historical:        SummarizeHistory(bars),
		Predictions:       SummarizePredictions(preds),
		Backtest:          bt,
	}

	var pdf []byte
	if format == domain.FormatPDF {
		if pdf, err = a.renderer.Render(data); err != nil {
			return domain.ReportData{}, nil, fmt.Errorf("render %s: %w", sym, err)
		}
	}

	if err := a.persist(ctx, data, pdf); err != nil {
		return domain.ReportData{}, nil, err
	}
	a.log.Info("report assembled", "symbol", sym, "format", format,
		"bars", len(bars), "predictions", len(preds), "trades", bt.NumberOfTrades)
	return data, pdf, nil
}

// persist upserts the durable report. A json run keeps the last rendered
// PDF for the same (symbol, investment).
func (a *Assembler) persist(ctx context.Context, data domain.ReportData, pdf []byte) error {
	if a.reports == nil {
		return nil
	}
	r := &domain.Report{
		Symbol:            data.Symbol,
		InitialInvestment: data.InitialInvestment,
		Data:              data,
		PDF:               pdf,
		UpdatedAt:         data.GeneratedAt,
	}
	if pdf == nil {
		prev, err := a.reports.GetReport(ctx, data.Symbol, data.InitialInvestment)
		switch {
		case err == nil:
			r.PDF = prev.PDF
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("load report %s: %w", data.Symbol, err)
		}
	}
	if err := a.reports.SaveReport(ctx, r); err != nil {
		return fmt.Errorf("persist report %s: %w", data.Symbol, err)
	}
	return nil
}
