// Package app wires the stocklens pipeline from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"stocklens/internal/cache"
	"stocklens/internal/config"
	"stocklens/internal/gather"
	"stocklens/internal/gather/alpaca"
	"stocklens/internal/gather/alphavantage"
	"stocklens/internal/predict"
	"stocklens/internal/report"
	"stocklens/internal/store"
	"stocklens/internal/strategy"
	"stocklens/internal/strategy/builtins"
	"stocklens/internal/util"
	"stocklens/pkg/stocklens"
)

// App holds every wired component.
type App struct {
	Config      *config.Config
	DB          *store.SQLStore
	Prices      store.PriceStore
	Cache       cache.Cache
	Memo        *cache.Memo
	Source      gather.Source
	Ingestor    *gather.Ingestor
	Backtester  *strategy.Backtester
	Predictions *predict.Service
	Reports     *report.Assembler
}

// Build opens storage and cache and wires the services. The caller must
// Close the App.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := store.OpenSQL(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Storage.Driver, err)
	}
	a := &App{Config: cfg, DB: db, Prices: db}
	if cfg.Storage.Bars == "parquet" {
		a.Prices = store.NewParquetStore(cfg.Storage.ParquetDir)
	}

	if a.Cache, err = cache.Open(ctx, cfg.Cache); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s cache: %w", cfg.Cache.Backend, err)
	}
	a.Memo = cache.NewMemo(a.Cache, cfg.Cache.TTL)

	a.Source = NewSource(cfg)
	a.Ingestor = gather.NewIngestor(a.Source, a.Prices,
		gather.WithRetentionDays(cfg.Ingest.RetentionDays),
		gather.WithStalenessHorizon(cfg.Ingest.StalenessHorizon),
	)

	registry := builtins.NewRegistry(cfg.Backtest.ShortWindow, cfg.Backtest.LongWindow)
	engine := strategy.NewEngine(registry, cfg.Backtest.Strategy)
	a.Backtester = strategy.NewBacktester(a.Prices, engine, a.Memo)

	model := predict.NewLinearTrend(cfg.Predict.LookbackDays)
	a.Predictions = predict.NewService(a.Prices, db, model, cfg.Predict.HorizonDays, a.Memo)

	a.Reports = a.newAssembler()

	slog.Info("pipeline ready",
		"db", cfg.Storage.Driver,
		"bars", cfg.Storage.Bars,
		"cache", cfg.Cache.Backend,
		"provider", a.Source.Name(),
		"strategy", engine.DefaultStrategy(),
		"report_mode", cfg.Report.Mode,
	)
	return a, nil
}

func (a *App) newAssembler() *report.Assembler {
	if a.Config.Report.Mode == "remote" {
		client := stocklens.NewClient(a.Config.Report.RemoteURL,
			stocklens.WithTimeout(a.Config.Provider.Timeout),
			stocklens.WithRetry(RetryPolicy(a.Config.Provider.Retry)),
		)
		remote := &report.Remote{Client: client, Strategy: a.Config.Backtest.Strategy}
		return report.NewAssembler(remote, remote, remote, a.DB, a.Memo)
	}
	return report.NewAssembler(
		&report.LocalHistory{Store: a.Prices, Ingestor: a.Ingestor},
		&report.LocalPredictions{Service: a.Predictions},
		&report.LocalBacktest{Backtester: a.Backtester},
		a.DB, a.Memo,
	)
}

// DefaultInvestment returns the configured default initial investment.
func (a *App) DefaultInvestment() decimal.Decimal {
	return decimal.NewFromFloat(a.Config.Backtest.DefaultInvestment)
}

// Close releases the cache and the database.
func (a *App) Close() error {
	return errors.Join(a.Cache.Close(), a.DB.Close())
}

// NewSource builds the configured market-data provider.
func NewSource(cfg *config.Config) gather.Source {
	retry := RetryPolicy(cfg.Provider.Retry)
	if cfg.Provider.Name == "alpaca" {
		return alpaca.New(alpaca.Options{
			APIKey:        cfg.Alpaca.APIKey,
			APISecret:     cfg.Alpaca.APISecret,
			DataURL:       cfg.Alpaca.DataURL,
			Feed:          cfg.Alpaca.Feed,
			RetentionDays: cfg.Ingest.RetentionDays,
			Retry:         retry,
		})
	}
	return alphavantage.New(alphavantage.Options{
		BaseURL:         cfg.Provider.BaseURL,
		APIKey:          cfg.Provider.APIKey,
		Timeout:         cfg.Provider.Timeout,
		RateLimitPerMin: cfg.Provider.RateLimitPerMin,
		Retry:           retry,
	})
}

// RetryPolicy converts the configured retry bounds.
func RetryPolicy(r config.Retry) util.RetryPolicy {
	return util.RetryPolicy{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		MaxElapsed:      r.MaxElapsed,
	}
}
