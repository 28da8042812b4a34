// Package alpaca implements gather.Source on the Alpaca market-data API.
package alpaca

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stocklens/internal/domain"
	"stocklens/internal/gather"
	"stocklens/internal/observability"
	"stocklens/internal/util"
)

var _ gather.Source = (*Source)(nil)

// barsClient is the subset of *marketdata.Client used here.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Source fetches daily bars from Alpaca. Alpaca has no "full history" call,
// so the request covers the configured retention window.
type Source struct {
	client        barsClient
	feed          string
	retentionDays int
	retry         util.RetryPolicy
	now           func() time.Time
	log           *slog.Logger
}

// Options configures a Source.
type Options struct {
	APIKey        string
	APISecret     string
	DataURL       string
	Feed          string
	RetentionDays int
	Retry         util.RetryPolicy
}

// New creates a Source with a marketdata client built from opts.
func New(opts Options) *Source {
	copts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		copts.BaseURL = opts.DataURL
	}
	return newSource(marketdata.NewClient(copts), opts)
}

func newSource(c barsClient, opts Options) *Source {
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = gather.DefaultRetentionDays
	}
	return &Source{
		client:        c,
		feed:          opts.Feed,
		retentionDays: opts.RetentionDays,
		retry:         opts.Retry,
		now:           time.Now,
		log:           slog.Default().With("source", "alpaca"),
	}
}

// Name returns the source identifier.
func (s *Source) Name() string { return "alpaca" }

// FetchDaily returns daily bars for symbol over the retention window,
// oldest first.
func (s *Source) FetchDaily(ctx context.Context, symbol string) ([]gather.RawBar, error) {
	end := s.now()
	start := domain.NormalizeDate(end).AddDate(0, 0, -s.retentionDays)

	var bars []marketdata.Bar
	err := util.Retry(ctx, s.retry, func() error {
		if err := ctx.Err(); err != nil {
			return util.Permanent(err)
		}
		t0 := time.Now()
		b, err := s.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(s.feed),
		})
		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.ProviderRequestSeconds.WithLabelValues(s.Name(), status).Observe(time.Since(t0).Seconds())
		if err != nil {
			return fmt.Errorf("GetBars: %w", err)
		}
		bars = b
		return nil
	})
	if err != nil {
		s.log.Error("request failed", "symbol", symbol, "error", err)
		return nil, fmt.Errorf("%w: alpaca %s: %v", domain.ErrUpstream, symbol, err)
	}
	return convertBars(bars), nil
}

// convertBars formats SDK bars as raw provider bars. Daily bar timestamps
// are midnight New York time, so the calendar date is taken in that zone.
func convertBars(bars []marketdata.Bar) []gather.RawBar {
	out := make([]gather.RawBar, 0, len(bars))
	for _, b := range bars {
		out = append(out, gather.RawBar{
			Date:   b.Timestamp.In(newYork).Format(domain.DateLayout),
			Open:   strconv.FormatFloat(b.Open, 'f', -1, 64),
			High:   strconv.FormatFloat(b.High, 'f', -1, 64),
			Low:    strconv.FormatFloat(b.Low, 'f', -1, 64),
			Close:  strconv.FormatFloat(b.Close, 'f', -1, 64),
			Volume: strconv.FormatUint(b.Volume, 10),
		})
	}
	return out
}

var newYork = loadNewYork()

func loadNewYork() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}
