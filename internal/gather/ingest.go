package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"stocklens/internal/domain"
	"stocklens/internal/observability"
	"stocklens/internal/store"
	"stocklens/internal/util"
)

// DefaultRetentionDays is the trailing window of bars kept on ingestion.
const DefaultRetentionDays = 2 * 365

// DefaultTimeout bounds one shared ingestion run.
const DefaultTimeout = 2 * time.Minute

// Freshness is the state of a symbol's stored history.
type Freshness int

const (
	// Missing means no bars are stored.
	Missing Freshness = iota
	// Stale means bars are stored but older than the staleness horizon.
	Stale
	// Fresh means stored bars are recent enough to skip fetching.
	Fresh
)

func (f Freshness) String() string {
	switch f {
	case Missing:
		return "missing"
	case Stale:
		return "stale"
	case Fresh:
		return "fresh"
	}
	return "unknown"
}

// Status describes what an Ingest call did.
type Status string

const (
	// StatusInserted means at least one new bar was stored.
	StatusInserted Status = "inserted"
	// StatusUnchanged means the provider was queried but nothing new was stored.
	StatusUnchanged Status = "unchanged"
	// StatusSkipped means stored data was fresh and the provider was not called.
	StatusSkipped Status = "skipped"
)

// IngestResult summarises one Ingest call.
type IngestResult struct {
	Symbol    string    `json:"symbol"`
	Source    string    `json:"source"`
	Status    Status    `json:"status"`
	Freshness string    `json:"freshness"`
	Fetched   int       `json:"fetched"`
	Retained  int       `json:"retained"`
	Rejected  int       `json:"rejected"`
	Inserted  int       `json:"inserted"`
	Window    DateRange `json:"-"`
}

// Ingestor fetches a symbol's daily series from a Source and stores the bars
// inside the retention window. Concurrent calls for the same symbol share a
// single fetch.
type Ingestor struct {
	source        Source
	store         store.PriceStore
	retentionDays int
	horizon       time.Duration
	timeout       time.Duration
	now           func() time.Time
	group         singleflight.Group
	log           *slog.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithRetentionDays sets the trailing window of days kept on ingestion.
func WithRetentionDays(days int) Option {
	return func(in *Ingestor) {
		if days > 0 {
			in.retentionDays = days
		}
	}
}

// WithStalenessHorizon enables incremental refresh: stored history whose
// latest bar is older than the last trading day before now-horizon is
// re-fetched. Zero (the default) treats any stored history as fresh.
func WithStalenessHorizon(d time.Duration) Option {
	return func(in *Ingestor) { in.horizon = d }
}

// WithTimeout bounds a shared ingestion run, which is detached from the
// cancellation of the callers waiting on it.
func WithTimeout(d time.Duration) Option {
	return func(in *Ingestor) {
		if d > 0 {
			in.timeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(in *Ingestor) { in.now = now }
}

// NewIngestor creates an Ingestor that reads from src and writes to ps.
func NewIngestor(src Source, ps store.PriceStore, opts ...Option) *Ingestor {
	in := &Ingestor{
		source:        src,
		store:         ps,
		retentionDays: DefaultRetentionDays,
		timeout:       DefaultTimeout,
		now:           time.Now,
		log:           slog.Default().With("component", "ingestor", "source", src.Name()),
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Freshness classifies the stored history for symbol. Without a staleness
// horizon any stored bar makes the symbol fresh, so only Exists is consulted.
func (in *Ingestor) Freshness(ctx context.Context, symbol string) (Freshness, error) {
	if in.horizon <= 0 {
		ok, err := in.store.Exists(ctx, symbol)
		if err != nil {
			return Missing, fmt.Errorf("check bars for %s: %w", symbol, err)
		}
		if !ok {
			return Missing, nil
		}
		return Fresh, nil
	}

	latest, ok, err := in.store.Latest(ctx, symbol)
	if err != nil {
		return Missing, fmt.Errorf("latest bar for %s: %w", symbol, err)
	}
	if !ok {
		return Missing, nil
	}
	expected := util.LastTradingDay(in.now().Add(-in.horizon))
	if latest.Before(expected) {
		return Stale, nil
	}
	return Fresh, nil
}

// Ingest fetches and stores bars for symbol unless its stored history is
// fresh. Bars that fail validation are logged and skipped; a failed fetch
// aborts the call with an error wrapping domain.ErrUpstream.
func (in *Ingestor) Ingest(ctx context.Context, symbol string) (IngestResult, error) {
	sym, err := util.NormalizeSymbol(symbol)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	// The run outlives a cancelled caller so that callers joined on the same
	// symbol still get its result.
	ch := in.group.DoChan(sym, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), in.timeout)
		defer cancel()
		return in.ingest(runCtx, sym)
	})

	var res IngestResult
	select {
	case r := <-ch:
		if r.Shared {
			in.log.Debug("joined in-flight ingest", "symbol", sym)
		}
		res, _ = r.Val.(IngestResult)
		err = r.Err
	case <-ctx.Done():
		res = IngestResult{Symbol: sym, Source: in.source.Name()}
		err = fmt.Errorf("ingest %s: %w", sym, ctx.Err())
	}

	outcome := string(res.Status)
	if err != nil {
		outcome = "error"
	}
	observability.IngestRuns.WithLabelValues(in.source.Name(), outcome).Inc()
	return res, err
}

func (in *Ingestor) ingest(ctx context.Context, sym string) (IngestResult, error) {
	now := in.now()
	window := DateRange{
		Start: domain.NormalizeDate(now).AddDate(0, 0, -in.retentionDays),
		End:   domain.NormalizeDate(now),
	}
	res := IngestResult{Symbol: sym, Source: in.source.Name(), Window: window}

	fresh, err := in.Freshness(ctx, sym)
	if err != nil {
		return res, err
	}
	res.Freshness = fresh.String()
	if fresh == Fresh {
		res.Status = StatusSkipped
		in.log.Debug("history fresh, skipping fetch", "symbol", sym)
		return res, nil
	}

	raw, err := in.source.FetchDaily(ctx, sym)
	if err != nil {
		if !errors.Is(err, domain.ErrUpstream) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", domain.ErrUpstream, err)
		}
		in.log.Error("fetch failed", "symbol", sym, "error", err)
		return res, fmt.Errorf("fetch %s from %s: %w", sym, in.source.Name(), err)
	}
	res.Fetched = len(raw)

	bars := make([]domain.PriceBar, 0, len(raw))
	for _, rb := range raw {
		bar, err := ParseBar(sym, rb)
		if err != nil {
			res.Rejected++
			in.log.Warn("skipping invalid bar", "symbol", sym, "date", rb.Date, "reason", err)
			continue
		}
		if !window.Contains(bar.Timestamp) {
			continue
		}
		bars = append(bars, bar)
	}
	res.Retained = len(bars)

	inserted, err := in.store.UpsertBars(ctx, bars)
	if err != nil {
		return res, fmt.Errorf("store bars for %s: %w", sym, err)
	}
	res.Inserted = inserted
	res.Status = StatusUnchanged
	if inserted > 0 {
		res.Status = StatusInserted
	}

	observability.IngestBars.WithLabelValues("inserted").Add(float64(inserted))
	observability.IngestBars.WithLabelValues("duplicate").Add(float64(res.Retained - inserted))
	observability.IngestBars.WithLabelValues("rejected").Add(float64(res.Rejected))

	in.log.Info("ingested",
		"symbol", sym,
		"fetched", res.Fetched,
		"retained", res.Retained,
		"inserted", res.Inserted,
		"rejected", res.Rejected,
	)
	return res, nil
}

// ParseBar validates a provider bar and converts it to a PriceBar with
// prices rounded to domain.PriceScale digits.
func ParseBar(symbol string, rb RawBar) (domain.PriceBar, error) {
	ts, err := time.Parse(domain.DateLayout, rb.Date)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("date %q: %w", rb.Date, err)
	}

	var prices [4]decimal.Decimal
	for i, s := range []string{rb.Open, rb.High, rb.Low, rb.Close} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return domain.PriceBar{}, fmt.Errorf("price %q: %w", s, err)
		}
		if !d.IsPositive() {
			return domain.PriceBar{}, fmt.Errorf("price %q is not positive", s)
		}
		prices[i] = d.Round(domain.PriceScale)
	}
	open, high, low, closePrice := prices[0], prices[1], prices[2], prices[3]
	if high.LessThan(low) {
		return domain.PriceBar{}, fmt.Errorf("high %s below low %s", high, low)
	}

	vol, err := strconv.ParseInt(rb.Volume, 10, 64)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("volume %q: %w", rb.Volume, err)
	}
	if vol < 0 {
		return domain.PriceBar{}, fmt.Errorf("volume %d is negative", vol)
	}

	return domain.PriceBar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    vol,
	}, nil
}
