package gather

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocklens/internal/domain"
	"stocklens/internal/store"
)

// fakeSource serves a fixed series and counts fetches.
type fakeSource struct {
	bars    []RawBar
	err     error
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchDaily(ctx context.Context, _ string) ([]RawBar, error) {
	if f.calls.Add(1) == 1 && f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.bars, f.err
}

var testNow = time.Date(2024, 6, 14, 21, 0, 0, 0, time.UTC) // a Friday

// weekdaySeries returns one raw bar per weekday for the given number of
// calendar days ending at end, newest first like the Alpha Vantage payload.
func weekdaySeries(end time.Time, days int) []RawBar {
	var out []RawBar
	for i := 0; i < days; i++ {
		d := end.AddDate(0, 0, -i)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		p := 150 + i%20
		out = append(out, RawBar{
			Date:   d.Format(domain.DateLayout),
			Open:   fmt.Sprintf("%d.1000", p),
			High:   fmt.Sprintf("%d.5000", p+1),
			Low:    fmt.Sprintf("%d.2500", p-1),
			Close:  fmt.Sprintf("%d.7500", p),
			Volume: "1000000",
		})
	}
	return out
}

func newStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.OpenSQL(context.Background(), "sqlite", filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func clock() time.Time { return testNow }

func TestIngestAAPLTwice(t *testing.T) {
	ctx := context.Background()
	ps := newStore(t)
	src := &fakeSource{bars: weekdaySeries(domain.NormalizeDate(testNow), 3*365)}
	in := NewIngestor(src, ps, WithClock(clock))

	res, err := in.Ingest(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Symbol)
	assert.Equal(t, StatusInserted, res.Status)
	assert.Equal(t, "missing", res.Freshness)
	assert.Less(t, res.Retained, res.Fetched, "bars older than two years are dropped")
	assert.Equal(t, res.Retained, res.Inserted)

	bars, err := ps.Query(ctx, "AAPL", nil, nil)
	require.NoError(t, err)
	require.Len(t, bars, res.Inserted)
	cutoff := domain.NormalizeDate(testNow).AddDate(0, 0, -DefaultRetentionDays)
	assert.False(t, bars[0].Timestamp.Before(cutoff), "oldest bar %v before cutoff %v", bars[0].Timestamp, cutoff)
	seen := make(map[time.Time]bool)
	for _, b := range bars {
		assert.False(t, seen[b.Timestamp], "duplicate bar %v", b.Timestamp)
		seen[b.Timestamp] = true
	}

	again, err := in.Ingest(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, again.Status)
	assert.Equal(t, int32(1), src.calls.Load(), "second ingest must not hit the provider")

	after, err := ps.Query(ctx, "AAPL", nil, nil)
	require.NoError(t, err)
	assert.Len(t, after, len(bars))
}

func TestIngestSkipsInvalidBars(t *testing.T) {
	ctx := context.Background()
	ps := newStore(t)
	src := &fakeSource{bars: []RawBar{
		{Date: "2024-06-13", Open: "10", High: "11", Low: "9", Close: "10.5", Volume: "100"},
		{Date: "2024-06-12", Open: "abc", High: "11", Low: "9", Close: "10.5", Volume: "100"},
		{Date: "2024-06-11", Open: "10", High: "8", Low: "9", Close: "10.5", Volume: "100"},
		{Date: "2024-06-10", Open: "10", High: "11", Low: "9", Close: "10.5", Volume: "-1"},
		{Date: "not-a-date", Open: "10", High: "11", Low: "9", Close: "10.5", Volume: "100"},
		{Date: "2024-06-07", Open: "10.123456", High: "11", Low: "9", Close: "10", Volume: "100"},
	}}
	in := NewIngestor(src, ps, WithClock(clock))

	res, err := in.Ingest(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Rejected)
	assert.Equal(t, 2, res.Inserted)

	bars, err := ps.Query(ctx, "MSFT", nil, nil)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Open.Equal(decimal.RequireFromString("10.1235")), "open = %s", bars[0].Open)
}

func TestIngestUpstreamFailure(t *testing.T) {
	ps := newStore(t)
	src := &fakeSource{err: errors.New("connection refused")}
	in := NewIngestor(src, ps, WithClock(clock))

	_, err := in.Ingest(context.Background(), "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)

	exists, err := ps.Exists(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIngestInvalidSymbol(t *testing.T) {
	src := &fakeSource{}
	in := NewIngestor(src, newStore(t), WithClock(clock))

	_, err := in.Ingest(context.Background(), "NOT A SYMBOL")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, src.calls.Load())
}

func TestIngestStaleRefresh(t *testing.T) {
	ctx := context.Background()
	ps := newStore(t)
	old := []RawBar{{Date: "2024-06-03", Open: "10", High: "11", Low: "9", Close: "10", Volume: "5"}}
	src := &fakeSource{bars: old}
	in := NewIngestor(src, ps, WithClock(clock), WithStalenessHorizon(24*time.Hour))

	_, err := in.Ingest(ctx, "IBM")
	require.NoError(t, err)

	fresh, err := in.Freshness(ctx, "IBM")
	require.NoError(t, err)
	assert.Equal(t, Stale, fresh)

	src.bars = append(old, RawBar{Date: "2024-06-13", Open: "12", High: "13", Low: "11", Close: "12", Volume: "5"})
	res, err := in.Ingest(ctx, "IBM")
	require.NoError(t, err)
	assert.Equal(t, StatusInserted, res.Status)
	assert.Equal(t, 1, res.Inserted, "only the new bar is inserted")

	fresh, err = in.Freshness(ctx, "IBM")
	require.NoError(t, err)
	assert.Equal(t, Fresh, fresh)
}

func TestIngestSingleFlight(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		bars:    weekdaySeries(domain.NormalizeDate(testNow), 30),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	in := NewIngestor(src, newStore(t), WithClock(clock))

	var wg sync.WaitGroup
	results := make([]IngestResult, 5)
	run := func(i int) {
		defer wg.Done()
		res, err := in.Ingest(ctx, "NVDA")
		assert.NoError(t, err)
		results[i] = res
	}

	wg.Add(1)
	go run(0)
	<-src.started
	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go run(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, r := range results {
		assert.Equal(t, results[0].Inserted, r.Inserted)
	}
}

func TestParseBar(t *testing.T) {
	bar, err := ParseBar("AAPL", RawBar{Date: "2024-01-02", Open: "185.0", High: "186.5", Low: "184", Close: "185.5", Volume: "50000000"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), bar.Timestamp)
	assert.True(t, bar.High.Equal(decimal.RequireFromString("186.5")))
	assert.Equal(t, int64(50000000), bar.Volume)

	_, err = ParseBar("AAPL", RawBar{Date: "2024-01-02", Open: "0", High: "1", Low: "0", Close: "1", Volume: "1"})
	assert.Error(t, err)
}

// countingStore records which freshness lookups the Ingestor makes.
type countingStore struct {
	store.PriceStore
	exists atomic.Int32
	latest atomic.Int32
}

func (c *countingStore) Exists(ctx context.Context, symbol string) (bool, error) {
	c.exists.Add(1)
	return c.PriceStore.Exists(ctx, symbol)
}

func (c *countingStore) Latest(ctx context.Context, symbol string) (time.Time, bool, error) {
	c.latest.Add(1)
	return c.PriceStore.Latest(ctx, symbol)
}

func TestFreshnessLookup(t *testing.T) {
	tests := []struct {
		name       string
		horizon    time.Duration
		wantExists int32
		wantLatest int32
	}{
		{"no horizon uses exists", 0, 2, 0},
		{"horizon uses latest", 24 * time.Hour, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cs := &countingStore{PriceStore: newStore(t)}
			src := &fakeSource{bars: weekdaySeries(domain.NormalizeDate(testNow), 10)}
			in := NewIngestor(src, cs, WithClock(clock), WithStalenessHorizon(tt.horizon))

			before, err := in.Freshness(ctx, "AMD")
			require.NoError(t, err)
			assert.Equal(t, Missing, before)

			_, err = in.Ingest(ctx, "AMD")
			require.NoError(t, err)

			assert.Equal(t, tt.wantExists, cs.exists.Load())
			assert.Equal(t, tt.wantLatest, cs.latest.Load())
		})
	}
}

func TestIngestJoinedCallerSurvivesCancel(t *testing.T) {
	src := &fakeSource{
		bars:    weekdaySeries(domain.NormalizeDate(testNow), 30),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	in := NewIngestor(src, newStore(t), WithClock(clock), WithTimeout(5*time.Second))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := in.Ingest(firstCtx, "AMZN")
		firstErr <- err
	}()
	<-src.started

	joined := make(chan IngestResult, 1)
	go func() {
		res, err := in.Ingest(context.Background(), "AMZN")
		assert.NoError(t, err)
		joined <- res
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(src.release)
	res := <-joined
	assert.Equal(t, StatusInserted, res.Status)
	assert.Positive(t, res.Inserted)
	assert.Equal(t, int32(1), src.calls.Load())
}
