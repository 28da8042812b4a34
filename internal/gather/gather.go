// Package gather fetches daily bars from a market-data provider and ingests
// them into a PriceStore.
package gather

import (
	"context"
	"time"
)

// Source is a remote market-data provider.
type Source interface {
	// Name returns the source identifier.
	Name() string
	// FetchDaily returns the full daily series the provider offers for
	// symbol. Values are passed through unparsed so that one malformed bar
	// can be rejected without failing the whole response. A total failure
	// returns an error wrapping domain.ErrUpstream.
	FetchDaily(ctx context.Context, symbol string) ([]RawBar, error)
}

// RawBar is one provider bar before validation.
type RawBar struct {
	Date   string // YYYY-MM-DD
	Open   string
	High   string
	Low    string
	Close  string
	Volume string
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within [Start, End].
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}
