package strategy_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocklens/internal/cache"
	"stocklens/internal/domain"
	"stocklens/internal/store"
	"stocklens/internal/strategy"
	"stocklens/internal/strategy/builtins"
)

func TestBacktesterRun(t *testing.T) {
	ctx := context.Background()
	ps, err := store.OpenSQL(ctx, "sqlite", filepath.Join(t.TempDir(), "bt.db"))
	require.NoError(t, err)
	defer ps.Close()

	for _, p := range series(100, 90, 120) {
		require.NoError(t, ps.Upsert(ctx, domain.PriceBar{
			Symbol: "AAPL", Timestamp: p.Timestamp,
			Open: p.Close, High: p.Close, Low: p.Close, Close: p.Close, Volume: 10,
		}))
	}

	mem := cache.NewMemory()
	bt := strategy.NewBacktester(ps, newEngine(50, 200), cache.NewMemo(mem, time.Hour))

	res, err := bt.Run(ctx, "aapl", decimal.NewFromInt(1000), builtins.BuyAndHoldName)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, res.MaxDrawdown, 1e-12)
	assert.Equal(t, 1, mem.Len())

	cached, err := bt.Run(ctx, "AAPL", decimal.RequireFromString("1000.00"), builtins.BuyAndHoldName)
	require.NoError(t, err)
	assert.Equal(t, res.NumberOfTrades, cached.NumberOfTrades)
	assert.True(t, res.FinalCash.Equal(cached.FinalCash))
	assert.Equal(t, 1, mem.Len(), "equal amounts share one cache entry")

	// Default strategy needs far more history than three bars, so it stays flat.
	flat, err := bt.Run(ctx, "AAPL", decimal.NewFromInt(1000), "")
	require.NoError(t, err)
	assert.Zero(t, flat.NumberOfTrades)

	_, err = bt.Run(ctx, "MSFT", decimal.NewFromInt(1000), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = bt.Run(ctx, "AAPL", decimal.NewFromInt(-5), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = bt.Run(ctx, "AAPL", decimal.NewFromInt(5), "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
