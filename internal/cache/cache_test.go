package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyString(t *testing.T) {
	k := NewKey(NamespaceReport, "aapl", "10000.0000", "pdf")
	assert.Equal(t, "report:AAPL:10000.0000:pdf", k.String())
	assert.Equal(t, k.String(), NewKey(NamespaceReport, "AAPL", "10000.0000", "pdf").String())

	// A separator inside a parameter must not alias a longer key.
	a := NewKey(NamespacePrices, "AAPL", "x:y")
	b := NewKey(NamespacePrices, "AAPL", "x", "y")
	assert.NotEqual(t, a.String(), b.String())

	assert.Equal(t, "prices:MSFT", NewKey(NamespacePrices, "msft").String())
}

func TestMemoryPutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	key := NewKey(NamespacePrices, "AAPL")

	_, ok, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, key, []byte("v1"), time.Hour))
	v, ok, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	now = now.Add(59 * time.Minute)
	_, ok, _ = m.Get(ctx, key)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = m.Get(ctx, key)
	assert.False(t, ok, "entry must expire after its TTL")
	assert.Zero(t, m.Len())
}

func TestMemorySweep(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Put(ctx, NewKey(NamespacePrices, "A"), []byte("a"), time.Minute))
	require.NoError(t, m.Put(ctx, NewKey(NamespacePrices, "B"), []byte("b"), time.Hour))
	now = now.Add(2 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
}

func TestBadgerPutGet(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBadger("")
	require.NoError(t, err)
	defer b.Close()

	key := NewKey(NamespacePrediction, "MSFT")
	_, ok, err := b.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Put(ctx, key, []byte(`[1,2,3]`), time.Hour))
	v, ok, err := b.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`[1,2,3]`), v)

	require.NoError(t, b.Delete(ctx, key))
	_, ok, err = b.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadgerOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := NewKey(NamespaceReport, "IBM", "10000", "json")

	b, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, key, []byte("report"), time.Hour))
	require.NoError(t, b.Close())

	b, err = OpenBadger(dir)
	require.NoError(t, err)
	defer b.Close()
	v, ok, err := b.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("report"), v)
}

func TestRedisIntegration(t *testing.T) {
	addr := os.Getenv("STOCKLENS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STOCKLENS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := OpenRedis(ctx, RedisOptions{Addr: addr, Prefix: "stocklens-test:"})
	require.NoError(t, err)
	defer r.Close()

	key := NewKey(NamespaceBacktest, "AAPL", "10000")
	require.NoError(t, r.Put(ctx, key, []byte("x"), time.Minute))
	v, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), v)
	require.NoError(t, r.Delete(ctx, key))
}

// failingCache errors on every call.
type failingCache struct{ puts atomic.Int32 }

func (f *failingCache) Get(context.Context, Key) ([]byte, bool, error) {
	return nil, false, errors.New("backend down")
}

func (f *failingCache) Put(context.Context, Key, []byte, time.Duration) error {
	f.puts.Add(1)
	return errors.New("backend down")
}

func (f *failingCache) Delete(context.Context, Key) error { return nil }
func (f *failingCache) Close() error                      { return nil }

func TestMemoPopulatesOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	memo := NewMemo(mem, time.Hour)
	key := NewKey(NamespaceBacktest, "AAPL", "10000")

	_, _, err := memo.GetOrCompute(ctx, key, func(context.Context) ([]byte, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Zero(t, mem.Len(), "failed computation must not populate the cache")

	calls := 0
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte("result"), nil
	}
	v, hit, err := memo.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("result"), v)

	v2, hit, err := memo.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, v, v2, "cached and fresh paths return the same bytes")
	assert.Equal(t, 1, calls)
}

func TestMemoBackendErrorsDegradeToMiss(t *testing.T) {
	fc := &failingCache{}
	memo := NewMemo(fc, time.Hour)

	v, hit, err := memo.GetOrCompute(context.Background(), NewKey(NamespacePrices, "AAPL"), func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("fresh"), v)
	assert.Equal(t, int32(1), fc.puts.Load())
}

func TestMemoSingleFlight(t *testing.T) {
	memo := NewMemo(NewMemory(), time.Hour)
	key := NewKey(NamespaceReport, "AAPL", "10000", "json")

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	compute := func(context.Context) ([]byte, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return []byte("r"), nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, err := memo.GetOrCompute(context.Background(), key, compute)
		assert.NoError(t, err)
	}()
	<-started
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := memo.GetOrCompute(context.Background(), key, compute)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestMemoJoinedCallerSurvivesCancel(t *testing.T) {
	memo := NewMemo(NewMemory(), time.Hour)
	memo.SetComputeTimeout(5 * time.Second)
	key := NewKey(NamespaceReport, "AAPL", "10000", "pdf")

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	compute := func(ctx context.Context) ([]byte, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return []byte("%PDF"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := memo.GetOrCompute(firstCtx, key, compute)
		firstErr <- err
	}()
	<-started

	joined := make(chan []byte, 1)
	go func() {
		v, _, err := memo.GetOrCompute(context.Background(), key, compute)
		assert.NoError(t, err)
		joined <- v
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	assert.Equal(t, []byte("%PDF"), <-joined)
	assert.Equal(t, int32(1), calls.Load())

	v, hit, err := memo.GetOrCompute(context.Background(), key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("%PDF"), v)
}

func TestGetOrComputeJSON(t *testing.T) {
	type result struct {
		TotalReturn float64 `json:"total_return"`
	}
	ctx := context.Background()
	mem := NewMemory()
	memo := NewMemo(mem, 0)
	assert.Equal(t, DefaultTTL, memo.TTL())
	key := NewKey(NamespaceBacktest, "AAPL", "10000")

	r, hit, err := GetOrComputeJSON(ctx, memo, key, func(context.Context) (result, error) {
		return result{TotalReturn: 0.2}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 0.2, r.TotalReturn)

	r, hit, err = GetOrComputeJSON(ctx, memo, key, func(context.Context) (result, error) {
		t.Fatal("must be served from cache")
		return result{}, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 0.2, r.TotalReturn)

	// A corrupt entry is recomputed.
	require.NoError(t, mem.Put(ctx, key, []byte("{not json"), time.Hour))
	r, hit, err = GetOrComputeJSON(ctx, memo, key, func(context.Context) (result, error) {
		return result{TotalReturn: 0.3}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 0.3, r.TotalReturn)
}

func TestMemoInvalidate(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	memo := NewMemo(mem, time.Hour)
	key := NewKey(NamespacePrices, "AAPL")

	memo.Store(ctx, key, []byte("v1"))
	memo.Invalidate(ctx, key)

	_, ok := memo.Lookup(ctx, key)
	assert.False(t, ok)
}
