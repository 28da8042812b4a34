package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocklens/internal/cache"
	"stocklens/internal/domain"
	"stocklens/internal/gather"
	"stocklens/internal/predict"
	"stocklens/internal/report"
	"stocklens/internal/store"
	"stocklens/internal/strategy"
	"stocklens/internal/strategy/builtins"
	"stocklens/pkg/stocklens"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testNow = time.Date(2024, 6, 14, 21, 0, 0, 0, time.UTC)

type stubSource struct {
	bars  []gather.RawBar
	err   error
	calls atomic.Int32
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) FetchDaily(context.Context, string) ([]gather.RawBar, error) {
	s.calls.Add(1)
	return s.bars, s.err
}

func rawSeries(closes ...float64) []gather.RawBar {
	out := make([]gather.RawBar, len(closes))
	for i, c := range closes {
		d := testNow.AddDate(0, 0, -len(closes)+1+i)
		p := fmt.Sprintf("%.4f", c)
		out[i] = gather.RawBar{Date: d.Format(domain.DateLayout), Open: p, High: p, Low: p, Close: p, Volume: "1000"}
	}
	return out
}

type harness struct {
	src     *stubSource
	store   *store.SQLStore
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenSQL(ctx, "sqlite", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	src := &stubSource{bars: rawSeries(100, 90, 120)}
	memo := cache.NewMemo(cache.NewMemory(), time.Hour)
	ing := gather.NewIngestor(src, s, gather.WithClock(func() time.Time { return testNow }))
	bt := strategy.NewBacktester(s, strategy.NewEngine(builtins.NewRegistry(2, 3), builtins.BuyAndHoldName), memo)
	preds := predict.NewService(s, s, predict.NewLinearTrend(90), 5, memo)
	asm := report.NewAssembler(
		&report.LocalHistory{Store: s, Ingestor: ing},
		&report.LocalPredictions{Service: preds},
		&report.LocalBacktest{Backtester: bt},
		s, memo,
	)

	srv := NewServer(Deps{
		Prices:      s,
		Ingestor:    ing,
		Backtester:  bt,
		Predictions: preds,
		Reports:     asm,
		Memo:        memo,
	})
	return &harness{src: src, store: s, handler: srv.Handler()}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestFetchThenPrices(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/v1/stock-prices/AAPL", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/stock-prices/fetch/aapl", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	fetched := decode[stocklens.FetchResponse](t, w)
	assert.Equal(t, "AAPL", fetched.Symbol)
	assert.Equal(t, 3, fetched.Inserted)

	w = h.do(t, http.MethodPost, "/api/v1/stock-prices/fetch/AAPL", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "skipped", decode[stocklens.FetchResponse](t, w).Status)
	assert.Equal(t, int32(1), h.src.calls.Load())

	w = h.do(t, http.MethodGet, "/api/v1/stock-prices/AAPL", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	prices := decode[stocklens.PricesResponse](t, w)
	assert.Equal(t, 3, prices.Count)
	assert.True(t, prices.Prices[0].Timestamp.Before(prices.Prices[2].Timestamp))

	w = h.do(t, http.MethodGet, "/api/v1/stock-prices/AAPL", nil)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
}

func TestFetchUpstreamFailure(t *testing.T) {
	h := newHarness(t)
	h.src.bars, h.src.err = nil, fmt.Errorf("provider down: %w", domain.ErrUpstream)

	w := h.do(t, http.MethodPost, "/api/v1/stock-prices/fetch/AAPL", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	e := decode[stocklens.ErrorResponse](t, w)
	assert.NotContains(t, e.Error, "provider down")
	assert.NotEmpty(t, e.RequestID)
}

func TestInvalidSymbol(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/v1/stock-prices/not-a-symbol", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBacktest(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/backtest", stocklens.BacktestRequest{Symbol: "AAPL"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/api/v1/stock-prices/fetch/AAPL", nil).Code)

	inv := decimal.NewFromInt(1000)
	w = h.do(t, http.MethodPost, "/api/v1/backtest", stocklens.BacktestRequest{Symbol: "AAPL", InitialInvestment: &inv})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[stocklens.BacktestResponse](t, w)
	assert.Equal(t, builtins.BuyAndHoldName, res.Strategy)
	assert.InDelta(t, 0.2, res.TotalReturn, 1e-9)
	assert.InDelta(t, 0.1, res.MaxDrawdown, 1e-9)
	assert.True(t, res.FinalCash.Equal(decimal.NewFromInt(1200)))

	zero := decimal.Zero
	w = h.do(t, http.MethodPost, "/api/v1/backtest", stocklens.BacktestRequest{Symbol: "AAPL", InitialInvestment: &zero})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/backtest", stocklens.BacktestRequest{Symbol: "AAPL", Strategy: "martingale"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMalformedBody(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/backtest", strings.NewReader("{"))
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredictions(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/api/v1/stock-prices/fetch/AAPL", nil).Code)

	w := h.do(t, http.MethodGet, "/api/v1/prediction/AAPL", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[stocklens.PredictionsResponse](t, w).Predictions)

	w = h.do(t, http.MethodPost, "/api/v1/prediction/AAPL", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode[stocklens.PredictionsResponse](t, w).Predictions, 5)

	w = h.do(t, http.MethodGet, "/api/v1/prediction/AAPL", nil)
	assert.Len(t, decode[stocklens.PredictionsResponse](t, w).Predictions, 5)

	w = h.do(t, http.MethodPost, "/api/v1/prediction/MSFT", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportJSONIngestsOnMiss(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/report", stocklens.ReportRequest{Symbol: "AAPL"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	data := decode[domain.ReportData](t, w)
	assert.Equal(t, "AAPL", data.Symbol)
	assert.True(t, data.InitialInvestment.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 3, data.Historical.Count)
	assert.Equal(t, 5, data.Predictions.Count)

	w = h.do(t, http.MethodPost, "/api/v1/report", stocklens.ReportRequest{Symbol: "AAPL"})
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, int32(1), h.src.calls.Load())
}

func TestReportPDF(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/report", stocklens.ReportRequest{Symbol: "AAPL", Format: "pdf"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "AAPL_report.pdf")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
}

func TestReportErrors(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/report", stocklens.ReportRequest{Symbol: "AAPL", Format: "xml"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h.src.bars = nil
	w = h.do(t, http.MethodPost, "/api/v1/report", stocklens.ReportRequest{Symbol: "AAPL"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/healthz", nil)

	w := h.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stocklens_http_requests_total")
}
