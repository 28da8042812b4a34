package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"stocklens/internal/cache"
	"stocklens/internal/domain"
	"stocklens/internal/gather"
	"stocklens/internal/report"
	"stocklens/internal/util"
	"stocklens/pkg/stocklens"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handlePrices handles GET /api/v1/stock-prices/:symbol.
func (s *Server) handlePrices(c *gin.Context) {
	ctx := c.Request.Context()
	sym, err := util.NormalizeSymbol(c.Param("symbol"))
	if err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}

	load := func(ctx context.Context) (stocklens.PricesResponse, error) {
		bars, err := s.deps.Prices.Query(ctx, sym, nil, nil)
		if err != nil {
			return stocklens.PricesResponse{}, err
		}
		if len(bars) == 0 {
			return stocklens.PricesResponse{}, fmt.Errorf("no stock prices for %s: %w", sym, domain.ErrNotFound)
		}
		return stocklens.PricesResponse{Symbol: sym, Count: len(bars), Prices: bars}, nil
	}

	var (
		resp stocklens.PricesResponse
		hit  bool
	)
	if s.deps.Memo != nil {
		resp, hit, err = cache.GetOrComputeJSON(ctx, s.deps.Memo, pricesKey(sym), load)
	} else {
		resp, err = load(ctx)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	setCacheHeader(c, hit)
	c.JSON(http.StatusOK, resp)
}

// handleFetch handles POST /api/v1/stock-prices/fetch/:symbol.
func (s *Server) handleFetch(c *gin.Context) {
	ctx := c.Request.Context()
	res, err := s.deps.Ingestor.Ingest(ctx, c.Param("symbol"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusOK
	if res.Status == gather.StatusInserted {
		status = http.StatusCreated
		if s.deps.Memo != nil {
			s.deps.Memo.Invalidate(ctx, pricesKey(res.Symbol))
		}
	}
	c.JSON(status, stocklens.FetchResponse{
		Symbol:    res.Symbol,
		Source:    res.Source,
		Status:    string(res.Status),
		Freshness: res.Freshness,
		Fetched:   res.Fetched,
		Retained:  res.Retained,
		Rejected:  res.Rejected,
		Inserted:  res.Inserted,
	})
}

// handleBacktest handles POST /api/v1/backtest.
func (s *Server) handleBacktest(c *gin.Context) {
	var req stocklens.BacktestRequest
	if !s.bind(c, &req) {
		return
	}
	inv := s.deps.DefaultInvestment
	if req.InitialInvestment != nil {
		inv = *req.InitialInvestment
	}
	name := req.Strategy
	if name == "" {
		name = s.deps.Backtester.Engine().DefaultStrategy()
	}

	res, err := s.deps.Backtester.Run(c.Request.Context(), req.Symbol, inv, name)
	if err != nil {
		s.writeError(c, err)
		return
	}
	sym, _ := util.NormalizeSymbol(req.Symbol)
	c.JSON(http.StatusOK, stocklens.BacktestResponse{
		Symbol:            sym,
		Strategy:          name,
		InitialInvestment: inv,
		BacktestResult:    res,
	})
}

// handlePredict handles POST /api/v1/prediction/:symbol.
func (s *Server) handlePredict(c *gin.Context) {
	preds, err := s.deps.Predictions.Run(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	sym, _ := util.NormalizeSymbol(c.Param("symbol"))
	c.JSON(http.StatusOK, stocklens.PredictionsResponse{Symbol: sym, Predictions: preds})
}

// handleListPredictions handles GET /api/v1/prediction/:symbol.
func (s *Server) handleListPredictions(c *gin.Context) {
	preds, err := s.deps.Predictions.List(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if preds == nil {
		preds = []domain.Prediction{}
	}
	sym, _ := util.NormalizeSymbol(c.Param("symbol"))
	c.JSON(http.StatusOK, stocklens.PredictionsResponse{Symbol: sym, Predictions: preds})
}

// handleReport handles POST /api/v1/report.
func (s *Server) handleReport(c *gin.Context) {
	var req stocklens.ReportRequest
	if !s.bind(c, &req) {
		return
	}
	inv := s.deps.DefaultInvestment
	if req.InitialInvestment != nil {
		inv = *req.InitialInvestment
	}

	res, err := s.deps.Reports.Assemble(c.Request.Context(), report.Request{
		Symbol:            req.Symbol,
		InitialInvestment: inv,
		Format:            domain.Format(req.Format),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	setCacheHeader(c, res.Cached)

	if res.Format == domain.FormatPDF {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
		c.Data(http.StatusOK, "application/pdf", res.PDF)
		return
	}
	c.JSON(http.StatusOK, res.Data)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func pricesKey(sym string) cache.Key {
	return cache.NewKey(cache.NamespacePrices, sym)
}

func setCacheHeader(c *gin.Context, hit bool) {
	if hit {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
}

// bind decodes a JSON body into v. An empty body leaves v zero.
func (s *Server) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(c, fmt.Errorf("%w: malformed request body: %v", domain.ErrInvalidInput, err))
		return false
	}
	return true
}

// writeError maps a domain error kind onto a status code. Upstream and
// internal failures are reported generically and logged in full.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		status int
		msg    string
	)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrUpstream):
		status, msg = http.StatusBadGateway, "upstream data provider failed"
	default:
		status, msg = http.StatusInternalServerError, "internal error"
	}

	id := c.GetString(requestIDKey)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Request.URL.Path, "status", status, "request_id", id, "error", err)
	} else {
		s.log.Info("request rejected", "path", c.Request.URL.Path, "status", status, "request_id", id, "error", err)
	}
	c.AbortWithStatusJSON(status, stocklens.ErrorResponse{Error: msg, RequestID: id})
}
