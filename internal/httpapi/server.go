// Package httpapi serves the stocklens REST API over gin.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"stocklens/internal/cache"
	"stocklens/internal/gather"
	"stocklens/internal/predict"
	"stocklens/internal/report"
	"stocklens/internal/store"
	"stocklens/internal/strategy"
)

// Deps are the services behind the API. Memo may be nil.
type Deps struct {
	Prices            store.PriceStore
	Ingestor          *gather.Ingestor
	Backtester        *strategy.Backtester
	Predictions       *predict.Service
	Reports           *report.Assembler
	Memo              *cache.Memo
	DefaultInvestment decimal.Decimal
}

// Server serves the /api/v1 routes plus health and metrics.
type Server struct {
	deps Deps
	log  *slog.Logger
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if !deps.DefaultInvestment.IsPositive() {
		deps.DefaultInvestment = decimal.NewFromInt(10000)
	}
	return &Server{deps: deps, log: slog.Default().With("component", "httpapi")}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), s.accessLog(), metrics())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/stock-prices/:symbol", s.handlePrices)
		v1.POST("/stock-prices/fetch/:symbol", s.handleFetch)
		v1.POST("/backtest", s.handleBacktest)
		v1.POST("/prediction/:symbol", s.handlePredict)
		v1.GET("/prediction/:symbol", s.handleListPredictions)
		v1.POST("/report", s.handleReport)
	}
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
