package stocklens

import (
	"github.com/shopspring/decimal"

	"stocklens/internal/domain"
)

// PricesResponse is returned by GET /api/v1/stock-prices/:symbol.
type PricesResponse struct {
	Symbol string            `json:"symbol"`
	Count  int               `json:"count"`
	Prices []domain.PriceBar `json:"prices"`
}

// FetchResponse is returned by POST /api/v1/stock-prices/fetch/:symbol.
type FetchResponse struct {
	Symbol    string `json:"symbol"`
	Source    string `json:"source"`
	Status    string `json:"status"`
	Freshness string `json:"freshness"`
	Fetched   int    `json:"fetched"`
	Retained  int    `json:"retained"`
	Rejected  int    `json:"rejected"`
	Inserted  int    `json:"inserted"`
}

// BacktestRequest is the body of POST /api/v1/backtest. A nil
// InitialInvestment uses the server default.
type BacktestRequest struct {
	Symbol            string           `json:"symbol"`
	InitialInvestment *decimal.Decimal `json:"initial_investment,omitempty"`
	Strategy          string           `json:"strategy,omitempty"`
}

// BacktestResponse is the result of a backtest run.
type BacktestResponse struct {
	Symbol            string          `json:"symbol"`
	Strategy          string          `json:"strategy"`
	InitialInvestment decimal.Decimal `json:"initial_investment"`
	domain.BacktestResult
}

// PredictionsResponse is returned by the prediction endpoints.
type PredictionsResponse struct {
	Symbol      string              `json:"symbol"`
	Predictions []domain.Prediction `json:"predictions"`
}

// ReportRequest is the body of POST /api/v1/report. Empty Format means
// "json"; a nil InitialInvestment uses the server default.
type ReportRequest struct {
	Symbol            string           `json:"symbol"`
	Format            string           `json:"format,omitempty"`
	InitialInvestment *decimal.Decimal `json:"initial_investment,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
