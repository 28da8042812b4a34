// Package domain defines the core value types shared across stocklens:
// daily price bars, predictions, backtest results and reports.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of fractional digits kept for prices and cash.
const PriceScale = 4

// DateLayout is the calendar-date layout used on every wire format.
const DateLayout = "2006-01-02"

// PriceBar is one trading day of OHLCV data for one symbol. The pair
// (Symbol, Timestamp) is unique.
type PriceBar struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// PricePoint is a (timestamp, close) pair fed to the backtest engine.
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Close     decimal.Decimal `json:"close"`
}

// Closes projects bars onto the PricePoint series used by the engine.
func Closes(bars []PriceBar) []PricePoint {
	points := make([]PricePoint, len(bars))
	for i, b := range bars {
		points[i] = PricePoint{Timestamp: b.Timestamp, Close: b.Close}
	}
	return points
}

// Prediction is one forecast point. (Symbol, PredictionDate) is unique and a
// later run for the same date replaces the earlier value.
type Prediction struct {
	Symbol         string          `json:"symbol"`
	PredictionDate time.Time       `json:"prediction_date"`
	PredictedPrice decimal.Decimal `json:"predicted_price"`
}

// BacktestResult summarises a simulated strategy run.
type BacktestResult struct {
	TotalReturn    float64         `json:"total_return"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	NumberOfTrades int             `json:"number_of_trades"`
	FinalCash      decimal.Decimal `json:"final_cash"`
}

// SignalType is the action a strategy asks the engine to take on a bar.
type SignalType string

const (
	SignalHold SignalType = "hold"
	SignalBuy  SignalType = "buy"
	SignalSell SignalType = "sell"
)

// Format selects the report output form.
type Format string

const (
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

// Valid reports whether f is a supported report format.
func (f Format) Valid() bool {
	return f == FormatJSON || f == FormatPDF
}

// HistoricalSummary condenses the price history embedded in a report.
type HistoricalSummary struct {
	Count        int             `json:"count"`
	StartDate    string          `json:"start_date"`
	EndDate      string          `json:"end_date"`
	FirstClose   decimal.Decimal `json:"first_close"`
	LastClose    decimal.Decimal `json:"last_close"`
	MinClose     decimal.Decimal `json:"min_close"`
	MaxClose     decimal.Decimal `json:"max_close"`
	AverageClose decimal.Decimal `json:"average_close"`
	PriceChange  float64         `json:"price_change"`
	Prices       []PricePoint    `json:"prices"`
}

// PredictionSummary lists the forecast embedded in a report.
type PredictionSummary struct {
	Count       int          `json:"count"`
	Predictions []Prediction `json:"predictions"`
}

// ReportData is the structured union stored and returned for a report.
type ReportData struct {
	Symbol            string            `json:"symbol"`
	GeneratedAt       time.Time         `json:"generated_at"`
	InitialInvestment decimal.Decimal   `json:"initial_investment"`
	Historical        HistoricalSummary `json:"historical"`
	Predictions       PredictionSummary `json:"predictions"`
	Backtest          BacktestResult    `json:"backtest"`
}

// Report is the durable record of the latest assembled report for a
// (Symbol, InitialInvestment) pair.
type Report struct {
	Symbol            string
	InitialInvestment decimal.Decimal
	Data              ReportData
	PDF               []byte
	UpdatedAt         time.Time
}

// NormalizeDate truncates t to its UTC calendar date.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
