package predict

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"stocklens/internal/domain"
	"stocklens/internal/util"
)

var _ Predictor = (*LinearTrend)(nil)

// minPrice floors forecasts so a steep downtrend never predicts a
// non-positive price.
var minPrice = decimal.New(1, -domain.PriceScale)

// LinearTrend fits an ordinary least-squares line to the last Lookback
// closes and extrapolates it forward one step per trading day.
type LinearTrend struct {
	Lookback int
}

// NewLinearTrend creates a LinearTrend over lookback closes. Zero uses the
// whole history.
func NewLinearTrend(lookback int) *LinearTrend {
	return &LinearTrend{Lookback: lookback}
}

// Name returns "linear-trend".
func (m *LinearTrend) Name() string { return "linear-trend" }

// Predict extrapolates the fitted trend for horizon trading days.
func (m *LinearTrend) Predict(_ context.Context, symbol string, history []domain.PricePoint, horizon int) ([]domain.Prediction, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("no history for %s: %w", symbol, domain.ErrNotFound)
	}
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon %d must be positive", domain.ErrInvalidInput, horizon)
	}

	window := history
	if m.Lookback > 0 && len(window) > m.Lookback {
		window = window[len(window)-m.Lookback:]
	}
	slope, intercept := fitLine(window)

	days := util.NextTradingDays(history[len(history)-1].Timestamp, horizon)
	preds := make([]domain.Prediction, len(days))
	n := len(window)
	for i, d := range days {
		y := intercept + slope*float64(n+i)
		price := decimal.NewFromFloat(y).Round(domain.PriceScale)
		if price.LessThan(minPrice) {
			price = minPrice
		}
		preds[i] = domain.Prediction{Symbol: symbol, PredictionDate: d, PredictedPrice: price}
	}
	return preds, nil
}

// fitLine returns the least-squares slope and intercept of close against
// index. A single point yields a flat line.
func fitLine(points []domain.PricePoint) (slope, intercept float64) {
	n := float64(len(points))
	var sumX, sumY, sumXY, sumXX float64
	for i, p := range points {
		x := float64(i)
		y := p.Close.InexactFloat64()
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / den
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
