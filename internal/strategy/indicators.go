package strategy

import (
	"github.com/shopspring/decimal"

	"stocklens/internal/domain"
)

// SMA returns the simple moving average of the last period closes in
// history. ok is false when fewer than period closes are available.
func SMA(history []domain.PricePoint, period int) (avg decimal.Decimal, ok bool) {
	if period <= 0 || len(history) < period {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, p := range history[len(history)-period:] {
		sum = sum.Add(p.Close)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// RollingAverage returns the trailing mean of each point over window bars.
// The first window-1 points average over what is available so far.
func RollingAverage(points []domain.PricePoint, window int) []decimal.Decimal {
	if window <= 0 {
		window = 1
	}
	out := make([]decimal.Decimal, len(points))
	sum := decimal.Zero
	for i, p := range points {
		sum = sum.Add(p.Close)
		if i >= window {
			sum = sum.Sub(points[i-window].Close)
		}
		n := min(i+1, window)
		out[i] = sum.Div(decimal.NewFromInt(int64(n)))
	}
	return out
}
