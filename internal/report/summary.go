package report

import (
	"github.com/shopspring/decimal"

	"stocklens/internal/domain"
)

// SummarizeHistory condenses bars (ascending by date) into the historical
// section of a report.
func SummarizeHistory(bars []domain.PriceBar) domain.HistoricalSummary {
	s := domain.HistoricalSummary{Count: len(bars), Prices: domain.Closes(bars)}
	if len(bars) == 0 {
		return s
	}

	first, last := bars[0], bars[len(bars)-1]
	s.StartDate = first.Timestamp.Format(domain.DateLayout)
	s.EndDate = last.Timestamp.Format(domain.DateLayout)
	s.FirstClose = first.Close
	s.LastClose = last.Close
	s.MinClose, s.MaxClose = first.Close, first.Close

	sum := decimal.Zero
	for _, b := range bars {
		sum = sum.Add(b.Close)
		if b.Close.LessThan(s.MinClose) {
			s.MinClose = b.Close
		}
		if b.Close.GreaterThan(s.MaxClose) {
			s.MaxClose = b.Close
		}
	}
	s.AverageClose = sum.Div(decimal.NewFromInt(int64(len(bars)))).Round(domain.PriceScale)
	s.PriceChange = last.Close.Sub(first.Close).Div(first.Close).InexactFloat64()
	return s
}

// SummarizePredictions wraps the forecast section of a report.
func SummarizePredictions(preds []domain.Prediction) domain.PredictionSummary {
	return domain.PredictionSummary{Count: len(preds), Predictions: preds}
}
