package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"stocklens/internal/domain"
	"stocklens/internal/strategy"
)

// RollingWindow is the smoothing window of the report charts, in bars.
const RollingWindow = 30

// Renderer turns report data into a binary document.
type Renderer interface {
	Render(data domain.ReportData) ([]byte, error)
}

// PDFRenderer draws the report as an A4 PDF with summary tables and two
// line charts.
type PDFRenderer struct{}

var _ Renderer = (*PDFRenderer)(nil)

// NewPDFRenderer returns the default renderer.
func NewPDFRenderer() *PDFRenderer { return &PDFRenderer{} }

type rgb struct{ r, g, b int }

var (
	colorActual    = rgb{31, 119, 180}
	colorPredicted = rgb{255, 127, 14}
	colorGrid      = rgb{210, 210, 210}
)

// series is one polyline on a chart.
type series struct {
	label  string
	color  rgb
	dashed bool
	dates  []time.Time
	values []float64
}

// Render implements Renderer.
func (r *PDFRenderer) Render(data domain.ReportData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("%s stock report", data.Symbol), false)
	pdf.SetCreator("stocklens", false)
	// Dated by the report, not the wall clock.
	pdf.SetCreationDate(data.GeneratedAt)
	pdf.SetCatalogSort(true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, fmt.Sprintf("Stock Report: %s", data.Symbol), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, "Generated "+data.GeneratedAt.UTC().Format(time.RFC3339), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	h := data.Historical
	section(pdf, "Historical Summary")
	table(pdf, [][2]string{
		{"Period", h.StartDate + " to " + h.EndDate},
		{"Trading days", fmt.Sprint(h.Count)},
		{"First close", h.FirstClose.StringFixed(2)},
		{"Last close", h.LastClose.StringFixed(2)},
		{"Min / max close", h.MinClose.StringFixed(2) + " / " + h.MaxClose.StringFixed(2)},
		{"Average close", h.AverageClose.StringFixed(2)},
		{"Price change", percent(h.PriceChange)},
	})

	bt := data.Backtest
	section(pdf, "Backtest")
	table(pdf, [][2]string{
		{"Initial investment", data.InitialInvestment.StringFixed(2)},
		{"Final cash", bt.FinalCash.StringFixed(2)},
		{"Total return", percent(bt.TotalReturn)},
		{"Max drawdown", percent(bt.MaxDrawdown)},
		{"Trades", fmt.Sprint(bt.NumberOfTrades)},
	})

	actual := rolling("Actual (30-day avg)", colorActual, false, h.Prices)
	section(pdf, "Historical Prices (30-Day Rolling Average)")
	chart(pdf, []series{actual})

	pdf.AddPage()
	section(pdf, "Predicted vs Actual Prices")
	chart(pdf, []series{actual, rolling("Predicted (30-day avg)", colorPredicted, true, predictionPoints(data.Predictions.Predictions))})

	section(pdf, "Predictions")
	rows := make([][2]string, 0, len(data.Predictions.Predictions))
	for _, p := range data.Predictions.Predictions {
		rows = append(rows, [2]string{p.PredictionDate.Format(domain.DateLayout), p.PredictedPrice.StringFixed(2)})
	}
	table(pdf, rows)

	if err := pdf.Error(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func section(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, title, "B", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func table(pdf *fpdf.Fpdf, rows [][2]string) {
	pdf.SetFont("Helvetica", "", 10)
	for _, row := range rows {
		pdf.CellFormat(60, 6, row[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(80, 6, row[1], "1", 1, "R", false, 0, "")
	}
	pdf.Ln(5)
}

func percent(f float64) string {
	return fmt.Sprintf("%.2f%%", f*100)
}

func predictionPoints(preds []domain.Prediction) []domain.PricePoint {
	points := make([]domain.PricePoint, len(preds))
	for i, p := range preds {
		points[i] = domain.PricePoint{Timestamp: p.PredictionDate, Close: p.PredictedPrice}
	}
	return points
}

// rolling smooths points with a trailing RollingWindow average.
func rolling(label string, c rgb, dashed bool, points []domain.PricePoint) series {
	avg := strategy.RollingAverage(points, RollingWindow)
	s := series{label: label, color: c, dashed: dashed}
	for i, p := range points {
		s.dates = append(s.dates, p.Timestamp)
		s.values = append(s.values, avg[i].InexactFloat64())
	}
	return s
}

const (
	chartWidth  = 170.0
	chartHeight = 80.0
	chartLeft   = 25.0
	gridLines   = 5
)

// chart draws every series on shared date and price axes below the
// current position.
func chart(pdf *fpdf.Fpdf, all []series) {
	top := pdf.GetY() + 2
	var (
		minT, maxT time.Time
		minV, maxV float64
		seen       bool
	)
	for _, s := range all {
		for i, d := range s.dates {
			v := s.values[i]
			if !seen {
				minT, maxT, minV, maxV, seen = d, d, v, v, true
				continue
			}
			if d.Before(minT) {
				minT = d
			}
			if d.After(maxT) {
				maxT = d
			}
			minV = min(minV, v)
			maxV = max(maxV, v)
		}
	}
	if !seen {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 6, "No data", "", 1, "L", false, 0, "")
		return
	}
	if maxV == minV {
		maxV, minV = maxV+1, minV-1
	}
	span := maxT.Sub(minT).Seconds()
	if span == 0 {
		span = 1
	}
	x := func(t time.Time) float64 { return chartLeft + chartWidth*t.Sub(minT).Seconds()/span }
	y := func(v float64) float64 { return top + chartHeight - chartHeight*(v-minV)/(maxV-minV) }

	pdf.SetFont("Helvetica", "", 7)
	pdf.SetLineWidth(0.1)
	pdf.SetDrawColor(colorGrid.r, colorGrid.g, colorGrid.b)
	for i := 0; i <= gridLines; i++ {
		v := minV + (maxV-minV)*float64(i)/gridLines
		pdf.Line(chartLeft, y(v), chartLeft+chartWidth, y(v))
		pdf.Text(chartLeft-12, y(v)+1, decimal.NewFromFloat(v).StringFixed(2))
	}
	pdf.SetDrawColor(0, 0, 0)
	pdf.Rect(chartLeft, top, chartWidth, chartHeight, "D")
	pdf.Text(chartLeft, top+chartHeight+4, minT.Format(domain.DateLayout))
	pdf.Text(chartLeft+chartWidth-16, top+chartHeight+4, maxT.Format(domain.DateLayout))

	pdf.SetLineWidth(0.4)
	for li, s := range all {
		pdf.SetDrawColor(s.color.r, s.color.g, s.color.b)
		if s.dashed {
			pdf.SetDashPattern([]float64{1.5, 1}, 0)
		}
		for i := 1; i < len(s.dates); i++ {
			pdf.Line(x(s.dates[i-1]), y(s.values[i-1]), x(s.dates[i]), y(s.values[i]))
		}
		pdf.SetDashPattern([]float64{}, 0)

		// Legend
		ly := top + 4 + float64(li)*4
		pdf.Line(chartLeft+3, ly, chartLeft+10, ly)
		pdf.SetTextColor(0, 0, 0)
		pdf.Text(chartLeft+12, ly+1, s.label)
	}
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(0.2)
	pdf.SetY(top + chartHeight + 10)
}
