package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"stocklens/internal/domain"
	"stocklens/pkg/stocklens"
)

var (
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	labelStyle     = lipgloss.NewStyle().Width(20).Foreground(lipgloss.Color("245"))
)

func signed(f float64, s string) string {
	switch {
	case f > 0:
		return gainStyle.Render(s)
	case f < 0:
		return lossStyle.Render(s)
	}
	return s
}

// renderPrices writes one row per bar.
func renderPrices(w io.Writer, resp *stocklens.PricesResponse) {
	fmt.Fprintf(w, "%s  %d bars\n", symbolStyle.Render(resp.Symbol), resp.Count)
	fmt.Fprintln(w, colHeaderStyle.Render(fmt.Sprintf("%-10s %12s %12s %12s %12s %14s", "date", "open", "high", "low", "close", "volume")))
	var prev domain.PriceBar
	for i, b := range resp.Prices {
		closeCol := fmt.Sprintf("%12s", b.Close.StringFixed(2))
		if i > 0 {
			closeCol = signed(b.Close.Sub(prev.Close).InexactFloat64(), closeCol)
		}
		fmt.Fprintf(w, "%-10s %12s %12s %12s %s %14d\n",
			b.Timestamp.Format(domain.DateLayout),
			b.Open.StringFixed(2), b.High.StringFixed(2), b.Low.StringFixed(2),
			closeCol, b.Volume)
		prev = b
	}
}

// renderBacktest writes a labelled summary of a backtest.
func renderBacktest(w io.Writer, resp *stocklens.BacktestResponse) {
	rows := [][2]string{
		{"strategy", resp.Strategy},
		{"initial investment", resp.InitialInvestment.StringFixed(2)},
		{"final cash", resp.FinalCash.StringFixed(2)},
		{"total return", signed(resp.TotalReturn, fmt.Sprintf("%.2f%%", resp.TotalReturn*100))},
		{"max drawdown", fmt.Sprintf("%.2f%%", resp.MaxDrawdown*100)},
		{"trades", fmt.Sprint(resp.NumberOfTrades)},
	}
	var b strings.Builder
	b.WriteString(symbolStyle.Render(resp.Symbol) + "\n")
	for _, r := range rows {
		b.WriteString(labelStyle.Render(r[0]) + r[1] + "\n")
	}
	fmt.Fprint(w, b.String())
}
