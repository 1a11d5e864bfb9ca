package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"backtide/internal/report"
	"backtide/pkg/backtide"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	symbolStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("245")).Padding(0, 1)
)

// signed renders a return-like value green when positive and red when
// negative.
func signed(v float64, text string) string {
	switch {
	case v > 0:
		return gainStyle.Render(text)
	case v < 0:
		return lossStyle.Render(text)
	}
	return text
}

func pct(v float64) string { return fmt.Sprintf("%+.2f%%", v*100) }

func renderResult(req backtide.BacktestRequest, res *backtide.Result, showTx bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  buy MA %d / sell MA %d  %s\n",
		symbolStyle.Render(req.Symbol), req.BuyWindow, req.SellWindow,
		dimStyle.Render(fmt.Sprintf("start $%.2f", req.InitialInvestment)))
	if res == nil {
		return b.String()
	}
	fmt.Fprintf(&b, "  final value   $%.2f\n", res.FinalValue)
	fmt.Fprintf(&b, "  total return  %s\n", signed(res.TotalReturn, pct(res.TotalReturn)))
	fmt.Fprintf(&b, "  max drawdown  %s\n", lossStyle.Render(fmt.Sprintf("%.2f%%", res.MaxDrawdown*100)))
	fmt.Fprintf(&b, "  trades        %d\n", res.TradesExecuted)

	if showTx && len(res.TransactionHistory) > 0 {
		b.WriteString("\n")
		b.WriteString(headerStyle.Render(fmt.Sprintf("  %-10s  %-4s  %10s  %8s  %12s", "DATE", "SIDE", "PRICE", "SHARES", "VALUE")))
		b.WriteString("\n")
		for _, tx := range res.TransactionHistory {
			side := fmt.Sprintf("%-4s", tx.Action)
			if strings.EqualFold(tx.Action, "buy") {
				side = gainStyle.Render(side)
			} else {
				side = lossStyle.Render(side)
			}
			fmt.Fprintf(&b, "  %-10s  %s  %10.2f  %8d  %12.2f\n", tx.Date, side, tx.Price, tx.Shares, tx.Value)
		}
	}
	return b.String()
}

func renderSweep(symbol string, entries []backtide.SweepEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", symbolStyle.Render(symbol), dimStyle.Render(fmt.Sprintf("%d combinations, best first", len(entries))))
	b.WriteString(headerStyle.Render(fmt.Sprintf("  %4s  %4s  %9s  %9s  %6s  %12s", "BUY", "SELL", "RETURN", "DRAWDOWN", "TRADES", "FINAL")))
	b.WriteString("\n")
	for _, e := range entries {
		if e.Result == nil {
			continue
		}
		r := e.Result
		fmt.Fprintf(&b, "  %4d  %4d  %s  %8.2f%%  %6d  %12.2f\n",
			e.BuyWindow, e.SellWindow,
			signed(r.TotalReturn, fmt.Sprintf("%9s", pct(r.TotalReturn))),
			r.MaxDrawdown*100, r.TradesExecuted, r.FinalValue)
	}
	return b.String()
}

func renderRuns(runs []backtide.Run) string {
	if len(runs) == 0 {
		return dimStyle.Render("no runs recorded") + "\n"
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-36s  %-8s  %4s  %4s  %9s  %-19s", "ID", "SYMBOL", "BUY", "SELL", "RETURN", "CREATED")))
	b.WriteString("\n")
	for _, run := range runs {
		ret := "-"
		var v float64
		if run.Result != nil {
			v = run.Result.TotalReturn
			ret = pct(v)
		}
		fmt.Fprintf(&b, "  %-36s  %s  %4d  %4d  %s  %s\n",
			run.ID,
			symbolStyle.Render(fmt.Sprintf("%-8s", run.Params.Symbol)),
			run.Params.BuyWindow, run.Params.SellWindow,
			signed(v, fmt.Sprintf("%9s", ret)),
			dimStyle.Render(run.CreatedAt.Local().Format("2006-01-02 15:04:05")))
	}
	return b.String()
}

// renderReport boxes the plain-text report.
func renderReport(rep *backtide.Report) (string, error) {
	var b strings.Builder
	if err := report.Render(&b, report.Report(*rep)); err != nil {
		return "", err
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n")), nil
}
