// Package report summarises a backtest run as a human-readable performance
// report.
package report

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"backtide/internal/domain"
)

// Report is the performance summary of one backtest.
type Report struct {
	Symbol            string  `json:"symbol"`
	BuyWindow         int     `json:"buy_ma_window"`
	SellWindow        int     `json:"sell_ma_window"`
	InitialInvestment float64 `json:"initial_investment"`
	FinalValue        float64 `json:"final_value"`
	TotalReturn       float64 `json:"total_return"`
	ProfitLoss        float64 `json:"profit_loss"`
	ROIPercent        float64 `json:"roi_percent"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	TradesExecuted    int     `json:"trades_executed"`
	FirstDate         string  `json:"first_date,omitempty"`
	LastDate          string  `json:"last_date,omitempty"`
	Bars              int     `json:"bars"`
}

// Build assembles a Report from the parameters, their result and the price
// series the result was computed on. series may be empty.
func Build(params domain.BacktestParams, res *domain.BacktestResult, series []domain.PricePoint) Report {
	initial := params.InitialInvestment.InexactFloat64()
	r := Report{
		Symbol:            params.Symbol,
		BuyWindow:         params.BuyWindow,
		SellWindow:        params.SellWindow,
		InitialInvestment: initial,
		FinalValue:        res.FinalValue,
		TotalReturn:       res.TotalReturn,
		ProfitLoss:        res.FinalValue - initial,
		ROIPercent:        res.TotalReturn * 100,
		MaxDrawdown:       res.MaxDrawdown,
		TradesExecuted:    res.TradesExecuted,
		Bars:              len(series),
	}
	if len(series) > 0 {
		r.FirstDate = series[0].Date.Format(domain.DateLayout)
		r.LastDate = series[len(series)-1].Date.Format(domain.DateLayout)
	}
	return r
}

// Render writes r as plain text with grouped currency amounts.
func Render(w io.Writer, r Report) error {
	p := message.NewPrinter(language.English)

	period := "n/a"
	if r.FirstDate != "" {
		period = fmt.Sprintf("%s to %s (%d bars)", r.FirstDate, r.LastDate, r.Bars)
	}

	_, err := p.Fprintf(w,
		"Backtest report: %s\n"+
			"Strategy:            MA crossover (buy %d / sell %d)\n"+
			"Period:              %s\n"+
			"Initial investment:  $%.2f\n"+
			"Final value:         $%.2f\n"+
			"Profit/loss:         $%.2f\n"+
			"ROI:                 %.2f%%\n"+
			"Max drawdown:        %.2f%%\n"+
			"Trades executed:     %d\n"+
			"Generated:           %s\n",
		r.Symbol,
		r.BuyWindow, r.SellWindow,
		period,
		r.InitialInvestment,
		r.FinalValue,
		r.ProfitLoss,
		r.ROIPercent,
		r.MaxDrawdown*100,
		r.TradesExecuted,
		now().UTC().Format(time.RFC3339),
	)
	return err
}

var now = time.Now
