package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backtide/internal/domain"
)

func TestBuild(t *testing.T) {
	params := domain.BacktestParams{
		Symbol:            "IBM",
		InitialInvestment: decimal.NewFromInt(10000),
		BuyWindow:         5,
		SellWindow:        10,
	}
	res := &domain.BacktestResult{
		TotalReturn:    0.0376,
		MaxDrawdown:    0.05,
		TradesExecuted: 2,
		FinalValue:     10376,
	}
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	series := []domain.PricePoint{
		{Date: start, Close: decimal.NewFromInt(100)},
		{Date: start.AddDate(0, 0, 30), Close: decimal.NewFromInt(130)},
	}

	r := Build(params, res, series)
	if r.ProfitLoss != 376 {
		t.Errorf("ProfitLoss = %v, want 376", r.ProfitLoss)
	}
	if r.ROIPercent < 3.7599 || r.ROIPercent > 3.7601 {
		t.Errorf("ROIPercent = %v, want 3.76", r.ROIPercent)
	}
	if r.FirstDate != "2023-01-01" || r.LastDate != "2023-01-31" || r.Bars != 2 {
		t.Errorf("period = %s..%s (%d), want 2023-01-01..2023-01-31 (2)", r.FirstDate, r.LastDate, r.Bars)
	}
}

func TestBuildEmptySeries(t *testing.T) {
	params := domain.BacktestParams{Symbol: "X", InitialInvestment: decimal.NewFromInt(500), BuyWindow: 1, SellWindow: 1}
	r := Build(params, &domain.BacktestResult{FinalValue: 500}, nil)
	if r.FirstDate != "" || r.LastDate != "" || r.ProfitLoss != 0 {
		t.Errorf("Build on empty series = %+v", r)
	}
}

func TestRender(t *testing.T) {
	now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	defer func() { now = time.Now }()

	var buf bytes.Buffer
	err := Render(&buf, Report{
		Symbol:            "IBM",
		BuyWindow:         5,
		SellWindow:        10,
		InitialInvestment: 1234567.5,
		FinalValue:        1300000,
		ProfitLoss:        65432.5,
		ROIPercent:        5.3,
		MaxDrawdown:       0.1111,
		TradesExecuted:    4,
		FirstDate:         "2020-01-02",
		LastDate:          "2020-12-31",
		Bars:              253,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Backtest report: IBM",
		"buy 5 / sell 10",
		"2020-01-02 to 2020-12-31 (253 bars)",
		"$1,234,567.50",
		"$1,300,000.00",
		"$65,432.50",
		"ROI:                 5.30%",
		"Max drawdown:        11.11%",
		"Trades executed:     4",
		"2024-05-01T12:00:00Z",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
