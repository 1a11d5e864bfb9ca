package backtide

import "time"

// BacktestRequest holds the parameters of one backtest.
type BacktestRequest struct {
	Symbol            string  `json:"symbol"`
	InitialInvestment float64 `json:"initial_investment"`
	BuyWindow         int     `json:"buy_ma_window"`
	SellWindow        int     `json:"sell_ma_window"`
}

// Transaction is one executed buy or sell.
type Transaction struct {
	Date   string  `json:"date"`
	Action string  `json:"action"`
	Price  float64 `json:"price"`
	Shares int64   `json:"shares"`
	Value  float64 `json:"value"`
}

// Result is the summary of one backtest.
type Result struct {
	TotalReturn        float64       `json:"total_return"`
	MaxDrawdown        float64       `json:"max_drawdown"`
	TradesExecuted     int           `json:"trades_executed"`
	FinalValue         float64       `json:"final_value"`
	TransactionHistory []Transaction `json:"transaction_history"`
}

// SweepRequest asks for every combination of the given windows.
type SweepRequest struct {
	Symbol            string  `json:"symbol"`
	InitialInvestment float64 `json:"initial_investment"`
	BuyWindows        []int   `json:"buy_ma_windows"`
	SellWindows       []int   `json:"sell_ma_windows"`
}

// SweepEntry is one window pair of a sweep.
type SweepEntry struct {
	BuyWindow  int     `json:"buy_ma_window"`
	SellWindow int     `json:"sell_ma_window"`
	Result     *Result `json:"result"`
}

// ReportRequest is a backtest restricted to an optional date range
// (YYYY-MM-DD, empty for open).
type ReportRequest struct {
	BacktestRequest
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// Report is the performance summary returned by the report endpoint.
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

// Run is a recorded backtest.
type Run struct {
	ID        string          `json:"id"`
	Params    BacktestRequest `json:"params"`
	Result    *Result         `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}

// Bar is one stored daily bar.
type Bar struct {
	Date       string  `json:"date"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     int64   `json:"volume"`
	TradeCount int64   `json:"trade_count,omitempty"`
	VWAP       float64 `json:"vwap,omitempty"`
}
