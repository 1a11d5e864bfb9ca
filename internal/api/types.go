package api

import (
	"backtide/internal/domain"
	"backtide/internal/engine"
)

// SweepRequest is the body of POST /api/v1/sweep.
type SweepRequest struct {
	Symbol            string  `json:"symbol"`
	InitialInvestment float64 `json:"initial_investment"`
	BuyWindows        []int   `json:"buy_ma_windows"`
	SellWindows       []int   `json:"sell_ma_windows"`
}

// SweepResponse is returned by POST /api/v1/sweep, best total return first.
type SweepResponse struct {
	Symbol  string              `json:"symbol"`
	Entries []engine.SweepEntry `json:"entries"`
}

// RunsResponse is returned by GET /api/v1/runs.
type RunsResponse struct {
	Runs []domain.Run `json:"runs"`
}

// SymbolsResponse is returned by GET /api/v1/symbols.
type SymbolsResponse struct {
	Market  string   `json:"market"`
	Symbols []string `json:"symbols"`
}

// BarJSON is one stored daily bar on the wire.
type BarJSON struct {
	Date       string  `json:"date"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     int64   `json:"volume"`
	TradeCount int64   `json:"trade_count,omitempty"`
	VWAP       float64 `json:"vwap,omitempty"`
}

// BarsResponse is returned by GET /api/v1/bars/{symbol}.
type BarsResponse struct {
	Symbol string    `json:"symbol"`
	Bars   []BarJSON `json:"bars"`
}

// StreamMessage is pushed to WebSocket subscribers.
type StreamMessage struct {
	Type string      `json:"type"`
	Run  *domain.Run `json:"run,omitempty"`
}
