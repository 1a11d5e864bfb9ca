// Package domain defines the core value types shared across backtide: stored
// bars, the cleaned price series consumed by the backtest engine, backtest
// parameters, and the results and runs it produces.
package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO-8601 calendar date format used on every wire surface.
const DateLayout = "2006-01-02"

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// ---------------------------------------------------------------------------
// Price data
// ---------------------------------------------------------------------------

// Bar is one daily OHLCV row as held by a price store.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// PricePoint converts the bar into the (date, close) pair the engine replays.
// The timestamp is truncated to its UTC calendar date.
func (b Bar) PricePoint() PricePoint {
	return PricePoint{
		Date:  TruncateDate(b.Timestamp),
		Close: decimal.NewFromFloat(b.Close),
	}
}

// PricePoint is a single close price on a calendar date.
type PricePoint struct {
	Date  time.Time
	Close decimal.Decimal
}

// TruncateDate returns midnight UTC of t's calendar date.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// Backtest parameters
// ---------------------------------------------------------------------------

// BacktestParams describes one backtest request. It is constructed per
// request and never mutated.
type BacktestParams struct {
	Symbol            string
	InitialInvestment decimal.Decimal
	BuyWindow         int
	SellWindow        int
}

// Validate reports an ErrInvalidParameter when any field is out of range.
func (p BacktestParams) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("%w: symbol must be a non-empty string", ErrInvalidParameter)
	}
	if !p.InitialInvestment.IsPositive() {
		return fmt.Errorf("%w: initial investment must be a positive number", ErrInvalidParameter)
	}
	if p.BuyWindow <= 0 {
		return fmt.Errorf("%w: buy MA window must be a positive integer", ErrInvalidParameter)
	}
	if p.SellWindow <= 0 {
		return fmt.Errorf("%w: sell MA window must be a positive integer", ErrInvalidParameter)
	}
	return nil
}

// WarmupBars is the number of leading bars skipped before the first
// decision. The bar at this index is the first one whose trailing window for
// both averages lies entirely behind it.
func (p BacktestParams) WarmupBars() int {
	return max(p.BuyWindow, p.SellWindow)
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// Action is the side of a backtest transaction.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Transaction is one entry of the append-only trade log.
type Transaction struct {
	Date   time.Time `json:"date"`
	Action Action    `json:"action"`
	Price  float64   `json:"price"`
	Shares int64     `json:"shares"`
	Value  float64   `json:"value"`
}

type transactionJSON struct {
	Date   string  `json:"date"`
	Action Action  `json:"action"`
	Price  float64 `json:"price"`
	Shares int64   `json:"shares"`
	Value  float64 `json:"value"`
}

// MarshalJSON encodes the date as YYYY-MM-DD.
func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionJSON{
		Date:   t.Date.Format(DateLayout),
		Action: t.Action,
		Price:  t.Price,
		Shares: t.Shares,
		Value:  t.Value,
	})
}

// UnmarshalJSON decodes a transaction written by MarshalJSON.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var raw transactionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := time.Parse(DateLayout, raw.Date)
	if err != nil {
		return fmt.Errorf("parsing transaction date %q: %w", raw.Date, err)
	}
	*t = Transaction{
		Date:   d,
		Action: raw.Action,
		Price:  raw.Price,
		Shares: raw.Shares,
		Value:  raw.Value,
	}
	return nil
}

// BacktestResult is the immutable summary of one backtest.
type BacktestResult struct {
	TotalReturn        float64       `json:"total_return"`
	MaxDrawdown        float64       `json:"max_drawdown"`
	TradesExecuted     int           `json:"trades_executed"`
	FinalValue         float64       `json:"final_value"`
	TransactionHistory []Transaction `json:"transaction_history"`
}

// Clone returns a copy of r that shares no memory with it.
func (r *BacktestResult) Clone() *BacktestResult {
	if r == nil {
		return nil
	}
	c := *r
	c.TransactionHistory = slices.Clone(r.TransactionHistory)
	if c.TransactionHistory == nil {
		c.TransactionHistory = []Transaction{}
	}
	return &c
}

// Run is a persisted backtest: the parameters, the result, and when it was
// computed.
type Run struct {
	ID        string          `json:"id"`
	Params    BacktestParams  `json:"-"`
	Result    *BacktestResult `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}

type runParamsJSON struct {
	Symbol            string  `json:"symbol"`
	InitialInvestment float64 `json:"initial_investment"`
	BuyWindow         int     `json:"buy_ma_window"`
	SellWindow        int     `json:"sell_ma_window"`
}

// MarshalJSON flattens the parameters next to the result.
func (r Run) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string          `json:"id"`
		Params    runParamsJSON   `json:"params"`
		Result    *BacktestResult `json:"result"`
		CreatedAt time.Time       `json:"created_at"`
	}{
		ID: r.ID,
		Params: runParamsJSON{
			Symbol:            r.Params.Symbol,
			InitialInvestment: r.Params.InitialInvestment.InexactFloat64(),
			BuyWindow:         r.Params.BuyWindow,
			SellWindow:        r.Params.SellWindow,
		},
		Result:    r.Result,
		CreatedAt: r.CreatedAt,
	})
}

// UnmarshalJSON reverses MarshalJSON.
func (r *Run) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Params    runParamsJSON   `json:"params"`
		Result    *BacktestResult `json:"result"`
		CreatedAt time.Time       `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Run{
		ID: raw.ID,
		Params: BacktestParams{
			Symbol:            raw.Params.Symbol,
			InitialInvestment: decimal.NewFromFloat(raw.Params.InitialInvestment),
			BuyWindow:         raw.Params.BuyWindow,
			SellWindow:        raw.Params.SellWindow,
		},
		Result:    raw.Result,
		CreatedAt: raw.CreatedAt,
	}
	return nil
}
