// Package strategy implements the dual moving-average crossover backtest:
// parameter validation, series cleaning, rolling averages, and the
// all-in/all-out replay that produces a BacktestResult.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"backtide/internal/domain"
)

// PriceSource returns the close-price series for a symbol, ascending by date.
// Implementations return domain.ErrNoDataAvailable when the symbol has no
// rows.
type PriceSource interface {
	PriceSeries(ctx context.Context, symbol string) ([]domain.PricePoint, error)
}

// Backtester replays historical prices from a PriceSource through the
// crossover rule.
type Backtester struct {
	source PriceSource
	log    *slog.Logger
}

// NewBacktester creates a Backtester that reads series from source.
func NewBacktester(source PriceSource) *Backtester {
	return &Backtester{
		source: source,
		log:    slog.Default().With("component", "backtester"),
	}
}

// Run validates params, loads and cleans the symbol's series, and simulates
// the strategy over it. Validation happens before any data access.
func (bt *Backtester) Run(ctx context.Context, params domain.BacktestParams) (*domain.BacktestResult, error) {
	res, _, err := bt.RunWindow(ctx, params, time.Time{}, time.Time{})
	return res, err
}

// RunWindow is Run restricted to bars dated within [from, to]. A zero bound
// is open. It also returns the cleaned series the result was computed on.
func (bt *Backtester) RunWindow(ctx context.Context, params domain.BacktestParams, from, to time.Time) (*domain.BacktestResult, []domain.PricePoint, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	bt.log.Info("starting backtest",
		"symbol", params.Symbol,
		"initial_investment", params.InitialInvestment.String(),
		"buy_window", params.BuyWindow,
		"sell_window", params.SellWindow,
	)

	series, err := bt.source.PriceSeries(ctx, params.Symbol)
	if err != nil {
		return nil, nil, err
	}
	series = window(series, from, to)
	if len(series) == 0 {
		return nil, nil, fmt.Errorf("%w for symbol %s", domain.ErrNoDataAvailable, params.Symbol)
	}

	cleaned, dropped := CleanSeries(series)
	if dropped > 0 {
		bt.log.Warn("dropping non-positive prices", "symbol", params.Symbol, "dropped", dropped)
	}

	result := Simulate(params, cleaned)
	bt.log.Info("backtest completed",
		"symbol", params.Symbol,
		"total_return", fmt.Sprintf("%.2f%%", result.TotalReturn*100),
		"trades", result.TradesExecuted,
	)
	return result, cleaned, nil
}

// window returns the sub-slice of an ascending series dated within
// [from, to]; zero bounds are open.
func window(series []domain.PricePoint, from, to time.Time) []domain.PricePoint {
	lo, hi := 0, len(series)
	if !from.IsZero() {
		lo = sort.Search(len(series), func(i int) bool { return !series[i].Date.Before(from) })
	}
	if !to.IsZero() {
		hi = sort.Search(len(series), func(i int) bool { return series[i].Date.After(to) })
	}
	if lo >= hi {
		return nil
	}
	return series[lo:hi]
}

// barState is what the replay saw on one decision bar, after the transition.
type barState struct {
	index  int
	point  domain.PricePoint
	value  decimal.Decimal
	cash   decimal.Decimal
	shares int64
}

// Simulate runs the crossover replay over an already-cleaned series. params
// must be valid. Decisions start at index params.WarmupBars(); a series too
// short to reach it yields the zero-activity result.
func Simulate(params domain.BacktestParams, series []domain.PricePoint) *domain.BacktestResult {
	return simulate(params, series, nil)
}

func simulate(params domain.BacktestParams, series []domain.PricePoint, observe func(barState)) *domain.BacktestResult {
	prices := closes(series)
	buyMA := MovingAverage(prices, params.BuyWindow)
	sellMA := MovingAverage(prices, params.SellWindow)

	p := newPortfolio(params.InitialInvestment)
	warmup := params.WarmupBars()
	active := false
	for i, pt := range series {
		if i < warmup || !buyMA[i].Valid || !sellMA[i].Valid {
			continue
		}
		active = true

		value := p.mark(pt.Close)

		switch {
		case pt.Close.LessThan(buyMA[i].Decimal) && p.cash.IsPositive():
			p.buyAll(pt)
		case pt.Close.GreaterThan(sellMA[i].Decimal) && p.shares > 0:
			p.sellAll(pt)
		}

		if observe != nil {
			observe(barState{index: i, point: pt, value: value, cash: p.cash, shares: p.shares})
		}
	}

	if !active {
		return &domain.BacktestResult{
			TotalReturn:        0,
			MaxDrawdown:        0,
			TradesExecuted:     0,
			FinalValue:         params.InitialInvestment.InexactFloat64(),
			TransactionHistory: []domain.Transaction{},
		}
	}

	final := p.value(series[len(series)-1].Close)
	totalReturn := final.Sub(params.InitialInvestment).Div(params.InitialInvestment)
	return &domain.BacktestResult{
		TotalReturn:        totalReturn.InexactFloat64(),
		MaxDrawdown:        p.maxDrawdown.InexactFloat64(),
		TradesExecuted:     p.trades,
		FinalValue:         final.InexactFloat64(),
		TransactionHistory: p.history,
	}
}
