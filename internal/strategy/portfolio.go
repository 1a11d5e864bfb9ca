package strategy

import (
	"github.com/shopspring/decimal"

	"backtide/internal/domain"
)

// portfolio is the running state of one replay. It lives only for the
// duration of a single Simulate call.
type portfolio struct {
	cash        decimal.Decimal
	shares      int64
	peak        decimal.Decimal
	maxDrawdown decimal.Decimal
	trades      int
	history     []domain.Transaction
}

func newPortfolio(initial decimal.Decimal) *portfolio {
	return &portfolio{
		cash:        initial,
		peak:        initial,
		maxDrawdown: decimal.Zero,
		history:     []domain.Transaction{},
	}
}

func (p *portfolio) value(price decimal.Decimal) decimal.Decimal {
	return p.cash.Add(price.Mul(decimal.NewFromInt(p.shares)))
}

// mark values the portfolio at price and updates the peak or the drawdown,
// never both on the same bar.
func (p *portfolio) mark(price decimal.Decimal) decimal.Decimal {
	v := p.value(price)
	if v.GreaterThan(p.peak) {
		p.peak = v
		return v
	}
	dd := p.peak.Sub(v).Div(p.peak)
	if dd.GreaterThan(p.maxDrawdown) {
		p.maxDrawdown = dd
	}
	return v
}

// buyAll spends as much cash as buys whole shares at the bar close. It reports
// whether any shares were bought.
func (p *portfolio) buyAll(bar domain.PricePoint) bool {
	qty, _ := p.cash.QuoRem(bar.Close, 0)
	if !qty.IsPositive() {
		return false
	}
	cost := qty.Mul(bar.Close)
	p.cash = p.cash.Sub(cost)
	p.shares += qty.IntPart()
	p.trades++
	p.history = append(p.history, domain.Transaction{
		Date:   bar.Date,
		Action: domain.ActionBuy,
		Price:  bar.Close.InexactFloat64(),
		Shares: qty.IntPart(),
		Value:  cost.InexactFloat64(),
	})
	return true
}

// sellAll liquidates the whole position at the bar close.
func (p *portfolio) sellAll(bar domain.PricePoint) {
	proceeds := bar.Close.Mul(decimal.NewFromInt(p.shares))
	p.history = append(p.history, domain.Transaction{
		Date:   bar.Date,
		Action: domain.ActionSell,
		Price:  bar.Close.InexactFloat64(),
		Shares: p.shares,
		Value:  proceeds.InexactFloat64(),
	})
	p.cash = p.cash.Add(proceeds)
	p.shares = 0
	p.trades++
}
