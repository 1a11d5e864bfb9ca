package util

import (
	"time"

	"backtide/internal/domain"
)

// TradingCalendar answers trading-day questions for a market. Only weekends
// are treated as closed; exchange holidays are not modelled.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar creates a TradingCalendar for the given market.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	name := "America/New_York"
	if market == domain.MarketCN {
		name = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	return &TradingCalendar{loc: loc}
}

// IsTradingDay reports whether t falls on a weekday in the market's zone.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	switch t.In(tc.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// LastTradingDay returns the most recent trading day strictly before t, as a
// UTC midnight date. Used as the end of a daily-bar fetch so the current,
// incomplete session is never requested.
func (tc *TradingCalendar) LastTradingDay(t time.Time) time.Time {
	local := t.In(tc.loc)
	d := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
