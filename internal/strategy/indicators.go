package strategy

import (
	"github.com/shopspring/decimal"

	"backtide/internal/domain"
)

// MovingAverage returns the trailing simple moving average of values over
// window bars. Position i averages values[i-window+1..i]; positions with
// fewer than window bars behind them are left invalid.
func MovingAverage(values []decimal.Decimal, window int) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, len(values))
	if window <= 0 {
		return out
	}
	n := decimal.NewFromInt(int64(window))
	sum := decimal.Zero
	for i, v := range values {
		sum = sum.Add(v)
		if i >= window {
			sum = sum.Sub(values[i-window])
		}
		if i >= window-1 {
			out[i] = decimal.NewNullDecimal(sum.Div(n))
		}
	}
	return out
}

// CleanSeries drops points whose close is zero or negative. It returns the
// kept points in their original order and the number dropped.
func CleanSeries(series []domain.PricePoint) ([]domain.PricePoint, int) {
	kept := make([]domain.PricePoint, 0, len(series))
	for _, p := range series {
		if p.Close.IsPositive() {
			kept = append(kept, p)
		}
	}
	return kept, len(series) - len(kept)
}

func closes(series []domain.PricePoint) []decimal.Decimal {
	out := make([]decimal.Decimal, len(series))
	for i, p := range series {
		out[i] = p.Close
	}
	return out
}
