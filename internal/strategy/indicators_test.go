package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
)

func decimals(vals ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

func TestMovingAverage(t *testing.T) {
	got := MovingAverage(decimals("1", "2", "3", "4", "5"), 3)
	want := []string{"", "", "2", "3", "4"}

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if w == "" {
			if got[i].Valid {
				t.Errorf("position %d valid = true, want undefined", i)
			}
			continue
		}
		if !got[i].Valid || !got[i].Decimal.Equal(decimal.RequireFromString(w)) {
			t.Errorf("position %d = %v, want %s", i, got[i], w)
		}
	}
}

func TestMovingAverageWindowLongerThanSeries(t *testing.T) {
	for i, v := range MovingAverage(decimals("1", "2"), 3) {
		if v.Valid {
			t.Errorf("position %d valid = true, want undefined", i)
		}
	}
}

func TestMovingAverageWindowOne(t *testing.T) {
	in := decimals("10.5", "9.25")
	for i, v := range MovingAverage(in, 1) {
		if !v.Valid || !v.Decimal.Equal(in[i]) {
			t.Errorf("position %d = %v, want %s", i, v, in[i])
		}
	}
}

func TestCleanSeries(t *testing.T) {
	raw := dailySeries(jan1, 5, 0, -2, 7)
	kept, dropped := CleanSeries(raw)
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if len(kept) != 2 || !kept[0].Close.Equal(decimal.NewFromInt(5)) || !kept[1].Close.Equal(decimal.NewFromInt(7)) {
		t.Errorf("kept = %+v, want closes [5 7]", kept)
	}
}
