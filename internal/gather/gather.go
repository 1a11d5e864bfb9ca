// Package gather pulls daily price bars from upstream market-data providers
// into a store.BarStore.
package gather

import (
	"context"
	"fmt"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run fetches and stores data, returning when all work is done or ctx is
	// cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Lookback returns the range ending at end and reaching back the given
// number of years and days. Both must be non-negative and at least one
// positive.
func Lookback(end time.Time, years, days int) (DateRange, error) {
	if years < 0 || days < 0 {
		return DateRange{}, fmt.Errorf("years and days must be non-negative integers")
	}
	if years == 0 && days == 0 {
		return DateRange{}, fmt.Errorf("specify years, days, or both")
	}
	return DateRange{Start: end.AddDate(-years, 0, -days), End: end}, nil
}
