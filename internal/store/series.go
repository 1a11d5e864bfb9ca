package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"backtide/internal/cache"
	"backtide/internal/domain"
	"backtide/internal/strategy"
)

// Compile-time interface check.
var _ strategy.PriceSource = (*SeriesSource)(nil)

// Full date range used when reading a symbol's whole history.
var (
	seriesStart = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	seriesEnd   = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
)

// SeriesSource adapts a BarStore into the close-price series the backtester
// consumes, caching each symbol's series for a fixed TTL.
type SeriesSource struct {
	bars   BarStore
	market string
	cache  *cache.Cache[string, []domain.PricePoint]
	log    *slog.Logger

	mu   sync.Mutex
	gens map[string]uint64
}

// NewSeriesSource reads series for market from bars. A non-positive ttl
// disables caching.
func NewSeriesSource(bars BarStore, market string, ttl time.Duration) *SeriesSource {
	return &SeriesSource{
		bars:   bars,
		market: market,
		cache:  cache.New[string, []domain.PricePoint](ttl),
		log:    slog.Default().With("component", "series"),
		gens:   make(map[string]uint64),
	}
}

// PriceSeries returns every stored close for symbol, ascending by date with
// one point per date. The caller owns the returned slice.
func (s *SeriesSource) PriceSeries(ctx context.Context, symbol string) ([]domain.PricePoint, error) {
	key := strings.ToUpper(symbol)
	if pts, ok := s.cache.Get(key); ok {
		return slices.Clone(pts), nil
	}

	s.mu.Lock()
	gen := s.gens[key]
	s.mu.Unlock()

	bars, err := s.bars.ReadBars(ctx, key, s.market, seriesStart, seriesEnd)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", key, err)
	}
	pts := toSeries(bars)
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w for symbol %s", domain.ErrNoDataAvailable, symbol)
	}

	s.mu.Lock()
	if s.gens[key] == gen {
		s.cache.Set(key, slices.Clone(pts))
	}
	s.mu.Unlock()
	s.log.Debug("loaded series", "symbol", key, "points", len(pts))
	return pts, nil
}

// Invalidate drops the cached series for symbol, typically after new bars
// were written. A read already in progress will not cache what it loaded.
func (s *SeriesSource) Invalidate(symbol string) {
	key := strings.ToUpper(symbol)
	s.mu.Lock()
	s.gens[key]++
	s.cache.Delete(key)
	s.mu.Unlock()
}

// toSeries orders bars by date and keeps the last bar seen for each date.
func toSeries(bars []domain.Bar) []domain.PricePoint {
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	pts := make([]domain.PricePoint, 0, len(sorted))
	for _, b := range sorted {
		pp := b.PricePoint()
		if n := len(pts); n > 0 && pts[n-1].Date.Equal(pp.Date) {
			pts[n-1] = pp
			continue
		}
		pts = append(pts, pp)
	}
	return pts
}
