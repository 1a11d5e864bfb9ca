// Package engine is the calling layer around the backtester: it caches
// results, coalesces identical in-flight requests, fans out parameter sweeps,
// records run history and notifies subscribers of fresh runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"backtide/internal/cache"
	"backtide/internal/domain"
	"backtide/internal/report"
	"backtide/internal/store"
)

// ErrHistoryDisabled is returned by history reads when no RunStore is wired.
var ErrHistoryDisabled = errors.New("run history is not configured")

// DefaultMaxSweepPairs bounds a sweep when WithMaxSweepPairs is not given.
const DefaultMaxSweepPairs = 400

// Runner executes one backtest. *strategy.Backtester satisfies it.
type Runner interface {
	Run(ctx context.Context, params domain.BacktestParams) (*domain.BacktestResult, error)
	RunWindow(ctx context.Context, params domain.BacktestParams, from, to time.Time) (*domain.BacktestResult, []domain.PricePoint, error)
}

// Notifier receives every freshly computed run.
type Notifier interface {
	PublishRun(run *domain.Run)
}

// Invalidator drops cached price data for a symbol.
type Invalidator interface {
	Invalidate(symbol string)
}

type resultKey struct {
	symbol     string
	investment string
	buy        int
	sell       int
}

func keyOf(p domain.BacktestParams) resultKey {
	return resultKey{
		symbol:     strings.ToUpper(p.Symbol),
		investment: p.InitialInvestment.String(),
		buy:        p.BuyWindow,
		sell:       p.SellWindow,
	}
}

func (k resultKey) String() string {
	return fmt.Sprintf("%s|%s|%d|%d", k.symbol, k.investment, k.buy, k.sell)
}

// Engine coordinates backtest execution.
type Engine struct {
	runner      Runner
	results     *cache.Cache[resultKey, *domain.BacktestResult]
	group       singleflight.Group
	runs        store.RunStore
	notifier    Notifier
	invalidator Invalidator
	parallelism int
	maxPairs    int
	now         func() time.Time
	log         *slog.Logger

	// gens counts invalidations per symbol. A run only caches its result
	// if the generation it started under is still current.
	mu   sync.Mutex
	gens map[string]uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunStore persists every freshly computed run.
func WithRunStore(rs store.RunStore) Option {
	return func(e *Engine) { e.runs = rs }
}

// WithNotifier publishes every freshly computed run.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithInvalidator forwards Invalidate calls to a price-series cache.
func WithInvalidator(inv Invalidator) Option {
	return func(e *Engine) { e.invalidator = inv }
}

// WithParallelism bounds the number of concurrent runs in a sweep.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithMaxSweepPairs caps the number of window pairs one sweep may run.
func WithMaxSweepPairs(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxPairs = n
		}
	}
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine around runner. Results are cached for
// resultTTL; a non-positive value disables result caching.
func NewEngine(runner Runner, resultTTL time.Duration, opts ...Option) *Engine {
	e := &Engine{
		runner:      runner,
		parallelism: 4,
		maxPairs:    DefaultMaxSweepPairs,
		now:         time.Now,
		log:         slog.Default().With("component", "engine"),
		results:     cache.New[resultKey, *domain.BacktestResult](resultTTL),
		gens:        make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunBacktest validates params, then returns the cached result for the same
// parameters or computes, caches, records and publishes a new one. Every
// caller gets its own copy of the result.
//
// Identical concurrent requests share one computation. It runs detached from
// any single caller's cancellation; a caller whose ctx ends stops waiting and
// gets ctx.Err() while the others still receive the result.
func (e *Engine) RunBacktest(ctx context.Context, params domain.BacktestParams) (*domain.BacktestResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params.Symbol = strings.ToUpper(strings.TrimSpace(params.Symbol))

	key := keyOf(params)
	if res, ok := e.results.Get(key); ok {
		e.log.Info("backtest cache hit", "key", key.String())
		return res.Clone(), nil
	}

	gen := e.generation(key.symbol)
	flightCtx := context.WithoutCancel(ctx)
	ch := e.group.DoChan(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		res, err := e.runner.Run(flightCtx, params)
		if err != nil {
			return nil, err
		}
		if !e.storeResult(key, gen, res) {
			e.log.Info("not caching result computed before invalidation", "key", key.String())
		}
		e.record(flightCtx, params, res)
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			e.log.Debug("backtest coalesced", "key", key.String())
		}
		return r.Val.(*domain.BacktestResult).Clone(), nil
	}
}

func (e *Engine) generation(symbol string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gens[symbol]
}

// storeResult caches res unless symbol was invalidated after gen was read.
func (e *Engine) storeResult(key resultKey, gen uint64, res *domain.BacktestResult) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gens[key.symbol] != gen {
		return false
	}
	e.results.Set(key, res)
	return true
}

func (e *Engine) record(ctx context.Context, params domain.BacktestParams, res *domain.BacktestResult) {
	if e.runs == nil && e.notifier == nil {
		return
	}
	run := &domain.Run{
		ID:        uuid.NewString(),
		Params:    params,
		Result:    res.Clone(),
		CreatedAt: e.now().UTC(),
	}
	if e.runs != nil {
		if err := e.runs.SaveRun(ctx, run); err != nil {
			e.log.Error("saving run", "id", run.ID, "error", err)
		}
	}
	if e.notifier != nil {
		e.notifier.PublishRun(run)
	}
}

// ---------------------------------------------------------------------------
// Sweeps
// ---------------------------------------------------------------------------

// SweepEntry is one (buy, sell) window pair and its result.
type SweepEntry struct {
	BuyWindow  int                    `json:"buy_ma_window"`
	SellWindow int                    `json:"sell_ma_window"`
	Result     *domain.BacktestResult `json:"result"`
}

// Sweep runs every combination of buyWindows and sellWindows for symbol and
// returns the entries ordered by total return, best first. Ties keep window
// order. All pairs are validated before any run starts; the first failing
// run cancels the rest.
func (e *Engine) Sweep(ctx context.Context, symbol string, investment decimal.Decimal, buyWindows, sellWindows []int) ([]SweepEntry, error) {
	if len(buyWindows) == 0 || len(sellWindows) == 0 {
		return nil, fmt.Errorf("%w: sweep needs at least one buy and one sell window", domain.ErrInvalidParameter)
	}
	if n := len(buyWindows) * len(sellWindows); n > e.maxPairs {
		return nil, fmt.Errorf("%w: sweep of %d window pairs exceeds the limit of %d", domain.ErrInvalidParameter, n, e.maxPairs)
	}

	entries := make([]SweepEntry, 0, len(buyWindows)*len(sellWindows))
	for _, b := range buyWindows {
		for _, s := range sellWindows {
			p := domain.BacktestParams{Symbol: symbol, InitialInvestment: investment, BuyWindow: b, SellWindow: s}
			if err := p.Validate(); err != nil {
				return nil, err
			}
			entries = append(entries, SweepEntry{BuyWindow: b, SellWindow: s})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i := range entries {
		g.Go(func() error {
			res, err := e.RunBacktest(gctx, domain.BacktestParams{
				Symbol:            symbol,
				InitialInvestment: investment,
				BuyWindow:         entries[i].BuyWindow,
				SellWindow:        entries[i].SellWindow,
			})
			if err != nil {
				return err
			}
			entries[i].Result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Result.TotalReturn > entries[j].Result.TotalReturn
	})
	e.log.Info("sweep completed", "symbol", symbol, "pairs", len(entries))
	return entries, nil
}

// Report backtests params over bars dated within [from, to] (zero bounds are
// open) and summarises the outcome. Reports bypass the result cache.
func (e *Engine) Report(ctx context.Context, params domain.BacktestParams, from, to time.Time) (report.Report, error) {
	if err := params.Validate(); err != nil {
		return report.Report{}, err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return report.Report{}, fmt.Errorf("%w: end date is before start date", domain.ErrInvalidParameter)
	}
	params.Symbol = strings.ToUpper(strings.TrimSpace(params.Symbol))

	res, series, err := e.runner.RunWindow(ctx, params, from, to)
	if err != nil {
		return report.Report{}, err
	}
	return report.Build(params, res, series), nil
}

// ---------------------------------------------------------------------------
// History and cache control
// ---------------------------------------------------------------------------

// Runs lists recorded runs, newest first.
func (e *Engine) Runs(ctx context.Context, symbol string, limit int) ([]domain.Run, error) {
	if e.runs == nil {
		return nil, ErrHistoryDisabled
	}
	runs, err := e.runs.ListRuns(ctx, strings.ToUpper(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	return runs, nil
}

// Run returns the recorded run with id.
func (e *Engine) Run(ctx context.Context, id string) (*domain.Run, error) {
	if e.runs == nil {
		return nil, ErrHistoryDisabled
	}
	return e.runs.GetRun(ctx, id)
}

// Invalidate drops every cached result and price series for symbol. Runs
// already in flight for symbol still return their result but do not cache it.
func (e *Engine) Invalidate(symbol string) {
	sym := strings.ToUpper(symbol)
	e.mu.Lock()
	e.gens[sym]++
	e.results.DeleteFunc(func(k resultKey) bool { return k.symbol == sym })
	e.mu.Unlock()
	if e.invalidator != nil {
		e.invalidator.Invalidate(sym)
	}
}
