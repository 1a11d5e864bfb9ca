package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backtide/internal/config"
	"backtide/internal/domain"
	"backtide/internal/store"
	"backtide/internal/util"
)

// Compile-time interface check.
var _ Gatherer = (*DailyBarFetcher)(nil)

// BarsClient is the subset of the Alpaca market-data client used here.
type BarsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// NewAlpacaClient builds a market-data client from configuration.
func NewAlpacaClient(cfg config.Alpaca) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return marketdata.NewClient(opts)
}

// DailyBarFetcher downloads daily OHLCV bars for a list of symbols and
// upserts them into a BarStore.
type DailyBarFetcher struct {
	client      BarsClient
	store       store.BarStore
	market      string
	feed        string
	symbols     []string
	start       time.Time
	end         time.Time // zero means the last finished trading day
	limiter     *util.RateLimiter
	calendar    *util.TradingCalendar
	maxAttempts int
	baseDelay   time.Duration
	onStored    func(symbol string)
	now         func() time.Time
	log         *slog.Logger
}

// FetcherOption configures a DailyBarFetcher.
type FetcherOption func(*DailyBarFetcher)

// WithRange fixes the fetch window instead of start-date-to-yesterday.
func WithRange(r DateRange) FetcherOption {
	return func(f *DailyBarFetcher) {
		f.start = r.Start
		f.end = r.End
	}
}

// WithOnStored registers a callback run after a symbol's bars are written.
func WithOnStored(fn func(symbol string)) FetcherOption {
	return func(f *DailyBarFetcher) { f.onStored = fn }
}

// WithNow overrides the clock used to find the last trading day.
func WithNow(now func() time.Time) FetcherOption {
	return func(f *DailyBarFetcher) { f.now = now }
}

// NewDailyBarFetcher creates a fetcher for symbols using the gather, alpaca
// and storage settings in cfg.
func NewDailyBarFetcher(client BarsClient, s store.BarStore, cfg *config.Config, symbols []string, opts ...FetcherOption) (*DailyBarFetcher, error) {
	f := &DailyBarFetcher{
		client:      client,
		store:       s,
		market:      cfg.Storage.Market,
		feed:        cfg.Alpaca.Feed,
		symbols:     normalizeSymbols(symbols),
		limiter:     util.NewRateLimiter(cfg.Gather.RateLimitPerMin),
		calendar:    util.NewTradingCalendar(domain.Market(cfg.Storage.Market)),
		maxAttempts: cfg.Gather.MaxAttempts,
		baseDelay:   cfg.Gather.RetryBaseDelay,
		now:         time.Now,
		log:         slog.Default().With("gatherer", "daily-bars"),
	}
	if cfg.Gather.StartDate != "" {
		start, err := time.Parse(domain.DateLayout, cfg.Gather.StartDate)
		if err != nil {
			return nil, fmt.Errorf("parsing start date %q: %w", cfg.Gather.StartDate, err)
		}
		f.start = start
	}
	for _, opt := range opts {
		opt(f)
	}
	if len(f.symbols) == 0 {
		return nil, errors.New("no symbols to fetch")
	}
	if f.start.IsZero() {
		return nil, errors.New("no start date configured")
	}
	return f, nil
}

// Name returns the gatherer identifier.
func (f *DailyBarFetcher) Name() string { return "daily-bars" }

// Run fetches every symbol in turn. A failing symbol is logged and skipped;
// the failures are returned joined once all symbols were attempted.
func (f *DailyBarFetcher) Run(ctx context.Context) error {
	end := f.end
	if end.IsZero() {
		end = f.calendar.LastTradingDay(f.now())
	}
	if end.Before(f.start) {
		f.log.Info("nothing to fetch", "start", f.start.Format(domain.DateLayout), "end", end.Format(domain.DateLayout))
		return nil
	}

	f.log.Info("starting fetch",
		"symbols", len(f.symbols),
		"start", f.start.Format(domain.DateLayout),
		"end", end.Format(domain.DateLayout),
	)

	var errs []error
	for _, sym := range f.symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := f.FetchSymbol(ctx, sym, DateRange{Start: f.start, End: end})
		if err != nil {
			f.log.Error("fetch failed", "symbol", sym, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		f.log.Info("stored bars", "symbol", sym, "bars", n)
	}
	return errors.Join(errs...)
}

// FetchSymbol downloads daily bars for one symbol within r, retrying with
// exponential backoff, and writes them to the store. It returns the number
// of bars written.
func (f *DailyBarFetcher) FetchSymbol(ctx context.Context, symbol string, r DateRange) (int, error) {
	symbol = strings.ToUpper(symbol)

	var raw []marketdata.Bar
	attempt := 0
	err := util.Retry(ctx, f.maxAttempts, f.baseDelay, func() error {
		attempt++
		if err := f.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		raw, err = f.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.All,
			Start:      r.Start,
			End:        r.End.AddDate(0, 0, 1),
			Feed:       marketdata.Feed(f.feed),
		})
		if err != nil {
			f.log.Warn("GetBars failed", "symbol", symbol, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fetching bars after %d attempts: %w", attempt, err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  domain.TruncateDate(ab.Timestamp),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	if len(bars) == 0 {
		return 0, nil
	}
	if err := f.store.WriteBars(ctx, f.market, bars); err != nil {
		return 0, fmt.Errorf("writing bars: %w", err)
	}
	if f.onStored != nil {
		f.onStored(symbol)
	}
	return len(bars), nil
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
