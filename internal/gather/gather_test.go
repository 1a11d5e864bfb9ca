package gather

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backtide/internal/config"
	"backtide/internal/store"
)

// fakeClient serves canned bars and fails the first failures[symbol] calls.
type fakeClient struct {
	mu       sync.Mutex
	bars     map[string][]marketdata.Bar
	failures map[string]int
	calls    map[string]int
	reqs     []marketdata.GetBarsRequest
}

func (c *fakeClient) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[symbol]++
	c.reqs = append(c.reqs, req)
	if c.failures[symbol] >= c.calls[symbol] {
		return nil, errors.New("upstream unavailable")
	}
	return c.bars[symbol], nil
}

func newFakeClient() *fakeClient {
	ts := func(day int) time.Time { return time.Date(2024, 3, day, 4, 0, 0, 0, time.UTC) }
	return &fakeClient{
		bars: map[string][]marketdata.Bar{
			"IBM": {
				{Timestamp: ts(4), Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000},
				{Timestamp: ts(5), Open: 100.5, High: 102, Low: 100, Close: 101.25, Volume: 1200},
				{Timestamp: ts(6), Open: 101, High: 101, Low: 95, Close: 0, Volume: 900},
			},
			"AAPL": {
				{Timestamp: ts(4), Open: 170, High: 171, Low: 169, Close: 170.5, Volume: 5000},
			},
		},
		failures: map[string]int{},
		calls:    map[string]int{},
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Market = "us"
	cfg.Gather.StartDate = "2024-03-01"
	cfg.Gather.RateLimitPerMin = 0
	cfg.Gather.MaxAttempts = 3
	cfg.Gather.RetryBaseDelay = time.Millisecond
	return cfg
}

// Monday 2024-03-11; the last finished session is Friday 2024-03-08.
var monday = time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC)

func TestLookback(t *testing.T) {
	end := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)

	r, err := Lookback(end, 1, 10)
	if err != nil {
		t.Fatalf("Lookback: %v", err)
	}
	want := time.Date(2023, 2, 19, 0, 0, 0, 0, time.UTC)
	if !r.Start.Equal(want) || !r.End.Equal(end) {
		t.Errorf("Lookback(1y10d) = %v..%v, want %v..%v", r.Start, r.End, want, end)
	}

	if _, err := Lookback(end, 0, 0); err == nil {
		t.Error("Lookback(0, 0) returned nil error")
	}
	if _, err := Lookback(end, -1, 5); err == nil {
		t.Error("Lookback(-1, 5) returned nil error")
	}
}

func TestNewDailyBarFetcherValidation(t *testing.T) {
	cfg := testConfig(t)
	s := store.NewParquetStore(cfg.Storage.DataDir)

	if _, err := NewDailyBarFetcher(newFakeClient(), s, cfg, []string{" ", ""}); err == nil {
		t.Error("expected error for empty symbol list")
	}

	cfg.Gather.StartDate = "03/01/2024"
	if _, err := NewDailyBarFetcher(newFakeClient(), s, cfg, []string{"IBM"}); err == nil {
		t.Error("expected error for malformed start date")
	}

	cfg.Gather.StartDate = ""
	if _, err := NewDailyBarFetcher(newFakeClient(), s, cfg, []string{"IBM"}); err == nil {
		t.Error("expected error for missing start date")
	}
}

func TestDailyBarFetcherRun(t *testing.T) {
	cfg := testConfig(t)
	s := store.NewParquetStore(cfg.Storage.DataDir)
	client := newFakeClient()

	var stored []string
	f, err := NewDailyBarFetcher(client, s, cfg, []string{"ibm", "AAPL", "IBM"},
		WithNow(func() time.Time { return monday }),
		WithOnStored(func(sym string) { stored = append(stored, sym) }),
	)
	if err != nil {
		t.Fatalf("NewDailyBarFetcher: %v", err)
	}
	if got := f.Name(); got != "daily-bars" {
		t.Errorf("Name() = %q, want daily-bars", got)
	}

	if err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if client.calls["IBM"] != 1 {
		t.Errorf("IBM fetched %d times, want 1 (duplicates collapsed)", client.calls["IBM"])
	}
	if strings.Join(stored, ",") != "IBM,AAPL" {
		t.Errorf("stored callbacks = %v, want [IBM AAPL]", stored)
	}

	req := client.reqs[0]
	if req.TimeFrame != marketdata.OneDay {
		t.Errorf("TimeFrame = %v, want OneDay", req.TimeFrame)
	}
	if !req.Start.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v, want 2024-03-01", req.Start)
	}
	if !req.End.Equal(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("End = %v, want 2024-03-09 (day after last session)", req.End)
	}

	bars, err := s.ReadBars(context.Background(), "IBM", "us",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("stored %d IBM bars, want 3 (non-positive close kept)", len(bars))
	}
	if bars[0].Timestamp.Hour() != 0 {
		t.Errorf("bar timestamp %v not truncated to date", bars[0].Timestamp)
	}
	if bars[1].Close != 101.25 {
		t.Errorf("bars[1].Close = %v, want 101.25", bars[1].Close)
	}
}

func TestDailyBarFetcherRetries(t *testing.T) {
	cfg := testConfig(t)
	s := store.NewParquetStore(cfg.Storage.DataDir)
	client := newFakeClient()
	client.failures["IBM"] = 2

	f, err := NewDailyBarFetcher(client, s, cfg, []string{"IBM"}, WithNow(func() time.Time { return monday }))
	if err != nil {
		t.Fatalf("NewDailyBarFetcher: %v", err)
	}
	if err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if client.calls["IBM"] != 3 {
		t.Errorf("IBM fetched %d times, want 3", client.calls["IBM"])
	}
}

func TestDailyBarFetcherContinuesPastFailures(t *testing.T) {
	cfg := testConfig(t)
	s := store.NewParquetStore(cfg.Storage.DataDir)
	client := newFakeClient()
	client.failures["IBM"] = 10

	f, err := NewDailyBarFetcher(client, s, cfg, []string{"IBM", "AAPL"}, WithNow(func() time.Time { return monday }))
	if err != nil {
		t.Fatalf("NewDailyBarFetcher: %v", err)
	}
	err = f.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "IBM") {
		t.Fatalf("Run error = %v, want IBM failure", err)
	}
	if client.calls["IBM"] != cfg.Gather.MaxAttempts {
		t.Errorf("IBM fetched %d times, want %d", client.calls["IBM"], cfg.Gather.MaxAttempts)
	}

	symbols, err := s.ListSymbols(context.Background(), "us")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if strings.Join(symbols, ",") != "AAPL" {
		t.Errorf("stored symbols = %v, want [AAPL]", symbols)
	}
}

func TestDailyBarFetcherWithRange(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gather.StartDate = ""
	client := newFakeClient()
	r := DateRange{
		Start: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	f, err := NewDailyBarFetcher(client, store.NewParquetStore(cfg.Storage.DataDir), cfg, []string{"AAPL"}, WithRange(r))
	if err != nil {
		t.Fatalf("NewDailyBarFetcher: %v", err)
	}
	if err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := client.reqs[0].End; !got.Equal(r.End.AddDate(0, 0, 1)) {
		t.Errorf("End = %v, want %v", got, r.End.AddDate(0, 0, 1))
	}
}
