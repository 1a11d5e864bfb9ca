package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backtide/internal/config"
	"backtide/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("aapl", "us", 2024)
	want := filepath.Join("/data", "us", "daily", "AAPL", "2024.parquet")
	if bp != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, want)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: day(2023, 12, 29), Open: 193.9, High: 194.4, Low: 191.7, Close: 192.53, Volume: 42628800},
		{Symbol: "AAPL", Timestamp: day(2024, 1, 2), Open: 185.0, High: 186.5, Low: 184.0, Close: 185.5, Volume: 50000000},
		{Symbol: "AAPL", Timestamp: day(2024, 1, 3), Open: 185.5, High: 187.0, Low: 185.0, Close: 186.0, Volume: 45000000},
	}
	if err := ps.WriteBars(ctx, "us", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := ps.ReadBars(ctx, "AAPL", "us", day(2024, 1, 1), day(2024, 12, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 185.5 || got[1].Close != 186.0 {
		t.Errorf("closes = [%v %v], want [185.5 186]", got[0].Close, got[1].Close)
	}

	all, err := ps.ReadBars(ctx, "AAPL", "us", seriesStart, seriesEnd)
	if err != nil {
		t.Fatalf("ReadBars (all): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ReadBars over full history returned %d bars, want 3", len(all))
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	first := []domain.Bar{{Symbol: "MSFT", Timestamp: day(2024, 3, 1), Close: 403.0}}
	if err := ps.WriteBars(ctx, "us", first); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}
	// Same date again with a corrected close, plus a new date.
	second := []domain.Bar{
		{Symbol: "MSFT", Timestamp: day(2024, 3, 1), Close: 404.0},
		{Symbol: "MSFT", Timestamp: day(2024, 3, 4), Close: 408.0},
	}
	if err := ps.WriteBars(ctx, "us", second); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, "MSFT", "us", day(2024, 1, 1), day(2024, 12, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 404.0 {
		t.Errorf("merged close = %v, want 404", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	syms, err := ps.ListSymbols(ctx, "us")
	if err != nil || len(syms) != 0 {
		t.Fatalf("ListSymbols on empty store = %v, %v; want empty, nil", syms, err)
	}

	bars := []domain.Bar{
		{Symbol: "GOOGL", Timestamp: day(2024, 1, 2), Close: 140.5},
		{Symbol: "AAPL", Timestamp: day(2024, 1, 2), Close: 185.5},
	}
	if err := ps.WriteBars(ctx, "us", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	syms, err = ps.ListSymbols(ctx, "us")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(syms) != 2 || syms[0] != "AAPL" || syms[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", syms)
	}
}

func TestSQLiteStoreBars(t *testing.T) {
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	}()
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "ibm", Timestamp: day(2024, 1, 3), Close: 160.1, Volume: 10},
		{Symbol: "IBM", Timestamp: day(2024, 1, 2), Close: 161.5, Volume: 12},
	}
	if err := st.WriteBars(ctx, "us", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	// Upsert replaces the stored row for the same date.
	if err := st.WriteBars(ctx, "us", []domain.Bar{{Symbol: "IBM", Timestamp: day(2024, 1, 3), Close: 159.9}}); err != nil {
		t.Fatalf("WriteBars (upsert): %v", err)
	}

	got, err := st.ReadBars(ctx, "IBM", "us", seriesStart, seriesEnd)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(day(2024, 1, 2)) || got[1].Close != 159.9 {
		t.Errorf("ReadBars = %+v, want ascending dates with upserted close", got)
	}

	syms, err := st.ListSymbols(ctx, "us")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(syms) != 1 || syms[0] != "IBM" {
		t.Errorf("ListSymbols = %v, want [IBM]", syms)
	}
	if other, _ := st.ListSymbols(ctx, "cn"); len(other) != 0 {
		t.Errorf("ListSymbols(cn) = %v, want empty", other)
	}
}

func TestSQLiteStoreRuns(t *testing.T) {
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mk := func(id, sym string, offset time.Duration) *domain.Run {
		return &domain.Run{
			ID: id,
			Params: domain.BacktestParams{
				Symbol:            sym,
				InitialInvestment: decimal.RequireFromString("10000.50"),
				BuyWindow:         5,
				SellWindow:        10,
			},
			Result: &domain.BacktestResult{
				TotalReturn:    0.0376,
				TradesExecuted: 2,
				FinalValue:     10376,
				TransactionHistory: []domain.Transaction{
					{Date: day(2023, 1, 11), Action: domain.ActionBuy, Price: 106, Shares: 94, Value: 9964},
				},
			},
			CreatedAt: base.Add(offset),
		}
	}
	for _, r := range []*domain.Run{mk("a", "TEST", 0), mk("b", "TEST", 500*time.Millisecond), mk("c", "OTHER", time.Second)} {
		if err := st.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun(%s): %v", r.ID, err)
		}
	}

	got, err := st.GetRun(ctx, "a")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Params.InitialInvestment.String() != "10000.5" {
		t.Errorf("InitialInvestment = %s, want 10000.5", got.Params.InitialInvestment)
	}
	if len(got.Result.TransactionHistory) != 1 || got.Result.TransactionHistory[0].Shares != 94 {
		t.Errorf("TransactionHistory = %+v", got.Result.TransactionHistory)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}

	if _, err := st.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrRunNotFound", err)
	}

	runs, err := st.ListRuns(ctx, "TEST", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "b" || runs[1].ID != "a" {
		t.Errorf("ListRuns(TEST) ids = %v, want [b a]", runIDs(runs))
	}

	all, err := st.ListRuns(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListRuns(all): %v", err)
	}
	if len(all) != 2 || all[0].ID != "c" {
		t.Errorf("ListRuns(all, 2) ids = %v, want [c b]", runIDs(all))
	}
}

func runIDs(runs []domain.Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}

func TestSeriesSource(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	bars := []domain.Bar{
		{Symbol: "TEST", Timestamp: day(2023, 1, 3), Close: 98},
		{Symbol: "TEST", Timestamp: day(2023, 1, 1), Close: 100},
		{Symbol: "TEST", Timestamp: day(2023, 1, 2), Close: 102},
	}
	if err := ps.WriteBars(ctx, "us", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	src := NewSeriesSource(ps, "us", time.Hour)
	pts, err := src.PriceSeries(ctx, "test")
	if err != nil {
		t.Fatalf("PriceSeries: %v", err)
	}
	want := []int64{100, 102, 98}
	if len(pts) != len(want) {
		t.Fatalf("PriceSeries returned %d points, want %d", len(pts), len(want))
	}
	for i, w := range want {
		if !pts[i].Close.Equal(decimal.NewFromInt(w)) {
			t.Errorf("point %d close = %s, want %d", i, pts[i].Close, w)
		}
	}

	// Cached until invalidated.
	if err := ps.WriteBars(ctx, "us", []domain.Bar{{Symbol: "TEST", Timestamp: day(2023, 1, 4), Close: 103}}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	if pts, _ := src.PriceSeries(ctx, "TEST"); len(pts) != 3 {
		t.Errorf("cached series has %d points, want 3", len(pts))
	}
	src.Invalidate("test")
	if pts, _ := src.PriceSeries(ctx, "TEST"); len(pts) != 4 {
		t.Errorf("series after Invalidate has %d points, want 4", len(pts))
	}
}

func TestSeriesSourceReturnsCopies(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	if err := ps.WriteBars(ctx, "us", []domain.Bar{{Symbol: "TEST", Timestamp: day(2023, 1, 1), Close: 100}}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	src := NewSeriesSource(ps, "us", time.Hour)

	for i := 0; i < 2; i++ {
		pts, err := src.PriceSeries(ctx, "TEST")
		if err != nil {
			t.Fatalf("PriceSeries: %v", err)
		}
		if !pts[0].Close.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("read %d close = %s, want 100", i, pts[0].Close)
		}
		pts[0].Close = decimal.NewFromInt(-1)
	}
}

// gatedBars holds ReadBars until release is closed.
type gatedBars struct {
	BarStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBars) ReadBars(ctx context.Context, symbol, market string, start, end time.Time) ([]domain.Bar, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.BarStore.ReadBars(ctx, symbol, market, start, end)
}

func TestSeriesSourceInvalidateDuringRead(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	if err := ps.WriteBars(ctx, "us", []domain.Bar{{Symbol: "TEST", Timestamp: day(2023, 1, 1), Close: 100}}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	gated := &gatedBars{BarStore: ps, entered: make(chan struct{}, 1), release: make(chan struct{})}
	src := NewSeriesSource(gated, "us", time.Hour)

	done := make(chan error, 1)
	go func() {
		_, err := src.PriceSeries(ctx, "TEST")
		done <- err
	}()
	<-gated.entered
	src.Invalidate("TEST")
	close(gated.release)
	if err := <-done; err != nil {
		t.Fatalf("PriceSeries: %v", err)
	}

	if n := src.cache.Len(); n != 0 {
		t.Errorf("cache holds %d series read before the invalidation, want 0", n)
	}
	if _, err := src.PriceSeries(ctx, "TEST"); err != nil {
		t.Fatalf("PriceSeries: %v", err)
	}
	if n := src.cache.Len(); n != 1 {
		t.Errorf("cache holds %d series after a fresh read, want 1", n)
	}
}

func TestSeriesSourceNoData(t *testing.T) {
	src := NewSeriesSource(NewParquetStore(t.TempDir()), "us", time.Hour)
	_, err := src.PriceSeries(context.Background(), "NOPE")
	if !errors.Is(err, domain.ErrNoDataAvailable) {
		t.Fatalf("PriceSeries error = %v, want ErrNoDataAvailable", err)
	}
}

func TestToSeriesDeduplicatesDates(t *testing.T) {
	pts := toSeries([]domain.Bar{
		{Timestamp: day(2023, 1, 2), Close: 1},
		{Timestamp: day(2023, 1, 1).Add(14 * time.Hour), Close: 2},
		{Timestamp: day(2023, 1, 1).Add(21 * time.Hour), Close: 3},
	})
	if len(pts) != 2 {
		t.Fatalf("toSeries returned %d points, want 2", len(pts))
	}
	if !pts[0].Close.Equal(decimal.NewFromInt(3)) {
		t.Errorf("deduplicated close = %s, want the later bar (3)", pts[0].Close)
	}
}

func TestQualifiedTable(t *testing.T) {
	if got, err := qualifiedTable("market", "daily_bars"); err != nil || got != "market.daily_bars" {
		t.Errorf("qualifiedTable = %q, %v; want market.daily_bars, nil", got, err)
	}
	for _, bad := range [][2]string{{"market; DROP", "t"}, {"db", "t-1"}, {"", "t"}} {
		if _, err := qualifiedTable(bad[0], bad[1]); err == nil {
			t.Errorf("qualifiedTable(%q, %q) accepted an invalid identifier", bad[0], bad[1])
		}
	}
	if sql := createTableSQL("market.daily_bars"); !strings.Contains(sql, "ReplacingMergeTree") {
		t.Errorf("createTableSQL missing engine: %s", sql)
	}
}

func TestClampDate(t *testing.T) {
	if got := clampDate(time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)); !got.Equal(date32Min) {
		t.Errorf("clampDate(year 1) = %v, want %v", got, date32Min)
	}
	if got := clampDate(day(2024, 6, 1).Add(5 * time.Hour)); !got.Equal(day(2024, 6, 1)) {
		t.Errorf("clampDate = %v, want 2024-06-01", got)
	}
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := &config.Config{Storage: config.Storage{Driver: config.DriverParquet, DataDir: dir}}
	s, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open(parquet): %v", err)
	}
	if _, ok := s.Bars.(*ParquetStore); !ok || s.Runs != nil {
		t.Errorf("Open(parquet) = %T, runs %v; want *ParquetStore and no run store", s.Bars, s.Runs)
	}
	s.Close()

	cfg.Storage = config.Storage{Driver: config.DriverSQLite, SQLitePath: filepath.Join(dir, "all.db")}
	s, err = Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	if s.Bars != s.Runs.(BarStore) {
		t.Error("Open(sqlite) should share one SQLiteStore for bars and runs")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	cfg.Storage.Driver = "mongo"
	if _, err := Open(ctx, cfg); err == nil {
		t.Error("Open with unknown driver returned nil error")
	}
}

func TestClickHouseStoreIntegration(t *testing.T) {
	addr := envOrSkip(t, "BACKTIDE_CLICKHOUSE_ADDR")
	ctx := context.Background()
	st, err := NewClickHouseStore(ctx, config.ClickHouse{Addr: addr, Database: "default", Username: "default", Table: "backtide_test_bars"})
	if err != nil {
		t.Fatalf("NewClickHouseStore: %v", err)
	}
	defer st.Close()

	if err := st.WriteBars(ctx, "us", []domain.Bar{{Symbol: "CHX", Timestamp: day(2024, 1, 2), Close: 10}}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	bars, err := st.ReadBars(ctx, "CHX", "us", seriesStart, seriesEnd)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) == 0 {
		t.Error("ReadBars returned no bars after WriteBars")
	}
}

func envOrSkip(t *testing.T, name string) string {
	t.Helper()
	v := os.Getenv(name)
	if v == "" {
		t.Skipf("%s not set", name)
	}
	return v
}
