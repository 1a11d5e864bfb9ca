package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"backtide/internal/config"
	"backtide/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ClickHouseStore)(nil)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ClickHouseStore implements BarStore on a ReplacingMergeTree table, so a
// re-inserted (market, symbol, date) row supersedes the previous one.
type ClickHouseStore struct {
	conn  driver.Conn
	table string // fully qualified <database>.<table>
}

// NewClickHouseStore connects to ClickHouse, verifies the connection and
// ensures the bar table exists.
func NewClickHouseStore(ctx context.Context, cfg config.ClickHouse) (*ClickHouseStore, error) {
	table, err := qualifiedTable(cfg.Database, cfg.Table)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	s := &ClickHouseStore{conn: conn, table: table}
	if err := conn.Exec(ctx, createTableSQL(table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating %s: %w", table, err)
	}
	return s, nil
}

// Close closes the connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// WriteBars appends bars in a single batch.
func (s *ClickHouseStore) WriteBars(ctx context.Context, market string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return fmt.Errorf("preparing batch: %w", err)
	}
	for _, b := range bars {
		if err := batch.Append(
			market,
			strings.ToUpper(b.Symbol),
			domain.TruncateDate(b.Timestamp),
			b.Open, b.High, b.Low, b.Close,
			b.Volume, b.TradeCount, b.VWAP,
		); err != nil {
			batch.Abort()
			return fmt.Errorf("appending %s: %w", b.Symbol, err)
		}
	}
	return batch.Send()
}

// ReadBars returns de-duplicated bars for symbol within [start, end].
func (s *ClickHouseStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT symbol, date, open, high, low, close, volume, trade_count, vwap
		FROM %s FINAL
		WHERE market = ? AND symbol = ? AND date BETWEEN ? AND ?
		ORDER BY date`, s.table),
		market, strings.ToUpper(symbol), clampDate(start), clampDate(end),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(&b.Symbol, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradeCount, &b.VWAP); err != nil {
			return nil, err
		}
		b.Timestamp = b.Timestamp.UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ListSymbols returns the distinct symbols stored for market.
func (s *ClickHouseStore) ListSymbols(ctx context.Context, market string) ([]string, error) {
	rows, err := s.conn.Query(ctx,
		fmt.Sprintf(`SELECT DISTINCT symbol FROM %s WHERE market = ? ORDER BY symbol`, s.table), market)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	market      LowCardinality(String),
	symbol      LowCardinality(String),
	date        Date32,
	open        Float64,
	high        Float64,
	low         Float64,
	close       Float64,
	volume      Int64,
	trade_count Int64,
	vwap        Float64
) ENGINE = ReplacingMergeTree
ORDER BY (market, symbol, date)`, table)
}

func qualifiedTable(database, table string) (string, error) {
	if !identRe.MatchString(database) {
		return "", fmt.Errorf("invalid clickhouse database name %q", database)
	}
	if !identRe.MatchString(table) {
		return "", fmt.Errorf("invalid clickhouse table name %q", table)
	}
	return database + "." + table, nil
}

// Date32 covers 1900-01-01 through 2299-12-31.
var (
	date32Min = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	date32Max = time.Date(2299, 12, 31, 0, 0, 0, 0, time.UTC)
)

func clampDate(t time.Time) time.Time {
	t = domain.TruncateDate(t)
	if t.Before(date32Min) {
		return date32Min
	}
	if t.After(date32Max) {
		return date32Max
	}
	return t
}
