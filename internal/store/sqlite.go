package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"backtide/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ BarStore = (*SQLiteStore)(nil)
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements BarStore and RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS prices (
	symbol      TEXT    NOT NULL,
	market      TEXT    NOT NULL,
	date        TEXT    NOT NULL,
	open        REAL    NOT NULL,
	high        REAL    NOT NULL,
	low         REAL    NOT NULL,
	close       REAL    NOT NULL,
	volume      INTEGER NOT NULL,
	trade_count INTEGER NOT NULL DEFAULT 0,
	vwap        REAL    NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, market, date)
);

CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT    PRIMARY KEY,
	symbol             TEXT    NOT NULL,
	initial_investment TEXT    NOT NULL,
	buy_window         INTEGER NOT NULL,
	sell_window        INTEGER NOT NULL,
	total_return       REAL    NOT NULL,
	max_drawdown       REAL    NOT NULL,
	trades_executed    INTEGER NOT NULL,
	final_value        REAL    NOT NULL,
	transactions       TEXT    NOT NULL,
	created_at         TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_symbol_created ON runs (symbol, created_at);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars upserts bars keyed on (symbol, market, date) in one transaction.
func (s *SQLiteStore) WriteBars(ctx context.Context, market string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prices (symbol, market, date, open, high, low, close, volume, trade_count, vwap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, market, date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			trade_count = excluded.trade_count,
			vwap = excluded.vwap`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		date := domain.TruncateDate(b.Timestamp).Format(domain.DateLayout)
		if _, err := stmt.ExecContext(ctx,
			strings.ToUpper(b.Symbol), market, date,
			b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount, b.VWAP,
		); err != nil {
			return fmt.Errorf("upserting %s %s: %w", b.Symbol, date, err)
		}
	}
	return tx.Commit()
}

// ReadBars returns bars for symbol within [start, end], ascending by date.
func (s *SQLiteStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, date, open, high, low, close, volume, trade_count, vwap
		FROM prices
		WHERE symbol = ? AND market = ? AND date BETWEEN ? AND ?
		ORDER BY date`,
		strings.ToUpper(symbol), market,
		start.UTC().Format(domain.DateLayout), end.UTC().Format(domain.DateLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var (
			b    domain.Bar
			date string
		)
		if err := rows.Scan(&b.Symbol, &date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradeCount, &b.VWAP); err != nil {
			return nil, err
		}
		if b.Timestamp, err = time.Parse(domain.DateLayout, date); err != nil {
			return nil, fmt.Errorf("parsing stored date %q: %w", date, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ListSymbols returns the distinct symbols stored for market.
func (s *SQLiteStore) ListSymbols(ctx context.Context, market string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT symbol FROM prices WHERE market = ? ORDER BY symbol`, market)
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

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a run.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.Run) error {
	txs, err := json.Marshal(run.Result.TransactionHistory)
	if err != nil {
		return fmt.Errorf("encoding transactions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, symbol, initial_investment, buy_window, sell_window,
			total_return, max_drawdown, trades_executed, final_value, transactions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Params.Symbol, run.Params.InitialInvestment.String(),
		run.Params.BuyWindow, run.Params.SellWindow,
		run.Result.TotalReturn, run.Result.MaxDrawdown, run.Result.TradesExecuted, run.Result.FinalValue,
		string(txs), run.CreatedAt.UTC().Format(runTimeLayout),
	)
	return err
}

// runTimeLayout is fixed-width so created_at sorts lexically.
const runTimeLayout = "2006-01-02T15:04:05.000000000Z"

const runColumns = `id, symbol, initial_investment, buy_window, sell_window,
	total_return, max_drawdown, trades_executed, final_value, transactions, created_at`

// GetRun returns the run with id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns up to limit runs, newest first. An empty symbol lists all.
func (s *SQLiteStore) ListRuns(ctx context.Context, symbol string, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var (
		run        domain.Run
		res        domain.BacktestResult
		investment string
		txs        string
		createdAt  string
	)
	if err := row.Scan(&run.ID, &run.Params.Symbol, &investment, &run.Params.BuyWindow, &run.Params.SellWindow,
		&res.TotalReturn, &res.MaxDrawdown, &res.TradesExecuted, &res.FinalValue, &txs, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if run.Params.InitialInvestment, err = decimal.NewFromString(investment); err != nil {
		return nil, fmt.Errorf("parsing investment %q: %w", investment, err)
	}
	if err := json.Unmarshal([]byte(txs), &res.TransactionHistory); err != nil {
		return nil, fmt.Errorf("decoding transactions of run %s: %w", run.ID, err)
	}
	if run.CreatedAt, err = time.Parse(runTimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	run.Result = &res
	return &run, nil
}
