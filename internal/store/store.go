// Package store defines storage interfaces for daily price bars and
// backtest run history, with Parquet, SQLite and ClickHouse backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"backtide/internal/config"
	"backtide/internal/domain"
)

// ErrRunNotFound is returned by RunStore.GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// BarStore persists and retrieves daily OHLCV bar data.
type BarStore interface {
	// WriteBars upserts a batch of bars for market. A bar replaces any stored
	// bar with the same symbol and date.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end],
	// ascending by timestamp.
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// RunStore persists completed backtests.
type RunStore interface {
	// SaveRun inserts a run.
	SaveRun(ctx context.Context, run *domain.Run) error

	// GetRun returns the run with the given id or ErrRunNotFound.
	GetRun(ctx context.Context, id string) (*domain.Run, error)

	// ListRuns returns the most recent runs, newest first, optionally
	// restricted to symbol, up to limit.
	ListRuns(ctx context.Context, symbol string, limit int) ([]domain.Run, error)
}

// Stores bundles the configured bar store with the optional run store.
type Stores struct {
	Bars    BarStore
	Runs    RunStore
	closers []io.Closer
}

// Open builds the stores described by cfg. The bar store follows
// storage.driver; the run store is SQLite-backed whenever sqlite_path is set.
func Open(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{}

	var sqliteStore *SQLiteStore
	openSQLite := func() (*SQLiteStore, error) {
		if sqliteStore != nil {
			return sqliteStore, nil
		}
		st, err := NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store %s: %w", cfg.Storage.SQLitePath, err)
		}
		sqliteStore = st
		s.closers = append(s.closers, st)
		return st, nil
	}

	switch cfg.Storage.Driver {
	case config.DriverParquet, "":
		s.Bars = NewParquetStore(cfg.Storage.DataDir)
	case config.DriverSQLite:
		st, err := openSQLite()
		if err != nil {
			return nil, err
		}
		s.Bars = st
	case config.DriverClickHouse:
		ch, err := NewClickHouseStore(ctx, cfg.ClickHouse)
		if err != nil {
			return nil, fmt.Errorf("opening clickhouse store: %w", err)
		}
		s.closers = append(s.closers, ch)
		s.Bars = ch
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Storage.SQLitePath != "" {
		st, err := openSQLite()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Runs = st
	}
	return s, nil
}

// Close releases every opened backend.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
