package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backtide/internal/api"
	"backtide/internal/config"
	"backtide/internal/engine"
	"backtide/internal/gather"
	"backtide/internal/store"
	"backtide/internal/strategy"
	"backtide/internal/util"
)

func main() {
	gatherEvery := flag.Duration("gather-interval", 0, "refresh gather.symbols from Alpaca at this interval (0 disables)")
	flag.Parse()

	cfg := loadConfig()
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open stores: %v", err)
	}
	defer stores.Close()

	source := store.NewSeriesSource(stores.Bars, cfg.Storage.Market, cfg.Backtest.SeriesTTL)
	hub := api.NewHub()
	go hub.Run(ctx)

	opts := []engine.Option{
		engine.WithNotifier(hub),
		engine.WithInvalidator(source),
		engine.WithParallelism(cfg.Backtest.SweepParallelism),
		engine.WithMaxSweepPairs(cfg.Backtest.MaxSweepPairs),
	}
	if stores.Runs != nil {
		opts = append(opts, engine.WithRunStore(stores.Runs))
	}
	eng := engine.NewEngine(strategy.NewBacktester(source), cfg.Backtest.ResultTTL, opts...)

	if *gatherEvery > 0 {
		fetcher, err := gather.NewDailyBarFetcher(gather.NewAlpacaClient(cfg.Alpaca), stores.Bars, cfg,
			cfg.Gather.Symbols, gather.WithOnStored(eng.Invalidate))
		if err != nil {
			log.Fatalf("failed to configure gatherer: %v", err)
		}
		go runPeriodically(ctx, fetcher, *gatherEvery)
	}

	slog.Info("backtide-server starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"grpc_port", cfg.Server.GRPCPort,
		"driver", cfg.Storage.Driver,
	)
	srv := api.NewServer(cfg, eng, stores.Bars, hub)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func loadConfig() *config.Config {
	cfgPath := "config/backtide.yaml"
	explicit := false
	if p := os.Getenv("BACKTIDE_CONFIG"); p != "" {
		cfgPath = p
		explicit = true
	}

	cfg, err := config.Load(cfgPath)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return config.Default()
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// runPeriodically runs g immediately and then every interval until ctx ends.
func runPeriodically(ctx context.Context, g gather.Gatherer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := g.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("gather run failed", "gatherer", g.Name(), "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
