package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"backtide/internal/config"
	"backtide/internal/domain"
	"backtide/internal/gather"
	"backtide/internal/store"
	"backtide/internal/util"
	"backtide/pkg/backtide"
)

const defaultServer = "http://localhost:8080"

func serverURL() string {
	if v := os.Getenv("BACKTIDE_SERVER"); v != "" {
		return v
	}
	return defaultServer
}

// parseArgs parses fs allowing positional arguments between flags, so that
// "fetch IBM --days 30" and "fetch --days 30 IBM" are equivalent.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// parseWindows parses a comma-separated list of positive window sizes.
func parseWindows(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid window %q", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, errors.New("no windows given")
	}
	return out, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// backtestFlags registers the flags shared by run and report.
func backtestFlags(fs *flag.FlagSet) *backtide.BacktestRequest {
	req := &backtide.BacktestRequest{}
	fs.StringVar(&req.Symbol, "symbol", "", "ticker symbol")
	fs.Float64Var(&req.InitialInvestment, "investment", 10000, "starting cash")
	fs.IntVar(&req.BuyWindow, "buy", 5, "buy moving-average window")
	fs.IntVar(&req.SellWindow, "sell", 10, "sell moving-average window")
	return req
}

// symbolArg lets the symbol be given positionally instead of via -symbol.
func symbolArg(flagValue string, positional []string) (string, error) {
	if flagValue == "" && len(positional) > 0 {
		flagValue = positional[0]
	}
	if flagValue == "" {
		return "", errors.New("a symbol is required")
	}
	return strings.ToUpper(flagValue), nil
}

// ---------------------------------------------------------------------------
// Remote commands
// ---------------------------------------------------------------------------

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	req := backtestFlags(fs)
	grpcAddr := fs.String("grpc", "", "use the gRPC endpoint at host:port instead of HTTP")
	showTx := fs.Bool("transactions", true, "print the transaction history")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if req.Symbol, err = symbolArg(req.Symbol, positional); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var res *backtide.Result
	if *grpcAddr != "" {
		client, conn, err := backtide.DialGRPC(*grpcAddr)
		if err != nil {
			return err
		}
		defer conn.Close()
		res, err = client.RunBacktest(ctx, *req)
		if err != nil {
			return err
		}
	} else {
		res, err = backtide.NewClient(serverURL()).RunBacktest(ctx, *req)
		if err != nil {
			return err
		}
	}

	fmt.Print(renderResult(*req, res, *showTx))
	return nil
}

func sweepCmd(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	symbol := fs.String("symbol", "", "ticker symbol")
	investment := fs.Float64("investment", 10000, "starting cash")
	buys := fs.String("buy", "2,5,10,20", "comma-separated buy windows")
	sells := fs.String("sell", "3,10,20,50", "comma-separated sell windows")
	top := fs.Int("top", 10, "show only the best N combinations (0 for all)")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}

	req := backtide.SweepRequest{InitialInvestment: *investment}
	if req.Symbol, err = symbolArg(*symbol, positional); err != nil {
		return err
	}
	if req.BuyWindows, err = parseWindows(*buys); err != nil {
		return fmt.Errorf("buy windows: %w", err)
	}
	if req.SellWindows, err = parseWindows(*sells); err != nil {
		return fmt.Errorf("sell windows: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	entries, err := backtide.NewClient(serverURL()).Sweep(ctx, req)
	if err != nil {
		return err
	}
	if *top > 0 && len(entries) > *top {
		entries = entries[:*top]
	}
	fmt.Print(renderSweep(req.Symbol, entries))
	return nil
}

func reportCmd(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	req := backtide.ReportRequest{}
	req.BacktestRequest = *backtestFlags(fs)
	fs.StringVar(&req.StartDate, "start", "", "first date, YYYY-MM-DD")
	fs.StringVar(&req.EndDate, "end", "", "last date, YYYY-MM-DD")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if req.Symbol, err = symbolArg(req.Symbol, positional); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	rep, err := backtide.NewClient(serverURL()).Report(ctx, req)
	if err != nil {
		return err
	}
	out, err := renderReport(rep)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func symbolsCmd(args []string) error {
	fs := flag.NewFlagSet("symbols", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	symbols, err := backtide.NewClient(serverURL()).Symbols(ctx)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		fmt.Println(dimStyle.Render("no symbols stored"))
		return nil
	}
	for _, s := range symbols {
		fmt.Println(symbolStyle.Render(s))
	}
	return nil
}

func runsCmd(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	symbol := fs.String("symbol", "", "only runs for this symbol")
	limit := fs.Int("limit", 20, "maximum number of runs")
	id := fs.String("id", "", "show a single run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := backtide.NewClient(serverURL())
	if *id != "" {
		run, err := client.Run(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Print(renderResult(run.Params, run.Result, true))
		return nil
	}

	runs, err := client.Runs(ctx, strings.ToUpper(*symbol), *limit)
	if err != nil {
		return err
	}
	fmt.Print(renderRuns(runs))
	return nil
}

// ---------------------------------------------------------------------------
// Local commands
// ---------------------------------------------------------------------------

func fetchCmd(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	days := fs.Int("days", 0, "number of days to look back")
	years := fs.Int("years", 0, "number of years to look back")
	symbols, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		return errors.New("usage: backtide-cli fetch SYMBOL... [--days N] [--years N]")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, "text"))

	cal := util.NewTradingCalendar(domain.Market(cfg.Storage.Market))
	r, err := gather.Lookback(cal.LastTradingDay(time.Now()), *years, *days)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	stores, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	fetcher, err := gather.NewDailyBarFetcher(gather.NewAlpacaClient(cfg.Alpaca), stores.Bars, cfg, symbols,
		gather.WithRange(r))
	if err != nil {
		return err
	}
	if err := fetcher.Run(ctx); err != nil {
		return err
	}
	fmt.Printf("%s fetched %s from %s to %s\n", okStyle.Render("✓"),
		symbolStyle.Render(strings.ToUpper(strings.Join(symbols, " "))),
		r.Start.Format(domain.DateLayout), r.End.Format(domain.DateLayout))
	return nil
}

func loadConfig() (*config.Config, error) {
	path := "config/backtide.yaml"
	explicit := false
	if p := os.Getenv("BACKTIDE_CONFIG"); p != "" {
		path = p
		explicit = true
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
