package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"backtide/internal/domain"
	"backtide/internal/engine"
	"backtide/internal/store"
)

// Full range used when a bar listing has no explicit bounds.
var (
	barsStart = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	barsEnd   = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
)

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/backtest", s.handleBacktest)
	mux.HandleFunc("POST /api/v1/sweep", s.handleSweep)
	mux.HandleFunc("POST /api/v1/report", s.handleReport)
	mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/v1/symbols", s.handleSymbols)
	mux.HandleFunc("GET /api/v1/bars/{symbol}", s.handleBars)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	f, err := decodeFields(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	params, err := f.params()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.log.Info("received backtest request", "symbol", params.Symbol)

	res, err := s.engine.RunBacktest(r.Context(), params)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	f, err := decodeFields(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	symbol, err := f.str("symbol")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	investment, err := f.decimal("initial_investment")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	buys, err := f.intList("buy_ma_windows")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	sells, err := f.intList("sell_ma_windows")
	if err != nil {
		s.writeErr(w, err)
		return
	}

	entries, err := s.engine.Sweep(r.Context(), symbol, investment, buys, sells)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, SweepResponse{Symbol: strings.ToUpper(symbol), Entries: entries})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	f, err := decodeFields(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	params, err := f.params()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	from, err := f.optionalDate("start_date")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	to, err := f.optionalDate("end_date")
	if err != nil {
		s.writeErr(w, err)
		return
	}

	rep, err := s.engine.Report(r.Context(), params, from, to)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.engine.Runs(r.Context(), q.Get("symbol"), limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, RunsResponse{Runs: runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	market := s.cfg.Storage.Market
	if v := r.URL.Query().Get("market"); v != "" {
		market = v
	}
	symbols, err := s.bars.ListSymbols(r.Context(), market)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, SymbolsResponse{Market: market, Symbols: symbols})
}

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	q := r.URL.Query()
	start, end := barsStart, barsEnd
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"start", &start}, {"end", &end}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(domain.DateLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a YYYY-MM-DD date", p.key))
			return
		}
		*p.dst = t
	}

	bars, err := s.bars.ReadBars(r.Context(), symbol, s.cfg.Storage.Market, start, end)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if len(bars) == 0 {
		s.writeErr(w, fmt.Errorf("%w for symbol %s", domain.ErrNoDataAvailable, symbol))
		return
	}

	resp := BarsResponse{Symbol: symbol, Bars: make([]BarJSON, 0, len(bars))}
	for _, b := range bars {
		resp.Bars = append(resp.Bars, BarJSON{
			Date:       domain.TruncateDate(b.Timestamp).Format(domain.DateLayout),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}
	writeJSON(w, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "run stream is not enabled")
		return
	}
	s.hub.ServeWS(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeErr maps domain errors onto HTTP statuses. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
		writeError(w, status, "An unexpected error occurred")
		return
	}
	s.log.Warn("request rejected", "status", status, "error", err)
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var re *requestError
	switch {
	case errors.As(err, &re), errors.Is(err, domain.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoDataAvailable), errors.Is(err, store.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrHistoryDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// ---------------------------------------------------------------------------
// Request decoding
// ---------------------------------------------------------------------------

// requestError is a malformed or incomplete request body.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// fields holds a JSON object body undecoded so that absent keys can be
// reported by name.
type fields map[string]json.RawMessage

func decodeFields(r *http.Request) (fields, error) {
	var f fields
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		return nil, badRequest("Invalid JSON in request body")
	}
	return f, nil
}

func (f fields) raw(key string) (json.RawMessage, error) {
	v, ok := f[key]
	if !ok || string(v) == "null" {
		return nil, badRequest("Missing required parameter: '%s'", key)
	}
	return v, nil
}

func (f fields) str(key string) (string, error) {
	raw, err := f.raw(key)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", badRequest("parameter '%s' must be a string", key)
	}
	return s, nil
}

// decimal accepts a JSON number or a numeric string.
func (f fields) decimal(key string) (decimal.Decimal, error) {
	raw, err := f.raw(key)
	if err != nil {
		return decimal.Zero, err
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, badRequest("parameter '%s' must be a number", key)
	}
	return d, nil
}

// integer accepts a JSON integer or an integer string.
func (f fields) integer(key string) (int, error) {
	raw, err := f.raw(key)
	if err != nil {
		return 0, err
	}
	return parseInt(key, raw)
}

func parseInt(key string, raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, nil
		}
	}
	return 0, badRequest("parameter '%s' must be an integer", key)
}

func (f fields) intList(key string) ([]int, error) {
	raw, err := f.raw(key)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, badRequest("parameter '%s' must be a list of integers", key)
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, err := parseInt(key, item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// optionalDate parses a YYYY-MM-DD string; an absent key yields zero time.
func (f fields) optionalDate(key string) (time.Time, error) {
	raw, ok := f[key]
	if !ok || string(raw) == "null" {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, badRequest("parameter '%s' must be a YYYY-MM-DD date", key)
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}, badRequest("parameter '%s' must be a YYYY-MM-DD date", key)
	}
	return t, nil
}

// params reads the four backtest parameters.
func (f fields) params() (domain.BacktestParams, error) {
	var (
		p   domain.BacktestParams
		err error
	)
	if p.Symbol, err = f.str("symbol"); err != nil {
		return p, err
	}
	if p.InitialInvestment, err = f.decimal("initial_investment"); err != nil {
		return p, err
	}
	if p.BuyWindow, err = f.integer("buy_ma_window"); err != nil {
		return p, err
	}
	if p.SellWindow, err = f.integer("sell_ma_window"); err != nil {
		return p, err
	}
	return p, nil
}
