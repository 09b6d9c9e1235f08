package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/aggregate"
	"marketdata/internal/app"
	"marketdata/internal/config"
	"marketdata/internal/engine"
	"marketdata/internal/logging"
	"marketdata/internal/series"
)

type options struct {
	mode       string
	symbol     string
	symbolsCSV string
	base       string
	quote      string
	interval   string
	start      string
	end        string
	force      bool
	limit      int
}

func main() {
	var opts options
	var configPath string
	var timeout int

	flag.StringVar(&opts.mode, "mode", "series", "series | batch | pair | latest | matrix | update")
	flag.StringVar(&opts.symbol, "symbol", getenv("SYMBOL", "EURUSD"), "symbol for series and latest modes")
	flag.StringVar(&opts.symbolsCSV, "symbols", getenv("SYMBOLS", ""), "comma-separated symbols for batch mode, currencies for matrix mode")
	flag.StringVar(&opts.base, "base", "", "base currency for pair mode")
	flag.StringVar(&opts.quote, "quote", "", "quote currency for pair and latest modes")
	flag.StringVar(&opts.interval, "interval", "1d", "one of "+intervalList())
	flag.StringVar(&opts.start, "start", "", "window start (RFC 3339 or YYYY-MM-DD), series mode")
	flag.StringVar(&opts.end, "end", "", "window end (RFC 3339 or YYYY-MM-DD), series mode")
	flag.BoolVar(&opts.force, "force", false, "bypass the cache")
	flag.IntVar(&opts.limit, "limit", 10, "print at most this many trailing bars per series (0 = all)")
	flag.IntVar(&timeout, "timeout", getenvInt("FETCH_TIMEOUT_SEC", 600), "overall timeout seconds")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, "console")
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap failed", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	out, err := run(ctx, a.Engine, opts)
	if err != nil {
		logger.Error("fetch failed", zap.String("mode", opts.mode), zap.Error(err))
		os.Exit(1)
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

func run(ctx context.Context, eng *engine.Engine, o options) (any, error) {
	iv, err := series.ParseInterval(o.interval)
	if err != nil {
		return nil, err
	}
	switch o.mode {
	case "series":
		start, err := parseTime(o.start)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
		end, err := parseTime(o.end)
		if err != nil {
			return nil, fmt.Errorf("end: %w", err)
		}
		ts, err := eng.Window(ctx, o.symbol, iv, start, end, o.force)
		if err != nil {
			return nil, err
		}
		return tail(ts, o.limit), nil
	case "batch":
		symbols := config.SplitCSV(o.symbolsCSV)
		if len(symbols) == 0 {
			return nil, errors.New("no symbols provided")
		}
		res := eng.ProcessBatch(ctx, symbols, iv, o.force)
		summary := struct {
			Succeeded map[string]*series.TimeSeries `json:"succeeded"`
			Failed    map[string]string             `json:"failed"`
		}{Succeeded: map[string]*series.TimeSeries{}, Failed: map[string]string{}}
		for sym, ts := range res.Succeeded {
			summary.Succeeded[sym] = tail(ts, o.limit)
		}
		for sym, err := range res.Failed {
			summary.Failed[sym] = err.Error()
		}
		return summary, nil
	case "pair":
		if o.base == "" || o.quote == "" {
			return nil, errors.New("pair mode needs -base and -quote")
		}
		ts, err := eng.RatePair(ctx, o.base, o.quote, iv, o.force)
		if err != nil {
			return nil, err
		}
		return tail(ts, o.limit), nil
	case "latest":
		return eng.LatestBar(ctx, o.symbol, o.quote)
	case "matrix":
		currencies := config.SplitCSV(o.symbolsCSV)
		if len(currencies) == 0 {
			return nil, errors.New("matrix mode needs -symbols with currencies")
		}
		return aggregate.RateMatrix(ctx, eng.Cache(), currencies), nil
	case "update":
		results := eng.UpdateGroups(ctx, engine.DefaultGroups(eng.Tables()))
		summary := make(map[string][]string, len(results))
		for _, r := range results {
			summary[r.Group.Name] = r.Result.FailedSymbols()
		}
		return summary, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", o.mode)
	}
}

func intervalList() string {
	ivs := series.Intervals()
	names := make([]string, len(ivs))
	for i, iv := range ivs {
		names[i] = iv.String()
	}
	return strings.Join(names, ", ")
}

// tail keeps the last n bars; n <= 0 keeps all.
func tail(ts *series.TimeSeries, n int) *series.TimeSeries {
	if n <= 0 || ts.Len() <= n {
		return ts
	}
	out := ts.Clone()
	out.Bars = out.Bars[len(out.Bars)-n:]
	return out
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x != 0 {
			return x
		}
	}
	return def
}
