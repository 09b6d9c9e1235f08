// Package engine acquires series from several unreliable providers: it routes
// each symbol to an ordered provider list, falls back on failure, caches the
// first usable answer, synthesizes missing currency pairs from their USD legs
// and runs whole symbol lists through a bounded worker pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/asset"
	"marketdata/internal/cache"
	"marketdata/internal/httpx"
	"marketdata/internal/metrics"
	"marketdata/internal/provider"
	"marketdata/internal/series"
)

const defaultWorkers = 5

var (
	// ErrExhausted means no provider produced a usable series.
	ErrExhausted = errors.New("all providers exhausted")
	// ErrSynthesisImpossible means a cross rate could not be built from its legs.
	ErrSynthesisImpossible = errors.New("cross rate synthesis impossible")
	// ErrPriceUnavailable means no latest price could be determined.
	ErrPriceUnavailable = errors.New("price unavailable")
)

// Attempt records why one provider did not deliver.
type Attempt struct {
	Provider string
	Err      error
}

// ExhaustedError carries the per-provider reasons of a failed fallback run.
// It matches ErrExhausted and every recorded cause with errors.Is.
type ExhaustedError struct {
	Symbol   string
	Interval series.Interval
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s: %v", e.Symbol, e.Interval, ErrExhausted)
	if len(e.Attempts) == 0 {
		b.WriteString(" (no provider registered)")
	}
	for i, a := range e.Attempts {
		sep := "; "
		if i == 0 {
			sep = ": "
		}
		fmt.Fprintf(&b, "%s%s: %v", sep, a.Provider, a.Err)
	}
	return b.String()
}

func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	errs = append(errs, ErrExhausted)
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Engine is safe for concurrent use.
type Engine struct {
	tables    *asset.Tables
	cache     *cache.Store
	providers map[string]provider.Provider
	workers   int
	now       func() time.Time
	log       *zap.Logger
}

type Option func(*Engine)

// WithProvider registers p under its Name, replacing any earlier one.
func WithProvider(p provider.Provider) Option {
	return func(e *Engine) { e.providers[p.Name()] = p }
}

// WithWorkers sets the batch pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New builds an engine. Nil tables fall back to the default lists and a nil
// store to an in-memory one.
func New(tables *asset.Tables, store *cache.Store, opts ...Option) *Engine {
	if tables == nil {
		tables = asset.MustDefaultTables()
	}
	if store == nil {
		store = cache.NewStore(cache.NewMemoryBackend())
	}
	e := &Engine{
		tables:    tables,
		cache:     store,
		providers: map[string]provider.Provider{},
		workers:   defaultWorkers,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Tables() *asset.Tables { return e.tables }

func (e *Engine) Cache() *cache.Store { return e.cache }

// Providers lists the registered provider names.
func (e *Engine) Providers() []string {
	out := make([]string, 0, len(e.providers))
	for name := range e.providers {
		out = append(out, name)
	}
	return out
}

// FetchWithFallback returns the series for (symbol, interval): a valid cache
// entry unless forceRefresh, otherwise the first non-empty series from the
// routed providers, which is then cached. A stale entry is never served.
func (e *Engine) FetchWithFallback(ctx context.Context, symbol string, iv series.Interval, forceRefresh bool) (*series.TimeSeries, error) {
	sym := asset.Normalize(symbol)
	if sym == "" {
		return nil, fmt.Errorf("empty symbol")
	}
	if !iv.Valid() {
		return nil, fmt.Errorf("unknown interval %q", iv)
	}
	key := cache.Key{Symbol: sym, Interval: iv}
	log := e.log.With(zap.String("symbol", sym), zap.Stringer("interval", iv))

	if !forceRefresh {
		if entry, ok := e.cache.Get(ctx, key); ok && !entry.Series.Empty() {
			log.Debug("using cached series", zap.Time("fetched_at", entry.FetchedAt))
			return entry.Series, nil
		}
	}

	end := e.now().UTC()
	req := provider.Request{
		Symbol:   sym,
		Class:    e.tables.Classify(sym),
		Interval: iv,
		Start:    end.Add(-iv.Lookback()),
		End:      end,
	}
	ts, err := e.tryProviders(ctx, req, log)
	if err != nil {
		log.Warn("all providers failed", zap.Error(err))
		return nil, err
	}
	// A failed write is logged by the store; the caller still gets the data.
	_ = e.cache.Put(ctx, key, ts)
	return ts, nil
}

// FetchSingle is the inbound single-symbol fetch.
func (e *Engine) FetchSingle(ctx context.Context, symbol string, iv series.Interval, forceRefresh bool) (*series.TimeSeries, error) {
	started := e.now()
	ts, err := e.FetchWithFallback(ctx, symbol, iv, forceRefresh)
	if err != nil {
		return nil, err
	}
	e.log.Info("fetched",
		zap.String("symbol", ts.Symbol),
		zap.Stringer("interval", iv),
		zap.String("source", ts.Source),
		zap.Int("bars", ts.Len()),
		zap.Duration("took", e.now().Sub(started)))
	return ts, nil
}

// Window fetches (symbol, interval) and keeps only bars in [start, end]. An
// empty result is a valid series, not an error.
func (e *Engine) Window(ctx context.Context, symbol string, iv series.Interval, start, end time.Time, forceRefresh bool) (*series.TimeSeries, error) {
	ts, err := e.FetchWithFallback(ctx, symbol, iv, forceRefresh)
	if err != nil {
		return nil, err
	}
	return ts.Between(start, end), nil
}

func (e *Engine) tryProviders(ctx context.Context, req provider.Request, log *zap.Logger) (*series.TimeSeries, error) {
	failed := &ExhaustedError{Symbol: req.Symbol, Interval: req.Interval}
	for _, name := range Route(req.Class, req.Interval) {
		p, ok := e.providers[name]
		if !ok {
			continue
		}
		log.Debug("trying provider", zap.String("provider", name))
		started := time.Now()
		ts, err := safeFetch(ctx, p, req)
		took := time.Since(started)

		switch {
		case err != nil:
			metrics.ProviderFetch(name, outcome(err), took)
			log.Warn("provider failed", zap.String("provider", name), zap.Error(err))
			failed.Attempts = append(failed.Attempts, Attempt{Provider: name, Err: err})
			continue
		case ts.Empty():
			metrics.ProviderFetch(name, "empty", took)
			log.Warn("provider returned no bars", zap.String("provider", name))
			failed.Attempts = append(failed.Attempts, Attempt{Provider: name, Err: fmt.Errorf("%w: empty series", provider.ErrNoData)})
			continue
		}

		metrics.ProviderFetch(name, "ok", took)
		ts.Symbol, ts.Interval = req.Symbol, req.Interval
		if ts.Source == "" {
			ts.Source = name
		}
		log.Info("provider succeeded", zap.String("provider", name), zap.Int("bars", ts.Len()))
		return ts, nil
	}
	return nil, failed
}

// safeFetch turns a provider panic into that provider's error.
func safeFetch(ctx context.Context, p provider.Provider, req provider.Request) (ts *series.TimeSeries, err error) {
	defer func() {
		if r := recover(); r != nil {
			ts, err = nil, fmt.Errorf("%s: panic: %v", p.Name(), r)
		}
	}()
	return p.Fetch(ctx, req)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, provider.ErrNoData):
		return "no_data"
	case errors.Is(err, httpx.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
