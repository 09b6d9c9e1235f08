package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketdata/internal/asset"
	"marketdata/internal/metrics"
	"marketdata/internal/series"
)

// BatchResult holds exactly one outcome per distinct requested symbol.
type BatchResult struct {
	Succeeded map[string]*series.TimeSeries `json:"succeeded"`
	Failed    map[string]error              `json:"-"`
}

func (r BatchResult) Total() int { return len(r.Succeeded) + len(r.Failed) }

// FailedSymbols returns the failed symbols in sorted order.
func (r BatchResult) FailedSymbols() []string {
	out := make([]string, 0, len(r.Failed))
	for s := range r.Failed {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ProcessBatch fetches every symbol with FetchWithFallback on a bounded pool.
// Symbols are independent: one failing or panicking never affects another.
func (e *Engine) ProcessBatch(ctx context.Context, symbols []string, iv series.Interval, forceRefresh bool) BatchResult {
	res := BatchResult{
		Succeeded: map[string]*series.TimeSeries{},
		Failed:    map[string]error{},
	}
	started := time.Now()

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, sym := range dedupe(symbols) {
		g.Go(func() error {
			ts, err := e.fetchIsolated(ctx, sym, iv, forceRefresh)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.BatchSymbol("failed")
				res.Failed[sym] = err
				return nil
			}
			metrics.BatchSymbol("succeeded")
			res.Succeeded[sym] = ts
			return nil
		})
	}
	_ = g.Wait()

	fields := []zap.Field{
		zap.Stringer("interval", iv),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)),
		zap.Duration("took", time.Since(started)),
	}
	if len(res.Failed) > 0 {
		fields = append(fields, zap.Strings("failed_symbols", res.FailedSymbols()))
	}
	e.log.Info("batch processed", fields...)
	return res
}

func (e *Engine) fetchIsolated(ctx context.Context, sym string, iv series.Interval, forceRefresh bool) (ts *series.TimeSeries, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("batch worker panicked", zap.String("symbol", sym), zap.Any("panic", r))
			ts, err = nil, fmt.Errorf("%s: panic: %v", sym, r)
		}
	}()
	return e.FetchWithFallback(ctx, sym, iv, forceRefresh)
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = asset.Normalize(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
