package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketdata/internal/asset"
	"marketdata/internal/cache"
	"marketdata/internal/metrics"
	"marketdata/internal/series"
)

// SyntheticSource marks series built from USD legs.
const SyntheticSource = "synthetic"

var one = decimal.NewFromInt(1)

// SyntheticSymbol is the cache symbol of a synthesized pair.
func SyntheticSymbol(base, quote string) string { return base + "-" + quote }

// RatePair returns the base/quote series. Same currency yields a constant 1.0
// series without any fetch. Otherwise the direct pair is tried first, then a
// previously synthesized pair, then the pair is built from the USD legs.
func (e *Engine) RatePair(ctx context.Context, base, quote string, iv series.Interval, forceRefresh bool) (*series.TimeSeries, error) {
	base, quote = asset.Normalize(base), asset.Normalize(quote)
	if base == "" || quote == "" {
		return nil, fmt.Errorf("rate pair: empty currency")
	}
	if !iv.Valid() {
		return nil, fmt.Errorf("rate pair: unknown interval %q", iv)
	}
	if base == quote {
		metrics.Synthesis("identity")
		return Identity(base, quote, iv, e.now()), nil
	}
	log := e.log.With(zap.String("base", base), zap.String("quote", quote), zap.Stringer("interval", iv))

	direct, err := e.FetchWithFallback(ctx, base+quote, iv, forceRefresh)
	if err == nil && !direct.Empty() {
		metrics.Synthesis("direct")
		return direct, nil
	}
	log.Info("direct pair unavailable, trying cross rate", zap.Error(err))

	key := cache.Key{Symbol: SyntheticSymbol(base, quote), Interval: iv}
	if !forceRefresh {
		if entry, ok := e.cache.Get(ctx, key); ok && !entry.Series.Empty() {
			metrics.Synthesis("cached")
			return entry.Series, nil
		}
	}

	ts, kind, err := e.synthesize(ctx, base, quote, iv, forceRefresh)
	if err != nil {
		metrics.Synthesis("impossible")
		log.Warn("cross rate failed", zap.Error(err))
		return nil, err
	}
	metrics.Synthesis(kind)
	_ = e.cache.Put(ctx, key, ts)
	log.Info("cross rate synthesized", zap.String("kind", kind), zap.Int("bars", ts.Len()))
	return ts, nil
}

func (e *Engine) synthesize(ctx context.Context, base, quote string, iv series.Interval, forceRefresh bool) (*series.TimeSeries, string, error) {
	leg := func(sym string) (*series.TimeSeries, error) {
		if sym == asset.Quote {
			return nil, nil
		}
		ts, err := e.FetchWithFallback(ctx, sym, iv, forceRefresh)
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s leg %s/%s: %w", ErrSynthesisImpossible, base, quote, sym, asset.Quote, err)
		}
		return ts, nil
	}
	baseLeg, err := leg(base)
	if err != nil {
		return nil, "", err
	}
	quoteLeg, err := leg(quote)
	if err != nil {
		return nil, "", err
	}

	var out *series.TimeSeries
	var kind string
	switch {
	case base == asset.Quote:
		out, kind = Invert(quoteLeg), "inverted"
	case quote == asset.Quote:
		out, kind = baseLeg.Clone(), "passthrough"
	default:
		out, kind = Cross(baseLeg, quoteLeg), "triangulated"
	}
	if out.Empty() {
		return nil, "", fmt.Errorf("%w: %s/%s: no overlapping bars", ErrSynthesisImpossible, base, quote)
	}
	out.Symbol = SyntheticSymbol(base, quote)
	out.Interval = iv
	out.Source = SyntheticSource
	return out, kind, nil
}

// Identity is the constant 1.0 series of a currency against itself: two
// daily bars, yesterday and today at UTC midnight.
func Identity(base, quote string, iv series.Interval, now time.Time) *series.TimeSeries {
	today := now.UTC().Truncate(24 * time.Hour)
	bar := func(t time.Time) series.Bar {
		return series.Bar{Time: t, Open: one, High: one, Low: one, Close: one, Volume: decimal.Zero}
	}
	ts := series.New(SyntheticSymbol(base, quote), iv, []series.Bar{bar(today.Add(-24 * time.Hour)), bar(today)})
	ts.Source = "identity"
	return ts
}

// Invert turns an X/USD series into USD/X. High and low swap under
// inversion; volume is unchanged. Bars with a zero price are dropped.
func Invert(ts *series.TimeSeries) *series.TimeSeries {
	out := &series.TimeSeries{Bars: make([]series.Bar, 0, ts.Len())}
	if ts == nil {
		return out
	}
	out.Symbol, out.Interval, out.Source, out.Approximate = ts.Symbol, ts.Interval, ts.Source, ts.Approximate
	for _, b := range ts.Bars {
		if hasZeroPrice(b) {
			continue
		}
		out.Bars = append(out.Bars, series.Bar{
			Time:   b.Time,
			Open:   one.Div(b.Open),
			High:   one.Div(b.Low),
			Low:    one.Div(b.High),
			Close:  one.Div(b.Close),
			Volume: b.Volume,
		})
	}
	return out
}

// Cross divides base/USD by quote/USD on their common timestamps. The
// result's high uses the quote's low and its low the quote's high, the
// widest range both legs allow. Volume is the base leg's.
func Cross(baseLeg, quoteLeg *series.TimeSeries) *series.TimeSeries {
	out := &series.TimeSeries{Bars: []series.Bar{}}
	if baseLeg == nil || quoteLeg == nil {
		return out
	}
	out.Interval = baseLeg.Interval
	out.Approximate = baseLeg.Approximate || quoteLeg.Approximate
	idx := quoteLeg.Index()
	for _, b := range baseLeg.Bars {
		i, ok := idx[b.Time.UnixNano()]
		if !ok {
			continue
		}
		q := quoteLeg.Bars[i]
		if hasZeroPrice(q) {
			continue
		}
		out.Bars = append(out.Bars, series.Bar{
			Time:   b.Time,
			Open:   b.Open.Div(q.Open),
			High:   b.High.Div(q.Low),
			Low:    b.Low.Div(q.High),
			Close:  b.Close.Div(q.Close),
			Volume: b.Volume,
		})
	}
	return out
}

func hasZeroPrice(b series.Bar) bool {
	return b.Open.IsZero() || b.High.IsZero() || b.Low.IsZero() || b.Close.IsZero()
}

