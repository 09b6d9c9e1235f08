package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketdata/internal/asset"
	"marketdata/internal/cache"
	"marketdata/internal/series"
)

// Latest is the most recent daily bar of an instrument in a quote currency.
type Latest struct {
	Symbol string          `json:"symbol"`
	Base   string          `json:"base"`
	Quote  string          `json:"quote"`
	Price  decimal.Decimal `json:"price"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Volume decimal.Decimal `json:"volume"`
	Time   time.Time       `json:"timestamp"`
	Source string          `json:"source,omitempty"`
}

// LatestBar returns the last daily bar of symbol priced in quote (USD when
// empty). A six-letter fiat pair symbol carries its own quote. Non-USD quotes
// read a cached pair first and fall back to RatePair.
func (e *Engine) LatestBar(ctx context.Context, symbol, quote string) (*Latest, error) {
	base, q := asset.Normalize(symbol), asset.Normalize(quote)
	if q == "" {
		q = asset.Quote
	}
	if b, qq, ok := e.tables.SplitPair(base); ok {
		base, q = b, qq
	}
	if base == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrPriceUnavailable)
	}

	ts, err := e.latestSeries(ctx, base, q)
	if err == nil && ts.Empty() {
		err = errors.New("empty series")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", ErrPriceUnavailable, base, q, err)
	}
	bar, _ := ts.Last()
	return &Latest{
		Symbol: asset.Normalize(symbol),
		Base:   base,
		Quote:  q,
		Price:  bar.Close,
		Open:   bar.Open,
		High:   bar.High,
		Low:    bar.Low,
		Volume: bar.Volume,
		Time:   bar.Time,
		Source: ts.Source,
	}, nil
}

func (e *Engine) latestSeries(ctx context.Context, base, quote string) (*series.TimeSeries, error) {
	switch {
	case base == quote:
		return Identity(base, quote, series.Interval1d, e.now()), nil
	case quote == asset.Quote:
		return e.FetchWithFallback(ctx, base, series.Interval1d, false)
	}
	for _, sym := range []string{SyntheticSymbol(base, quote), base + quote} {
		if entry, ok := e.cache.Get(ctx, cache.Key{Symbol: sym, Interval: series.Interval1d}); ok && !entry.Series.Empty() {
			return entry.Series, nil
		}
	}
	return e.RatePair(ctx, base, quote, series.Interval1d, false)
}
