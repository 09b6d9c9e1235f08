// Package aggregate builds cross-sectional views over the series cache.
package aggregate

import (
	"context"

	"github.com/shopspring/decimal"

	"marketdata/internal/asset"
	"marketdata/internal/cache"
	"marketdata/internal/series"
)

// Reader is the read side of the cache Store.
type Reader interface {
	Get(ctx context.Context, key cache.Key) (*cache.Entry, bool)
}

// Matrix holds the latest close of every (base, quote) pair that has a valid
// daily cache entry. Pairs without one are absent, never zero.
type Matrix struct {
	Currencies []string                              `json:"currencies"`
	Rates      map[string]map[string]decimal.Decimal `json:"rates"`
}

// Get returns the rate of base priced in quote.
func (m Matrix) Get(base, quote string) (decimal.Decimal, bool) {
	row, ok := m.Rates[base]
	if !ok {
		return decimal.Zero, false
	}
	v, ok := row[quote]
	return v, ok
}

// Len is the number of filled cells, diagonal included.
func (m Matrix) Len() int {
	n := 0
	for _, row := range m.Rates {
		n += len(row)
	}
	return n
}

// RateMatrix reads the newest close for each ordered pair of currencies.
// A synthesized "BASE-QUOTE" entry is preferred over a direct "BASEQUOTE"
// one. The diagonal is 1. Nothing is fetched.
func RateMatrix(ctx context.Context, r Reader, currencies []string) Matrix {
	seen := map[string]struct{}{}
	m := Matrix{Currencies: make([]string, 0, len(currencies)), Rates: map[string]map[string]decimal.Decimal{}}
	for _, c := range currencies {
		c = asset.Normalize(c)
		if _, dup := seen[c]; dup || c == "" {
			continue
		}
		seen[c] = struct{}{}
		m.Currencies = append(m.Currencies, c)
	}

	for _, base := range m.Currencies {
		row := map[string]decimal.Decimal{}
		for _, quote := range m.Currencies {
			if base == quote {
				row[quote] = decimal.NewFromInt(1)
				continue
			}
			if v, ok := latestClose(ctx, r, base, quote); ok {
				row[quote] = v
			}
		}
		m.Rates[base] = row
	}
	return m
}

func latestClose(ctx context.Context, r Reader, base, quote string) (decimal.Decimal, bool) {
	for _, sym := range []string{base + "-" + quote, base + quote} {
		e, ok := r.Get(ctx, cache.Key{Symbol: sym, Interval: series.Interval1d})
		if !ok {
			continue
		}
		if b, ok := e.Series.Last(); ok {
			return b.Close, true
		}
	}
	return decimal.Zero, false
}
