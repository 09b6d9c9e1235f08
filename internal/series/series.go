// Package series holds the canonical OHLCV model every other package reads
// and writes: Bar, TimeSeries and the Interval enum.
package series

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Interval is the bar width of a series.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

var all = []Interval{Interval1m, Interval5m, Interval15m, Interval30m, Interval1h, Interval4h, Interval1d}

var durations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
}

// lookbacks is how far back a routine fetch reaches for each interval.
var lookbacks = map[Interval]time.Duration{
	Interval1m:  1 * 24 * time.Hour,
	Interval5m:  3 * 24 * time.Hour,
	Interval15m: 5 * 24 * time.Hour,
	Interval30m: 5 * 24 * time.Hour,
	Interval1h:  7 * 24 * time.Hour,
	Interval4h:  30 * 24 * time.Hour,
	Interval1d:  365 * 24 * time.Hour,
}

// Intervals returns every supported interval, finest first.
func Intervals() []Interval {
	out := make([]Interval, len(all))
	copy(out, all)
	return out
}

// ParseInterval accepts the canonical spellings ("1m" … "1d"), case-insensitive.
func ParseInterval(s string) (Interval, error) {
	i := Interval(strings.ToLower(strings.TrimSpace(s)))
	if i == "60m" {
		i = Interval1h
	}
	if !i.Valid() {
		return "", fmt.Errorf("unknown interval %q", s)
	}
	return i, nil
}

func (i Interval) Valid() bool {
	_, ok := durations[i]
	return ok
}

func (i Interval) Duration() time.Duration { return durations[i] }

// Lookback is the default fetch window ending now.
func (i Interval) Lookback() time.Duration {
	if d, ok := lookbacks[i]; ok {
		return d
	}
	return lookbacks[Interval1h]
}

// Intraday reports whether the interval is finer than a day.
func (i Interval) Intraday() bool { return i.Valid() && i != Interval1d }

// SubHourly reports whether the interval is finer than an hour.
func (i Interval) SubHourly() bool { return i.Valid() && i.Duration() < time.Hour }

func (i Interval) String() string { return string(i) }

// Bar is one OHLCV observation. Time is the bucket start in UTC.
type Bar struct {
	Time   time.Time       `json:"timestamp"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Consistent reports whether low <= min(open,close) <= max(open,close) <= high.
// Approximated bars are not required to satisfy it.
func (b Bar) Consistent() bool {
	lo := decimal.Min(b.Open, b.Close)
	hi := decimal.Max(b.Open, b.Close)
	return b.Low.LessThanOrEqual(lo) && hi.LessThanOrEqual(b.High) && !b.Volume.IsNegative()
}

// TimeSeries is an ordered run of bars for one (symbol, interval).
// A non-nil series with no bars is a valid "nothing in range" value.
type TimeSeries struct {
	Symbol   string   `json:"symbol"`
	Interval Interval `json:"interval"`
	// Source names the provider that produced the data, or "synthetic".
	Source string `json:"source,omitempty"`
	// Approximate is set when open/high/low were derived from closes only.
	Approximate bool  `json:"approximate,omitempty"`
	Bars        []Bar `json:"bars"`
}

// New builds a normalized series from bars in any order.
func New(symbol string, interval Interval, bars []Bar) *TimeSeries {
	ts := &TimeSeries{Symbol: symbol, Interval: interval, Bars: bars}
	ts.Normalize()
	return ts
}

func (ts *TimeSeries) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.Bars)
}

func (ts *TimeSeries) Empty() bool { return ts.Len() == 0 }

// Last returns the most recent bar.
func (ts *TimeSeries) Last() (Bar, bool) {
	if ts.Empty() {
		return Bar{}, false
	}
	return ts.Bars[len(ts.Bars)-1], true
}

// Clone returns a deep copy with its own bar slice.
func (ts *TimeSeries) Clone() *TimeSeries {
	if ts == nil {
		return nil
	}
	out := *ts
	out.Bars = make([]Bar, len(ts.Bars))
	copy(out.Bars, ts.Bars)
	return &out
}

// Normalize converts timestamps to UTC, sorts by time and removes duplicate
// timestamps, keeping the last occurrence.
func (ts *TimeSeries) Normalize() {
	if ts == nil {
		return
	}
	if ts.Bars == nil {
		ts.Bars = []Bar{}
		return
	}
	for i := range ts.Bars {
		ts.Bars[i].Time = ts.Bars[i].Time.UTC()
	}
	sort.SliceStable(ts.Bars, func(i, j int) bool { return ts.Bars[i].Time.Before(ts.Bars[j].Time) })
	out := ts.Bars[:0]
	for _, b := range ts.Bars {
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	ts.Bars = out
}

// Between returns a copy holding only bars with start <= t <= end.
// A zero bound is open. The result is never nil.
func (ts *TimeSeries) Between(start, end time.Time) *TimeSeries {
	out := &TimeSeries{Bars: []Bar{}}
	if ts == nil {
		return out
	}
	out.Symbol, out.Interval, out.Source, out.Approximate = ts.Symbol, ts.Interval, ts.Source, ts.Approximate
	for _, b := range ts.Bars {
		if !start.IsZero() && b.Time.Before(start) {
			continue
		}
		if !end.IsZero() && b.Time.After(end) {
			continue
		}
		out.Bars = append(out.Bars, b)
	}
	return out
}

// Index maps each bar timestamp (unix nanoseconds) to its position.
func (ts *TimeSeries) Index() map[int64]int {
	idx := make(map[int64]int, ts.Len())
	if ts == nil {
		return idx
	}
	for i, b := range ts.Bars {
		idx[b.Time.UnixNano()] = i
	}
	return idx
}
