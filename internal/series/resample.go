package series

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Resample aggregates the series into coarser fixed-width buckets aligned to
// the target interval (UTC midnight origin): open=first, high=max, low=min,
// close=last, volume=sum. Buckets without bars are not emitted.
func (ts *TimeSeries) Resample(target Interval) (*TimeSeries, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("resample: unknown interval %q", target)
	}
	if ts == nil {
		return nil, fmt.Errorf("resample: nil series")
	}
	if ts.Interval.Valid() && target.Duration() < ts.Interval.Duration() {
		return nil, fmt.Errorf("resample: cannot go from %s to finer %s", ts.Interval, target)
	}
	out := &TimeSeries{
		Symbol:      ts.Symbol,
		Interval:    target,
		Source:      ts.Source,
		Approximate: ts.Approximate,
		Bars:        make([]Bar, 0, len(ts.Bars)),
	}
	width := target.Duration()
	var cur *Bar
	for _, b := range ts.Bars {
		bucket := b.Time.UTC().Truncate(width)
		if cur != nil && cur.Time.Equal(bucket) {
			cur.High = decimal.Max(cur.High, b.High)
			cur.Low = decimal.Min(cur.Low, b.Low)
			cur.Close = b.Close
			cur.Volume = cur.Volume.Add(b.Volume)
			continue
		}
		if cur != nil {
			out.Bars = append(out.Bars, *cur)
		}
		nb := b
		nb.Time = bucket
		cur = &nb
	}
	if cur != nil {
		out.Bars = append(out.Bars, *cur)
	}
	return out, nil
}

// Point is a close-only observation as served by aggregator APIs.
type Point struct {
	Time   time.Time
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// FromCloses builds approximate bars from close-only points: open is the
// prior close (the first bar opens at its own close) and high = low = close.
// Points must already be in time order.
func FromCloses(points []Point) []Bar {
	bars := make([]Bar, 0, len(points))
	for i, p := range points {
		open := p.Close
		if i > 0 {
			open = points[i-1].Close
		}
		bars = append(bars, Bar{
			Time:   p.Time.UTC(),
			Open:   open,
			High:   p.Close,
			Low:    p.Close,
			Close:  p.Close,
			Volume: p.Volume,
		})
	}
	return bars
}
