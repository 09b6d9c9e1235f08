package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketdata/internal/asset"
	"marketdata/internal/series"
)

var (
	// ErrNoData means the source answered but holds nothing usable for the request.
	ErrNoData = errors.New("no data")
	// ErrNoCredential is returned without any network call when a keyed source has no key.
	ErrNoCredential = fmt.Errorf("%w: missing credential", ErrNoData)
	// ErrUnsupported is returned for a symbol class or interval the source cannot serve.
	ErrUnsupported = fmt.Errorf("%w: unsupported", ErrNoData)
)

// Request describes one series fetch. Symbol is the canonical upper-case
// symbol; translation to the source's own spelling is the provider's job.
type Request struct {
	Symbol   string
	Class    asset.Class
	Interval series.Interval
	Start    time.Time
	End      time.Time
}

// Window resolves open bounds: a zero End is now, a zero Start is End minus
// the interval's default lookback.
func (r Request) Window(now time.Time) (start, end time.Time) {
	start, end = r.Start.UTC(), r.End.UTC()
	if r.End.IsZero() {
		end = now.UTC()
	}
	if r.Start.IsZero() {
		start = end.Add(-r.Interval.Lookback())
	}
	return start, end
}

func (r Request) String() string {
	return fmt.Sprintf("%s/%s", r.Symbol, r.Interval)
}

// Provider fetches normalized series from one upstream source.
//
//go:generate mockgen -package=engine_test -destination=../engine/mock_provider_test.go -source=provider.go Provider
type Provider interface {
	Name() string
	Fetch(ctx context.Context, req Request) (*series.TimeSeries, error)
}

// NoData builds an ErrNoData error with context.
func NoData(source string, req Request, format string, args ...any) error {
	return fmt.Errorf("%s %s: %w: %s", source, req, ErrNoData, fmt.Sprintf(format, args...))
}

// Unsupported builds an ErrUnsupported error with context.
func Unsupported(source string, req Request, what string) error {
	return fmt.Errorf("%s %s: %w %s", source, req, ErrUnsupported, what)
}

// Build turns parsed bars into the series handed back to callers. Bars come
// at the source's native interval; when that is finer than the request they
// are resampled. The result is normalized, stamped with the request's symbol
// and cut to [Start, End].
func Build(source string, req Request, native series.Interval, bars []series.Bar, approximate bool) (*series.TimeSeries, error) {
	ts := series.New(req.Symbol, native, bars)
	ts.Source = source
	ts.Approximate = approximate
	if native != req.Interval {
		var err error
		if ts, err = ts.Resample(req.Interval); err != nil {
			return nil, fmt.Errorf("%s %s: %w", source, req, err)
		}
	}
	return ts.Between(req.Start, req.End), nil
}
