package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/series"
)

// Quota wraps a provider and gates fetches with a token bucket sized to the
// source's published request budget. It sits on top of the transport's own
// spacing, which only keeps individual calls apart.
type Quota struct {
	P       provider.Provider
	Limiter *rate.Limiter
}

// PerMinute wraps p with a limit of n fetches per minute and the given burst.
// n <= 0 returns p unchanged.
func PerMinute(p provider.Provider, n, burst int) provider.Provider {
	if n <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &Quota{P: p, Limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), burst)}
}

func (q *Quota) Name() string { return q.P.Name() }

func (q *Quota) Fetch(ctx context.Context, req provider.Request) (*series.TimeSeries, error) {
	if q.Limiter != nil {
		if err := q.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s quota: %w", httpx.ErrUnavailable, q.P.Name(), err)
		}
	}
	return q.P.Fetch(ctx, req)
}
