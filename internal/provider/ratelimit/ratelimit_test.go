package ratelimit_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/provider/ratelimit"
	"marketdata/internal/series"
)

type countingProvider struct{ calls atomic.Int32 }

func (c *countingProvider) Name() string { return "counting" }

func (c *countingProvider) Fetch(_ context.Context, req provider.Request) (*series.TimeSeries, error) {
	c.calls.Add(1)
	return series.New(req.Symbol, req.Interval, nil), nil
}

func TestPerMinute_DisabledReturnsProvider(t *testing.T) {
	t.Parallel()

	p := &countingProvider{}
	require.Same(t, provider.Provider(p), ratelimit.PerMinute(p, 0, 0))
}

func TestQuota_PassesThroughWithinBurst(t *testing.T) {
	t.Parallel()

	p := &countingProvider{}
	q := ratelimit.PerMinute(p, 60, 2)
	require.Equal(t, "counting", q.Name())

	for range 2 {
		ts, err := q.Fetch(t.Context(), provider.Request{Symbol: "AAPL", Interval: series.Interval1d})
		require.NoError(t, err)
		require.Equal(t, "AAPL", ts.Symbol)
	}
	require.EqualValues(t, 2, p.calls.Load())
}

func TestQuota_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	// Arrange: a drained bucket that refills once an hour
	p := &countingProvider{}
	q := &ratelimit.Quota{P: p, Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)}
	_, err := q.Fetch(t.Context(), provider.Request{Symbol: "AAPL", Interval: series.Interval1d})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	// Act
	_, err = q.Fetch(ctx, provider.Request{Symbol: "AAPL", Interval: series.Interval1d})

	// Assert
	require.ErrorIs(t, err, httpx.ErrUnavailable)
	require.EqualValues(t, 1, p.calls.Load())
}
