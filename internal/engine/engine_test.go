package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketdata/internal/asset"
	"marketdata/internal/cache"
	"marketdata/internal/engine"
	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/series"
)

var (
	now   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	today = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

func clock() time.Time { return now }

func day(n int) time.Time { return today.AddDate(0, 0, -n) }

func newProvider(ctrl *gomock.Controller, name string) *MockProvider {
	m := NewMockProvider(ctrl)
	m.EXPECT().Name().Return(name).AnyTimes()
	return m
}

func newEngine(opts ...engine.Option) *engine.Engine {
	store := cache.NewStore(cache.NewMemoryBackend(), cache.WithClock(clock))
	return engine.New(nil, store, append([]engine.Option{engine.WithClock(clock)}, opts...)...)
}

// flat builds daily bars ending today whose OHLC all equal the close.
func flat(symbol string, closes ...float64) *series.TimeSeries {
	bars := make([]series.Bar, 0, len(closes))
	for i, c := range closes {
		v := decimal.NewFromFloat(c)
		bars = append(bars, series.Bar{Time: day(len(closes) - 1 - i), Open: v, High: v, Low: v, Close: v, Volume: decimal.NewFromInt(100)})
	}
	return series.New(symbol, series.Interval1d, bars)
}

// serve answers from data by request symbol and reports ErrNoData otherwise.
func serve(data map[string]*series.TimeSeries) func(context.Context, provider.Request) (*series.TimeSeries, error) {
	return func(_ context.Context, req provider.Request) (*series.TimeSeries, error) {
		if ts, ok := data[req.Symbol]; ok {
			return ts.Clone(), nil
		}
		return nil, provider.NoData("fake", req, "unknown symbol")
	}
}

func lastClose(t *testing.T, ts *series.TimeSeries) float64 {
	t.Helper()
	b, ok := ts.Last()
	require.True(t, ok)
	return b.Close.InexactFloat64()
}

func TestFetchWithFallback_FallsBackInRouteOrderAndCaches(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	yahoo := newProvider(ctrl, engine.Yahoo)
	td := newProvider(ctrl, engine.TwelveData)
	av := newProvider(ctrl, engine.AlphaVantage)

	yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("yahoo: %w", httpx.ErrUnavailable)).Times(1)
	td.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req provider.Request) (*series.TimeSeries, error) {
		assert.Equal(t, "AAPL", req.Symbol)
		assert.Equal(t, asset.Equity, req.Class)
		assert.Equal(t, series.Interval1d, req.Interval)
		assert.Equal(t, now, req.End)
		assert.Equal(t, now.Add(-series.Interval1d.Lookback()), req.Start)
		return flat("AAPL", 180, 182), nil
	}).Times(1)
	av.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)

	e := newEngine(engine.WithProvider(yahoo), engine.WithProvider(td), engine.WithProvider(av))

	// Act
	first, err := e.FetchWithFallback(t.Context(), " aapl ", series.Interval1d, false)
	require.NoError(t, err)
	second, err := e.FetchWithFallback(t.Context(), "AAPL", series.Interval1d, false)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, "AAPL", first.Symbol)
	assert.Equal(t, engine.TwelveData, first.Source)
	assert.Equal(t, 2, first.Len())
	assert.Equal(t, first.Bars, second.Bars)
	assert.True(t, e.Cache().IsValid(t.Context(), cache.Key{Symbol: "AAPL", Interval: series.Interval1d}))
}

func TestFetchWithFallback_ForceRefreshBypassesCache(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	yahoo := newProvider(ctrl, engine.Yahoo)
	gomock.InOrder(
		yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(flat("MSFT", 400), nil),
		yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(flat("MSFT", 410), nil),
	)
	e := newEngine(engine.WithProvider(yahoo))

	// Act
	_, err := e.FetchWithFallback(t.Context(), "MSFT", series.Interval1d, false)
	require.NoError(t, err)
	fresh, err := e.FetchWithFallback(t.Context(), "MSFT", series.Interval1d, true)
	require.NoError(t, err)
	cached, err := e.FetchWithFallback(t.Context(), "MSFT", series.Interval1d, false)
	require.NoError(t, err)

	// Assert
	assert.InDelta(t, 410, lastClose(t, fresh), 1e-9)
	assert.InDelta(t, 410, lastClose(t, cached), 1e-9)
}

func TestFetchWithFallback_ExhaustedListsEveryAttempt(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	yahoo := newProvider(ctrl, engine.Yahoo)
	td := newProvider(ctrl, engine.TwelveData)
	av := newProvider(ctrl, engine.AlphaVantage)
	yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("yahoo: %w", httpx.ErrUnavailable))
	td.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(series.New("AAPL", series.Interval1d, nil), nil)
	av.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, provider.ErrNoCredential)
	e := newEngine(engine.WithProvider(yahoo), engine.WithProvider(td), engine.WithProvider(av))

	// Act
	ts, err := e.FetchWithFallback(t.Context(), "AAPL", series.Interval1d, false)

	// Assert
	require.Error(t, err)
	assert.Nil(t, ts)
	assert.ErrorIs(t, err, engine.ErrExhausted)
	assert.ErrorIs(t, err, httpx.ErrUnavailable)
	assert.ErrorIs(t, err, provider.ErrNoData)

	var exhausted *engine.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 3)
	assert.Equal(t, engine.Yahoo, exhausted.Attempts[0].Provider)
	assert.Equal(t, engine.TwelveData, exhausted.Attempts[1].Provider)
	assert.Equal(t, engine.AlphaVantage, exhausted.Attempts[2].Provider)
	assert.Contains(t, err.Error(), "AAPL/1d")
	assert.False(t, e.Cache().IsValid(t.Context(), cache.Key{Symbol: "AAPL", Interval: series.Interval1d}))
}

func TestFetchWithFallback_PanickingProviderIsAFailure(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	yahoo := newProvider(ctrl, engine.Yahoo)
	td := newProvider(ctrl, engine.TwelveData)
	yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, provider.Request) (*series.TimeSeries, error) {
		panic("malformed payload")
	})
	td.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(flat("SPY", 500), nil)
	e := newEngine(engine.WithProvider(yahoo), engine.WithProvider(td))

	// Act
	ts, err := e.FetchWithFallback(t.Context(), "SPY", series.Interval1d, false)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, engine.TwelveData, ts.Source)
}

func TestFetchWithFallback_SkipsUnregisteredProviders(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	av := newProvider(ctrl, engine.AlphaVantage)
	av.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(flat("XAU", 2000), nil)
	e := newEngine(engine.WithProvider(av))

	// Act
	ts, err := e.FetchWithFallback(t.Context(), "XAU", series.Interval1d, false)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, engine.AlphaVantage, ts.Source)
}

func TestFetchWithFallback_RejectsBadInput(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	yahoo := newProvider(ctrl, engine.Yahoo)
	yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)
	e := newEngine(engine.WithProvider(yahoo))

	_, err := e.FetchWithFallback(t.Context(), "  ", series.Interval1d, false)
	require.Error(t, err)
	_, err = e.FetchWithFallback(t.Context(), "AAPL", series.Interval("2h"), false)
	require.Error(t, err)
}

func TestFetchWithFallback_NoProvidersIsExhausted(t *testing.T) {
	t.Parallel()

	_, err := newEngine().FetchWithFallback(t.Context(), "AAPL", series.Interval1d, false)

	require.ErrorIs(t, err, engine.ErrExhausted)
	assert.Contains(t, err.Error(), "no provider registered")
}

func TestRoute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		class asset.Class
		iv    series.Interval
		want  []string
	}{
		{"forex sub-hourly", asset.ForexPair, series.Interval5m, []string{engine.TwelveData, engine.AlphaVantage, engine.Yahoo}},
		{"forex hourly", asset.ForexPair, series.Interval1h, []string{engine.Yahoo, engine.TwelveData, engine.AlphaVantage}},
		{"crypto", asset.Crypto, series.Interval1d, []string{engine.CoinGecko, engine.Yahoo, engine.AlphaVantage, engine.TwelveData}},
		{"fiat", asset.Fiat, series.Interval1d, []string{engine.Yahoo, engine.AlphaVantage, engine.TwelveData}},
		{"metal", asset.Metal, series.Interval1h, []string{engine.Yahoo, engine.AlphaVantage, engine.TwelveData}},
		{"equity", asset.Equity, series.Interval15m, []string{engine.Yahoo, engine.TwelveData, engine.AlphaVantage}},
		{"index", asset.Index, series.Interval1d, []string{engine.Yahoo, engine.TwelveData, engine.AlphaVantage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, engine.Route(tt.class, tt.iv))
		})
	}
}

func TestRatePair_IdentityNeedsNoFetch(t *testing.T) {
	t.Parallel()

	ts, err := newEngine().RatePair(t.Context(), "eur", "EUR", series.Interval1h, false)

	require.NoError(t, err)
	require.Equal(t, 2, ts.Len())
	assert.Equal(t, day(1), ts.Bars[0].Time)
	assert.Equal(t, today, ts.Bars[1].Time)
	for _, b := range ts.Bars {
		assert.True(t, b.Close.Equal(decimal.NewFromInt(1)))
		assert.True(t, b.High.Equal(decimal.NewFromInt(1)))
	}
}

func TestRatePair_PrefersDirectPair(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	yahoo := newProvider(ctrl, engine.Yahoo)
	yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(serve(map[string]*series.TimeSeries{
		"EURJPY": flat("EURJPY", 161.5),
	})).Times(1)
	e := newEngine(engine.WithProvider(yahoo))

	// Act
	ts, err := e.RatePair(t.Context(), "EUR", "JPY", series.Interval1d, false)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, engine.Yahoo, ts.Source)
	assert.InDelta(t, 161.5, lastClose(t, ts), 1e-9)
}

func TestRatePair_InvertsUSDLeg(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	yahoo := newProvider(ctrl, engine.Yahoo)
	jpy := series.New("JPY", series.Interval1d, []series.Bar{{
		Time:   today,
		Open:   decimal.NewFromFloat(0.0066),
		High:   decimal.NewFromFloat(0.0068),
		Low:    decimal.NewFromFloat(0.0065),
		Close:  decimal.NewFromFloat(0.0067),
		Volume: decimal.NewFromInt(7),
	}})
	yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(serve(map[string]*series.TimeSeries{"JPY": jpy})).Times(2)
	e := newEngine(engine.WithProvider(yahoo))

	// Act
	ts, err := e.RatePair(t.Context(), "USD", "JPY", series.Interval1d, false)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "USD-JPY", ts.Symbol)
	assert.Equal(t, engine.SyntheticSource, ts.Source)
	require.Equal(t, 1, ts.Len())
	b := ts.Bars[0]
	assert.InDelta(t, 1/0.0067, b.Close.InexactFloat64(), 1e-4)
	assert.InDelta(t, 1/0.0066, b.Open.InexactFloat64(), 1e-4)
	assert.InDelta(t, 1/0.0065, b.High.InexactFloat64(), 1e-4)
	assert.InDelta(t, 1/0.0068, b.Low.InexactFloat64(), 1e-4)
	assert.True(t, b.Volume.Equal(decimal.NewFromInt(7)))
}

func TestRatePair_PassesThroughUSDQuote(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	yahoo := newProvider(ctrl, engine.Yahoo)
	yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(serve(map[string]*series.TimeSeries{
		"GBP": flat("GBP", 1.26, 1.27),
	})).AnyTimes()
	e := newEngine(engine.WithProvider(yahoo))

	ts, err := e.RatePair(t.Context(), "GBP", "USD", series.Interval1d, false)

	require.NoError(t, err)
	assert.Equal(t, "GBP-USD", ts.Symbol)
	assert.InDelta(t, 1.27, lastClose(t, ts), 1e-9)
}

func TestRatePair_TriangulatesOnCommonTimestampsAndCaches(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	yahoo := newProvider(ctrl, engine.Yahoo)
	eur := flat("EUR", 1.08, 1.10, 1.12) // days 2, 1, 0
	gbp := flat("GBP", 1.25, 1.28)       // days 1, 0
	gbp.Bars = append([]series.Bar{{Time: day(5), Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1)}}, gbp.Bars...)
	// EURGBP direct twice, each leg once; the second call hits the cached synthetic pair.
	yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(serve(map[string]*series.TimeSeries{
		"EUR": eur,
		"GBP": gbp,
	})).Times(4)
	e := newEngine(engine.WithProvider(yahoo))

	// Act
	ts, err := e.RatePair(t.Context(), "EUR", "GBP", series.Interval1d, false)
	require.NoError(t, err)
	again, err := e.RatePair(t.Context(), "EUR", "GBP", series.Interval1d, false)
	require.NoError(t, err)

	// Assert
	require.Equal(t, 2, ts.Len())
	assert.Equal(t, day(1), ts.Bars[0].Time)
	assert.Equal(t, day(0), ts.Bars[1].Time)
	assert.InDelta(t, 1.10/1.25, ts.Bars[0].Close.InexactFloat64(), 1e-9)
	assert.InDelta(t, 1.12/1.28, ts.Bars[1].Close.InexactFloat64(), 1e-9)
	assert.Equal(t, "EUR-GBP", ts.Symbol)
	assert.Equal(t, engine.SyntheticSource, ts.Source)
	assert.Equal(t, ts.Bars, again.Bars)

	entry, ok := e.Cache().Get(t.Context(), cache.Key{Symbol: "EUR-GBP", Interval: series.Interval1d})
	require.True(t, ok)
	assert.Equal(t, 2, entry.Series.Len())
	assert.False(t, e.Cache().IsValid(t.Context(), cache.Key{Symbol: "EURGBP", Interval: series.Interval1d}))
}

func TestRatePair_SynthesisImpossible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data map[string]*series.TimeSeries
	}{
		{"missing leg", map[string]*series.TimeSeries{"EUR": flat("EUR", 1.1)}},
		{"no overlap", map[string]*series.TimeSeries{
			"EUR": flat("EUR", 1.1),
			"CHF": series.New("CHF", series.Interval1d, []series.Bar{{Time: day(3), Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1)}}),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			yahoo := newProvider(ctrl, engine.Yahoo)
			yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(serve(tt.data)).AnyTimes()
			e := newEngine(engine.WithProvider(yahoo))

			ts, err := e.RatePair(t.Context(), "EUR", "CHF", series.Interval1d, false)

			require.ErrorIs(t, err, engine.ErrSynthesisImpossible)
			assert.Nil(t, ts)
		})
	}
}

func TestInvert_SkipsZeroPrices(t *testing.T) {
	t.Parallel()

	zero := decimal.Zero
	two := decimal.NewFromInt(2)
	in := series.New("X", series.Interval1d, []series.Bar{
		{Time: day(1), Open: zero, High: two, Low: zero, Close: two},
		{Time: day(0), Open: two, High: two, Low: two, Close: two},
	})

	out := engine.Invert(in)

	require.Equal(t, 1, out.Len())
	assert.True(t, out.Bars[0].Close.Equal(decimal.NewFromFloat(0.5)))
}

func TestProcessBatch_IsolatesFailures(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	yahoo := newProvider(ctrl, engine.Yahoo)
	yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, req provider.Request) (*series.TimeSeries, error) {
		if req.Symbol == "BOOM" {
			panic("unexpected payload")
		}
		return serve(map[string]*series.TimeSeries{
			"AAPL": flat("AAPL", 180),
			"MSFT": flat("MSFT", 400),
		})(ctx, req)
	}).Times(4)
	e := newEngine(engine.WithProvider(yahoo), engine.WithWorkers(2))

	// Act
	res := e.ProcessBatch(t.Context(), []string{"AAPL", "MSFT", "NOPE", "BOOM", " aapl", ""}, series.Interval1d, false)

	// Assert
	assert.Equal(t, 4, res.Total())
	assert.Len(t, res.Succeeded, 2)
	assert.Contains(t, res.Succeeded, "AAPL")
	assert.Contains(t, res.Succeeded, "MSFT")
	assert.Equal(t, []string{"BOOM", "NOPE"}, res.FailedSymbols())
	assert.ErrorIs(t, res.Failed["NOPE"], engine.ErrExhausted)
}

func TestProcessBatch_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	symbols := make([]string, 12)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%02d", i)
	}
	for _, tc := range []struct {
		name  string
		opts  []engine.Option
		limit int32
	}{
		{name: "default", limit: 5},
		{name: "configured", opts: []engine.Option{engine.WithWorkers(3)}, limit: 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			var inFlight, peak atomic.Int32
			ctrl := gomock.NewController(t)
			yahoo := newProvider(ctrl, engine.Yahoo)
			yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req provider.Request) (*series.TimeSeries, error) {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				return flat(req.Symbol, 1), nil
			}).Times(len(symbols))
			e := newEngine(append([]engine.Option{engine.WithProvider(yahoo)}, tc.opts...)...)

			// Act
			res := e.ProcessBatch(t.Context(), symbols, series.Interval1d, false)

			// Assert
			assert.Len(t, res.Succeeded, len(symbols))
			assert.Empty(t, res.Failed)
			assert.LessOrEqual(t, peak.Load(), tc.limit)
			assert.Positive(t, peak.Load())
		})
	}
}

func TestWindow_EmptyRangeIsAValidSeries(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	yahoo := newProvider(ctrl, engine.Yahoo)
	yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(flat("QQQ", 430, 431, 432), nil).Times(1)
	e := newEngine(engine.WithProvider(yahoo))

	// Act
	empty, err := e.Window(t.Context(), "QQQ", series.Interval1d, day(30), day(20), false)
	require.NoError(t, err)
	some, err := e.Window(t.Context(), "QQQ", series.Interval1d, day(1), time.Time{}, false)
	require.NoError(t, err)

	// Assert
	require.NotNil(t, empty)
	assert.True(t, empty.Empty())
	assert.Equal(t, "QQQ", empty.Symbol)
	assert.Equal(t, 2, some.Len())
}

func TestLatestBar(t *testing.T) {
	t.Parallel()

	t.Run("usd quote", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		yahoo := newProvider(ctrl, engine.Yahoo)
		yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(flat("NVDA", 870, 880), nil)
		e := newEngine(engine.WithProvider(yahoo))

		got, err := e.LatestBar(t.Context(), "nvda", "")

		require.NoError(t, err)
		assert.Equal(t, "NVDA", got.Base)
		assert.Equal(t, asset.Quote, got.Quote)
		assert.InDelta(t, 880, got.Price.InexactFloat64(), 1e-9)
		assert.Equal(t, today, got.Time)
		assert.Equal(t, engine.Yahoo, got.Source)
	})

	t.Run("same currency", func(t *testing.T) {
		t.Parallel()

		got, err := newEngine().LatestBar(t.Context(), "EUR", "eur")

		require.NoError(t, err)
		assert.True(t, got.Price.Equal(decimal.NewFromInt(1)))
	})

	t.Run("pair symbol reads cached cross rate", func(t *testing.T) {
		t.Parallel()

		e := newEngine()
		key := cache.Key{Symbol: engine.SyntheticSymbol("EUR", "GBP"), Interval: series.Interval1d}
		require.NoError(t, e.Cache().Put(t.Context(), key, flat("EUR-GBP", 0.85, 0.86)))

		got, err := e.LatestBar(t.Context(), "EURGBP", "")

		require.NoError(t, err)
		assert.Equal(t, "EUR", got.Base)
		assert.Equal(t, "GBP", got.Quote)
		assert.InDelta(t, 0.86, got.Price.InexactFloat64(), 1e-9)
	})

	t.Run("unavailable", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		yahoo := newProvider(ctrl, engine.Yahoo)
		yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset"))
		e := newEngine(engine.WithProvider(yahoo))

		got, err := e.LatestBar(t.Context(), "TSLA", "USD")

		require.ErrorIs(t, err, engine.ErrPriceUnavailable)
		assert.ErrorIs(t, err, engine.ErrExhausted)
		assert.Nil(t, got)
	})
}

func TestUpdateGroups_RunsInOrder(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	yahoo := newProvider(ctrl, engine.Yahoo)
	yahoo.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(serve(map[string]*series.TimeSeries{
		"SPY": flat("SPY", 500),
		"DIA": flat("DIA", 390),
	})).Times(2)
	e := newEngine(engine.WithProvider(yahoo))
	groups := []engine.Group{
		{Name: "etfs", Symbols: []string{"SPY", "DIA"}, Interval: series.Interval1d},
		{Name: "broken", Symbols: []string{"SPY"}, Interval: series.Interval("3d")},
	}

	// Act
	got := e.UpdateGroups(t.Context(), groups)

	// Assert
	require.Len(t, got, 2)
	assert.Equal(t, "etfs", got[0].Group.Name)
	assert.Len(t, got[0].Result.Succeeded, 2)
	assert.Equal(t, "broken", got[1].Group.Name)
	assert.Equal(t, []string{"SPY"}, got[1].Result.FailedSymbols())
}

func TestDefaultGroups(t *testing.T) {
	t.Parallel()

	tables := asset.MustDefaultTables()

	groups := engine.DefaultGroups(tables)

	require.Len(t, groups, 16)
	for _, g := range groups {
		assert.NotEmpty(t, g.Symbols, g.Name)
		assert.True(t, g.Interval.Valid(), g.Name)
	}
	majors := groups[len(groups)-4:]
	for i, iv := range []series.Interval{series.Interval1m, series.Interval5m, series.Interval15m, series.Interval30m} {
		assert.Equal(t, iv, majors[i].Interval)
		assert.Equal(t, tables.Members(asset.ForexPair)[:10], majors[i].Symbols)
	}
}
