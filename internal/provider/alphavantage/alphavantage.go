// Package alphavantage reads series from the Alpha Vantage REST API. Every
// call needs an API key. Responses use dynamic object keys (one per bar
// timestamp, numbered field names), so they are walked with gjson rather than
// decoded into structs.
package alphavantage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"marketdata/internal/asset"
	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/series"
)

const defaultBaseURL = "https://www.alphavantage.co/query"

// Functions of the query API.
const (
	fxIntraday     = "FX_INTRADAY"
	fxDaily        = "FX_DAILY"
	cryptoDaily    = "DIGITAL_CURRENCY_DAILY"
	stockIntraday  = "TIME_SERIES_INTRADAY"
	stockDaily     = "TIME_SERIES_DAILY"
	placeholderKey = "demo"
)

var intervals = map[series.Interval]struct {
	param  string
	native series.Interval
}{
	series.Interval1m:  {"1min", series.Interval1m},
	series.Interval5m:  {"5min", series.Interval5m},
	series.Interval15m: {"15min", series.Interval15m},
	series.Interval30m: {"30min", series.Interval30m},
	series.Interval1h:  {"60min", series.Interval1h},
	series.Interval4h:  {"60min", series.Interval1h},
	series.Interval1d:  {"daily", series.Interval1d},
}

type Config struct {
	Name    string
	BaseURL string
	APIKey  string
}

// Provider fetches series from Alpha Vantage.
type Provider struct {
	cfg    Config
	client *httpx.Client
	log    *zap.Logger
	now    func() time.Time
}

func New(cfg Config, hc *httpx.Client, log *zap.Logger) *Provider {
	if cfg.Name == "" {
		cfg.Name = "alphavantage"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{cfg: cfg, client: hc, log: log.With(zap.String("provider", cfg.Name)), now: time.Now}
}

func (p *Provider) Name() string { return p.cfg.Name }

// query is the resolved request: API parameters, the object key holding the
// bars and the interval the bars come in.
type query struct {
	params url.Values
	key    string
	native series.Interval
}

func buildQuery(req provider.Request) (query, error) {
	iv, ok := intervals[req.Interval]
	if !ok {
		return query{}, fmt.Errorf("interval %s", req.Interval)
	}
	intraday := req.Interval.Intraday()
	q := query{params: url.Values{}, native: iv.native}
	q.params.Set("outputsize", "full")
	q.params.Set("datatype", "json")

	switch req.Class {
	case asset.ForexPair, asset.Fiat:
		from, to := req.Symbol, asset.Quote
		if req.Class == asset.ForexPair {
			if len(req.Symbol) != 6 {
				return query{}, fmt.Errorf("pair %s", req.Symbol)
			}
			from, to = req.Symbol[:3], req.Symbol[3:]
		}
		if from == to {
			return query{}, fmt.Errorf("symbol %s", req.Symbol)
		}
		q.params.Set("from_symbol", from)
		q.params.Set("to_symbol", to)
		if intraday {
			q.params.Set("function", fxIntraday)
			q.params.Set("interval", iv.param)
			q.key = "Time Series FX (" + iv.param + ")"
		} else {
			q.params.Set("function", fxDaily)
			q.key = "Time Series FX (Daily)"
		}
	case asset.Crypto:
		// Only daily bars are offered for digital currencies.
		if intraday {
			return query{}, fmt.Errorf("intraday crypto")
		}
		q.params.Set("function", cryptoDaily)
		q.params.Set("symbol", req.Symbol)
		q.params.Set("market", asset.Quote)
		q.key = "Time Series (Digital Currency Daily)"
	default:
		q.params.Set("symbol", req.Symbol)
		if intraday {
			q.params.Set("function", stockIntraday)
			q.params.Set("interval", iv.param)
			q.key = "Time Series (" + iv.param + ")"
		} else {
			q.params.Set("function", stockDaily)
			q.key = "Time Series (Daily)"
		}
	}
	return q, nil
}

func (p *Provider) Fetch(ctx context.Context, req provider.Request) (*series.TimeSeries, error) {
	if p.cfg.APIKey == "" || p.cfg.APIKey == placeholderKey {
		return nil, fmt.Errorf("%s %s: %w", p.Name(), req, provider.ErrNoCredential)
	}
	q, err := buildQuery(req)
	if err != nil {
		return nil, provider.Unsupported(p.Name(), req, err.Error())
	}
	q.params.Set("apikey", p.cfg.APIKey)

	body, err := p.client.GetJSON(ctx, p.cfg.BaseURL, q.params, nil)
	if err != nil {
		return nil, err
	}
	bars, err := parse(body, q.key)
	if err != nil {
		p.log.Warn("no usable series", zap.String("symbol", req.Symbol), zap.String("function", q.params.Get("function")), zap.Error(err))
		return nil, provider.NoData(p.Name(), req, "%v", err)
	}
	req.Start, req.End = req.Window(p.now())
	return provider.Build(p.Name(), req, q.native, bars, false)
}

// errorKeys carry a message instead of data: bad symbol, throttled, premium-only.
var errorKeys = []string{"Error Message", "Note", "Information"}

func parse(body []byte, key string) ([]series.Bar, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json")
	}
	root := gjson.ParseBytes(body)
	for _, k := range errorKeys {
		if msg, ok := member(root, k); ok {
			return nil, fmt.Errorf("%s: %s", k, msg.String())
		}
	}
	rows, ok := member(root, key)
	if !ok || !rows.IsObject() {
		return nil, fmt.Errorf("missing %q", key)
	}
	loc := timeZone(root)

	var bars []series.Bar
	var bad error
	rows.ForEach(func(stamp, v gjson.Result) bool {
		t, err := parseStamp(stamp.String(), loc)
		if err != nil {
			bad = err
			return false
		}
		b := series.Bar{Time: t}
		fields := []struct {
			dst   *decimal.Decimal
			names []string
		}{
			{&b.Open, []string{"1. open", "1a. open (USD)"}},
			{&b.High, []string{"2. high", "2a. high (USD)"}},
			{&b.Low, []string{"3. low", "3a. low (USD)"}},
			{&b.Close, []string{"4. close", "4a. close (USD)"}},
		}
		for _, f := range fields {
			raw, ok := field(v, f.names...)
			if !ok {
				return true
			}
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return true
			}
			*f.dst = d
		}
		if raw, ok := field(v, "5. volume"); ok {
			if d, err := decimal.NewFromString(raw); err == nil {
				b.Volume = d
			}
		}
		bars = append(bars, b)
		return true
	})
	if bad != nil {
		return nil, bad
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("empty %q", key)
	}
	return bars, nil
}

// member looks up a top-level key by exact name. Keys here contain dots and
// spaces, which gjson paths would otherwise interpret.
func member(obj gjson.Result, name string) (gjson.Result, bool) {
	var out gjson.Result
	found := false
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.String() == name {
			out, found = v, true
			return false
		}
		return true
	})
	return out, found
}

func field(obj gjson.Result, names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := member(obj, n); ok {
			return v.String(), true
		}
	}
	return "", false
}

// timeZone reads the "Time Zone" entry of the metadata block; UTC when absent.
func timeZone(root gjson.Result) *time.Location {
	meta, ok := member(root, "Meta Data")
	if !ok {
		return time.UTC
	}
	var tz string
	meta.ForEach(func(k, v gjson.Result) bool {
		if strings.HasSuffix(k.String(), "Time Zone") {
			tz = v.String()
			return false
		}
		return true
	})
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseStamp(s string, loc *time.Location) (time.Time, error) {
	layout := time.DateOnly
	if strings.Contains(s, ":") {
		layout = time.DateTime
	}
	t, err := time.ParseInLocation(layout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	if layout == time.DateOnly {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return t.UTC(), nil
}
