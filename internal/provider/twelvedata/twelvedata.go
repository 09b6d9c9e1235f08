// Package twelvedata reads series from the Twelve Data time_series endpoint.
package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketdata/internal/asset"
	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/series"
)

const (
	defaultBaseURL = "https://api.twelvedata.com"
	maxOutputSize  = 5000
	stampLayout    = time.DateTime
)

var intervals = map[series.Interval]struct {
	param  string
	perDay int
	deflt  int
}{
	series.Interval1m:  {"1min", 1440, 1000},
	series.Interval5m:  {"5min", 288, 1000},
	series.Interval15m: {"15min", 96, 500},
	series.Interval30m: {"30min", 48, 500},
	series.Interval1h:  {"1h", 24, 168},
	series.Interval4h:  {"4h", 6, 120},
	series.Interval1d:  {"1day", 1, 90},
}

var quotedMetals = map[string]bool{"XAU": true, "XAG": true, "XPT": true, "XPD": true}

type Config struct {
	Name    string
	BaseURL string
	APIKey  string
}

// Provider fetches series from Twelve Data.
type Provider struct {
	cfg    Config
	client *httpx.Client
	log    *zap.Logger
	now    func() time.Time
}

func New(cfg Config, hc *httpx.Client, log *zap.Logger) *Provider {
	if cfg.Name == "" {
		cfg.Name = "twelvedata"
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

// Symbol translates a canonical symbol into Twelve Data's spelling.
func Symbol(symbol string, class asset.Class) (string, bool) {
	s := asset.Normalize(symbol)
	switch class {
	case asset.ForexPair:
		if len(s) != 6 {
			return "", false
		}
		return s[:3] + "/" + s[3:], true
	case asset.Crypto, asset.Fiat:
		if s == asset.Quote {
			return "", false
		}
		return s + "/" + asset.Quote, true
	case asset.Metal:
		if quotedMetals[s] {
			return s + "/" + asset.Quote, true
		}
	}
	return s, true
}

// OutputSize is the number of bars covering [start, end], capped at the API maximum.
func OutputSize(iv series.Interval, start, end time.Time) int {
	lim, ok := intervals[iv]
	if !ok {
		return 100
	}
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return lim.deflt
	}
	days := int(math.Ceil(end.Sub(start).Hours()/24)) + 1
	return min(days*lim.perDay, maxOutputSize)
}

func (p *Provider) Fetch(ctx context.Context, req provider.Request) (*series.TimeSeries, error) {
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("%s %s: %w", p.Name(), req, provider.ErrNoCredential)
	}
	sym, ok := Symbol(req.Symbol, req.Class)
	if !ok {
		return nil, provider.Unsupported(p.Name(), req, "symbol")
	}
	iv, ok := intervals[req.Interval]
	if !ok {
		return nil, provider.Unsupported(p.Name(), req, "interval")
	}
	start, end := req.Window(p.now())

	params := url.Values{}
	params.Set("symbol", sym)
	params.Set("interval", iv.param)
	params.Set("outputsize", strconv.Itoa(OutputSize(req.Interval, start, end)))
	params.Set("start_date", start.Format(stampLayout))
	params.Set("end_date", end.Format(stampLayout))
	params.Set("timezone", "UTC")
	params.Set("apikey", p.cfg.APIKey)

	body, err := p.client.GetJSON(ctx, p.cfg.BaseURL+"/time_series", params, nil)
	if err != nil {
		return nil, err
	}
	bars, err := parse(body)
	if err != nil {
		p.log.Warn("no usable series", zap.String("symbol", req.Symbol), zap.String("td_symbol", sym), zap.Error(err))
		return nil, provider.NoData(p.Name(), req, "%s: %v", sym, err)
	}
	req.Start, req.End = start, end
	return provider.Build(p.Name(), req, req.Interval, bars, false)
}

type timeSeriesResponse struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Values  []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	} `json:"values"`
}

func parse(body []byte) ([]series.Bar, error) {
	var resp timeSeriesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("%d: %s", resp.Code, resp.Message)
	}
	bars := make([]series.Bar, 0, len(resp.Values))
	for _, v := range resp.Values {
		layout := time.DateOnly
		if strings.Contains(v.Datetime, ":") {
			layout = stampLayout
		}
		t, err := time.ParseInLocation(layout, v.Datetime, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("datetime %q: %w", v.Datetime, err)
		}
		b := series.Bar{Time: t}
		ok := true
		for _, f := range []struct {
			dst *decimal.Decimal
			raw string
		}{{&b.Open, v.Open}, {&b.High, v.High}, {&b.Low, v.Low}, {&b.Close, v.Close}} {
			d, err := decimal.NewFromString(f.raw)
			if err != nil {
				ok = false
				break
			}
			*f.dst = d
		}
		if !ok {
			continue
		}
		if v.Volume != "" {
			if d, err := decimal.NewFromString(v.Volume); err == nil {
				b.Volume = d
			}
		}
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no values")
	}
	return bars, nil
}
