// Package yahoo reads OHLCV bars from the public Yahoo Finance chart API.
// No credential is needed.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
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

const defaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// futures maps metal and commodity codes to their front-month contract.
var futures = map[string]string{
	"XAU": "GC=F", "XAG": "SI=F", "XPT": "PL=F", "XPD": "PA=F", "HG": "HG=F",
	"CL": "CL=F", "NG": "NG=F", "BZ": "BZ=F", "HO": "HO=F", "RB": "RB=F",
	"ZC": "ZC=F", "ZS": "ZS=F", "KE": "KE=F", "ZW": "ZW=F",
	"CC": "CC=F", "CT": "CT=F", "KC": "KC=F", "SB": "SB=F",
}

// wire is the chart API spelling and the interval actually served for each
// requested interval. 4h is not offered and is built from 60m bars.
var wire = map[series.Interval]struct {
	param  string
	native series.Interval
}{
	series.Interval1m:  {"1m", series.Interval1m},
	series.Interval5m:  {"5m", series.Interval5m},
	series.Interval15m: {"15m", series.Interval15m},
	series.Interval30m: {"30m", series.Interval30m},
	series.Interval1h:  {"60m", series.Interval1h},
	series.Interval4h:  {"60m", series.Interval1h},
	series.Interval1d:  {"1d", series.Interval1d},
}

type Config struct {
	Name    string
	BaseURL string
}

// Provider fetches chart data from Yahoo Finance.
type Provider struct {
	cfg    Config
	client *httpx.Client
	log    *zap.Logger
	now    func() time.Time
}

func New(cfg Config, hc *httpx.Client, log *zap.Logger) *Provider {
	if cfg.Name == "" {
		cfg.Name = "yahoo"
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

// Ticker translates a canonical symbol into Yahoo's spelling.
func Ticker(symbol string, class asset.Class) (string, bool) {
	s := asset.Normalize(symbol)
	if strings.ContainsAny(s, "=^") {
		return s, true
	}
	switch class {
	case asset.ForexPair:
		return s + "=X", true
	case asset.Crypto:
		return s + "-USD", true
	case asset.Fiat:
		if s == asset.Quote {
			return "", false
		}
		return s + asset.Quote + "=X", true
	case asset.Metal, asset.Commodity:
		if f, ok := futures[s]; ok {
			return f, true
		}
	}
	return s, true
}

func (p *Provider) Fetch(ctx context.Context, req provider.Request) (*series.TimeSeries, error) {
	ticker, ok := Ticker(req.Symbol, req.Class)
	if !ok {
		return nil, provider.Unsupported(p.Name(), req, "symbol")
	}
	w, ok := wire[req.Interval]
	if !ok {
		return nil, provider.Unsupported(p.Name(), req, "interval")
	}
	start, end := req.Window(p.now())

	params := url.Values{}
	params.Set("period1", strconv.FormatInt(start.Unix(), 10))
	params.Set("period2", strconv.FormatInt(end.Unix(), 10))
	params.Set("interval", w.param)
	params.Set("includePrePost", "false")
	params.Set("events", "div,splits")

	body, err := p.client.GetJSON(ctx, p.cfg.BaseURL+"/"+url.PathEscape(ticker), params, nil)
	if err != nil {
		return nil, err
	}
	bars, err := parseChart(body, w.native)
	if err != nil {
		p.log.Warn("no usable chart data", zap.String("symbol", req.Symbol), zap.String("ticker", ticker), zap.Error(err))
		return nil, provider.NoData(p.Name(), req, "%s: %v", ticker, err)
	}
	return provider.Build(p.Name(), req, w.native, bars, false)
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				GMTOffset int64 `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []decimal.NullDecimal `json:"open"`
					High   []decimal.NullDecimal `json:"high"`
					Low    []decimal.NullDecimal `json:"low"`
					Close  []decimal.NullDecimal `json:"close"`
					Volume []decimal.NullDecimal `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// parseChart turns a chart payload into bars. Rows with any null price are
// dropped (market holidays, halted sessions); a null volume reads as zero.
// Daily bars are stamped at UTC midnight of the exchange-local trading date.
func parseChart(body []byte, native series.Interval) ([]series.Bar, error) {
	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if e := resp.Chart.Error; e != nil {
		return nil, fmt.Errorf("%s: %s", e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("empty result")
	}
	res := resp.Chart.Result[0]
	q := res.Indicators.Quote[0]

	bars := make([]series.Bar, 0, len(res.Timestamp))
	for i, sec := range res.Timestamp {
		o, h, l, c := at(q.Open, i), at(q.High, i), at(q.Low, i), at(q.Close, i)
		if !o.Valid || !h.Valid || !l.Valid || !c.Valid {
			continue
		}
		t := time.Unix(sec, 0).UTC()
		if native == series.Interval1d {
			t = time.Unix(sec+res.Meta.GMTOffset, 0).UTC().Truncate(24 * time.Hour)
		}
		bars = append(bars, series.Bar{
			Time:   t,
			Open:   o.Decimal,
			High:   h.Decimal,
			Low:    l.Decimal,
			Close:  c.Decimal,
			Volume: at(q.Volume, i).Decimal,
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no rows")
	}
	return bars, nil
}

func at(vs []decimal.NullDecimal, i int) decimal.NullDecimal {
	if i < len(vs) {
		return vs[i]
	}
	return decimal.NullDecimal{}
}
