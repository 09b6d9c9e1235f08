// Package coingecko reads crypto prices from the CoinGecko aggregator. The
// public market_chart endpoint serves closes and volumes only, so bars are
// approximated from consecutive closes.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"marketdata/internal/asset"
	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/series"
)

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"
	demoKeyHeader  = "x-cg-demo-api-key"
	// maxHourlyDays is how far back hourly granularity reaches on the public tier.
	maxHourlyDays = 7
)

// pinned resolves symbols that are ambiguous in /coins/list to the coin
// everyone means by them.
var pinned = map[string]string{
	"BTC": "bitcoin", "ETH": "ethereum", "USDT": "tether", "XRP": "ripple",
	"BNB": "binancecoin", "ADA": "cardano", "SOL": "solana", "DOT": "polkadot",
	"DOGE": "dogecoin", "MATIC": "matic-network", "LTC": "litecoin",
	"SHIB": "shiba-inu", "AVAX": "avalanche-2", "UNI": "uniswap",
	"LINK": "chainlink", "XLM": "stellar", "BCH": "bitcoin-cash",
	"ATOM": "cosmos", "CRO": "crypto-com-chain", "FIL": "filecoin",
}

type Config struct {
	Name    string
	BaseURL string
	// APIKey is an optional demo key; the public tier works without it.
	APIKey string
	// IDs overrides or extends the symbol to coin id table.
	IDs map[string]string
}

// Provider fetches crypto series from CoinGecko.
type Provider struct {
	cfg    Config
	client *httpx.Client
	log    *zap.Logger
	now    func() time.Time

	// coin list memo, filled once on first use
	mu    sync.RWMutex
	coins map[string]string
	sf    singleflight.Group
}

func New(cfg Config, hc *httpx.Client, log *zap.Logger) *Provider {
	if cfg.Name == "" {
		cfg.Name = "coingecko"
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

func (p *Provider) headers() map[string]string {
	if p.cfg.APIKey == "" {
		return nil
	}
	return map[string]string{demoKeyHeader: p.cfg.APIKey}
}

// CoinID resolves a ticker symbol to a CoinGecko coin id.
func (p *Provider) CoinID(ctx context.Context, symbol string) (string, error) {
	s := asset.Normalize(symbol)
	if id, ok := p.cfg.IDs[s]; ok {
		return id, nil
	}
	if id, ok := pinned[s]; ok {
		return id, nil
	}

	p.mu.RLock()
	coins := p.coins
	p.mu.RUnlock()
	if coins == nil {
		v, err, _ := p.sf.Do("coins", func() (any, error) {
			return p.loadCoins(ctx)
		})
		if err != nil {
			return "", err
		}
		coins = v.(map[string]string)
	}
	id, ok := coins[s]
	if !ok {
		return "", fmt.Errorf("%w: no coin id for %s", provider.ErrNoData, s)
	}
	return id, nil
}

func (p *Provider) loadCoins(ctx context.Context) (map[string]string, error) {
	p.mu.RLock()
	if p.coins != nil {
		defer p.mu.RUnlock()
		return p.coins, nil
	}
	p.mu.RUnlock()

	body, err := p.client.GetJSON(ctx, p.cfg.BaseURL+"/coins/list", nil, p.headers())
	if err != nil {
		return nil, err
	}
	var list []struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: coingecko coin list: %v", provider.ErrNoData, err)
	}
	coins := make(map[string]string, len(list))
	for _, c := range list {
		s := asset.Normalize(c.Symbol)
		if _, dup := coins[s]; !dup && c.ID != "" {
			coins[s] = c.ID
		}
	}
	p.mu.Lock()
	p.coins = coins
	p.mu.Unlock()
	p.log.Info("coin list loaded", zap.Int("coins", len(coins)))
	return coins, nil
}

func (p *Provider) Fetch(ctx context.Context, req provider.Request) (*series.TimeSeries, error) {
	if req.Class != asset.Crypto {
		return nil, provider.Unsupported(p.Name(), req, "asset class "+string(req.Class))
	}
	if req.Interval.SubHourly() {
		return nil, provider.Unsupported(p.Name(), req, "interval")
	}
	id, err := p.CoinID(ctx, req.Symbol)
	if err != nil {
		p.log.Warn("coin id lookup failed", zap.String("symbol", req.Symbol), zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", p.Name(), req, err)
	}

	start, _ := req.Window(p.now())
	days := int(math.Ceil(p.now().Sub(start).Hours() / 24))
	native := series.Interval1d
	params := url.Values{}
	params.Set("vs_currency", "usd")
	if req.Interval.Intraday() {
		// Without an explicit interval the API serves hourly points for 2-90 days.
		native = series.Interval1h
		if days > maxHourlyDays {
			p.log.Info("hourly window clamped", zap.String("symbol", req.Symbol), zap.Int("days", maxHourlyDays))
			days = maxHourlyDays
		}
		days = max(days, 2)
	} else {
		params.Set("interval", "daily")
		days = max(days, 1)
	}
	params.Set("days", strconv.Itoa(days))

	body, err := p.client.GetJSON(ctx, p.cfg.BaseURL+"/coins/"+url.PathEscape(id)+"/market_chart", params, p.headers())
	if err != nil {
		return nil, err
	}
	points, err := parseChart(body)
	if err != nil {
		return nil, provider.NoData(p.Name(), req, "%s: %v", id, err)
	}
	// Points arrive a few seconds off the hour; bucket them first.
	aligned, err := series.New(req.Symbol, native, series.FromCloses(points)).Resample(native)
	if err != nil {
		return nil, err
	}
	return provider.Build(p.Name(), req, native, aligned.Bars, true)
}

type chartResponse struct {
	Prices       [][]decimal.Decimal `json:"prices"`
	TotalVolumes [][]decimal.Decimal `json:"total_volumes"`
}

func parseChart(body []byte) ([]series.Point, error) {
	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(resp.Prices) == 0 {
		return nil, fmt.Errorf("no prices")
	}
	volumes := make(map[int64]decimal.Decimal, len(resp.TotalVolumes))
	for _, v := range resp.TotalVolumes {
		if len(v) == 2 {
			volumes[v[0].IntPart()] = v[1]
		}
	}
	points := make([]series.Point, 0, len(resp.Prices))
	for _, pr := range resp.Prices {
		if len(pr) != 2 {
			continue
		}
		ms := pr[0].IntPart()
		points = append(points, series.Point{
			Time:   time.UnixMilli(ms).UTC(),
			Close:  pr[1],
			Volume: volumes[ms],
		})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no prices")
	}
	return points, nil
}
