// Package app turns a Config into a ready Engine. Both binaries share it.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"marketdata/internal/asset"
	"marketdata/internal/cache"
	"marketdata/internal/config"
	"marketdata/internal/engine"
	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/provider/alphavantage"
	"marketdata/internal/provider/coingecko"
	"marketdata/internal/provider/ratelimit"
	"marketdata/internal/provider/twelvedata"
	"marketdata/internal/provider/yahoo"
)

type App struct {
	Config config.Config
	Engine *engine.Engine
	Store  *cache.Store
	Log    *zap.Logger
}

// New opens the cache backend, builds the enabled providers and the engine.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	tables, err := asset.NewTables(cfg.Assets)
	if err != nil {
		return nil, err
	}
	ttl, err := cfg.TTLOverrides()
	if err != nil {
		return nil, err
	}
	backend, err := OpenBackend(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	store := cache.NewStore(backend, cache.WithTTL(ttl), cache.WithLogger(log.Named("cache")))

	opts := []engine.Option{engine.WithWorkers(cfg.MaxWorkers), engine.WithLogger(log.Named("engine"))}
	for _, p := range Providers(cfg, log) {
		opts = append(opts, engine.WithProvider(p))
	}
	eng := engine.New(tables, store, opts...)
	log.Info("engine ready",
		zap.String("cache", cfg.Cache.Backend),
		zap.Strings("providers", eng.Providers()),
		zap.Int("workers", cfg.MaxWorkers))
	return &App{Config: cfg, Engine: eng, Store: store, Log: log}, nil
}

func (a *App) Close() error { return a.Store.Close() }

// OpenBackend opens the configured cache backend.
func OpenBackend(ctx context.Context, c config.Cache) (cache.Backend, error) {
	switch c.Backend {
	case "memory":
		return cache.NewMemoryBackend(), nil
	case "dir":
		return cache.NewDirBackend(c.Dir)
	case "sqlite":
		return cache.OpenSQLite(c.SQLitePath)
	case "redis":
		return cache.DialRedis(ctx, c.RedisAddr, c.RedisPass, c.RedisDB)
	default:
		return nil, fmt.Errorf("cache backend: unknown %q", c.Backend)
	}
}

// Providers builds every enabled provider, each on its own transport so a
// throttled source never delays the others, and wraps keyed sources in
// their request quota.
func Providers(cfg config.Config, log *zap.Logger) []provider.Provider {
	if log == nil {
		log = zap.NewNop()
	}
	client := func(name string) *httpx.Client {
		return httpx.New(httpx.Config{
			Name:       name,
			Timeout:    cfg.Transport.Timeout(),
			MaxRetries: cfg.Transport.MaxRetries,
			NoThrottle: cfg.Transport.NoThrottle,
			UserAgent:  cfg.Transport.UserAgent,
		}, httpx.WithLogger(log.Named("httpx")))
	}
	quota := func(p provider.Provider, c config.Provider) provider.Provider {
		return ratelimit.PerMinute(p, c.MaxRequestsPerMinute, c.Burst)
	}
	plog := log.Named("provider")

	var out []provider.Provider
	pc := cfg.Providers
	if pc.Yahoo.Enabled {
		p := yahoo.New(yahoo.Config{Name: engine.Yahoo, BaseURL: pc.Yahoo.BaseURL}, client(engine.Yahoo), plog)
		out = append(out, quota(p, pc.Yahoo))
	}
	if pc.CoinGecko.Enabled {
		p := coingecko.New(coingecko.Config{Name: engine.CoinGecko, BaseURL: pc.CoinGecko.BaseURL, APIKey: pc.CoinGecko.APIKey},
			client(engine.CoinGecko), plog)
		out = append(out, quota(p, pc.CoinGecko))
	}
	if pc.AlphaVantage.Enabled {
		if pc.AlphaVantage.APIKey == "" {
			log.Warn("alphavantage enabled without ALPHAVANTAGE_API_KEY; it will report no credential")
		}
		p := alphavantage.New(alphavantage.Config{Name: engine.AlphaVantage, BaseURL: pc.AlphaVantage.BaseURL, APIKey: pc.AlphaVantage.APIKey},
			client(engine.AlphaVantage), plog)
		out = append(out, quota(p, pc.AlphaVantage))
	}
	if pc.TwelveData.Enabled {
		if pc.TwelveData.APIKey == "" {
			log.Warn("twelvedata enabled without TWELVEDATA_API_KEY; it will report no credential")
		}
		p := twelvedata.New(twelvedata.Config{Name: engine.TwelveData, BaseURL: pc.TwelveData.BaseURL, APIKey: pc.TwelveData.APIKey},
			client(engine.TwelveData), plog)
		out = append(out, quota(p, pc.TwelveData))
	}
	return out
}
