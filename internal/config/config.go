package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"marketdata/internal/asset"
	"marketdata/internal/series"
)

type Server struct {
	Port              string `yaml:"port"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type Cache struct {
	Backend    string `yaml:"backend"` // memory | dir | sqlite | redis
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisPass  string `yaml:"redis_password"`
	RedisDB    int    `yaml:"redis_db"`
	// TTLSec overrides the freshness window per interval, e.g. {"1h": 7200}.
	TTLSec map[string]int `yaml:"ttl_sec"`
}

type Transport struct {
	TimeoutSec int    `yaml:"timeout_sec"`
	MaxRetries int    `yaml:"max_retries"`
	UserAgent  string `yaml:"user_agent"`
	NoThrottle bool   `yaml:"no_throttle"`
}

type Provider struct {
	Enabled              bool   `yaml:"enabled"`
	APIKey               string `yaml:"api_key"`
	BaseURL              string `yaml:"base_url"`
	MaxRequestsPerMinute int    `yaml:"max_requests_per_minute"`
	Burst                int    `yaml:"burst"`
}

type Providers struct {
	Yahoo        Provider `yaml:"yahoo"`
	CoinGecko    Provider `yaml:"coingecko"`
	AlphaVantage Provider `yaml:"alphavantage"`
	TwelveData   Provider `yaml:"twelvedata"`
}

type Config struct {
	Server     Server      `yaml:"server"`
	Log        Log         `yaml:"log"`
	Cache      Cache       `yaml:"cache"`
	Transport  Transport   `yaml:"transport"`
	MaxWorkers int         `yaml:"max_workers"`
	Providers  Providers   `yaml:"providers"`
	Assets     asset.Lists `yaml:"assets"`
}

func Default() Config {
	return Config{
		Server:     Server{Port: "8080", RequestTimeoutSec: 120},
		Log:        Log{Level: "info", Format: "json"},
		Cache:      Cache{Backend: "dir", Dir: "data_cache", SQLitePath: "marketdata.db", RedisAddr: "localhost:6379"},
		Transport:  Transport{TimeoutSec: 30, MaxRetries: 3},
		MaxWorkers: 5,
		Providers: Providers{
			Yahoo:        Provider{Enabled: true},
			CoinGecko:    Provider{Enabled: true, MaxRequestsPerMinute: 30, Burst: 1},
			AlphaVantage: Provider{Enabled: true, MaxRequestsPerMinute: 5, Burst: 1},
			TwelveData:   Provider{Enabled: true, MaxRequestsPerMinute: 8, Burst: 1},
		},
	}
}

// Load reads YAML config from path. If path is empty, config.yaml in the
// working directory is used when present; otherwise defaults. Environment
// variables override select fields, credentials in particular.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Cache.Backend {
	case "memory", "dir", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.backend: unknown %q", c.Cache.Backend))
	}
	if c.Cache.Backend == "dir" && c.Cache.Dir == "" {
		errs = append(errs, errors.New("cache.dir: required for dir backend"))
	}
	if c.Cache.Backend == "sqlite" && c.Cache.SQLitePath == "" {
		errs = append(errs, errors.New("cache.sqlite_path: required for sqlite backend"))
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		errs = append(errs, errors.New("cache.redis_addr: required for redis backend"))
	}
	if _, err := c.TTLOverrides(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("max_workers: must be positive, got %d", c.MaxWorkers))
	}
	if c.Transport.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("transport.max_retries: must be positive, got %d", c.Transport.MaxRetries))
	}
	if c.Transport.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("transport.timeout_sec: must be positive, got %d", c.Transport.TimeoutSec))
	}
	if _, err := asset.NewTables(c.Assets); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TTLOverrides converts the cache.ttl_sec section.
func (c Config) TTLOverrides() (map[series.Interval]time.Duration, error) {
	out := make(map[series.Interval]time.Duration, len(c.Cache.TTLSec))
	for k, sec := range c.Cache.TTLSec {
		iv, err := series.ParseInterval(k)
		if err != nil {
			return nil, fmt.Errorf("cache.ttl_sec: %w", err)
		}
		if sec <= 0 {
			return nil, fmt.Errorf("cache.ttl_sec[%s]: must be positive, got %d", k, sec)
		}
		out[iv] = time.Duration(sec) * time.Second
	}
	return out, nil
}

func (c Transport) Timeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }

func (c Server) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if x, ok := envInt("REQUEST_TIMEOUT_SEC"); ok && x > 0 {
		cfg.Server.RequestTimeoutSec = x
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("CACHE_SQLITE_PATH"); v != "" {
		cfg.Cache.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPass = v
	}
	if x, ok := envInt("MAX_WORKERS"); ok && x > 0 {
		cfg.MaxWorkers = x
	}
	if x, ok := envInt("TRANSPORT_TIMEOUT_SEC"); ok && x > 0 {
		cfg.Transport.TimeoutSec = x
	}
	if x, ok := envInt("MAX_RETRIES"); ok && x > 0 {
		cfg.Transport.MaxRetries = x
	}
	if b, ok := envBool("NO_THROTTLE"); ok {
		cfg.Transport.NoThrottle = b
	}
	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		cfg.Providers.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("TWELVEDATA_API_KEY"); v != "" {
		cfg.Providers.TwelveData.APIKey = v
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.Providers.CoinGecko.APIKey = v
	}
	for prefix, p := range map[string]*Provider{
		"YAHOO":        &cfg.Providers.Yahoo,
		"COINGECKO":    &cfg.Providers.CoinGecko,
		"ALPHAVANTAGE": &cfg.Providers.AlphaVantage,
		"TWELVEDATA":   &cfg.Providers.TwelveData,
	} {
		if b, ok := envBool(prefix + "_ENABLED"); ok {
			p.Enabled = b
		}
		if x, ok := envInt(prefix + "_MAX_RPM"); ok && x >= 0 {
			p.MaxRequestsPerMinute = x
		}
		if x, ok := envInt(prefix + "_BURST"); ok && x > 0 {
			p.Burst = x
		}
		if v := os.Getenv(prefix + "_BASE_URL"); v != "" {
			p.BaseURL = v
		}
	}
	if v := os.Getenv("CRYPTO_SYMBOLS"); v != "" {
		cfg.Assets.Crypto = SplitCSV(v)
	}
	if v := os.Getenv("FOREX_PAIRS"); v != "" {
		cfg.Assets.ForexPairs = SplitCSV(v)
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	x, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return x, true
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		return true, true
	case "0", "false", "no", "n":
		return false, true
	}
	return false, false
}

// SplitCSV splits a comma-separated list, trimming blanks and dropping empties.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
