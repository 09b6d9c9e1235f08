package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/metrics"
)

var (
	// ErrUnavailable is returned once every attempt of a call has failed.
	ErrUnavailable = errors.New("transport unavailable")
	// ErrRateLimited marks an attempt answered with HTTP 429.
	ErrRateLimited = errors.New("rate limited")
)

// Doer describes an HTTP client.
//
//go:generate mockgen -package=httpx_test -destination=mock_doer_test.go -source=httpx.go Doer
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config tunes one Client. Zero values pick the defaults noted per field.
type Config struct {
	// Name labels logs and metrics, usually the provider name.
	Name string
	// Timeout bounds each attempt. Default 30s.
	Timeout time.Duration
	// MaxRetries is the total number of attempts. Default 3.
	MaxRetries int
	// NoThrottle disables the self-imposed spacing between calls.
	NoThrottle bool
	// GapMin/GapMax bound the random spacing set after every call. Default 1s..3s.
	GapMin, GapMax time.Duration
	// JitterMin/JitterMax bound the extra wait added when a call has to wait. Default 100ms..1s.
	JitterMin, JitterMax time.Duration
	UserAgent            string
	Headers              map[string]string
}

func (c *Config) defaults() {
	if c.Name == "" {
		c.Name = "http"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.GapMin <= 0 && c.GapMax <= 0 {
		c.GapMin, c.GapMax = time.Second, 3*time.Second
	}
	if c.GapMax < c.GapMin {
		c.GapMax = c.GapMin
	}
	if c.JitterMin <= 0 && c.JitterMax <= 0 {
		c.JitterMin, c.JitterMax = 100*time.Millisecond, time.Second
	}
	if c.JitterMax < c.JitterMin {
		c.JitterMax = c.JitterMin
	}
	if c.UserAgent == "" {
		c.UserAgent = "marketdata/1.0"
	}
}

// Client issues GET requests with per-instance throttling and retry with
// exponential backoff. One Client is owned by one provider so a slow source
// never throttles the others.
type Client struct {
	cfg  Config
	http Doer
	log  *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
	now   func() time.Time

	mu   sync.Mutex
	next time.Time // earliest time the next call may start
}

// Option configures a Client.
type Option func(*Client)

// WithDoer replaces the underlying HTTP client.
func WithDoer(d Doer) Option { return func(c *Client) { c.http = d } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithSleep replaces the context-aware sleep, mostly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithRand replaces the [0,1) random source used for jitter.
func WithRand(fn func() float64) Option { return func(c *Client) { c.rand = fn } }

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option { return func(c *Client) { c.now = fn } }

// New builds a Client with pooled connections and sane defaults.
func New(cfg Config, opts ...Option) *Client {
	cfg.defaults()
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	}
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
		log:   zap.NewNop(),
		sleep: sleepCtx,
		rand:  rand.Float64,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("provider", cfg.Name))
	return c
}

func (c *Client) Name() string { return c.cfg.Name }

// MaxRetries reports the configured attempt budget.
func (c *Client) MaxRetries() int { return c.cfg.MaxRetries }

// Do sends req after filling in the default User-Agent and headers.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, v := range c.cfg.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return c.http.Do(req)
}

// GetJSON fetches rawURL with params and returns the raw 200 body.
// Every failure mode ends in an error wrapping ErrUnavailable.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, headers map[string]string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: parse url: %w", ErrUnavailable, c.cfg.Name, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	target := u.String()
	shown := redact(u)

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt - 1)
			c.log.Debug("backing off", zap.Duration("wait", wait), zap.Int("attempt", attempt+1), zap.Error(lastErr))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, c.cfg.Name, err)
			}
		}
		if err := c.throttle(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, c.cfg.Name, err)
		}
		body, err := c.once(ctx, target, shown, headers)
		c.release()
		if err == nil {
			metrics.TransportAttempt(c.cfg.Name, "ok")
			return body, nil
		}
		lastErr = err
		c.log.Warn("request failed",
			zap.String("url", shown),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.cfg.MaxRetries),
			zap.Error(err))
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrUnavailable, c.cfg.Name, c.cfg.MaxRetries, lastErr)
}

func (c *Client) once(ctx context.Context, target, shown string, headers map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		metrics.TransportAttempt(c.cfg.Name, "network")
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.Do(req)
	if err != nil {
		metrics.TransportAttempt(c.cfg.Name, "network")
		return nil, fmt.Errorf("GET %s: %w", shown, scrub(err, target, shown))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		metrics.TransportAttempt(c.cfg.Name, "rate_limited")
		return nil, fmt.Errorf("GET %s -> %d: %w", shown, resp.StatusCode, ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		metrics.TransportAttempt(c.cfg.Name, "status")
		return nil, fmt.Errorf("GET %s -> %d: %s", shown, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		metrics.TransportAttempt(c.cfg.Name, "network")
		return nil, fmt.Errorf("GET %s: read body: %w", shown, scrub(err, target, shown))
	}
	return body, nil
}

// backoff is 2^attempt seconds plus up to one second of jitter.
func (c *Client) backoff(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt)) * float64(time.Second))
	return base + time.Duration(c.rand()*float64(time.Second))
}

// throttle waits until this client's next allowed start time (plus jitter)
// and reserves the following slot so concurrent callers queue up.
func (c *Client) throttle(ctx context.Context) error {
	if c.cfg.NoThrottle {
		return nil
	}
	c.mu.Lock()
	now := c.now()
	var wait time.Duration
	if now.Before(c.next) {
		wait = c.next.Sub(now) + c.uniform(c.cfg.JitterMin, c.cfg.JitterMax)
	}
	c.next = now.Add(wait).Add(c.uniform(c.cfg.GapMin, c.cfg.GapMax))
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	c.log.Debug("throttling", zap.Duration("wait", wait))
	return c.sleep(ctx, wait)
}

// release pushes the next allowed time to now + gap once a call returns.
func (c *Client) release() {
	if c.cfg.NoThrottle {
		return
	}
	c.mu.Lock()
	if n := c.now().Add(c.uniform(c.cfg.GapMin, c.cfg.GapMax)); n.After(c.next) {
		c.next = n
	}
	c.mu.Unlock()
}

func (c *Client) uniform(lo, hi time.Duration) time.Duration {
	return lo + time.Duration(c.rand()*float64(hi-lo))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// redact hides credentials carried in the query string.
func redact(u *url.URL) string {
	q := u.Query()
	hidden := false
	for k := range q {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") {
			q.Set(k, "***")
			hidden = true
		}
	}
	if !hidden {
		return u.String()
	}
	cp := *u
	cp.RawQuery = q.Encode()
	return cp.String()
}

// scrub keeps *url.Error from echoing the unredacted URL.
func scrub(err error, target, shown string) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	if target != shown && strings.Contains(err.Error(), target) {
		return errors.New(strings.ReplaceAll(err.Error(), target, shown))
	}
	return err
}
