// Package cache keeps fetched series keyed by (symbol, interval). The Store
// owns expiry; backends only persist whole entries.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/metrics"
	"marketdata/internal/series"
)

var (
	// ErrNotFound is returned by a backend that holds nothing under the key.
	ErrNotFound = errors.New("cache entry not found")
	// ErrCorrupt is returned by a backend whose persisted entry cannot be decoded.
	ErrCorrupt = errors.New("cache entry corrupt")
)

// DefaultTTL is how long an entry stays fresh per interval.
var DefaultTTL = map[series.Interval]time.Duration{
	series.Interval1m:  600 * time.Second,
	series.Interval5m:  1800 * time.Second,
	series.Interval15m: 3600 * time.Second,
	series.Interval30m: 7200 * time.Second,
	series.Interval1h:  14400 * time.Second,
	series.Interval4h:  43200 * time.Second,
	series.Interval1d:  86400 * time.Second,
}

// Key addresses one entry. Synthesized cross rates use "BASE-QUOTE" as the
// symbol so they never collide with a directly fetched "BASEQUOTE".
type Key struct {
	Symbol   string
	Interval series.Interval
}

func (k Key) String() string { return k.Symbol + "_" + string(k.Interval) }

// Entry is one persisted series with the time it was fetched.
type Entry struct {
	Symbol    string             `json:"symbol"`
	Interval  series.Interval    `json:"interval"`
	FetchedAt time.Time          `json:"fetched_at"`
	Series    *series.TimeSeries `json:"data"`
}

func (e *Entry) Key() Key { return Key{Symbol: e.Symbol, Interval: e.Interval} }

// Backend persists entries. Load returns ErrNotFound for an absent key and
// ErrCorrupt for undecodable data. ttl is a housekeeping hint for backends
// that can expire keys themselves; validity is always decided by the Store.
type Backend interface {
	Load(ctx context.Context, key Key) (*Entry, error)
	Save(ctx context.Context, e *Entry, ttl time.Duration) error
	Close() error
}

// Store applies the TTL table on top of a Backend.
type Store struct {
	backend Backend
	ttl     map[series.Interval]time.Duration
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Store)

// WithTTL overrides the TTL of the given intervals.
func WithTTL(overrides map[series.Interval]time.Duration) Option {
	return func(s *Store) {
		for iv, d := range overrides {
			if d > 0 {
				s.ttl[iv] = d
			}
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func NewStore(b Backend, opts ...Option) *Store {
	s := &Store{
		backend: b,
		ttl:     make(map[series.Interval]time.Duration, len(DefaultTTL)),
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for iv, d := range DefaultTTL {
		s.ttl[iv] = d
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the freshness window of an interval; unknown intervals use the 1h value.
func (s *Store) TTL(iv series.Interval) time.Duration {
	if d, ok := s.ttl[iv]; ok {
		return d
	}
	return s.ttl[series.Interval1h]
}

// Get returns the entry only while it is valid. Absent, expired, corrupt and
// unreadable entries are all misses.
func (s *Store) Get(ctx context.Context, key Key) (*Entry, bool) {
	e, err := s.backend.Load(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.CacheLookup("miss")
		return nil, false
	case errors.Is(err, ErrCorrupt):
		metrics.CacheLookup("corrupt")
		s.log.Warn("corrupt cache entry", zap.Stringer("key", key), zap.Error(err))
		return nil, false
	case err != nil:
		metrics.CacheLookup("miss")
		s.log.Warn("cache read failed", zap.Stringer("key", key), zap.Error(err))
		return nil, false
	}
	if !s.valid(e) {
		metrics.CacheLookup("expired")
		return nil, false
	}
	metrics.CacheLookup("hit")
	return e, true
}

// IsValid reports whether a fresh entry exists under key.
func (s *Store) IsValid(ctx context.Context, key Key) bool {
	_, ok := s.Get(ctx, key)
	return ok
}

// Put overwrites the entry under key with ts, stamped now.
func (s *Store) Put(ctx context.Context, key Key, ts *series.TimeSeries) error {
	if ts == nil {
		return fmt.Errorf("cache put %s: nil series", key)
	}
	e := &Entry{Symbol: key.Symbol, Interval: key.Interval, FetchedAt: s.now().UTC(), Series: ts}
	if err := s.backend.Save(ctx, e, s.TTL(key.Interval)); err != nil {
		s.log.Error("cache write failed", zap.Stringer("key", key), zap.Error(err))
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error { return s.backend.Close() }

func (s *Store) valid(e *Entry) bool {
	return s.now().Sub(e.FetchedAt) < s.TTL(e.Interval)
}

// encode and decode are the wire form shared by the persistent backends.
func encode(e *Entry) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Key(), err)
	}
	return b, nil
}

func decode(key Key, b []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if e.Series == nil || e.FetchedAt.IsZero() {
		return nil, fmt.Errorf("%w: %s: missing data or fetched_at", ErrCorrupt, key)
	}
	if e.Symbol == "" {
		e.Symbol = key.Symbol
	}
	if e.Interval == "" {
		e.Interval = key.Interval
	}
	e.Series.Normalize()
	return &e, nil
}
