package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"marketdata/internal/asset"
	"marketdata/internal/series"
)

// majorPairs is how many leading forex pairs get sub-hourly refreshes.
const majorPairs = 10

// Group is a named symbol list refreshed at one interval.
type Group struct {
	Name     string          `yaml:"name" json:"name"`
	Symbols  []string        `yaml:"symbols" json:"symbols"`
	Interval series.Interval `yaml:"interval" json:"interval"`
}

// GroupResult is the outcome of one group run.
type GroupResult struct {
	Group  Group
	Result BatchResult
}

// DefaultGroups is the full refresh plan: hourly, 4h and daily crypto and
// forex, daily for everything else, and sub-hourly for the major pairs.
func DefaultGroups(t *asset.Tables) []Group {
	crypto, pairs := t.Members(asset.Crypto), t.Members(asset.ForexPair)
	groups := []Group{
		{"crypto (1h)", crypto, series.Interval1h},
		{"crypto (4h)", crypto, series.Interval4h},
		{"crypto (1d)", crypto, series.Interval1d},
		{"forex pairs (1h)", pairs, series.Interval1h},
		{"forex pairs (4h)", pairs, series.Interval4h},
		{"forex pairs (1d)", pairs, series.Interval1d},
		{"fiat (1d)", t.Members(asset.Fiat), series.Interval1d},
		{"metals (1d)", t.Members(asset.Metal), series.Interval1d},
		{"commodities (1d)", t.Members(asset.Commodity), series.Interval1d},
		{"indices (1d)", t.Members(asset.Index), series.Interval1d},
		{"equities (1d)", t.Members(asset.Equity), series.Interval1d},
		{"etfs (1d)", t.Members(asset.ETF), series.Interval1d},
	}
	majors := pairs[:min(majorPairs, len(pairs))]
	for _, iv := range []series.Interval{series.Interval1m, series.Interval5m, series.Interval15m, series.Interval30m} {
		groups = append(groups, Group{fmt.Sprintf("major forex pairs (%s)", iv), majors, iv})
	}
	return groups
}

// UpdateGroups runs ProcessBatch over each group in order. A group with an
// invalid interval is reported with every symbol failed.
func (e *Engine) UpdateGroups(ctx context.Context, groups []Group) []GroupResult {
	out := make([]GroupResult, 0, len(groups))
	for _, g := range groups {
		if ctx.Err() != nil {
			break
		}
		e.log.Info("updating group", zap.String("group", g.Name), zap.Stringer("interval", g.Interval), zap.Int("symbols", len(g.Symbols)))
		var res BatchResult
		if !g.Interval.Valid() {
			res = BatchResult{Succeeded: map[string]*series.TimeSeries{}, Failed: map[string]error{}}
			for _, s := range dedupe(g.Symbols) {
				res.Failed[s] = fmt.Errorf("unknown interval %q", g.Interval)
			}
		} else {
			res = e.ProcessBatch(ctx, g.Symbols, g.Interval, false)
		}
		out = append(out, GroupResult{Group: g, Result: res})
	}
	return out
}
